package tenant

import (
	"github.com/smallbiznis/clientflow/internal/tenant/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant.repository",
	fx.Provide(repository.Provide),
)
