package invoice

import (
	"github.com/smallbiznis/clientflow/internal/invoice/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.repository",
	fx.Provide(repository.Provide),
)
