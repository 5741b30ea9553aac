package tag

import (
	"github.com/smallbiznis/clientflow/internal/tag/repository"
	"github.com/smallbiznis/clientflow/internal/tag/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tag.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
