package contact

import (
	"github.com/smallbiznis/clientflow/internal/contact/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("contact.repository",
	fx.Provide(repository.Provide),
)
