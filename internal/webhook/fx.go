package webhook

import (
	"github.com/smallbiznis/clientflow/internal/webhook/domain"
	"github.com/smallbiznis/clientflow/internal/webhook/repository"
	"github.com/smallbiznis/clientflow/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.sender",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewSender),
	fx.Provide(func(s *service.Sender) domain.Sender { return s }),
)
