package payment

import (
	stripegateway "github.com/smallbiznis/clientflow/internal/payment/gateway/stripe"
	"github.com/smallbiznis/clientflow/internal/payment/repository"
	paymentservice "github.com/smallbiznis/clientflow/internal/payment/service"
	"github.com/smallbiznis/clientflow/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(stripegateway.NewFromConfig),
	fx.Provide(paymentservice.NewRecorder),
	fx.Provide(paymentservice.NewReconciler),
	fx.Provide(webhook.NewService),
)
