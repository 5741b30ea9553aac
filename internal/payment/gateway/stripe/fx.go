package stripe

import (
	"github.com/smallbiznis/clientflow/internal/config"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// NewFromConfig builds the process-wide gateway. Without a secret key every
// call fails with ErrGatewayNotConfigured.
func NewFromConfig(cfg config.Config, log *zap.Logger) paymentdomain.Gateway {
	if cfg.Stripe.SecretKey == "" {
		log.Named("payment.gateway.stripe").Warn("stripe secret key not set, gateway disabled")
		return Disabled{}
	}
	return New(client.New(cfg.Stripe.SecretKey, nil), cfg.Stripe.GatewayTimeout, log)
}
