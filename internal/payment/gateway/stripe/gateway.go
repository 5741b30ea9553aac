package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/clientflow/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// Gateway reads charges from Stripe on behalf of connected accounts.
type Gateway struct {
	api     *client.API
	timeout time.Duration
	log     *zap.Logger
}

func New(api *client.API, timeout time.Duration, log *zap.Logger) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{
		api:     api,
		timeout: timeout,
		log:     log.Named("payment.gateway.stripe"),
	}
}

// RetrieveCharge resolves the charge through the payment intent first and
// falls back to a direct charge lookup.
func (g *Gateway) RetrieveCharge(ctx context.Context, query paymentdomain.ChargeQuery) (charge *paymentdomain.Charge, err error) {
	ctx, span := tracing.Start(ctx, "clientflow/payment", "stripe.retrieve_charge",
		attribute.Bool("has_intent", query.PaymentIntentID != ""),
		attribute.Bool("has_charge", query.ChargeID != ""),
	)
	defer func() { tracing.End(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if id := strings.TrimSpace(query.PaymentIntentID); id != "" {
		params := &stripego.PaymentIntentParams{}
		params.Context = ctx
		params.AddExpand("latest_charge")
		setAccount(&params.Params, query.AccountID)

		intent, err := g.api.PaymentIntents.Get(id, params)
		switch {
		case err == nil:
			if intent.LatestCharge != nil && intent.LatestCharge.ID != "" {
				return toCharge(intent.LatestCharge, intent.ID), nil
			}
		case isMissing(err):
			g.log.Debug("payment intent not found, trying charge", zap.String("payment_intent_id", id))
		default:
			return nil, unavailable(err)
		}
	}

	if id := strings.TrimSpace(query.ChargeID); id != "" {
		params := &stripego.ChargeParams{}
		params.Context = ctx
		setAccount(&params.Params, query.AccountID)

		ch, err := g.api.Charges.Get(id, params)
		switch {
		case err == nil:
			intentID := query.PaymentIntentID
			if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
				intentID = ch.PaymentIntent.ID
			}
			return toCharge(ch, intentID), nil
		case isMissing(err):
		default:
			return nil, unavailable(err)
		}
	}

	return nil, paymentdomain.ErrNoChargeFound
}

func setAccount(params *stripego.Params, account string) {
	account = strings.TrimSpace(account)
	if account == "" {
		return
	}
	params.SetStripeAccount(account)
}

func toCharge(ch *stripego.Charge, intentID string) *paymentdomain.Charge {
	out := &paymentdomain.Charge{
		ID:              ch.ID,
		PaymentIntentID: intentID,
		Amount:          ch.Amount,
		AmountRefunded:  ch.AmountRefunded,
		Refunded:        ch.Refunded,
		Succeeded:       ch.Status == stripego.ChargeStatusSucceeded || ch.Paid,
		Disputed:        ch.Disputed,
		ReceiptURL:      ch.ReceiptURL,
	}
	if details := ch.PaymentMethodDetails; details != nil && details.Card != nil {
		out.CardBrand = string(details.Card.Brand)
		out.CardLast4 = details.Card.Last4
	}
	return out
}

func isMissing(err error) bool {
	var stripeErr *stripego.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripego.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", paymentdomain.ErrGatewayUnavailable, err)
}

// Disabled is used when no Stripe key is configured.
type Disabled struct{}

func (Disabled) RetrieveCharge(context.Context, paymentdomain.ChargeQuery) (*paymentdomain.Charge, error) {
	return nil, paymentdomain.ErrGatewayNotConfigured
}
