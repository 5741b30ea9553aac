package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientflow/internal/clock"
	"github.com/smallbiznis/clientflow/internal/config"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/clientflow/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	paymentservice "github.com/smallbiznis/clientflow/internal/payment/service"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const providerStripe = "stripe"

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Repo       paymentdomain.Repository
	Reconciler *paymentservice.Reconciler
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

// Service ingests Stripe webhooks. Events only trigger reconciliation; the
// state written always comes from the gateway.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	secret     string
	repo       paymentdomain.Repository
	reconciler *paymentservice.Reconciler
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.webhook"),
		genID:      p.GenID,
		clock:      p.Clock,
		secret:     strings.TrimSpace(p.Cfg.Stripe.WebhookSecret),
		repo:       p.Repo,
		reconciler: p.Reconciler,
		obsMetrics: p.ObsMetrics,
	}
}

// gatewayRef is what an event tells us about the affected payment.
type gatewayRef struct {
	chargeID string
	intentID string
	dispute  bool
}

func (s *Service) IngestWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.secret == "" {
		return paymentdomain.ErrGatewayNotConfigured
	}
	if !json.Valid(payload) {
		return paymentdomain.ErrInvalidPayload
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("stripe webhook rejected", zap.Error(err))
		return paymentdomain.ErrInvalidSignature
	}
	if strings.TrimSpace(event.ID) == "" {
		return paymentdomain.ErrInvalidEvent
	}

	now := s.clock.Now().UTC()
	record := paymentdomain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        providerStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Payload:         datatypes.JSON(payload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return err
	}
	stored := &record
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, providerStripe, event.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return paymentdomain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			logger.WithContext(ctx, s.log).Debug("duplicate stripe event ignored", zap.String("event_id", event.ID))
			return nil
		}
	}
	if inserted {
		s.obsMetrics.RecordGatewayEvent(ctx, providerStripe, string(event.Type))
	}

	tenantID, err := s.process(ctx, event)
	if err != nil {
		return err
	}
	return s.repo.MarkProcessed(ctx, s.db, stored.ID, tenantID, s.clock.Now().UTC())
}

func (s *Service) process(ctx context.Context, event stripego.Event) (*snowflake.ID, error) {
	ref, ok, err := extractRef(event)
	if err != nil {
		return nil, err
	}
	log := logger.WithContext(ctx, s.log).With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)
	if !ok {
		log.Debug("stripe event type not handled")
		return nil, nil
	}

	payment, err := s.repo.FindByGatewayRef(ctx, s.db, ref.chargeID, ref.intentID)
	if errors.Is(err, paymentdomain.ErrPaymentNotFound) {
		log.Info("stripe event for unknown payment")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tenantID := payment.TenantID

	if ref.dispute {
		if err := s.reconciler.MarkDisputed(ctx, payment.TenantID, payment.ID); err != nil {
			return nil, err
		}
		log.Warn("payment disputed", zap.String("payment_id", payment.ID.String()))
		return &tenantID, nil
	}

	result, err := s.reconciler.SyncPayment(ctx, payment.TenantID, payment.ID)
	switch {
	case errors.Is(err, paymentdomain.ErrCannotSyncOfflinePayment), errors.Is(err, paymentdomain.ErrNotSyncable):
		log.Warn("stripe event for unsyncable payment", zap.String("payment_id", payment.ID.String()), zap.Error(err))
		return &tenantID, nil
	case err != nil:
		return nil, err
	}
	log.Info("stripe event reconciled",
		zap.String("payment_id", payment.ID.String()),
		zap.Bool("changed", result.Changed),
		zap.String("status", string(result.NewStatus)),
	)
	return &tenantID, nil
}

func extractRef(event stripego.Event) (gatewayRef, bool, error) {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return gatewayRef{}, false, paymentdomain.ErrInvalidPayload
	}
	raw := event.Data.Raw

	switch event.Type {
	case "charge.refunded", "charge.succeeded":
		var ch stripego.Charge
		if err := json.Unmarshal(raw, &ch); err != nil {
			return gatewayRef{}, false, paymentdomain.ErrInvalidPayload
		}
		ref := gatewayRef{chargeID: ch.ID}
		if ch.PaymentIntent != nil {
			ref.intentID = ch.PaymentIntent.ID
		}
		return ref, true, nil
	case "charge.refund.updated":
		var refund stripego.Refund
		if err := json.Unmarshal(raw, &refund); err != nil {
			return gatewayRef{}, false, paymentdomain.ErrInvalidPayload
		}
		var ref gatewayRef
		if refund.Charge != nil {
			ref.chargeID = refund.Charge.ID
		}
		if refund.PaymentIntent != nil {
			ref.intentID = refund.PaymentIntent.ID
		}
		return ref, true, nil
	case "charge.dispute.created":
		var dispute stripego.Dispute
		if err := json.Unmarshal(raw, &dispute); err != nil {
			return gatewayRef{}, false, paymentdomain.ErrInvalidPayload
		}
		ref := gatewayRef{dispute: true}
		if dispute.Charge != nil {
			ref.chargeID = dispute.Charge.ID
		}
		if dispute.PaymentIntent != nil {
			ref.intentID = dispute.PaymentIntent.ID
		}
		return ref, true, nil
	case "payment_intent.succeeded":
		var intent stripego.PaymentIntent
		if err := json.Unmarshal(raw, &intent); err != nil {
			return gatewayRef{}, false, paymentdomain.ErrInvalidPayload
		}
		ref := gatewayRef{intentID: intent.ID}
		if intent.LatestCharge != nil {
			ref.chargeID = intent.LatestCharge.ID
		}
		return ref, true, nil
	}
	return gatewayRef{}, false, nil
}
