package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	"github.com/smallbiznis/clientflow/internal/clock"
	invoicedomain "github.com/smallbiznis/clientflow/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/clientflow/internal/observability/metrics"
	"github.com/smallbiznis/clientflow/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	syncResultChanged   = "changed"
	syncResultUnchanged = "unchanged"
	syncResultError     = "error"

	inSyncMessage = "Payment is already in sync"
)

type ReconcilerParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Gateway     paymentdomain.Gateway
	Repo        paymentdomain.Repository
	InvoiceRepo invoicedomain.Repository
	BookingRepo bookingdomain.Repository
	TagSvc      tagdomain.Service
	LedgerSvc   ledgerdomain.Service
	Dispatcher  workflowdomain.Dispatcher
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Reconciler pulls charge state from the gateway and corrects local records
// that drifted from it.
type Reconciler struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	gateway     paymentdomain.Gateway
	repo        paymentdomain.Repository
	invoiceRepo invoicedomain.Repository
	bookingRepo bookingdomain.Repository
	tagSvc      tagdomain.Service
	ledgerSvc   ledgerdomain.Service
	dispatcher  workflowdomain.Dispatcher
	obsMetrics  *obsmetrics.Metrics
}

func NewReconciler(p ReconcilerParams) *Reconciler {
	return &Reconciler{
		db:          p.DB,
		log:         p.Log.Named("payment.reconciler"),
		genID:       p.GenID,
		clock:       p.Clock,
		gateway:     p.Gateway,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		bookingRepo: p.BookingRepo,
		tagSvc:      p.TagSvc,
		ledgerSvc:   p.LedgerSvc,
		dispatcher:  p.Dispatcher,
		obsMetrics:  p.ObsMetrics,
	}
}

type SyncResult struct {
	Changed        bool
	NewStatus      paymentdomain.Status
	RefundedAmount int64
	Message        string
	Payment        *paymentdomain.Payment
}

// SyncPayment reconciles one payment against the gateway. Calling it again
// without a gateway change reports Changed=false and writes nothing.
func (r *Reconciler) SyncPayment(ctx context.Context, tenantID, paymentID snowflake.ID) (result *SyncResult, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "payment.sync",
		attribute.String("tenant_id", tenantID.String()),
		attribute.String("payment_id", paymentID.String()),
	)
	defer func() {
		switch {
		case err != nil:
			r.obsMetrics.RecordPaymentSync(ctx, syncResultError)
		case result.Changed:
			r.obsMetrics.RecordPaymentSync(ctx, syncResultChanged)
		default:
			r.obsMetrics.RecordPaymentSync(ctx, syncResultUnchanged)
		}
		tracing.End(span, err)
	}()

	payment, err := r.repo.FindByID(ctx, r.db, tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	if err := checkSyncable(payment); err != nil {
		return nil, err
	}

	charge, err := r.gateway.RetrieveCharge(ctx, paymentdomain.ChargeQuery{
		AccountID:       payment.StripeAccountID,
		PaymentIntentID: payment.StripePaymentIntentID,
		ChargeID:        payment.StripeChargeID,
	})
	if err != nil {
		logger.WithContext(ctx, r.log).Warn("gateway lookup failed",
			zap.String("payment_id", payment.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	return r.applyCharge(ctx, tenantID, paymentID, charge)
}

// applyCharge writes the charge state onto the payment and everything it funded.
func (r *Reconciler) applyCharge(ctx context.Context, tenantID, paymentID snowflake.ID, charge *paymentdomain.Charge) (*SyncResult, error) {
	var (
		result       *SyncResult
		refundDelta  int64
		refundedFrom *paymentdomain.Payment
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := r.repo.FindForUpdate(ctx, tx, tenantID, paymentID)
		if err != nil {
			return err
		}

		newStatus := charge.Classify()
		switch {
		case newStatus == paymentdomain.StatusPending:
			newStatus = payment.Status
		case payment.Status == paymentdomain.StatusDisputed && newStatus == paymentdomain.StatusSucceeded:
			// Only a refund clears a dispute recorded from a webhook.
			newStatus = paymentdomain.StatusDisputed
		}
		if newStatus == payment.Status && charge.AmountRefunded == payment.RefundedAmount {
			result = &SyncResult{
				Changed:        false,
				NewStatus:      payment.Status,
				RefundedAmount: payment.RefundedAmount,
				Message:        inSyncMessage,
				Payment:        payment,
			}
			return nil
		}

		now := r.clock.Now().UTC()
		refundDelta = charge.AmountRefunded - payment.RefundedAmount
		payment.Status = newStatus
		payment.RefundedAmount = charge.AmountRefunded
		mergeDisplayFields(payment, charge)
		payment.UpdatedAt = now
		if err := r.repo.UpdateGatewayState(ctx, tx, payment); err != nil {
			return err
		}

		refunded := newStatus == paymentdomain.StatusRefunded || newStatus == paymentdomain.StatusPartialRefund
		if refunded {
			full := newStatus == paymentdomain.StatusRefunded
			if err := r.rollbackInvoices(ctx, tx, payment, full, now); err != nil {
				return err
			}
			if err := r.rollbackBookings(ctx, tx, payment, full, now); err != nil {
				return err
			}
		}

		paymentTag := tagdomain.PaymentSucceeded
		switch {
		case refunded:
			paymentTag = tagdomain.PaymentRefunded
		case newStatus == paymentdomain.StatusDisputed:
			paymentTag = tagdomain.PaymentDisputed
		}
		if _, err := r.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityPayment, payment.ID, paymentTag, tenantID); err != nil {
			return err
		}

		if refundDelta > 0 {
			// Each increase is its own journal entry; the source id only
			// needs to be unique per posting.
			if _, err := r.ledgerSvc.Post(ctx, tx, ledgerdomain.Posting{
				TenantID:   tenantID,
				SourceType: ledgerdomain.SourceTypeRefund,
				SourceID:   r.genID.Generate(),
				Currency:   payment.Currency,
				OccurredAt: now,
				Lines:      ledgerdomain.RefundPosting(ledgerdomain.AccountCodeGatewayClearing, refundDelta),
			}); err != nil {
				return err
			}
			refundedFrom = payment
		}

		result = &SyncResult{
			Changed:        true,
			NewStatus:      payment.Status,
			RefundedAmount: payment.RefundedAmount,
			Message: fmt.Sprintf("Payment synced from Stripe. Status: %s, Refunded: %s",
				payment.Status, ledgerdomain.FormatCents(payment.RefundedAmount)),
			Payment: payment,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Changed {
		logger.WithContext(ctx, r.log).Info("payment reconciled",
			zap.String("payment_id", paymentID.String()),
			zap.String("status", string(result.NewStatus)),
			zap.Int64("refunded_amount", result.RefundedAmount),
		)
	}
	if refundedFrom != nil {
		ec := workflowdomain.EventContext{
			TenantID:  tenantID,
			PaymentID: refundedFrom.ID,
			Data: map[string]any{
				"refunded_amount": refundedFrom.RefundedAmount,
				"refund_delta":    refundDelta,
			},
		}
		if refundedFrom.ContactID != nil {
			ec.ContactID = *refundedFrom.ContactID
		}
		r.dispatcher.Dispatch(ctx, workflowdomain.EventPaymentRefunded, ec)
	}
	return result, nil
}

// MarkDisputed flags a payment the gateway reported a dispute for.
func (r *Reconciler) MarkDisputed(ctx context.Context, tenantID, paymentID snowflake.ID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := r.repo.FindForUpdate(ctx, tx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if payment.Status == paymentdomain.StatusDisputed {
			return nil
		}
		payment.Status = paymentdomain.StatusDisputed
		payment.UpdatedAt = r.clock.Now().UTC()
		if err := r.repo.UpdateGatewayState(ctx, tx, payment); err != nil {
			return err
		}
		_, err = r.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityPayment, payment.ID, tagdomain.PaymentDisputed, tenantID)
		return err
	})
}

func checkSyncable(payment *paymentdomain.Payment) error {
	if payment.IsOffline() {
		return paymentdomain.ErrCannotSyncOfflinePayment
	}
	if strings.TrimSpace(payment.StripeChargeID) == "" && strings.TrimSpace(payment.StripeAccountID) == "" {
		return paymentdomain.ErrNotSyncable
	}
	if strings.TrimSpace(payment.StripeChargeID) == "" && strings.TrimSpace(payment.StripePaymentIntentID) == "" {
		return paymentdomain.ErrNotSyncable
	}
	return nil
}

// mergeDisplayFields copies what the gateway supplied. Empty gateway values
// never clear local data.
func mergeDisplayFields(payment *paymentdomain.Payment, charge *paymentdomain.Charge) {
	if v := strings.TrimSpace(charge.ID); v != "" {
		payment.StripeChargeID = v
	}
	if v := strings.TrimSpace(charge.CardBrand); v != "" {
		payment.CardBrand = v
	}
	if v := strings.TrimSpace(charge.CardLast4); v != "" {
		payment.CardLast4 = v
	}
	if v := strings.TrimSpace(charge.ReceiptURL); v != "" {
		payment.ReceiptURL = v
	}
}

// rollbackInvoices removes the refunded share from every invoice the payment
// funded. Rows are walked in creation order; each row stores how much was
// already rolled back so only the new delta is applied.
func (r *Reconciler) rollbackInvoices(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, full bool, now time.Time) error {
	links, err := r.repo.ListInvoicePayments(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}

	deltas := make(map[snowflake.ID]int64, len(links))
	invoiceIDs := make([]snowflake.ID, 0, len(links))
	remaining := payment.RefundedAmount
	for _, link := range links {
		target := link.AmountApplied
		if !full {
			target = min(link.AmountApplied, remaining)
		}
		remaining -= target
		if remaining < 0 {
			remaining = 0
		}

		delta := target - link.AmountRefunded
		if delta <= 0 {
			continue
		}
		if err := r.repo.UpdateInvoicePaymentRefund(ctx, tx, link.ID, target); err != nil {
			return err
		}
		if _, seen := deltas[link.InvoiceID]; !seen {
			invoiceIDs = append(invoiceIDs, link.InvoiceID)
		}
		deltas[link.InvoiceID] += delta
	}
	if len(invoiceIDs) == 0 {
		return nil
	}

	invoices, err := r.invoiceRepo.FindByIDs(ctx, tx, payment.TenantID, invoiceIDs)
	if err != nil {
		return err
	}
	for i := range invoices {
		if err := r.rollbackInvoice(ctx, tx, &invoices[i], deltas[invoices[i].ID], now); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) rollbackInvoice(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, delta int64, now time.Time) error {
	previous := invoice.Status

	invoice.AmountPaid -= delta
	if invoice.AmountPaid < 0 {
		logger.WithContext(ctx, r.log).Warn("refund exceeds invoice amount paid",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Int64("amount_paid", invoice.AmountPaid),
		)
		r.obsMetrics.RecordLedgerAnomaly(ctx, "invoice")
		invoice.AmountPaid = 0
	}
	invoice.BalanceDue = ledgerdomain.ComputeBalance(invoice.Total, invoice.AmountPaid).Due
	if previous == invoicedomain.InvoiceStatusPaid && invoice.BalanceDue > 0 {
		if invoice.SentAt != nil {
			invoice.Status = invoicedomain.InvoiceStatusSent
		} else {
			invoice.Status = invoicedomain.InvoiceStatusDraft
		}
		invoice.PaidAt = nil
	}
	invoice.UpdatedAt = now
	if err := r.invoiceRepo.UpdateLedger(ctx, tx, invoice); err != nil {
		return err
	}

	if invoice.Status == previous {
		return nil
	}
	name, ok := invoice.Status.StatusTag()
	if !ok {
		return nil
	}
	_, err := r.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityInvoice, invoice.ID, name, invoice.TenantID)
	return err
}

// rollbackBookings resets fully refunded bookings and flags partially
// refunded ones without touching their amounts.
func (r *Reconciler) rollbackBookings(ctx context.Context, tx *gorm.DB, payment *paymentdomain.Payment, full bool, now time.Time) error {
	ids, err := r.repo.ListBookingIDs(ctx, tx, payment.ID)
	if err != nil {
		return err
	}
	bookings, err := r.bookingRepo.FindByIDsForUpdate(ctx, tx, payment.TenantID, ids)
	if err != nil {
		return err
	}
	for i := range bookings {
		booking := &bookings[i]
		if full {
			booking.BookingAmountPaid = 0
			booking.BookingBalanceDue = booking.TotalPrice
			booking.DepositAllocated = 0
			booking.PaymentStatus = ledgerdomain.PaymentStatusRefunded
			booking.Status = bookingdomain.BookingStatusRefunded
		} else {
			booking.PaymentStatus = ledgerdomain.PaymentStatusPartialRefund
			booking.Status = bookingdomain.BookingStatusPartialRefund
		}
		booking.UpdatedAt = now
		if err := r.bookingRepo.UpdateLedger(ctx, tx, booking); err != nil {
			return err
		}
	}
	return nil
}

// IsRetryable reports whether a sync error may succeed when retried.
func IsRetryable(err error) bool {
	return errors.Is(err, paymentdomain.ErrGatewayUnavailable)
}
