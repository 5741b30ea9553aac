package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	"github.com/smallbiznis/clientflow/internal/clock"
	invoicedomain "github.com/smallbiznis/clientflow/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/clientflow/internal/observability/metrics"
	"github.com/smallbiznis/clientflow/internal/observability/tracing"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const tracerName = "clientflow/payment"

type RecorderParams struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        paymentdomain.Repository
	InvoiceRepo invoicedomain.Repository
	BookingRepo bookingdomain.Repository
	TagSvc      tagdomain.Service
	LedgerSvc   ledgerdomain.Service
	Dispatcher  workflowdomain.Dispatcher
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// Recorder applies offline payments to invoices and their bookings.
type Recorder struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        paymentdomain.Repository
	invoiceRepo invoicedomain.Repository
	bookingRepo bookingdomain.Repository
	tagSvc      tagdomain.Service
	ledgerSvc   ledgerdomain.Service
	dispatcher  workflowdomain.Dispatcher
	obsMetrics  *obsmetrics.Metrics
}

func NewRecorder(p RecorderParams) *Recorder {
	return &Recorder{
		db:          p.DB,
		log:         p.Log.Named("payment.recorder"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		invoiceRepo: p.InvoiceRepo,
		bookingRepo: p.BookingRepo,
		tagSvc:      p.TagSvc,
		ledgerSvc:   p.LedgerSvc,
		dispatcher:  p.Dispatcher,
		obsMetrics:  p.ObsMetrics,
	}
}

type RecordPaymentRequest struct {
	TenantID  snowflake.ID
	InvoiceID snowflake.ID
	Amount    int64
	Method    paymentdomain.Method
	Notes     string
	IsDeposit bool
}

type RecordPaymentResult struct {
	Invoice      *invoicedomain.Invoice
	Payment      *paymentdomain.Payment
	IsPaidInFull bool
	NewBalance   int64
}

// recordOutcome collects what happened inside the transaction so events can
// be dispatched after commit.
type recordOutcome struct {
	invoice          *invoicedomain.Invoice
	payment          *paymentdomain.Payment
	booking          *bookingdomain.Booking
	firstDeposit     bool
	bookingScheduled bool
}

func (r *Recorder) RecordPayment(ctx context.Context, req RecordPaymentRequest) (result *RecordPaymentResult, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "payment.record",
		attribute.String("tenant_id", req.TenantID.String()),
		attribute.String("invoice_id", req.InvoiceID.String()),
		attribute.String("method", string(req.Method)),
	)
	defer func() { tracing.End(span, err) }()

	if req.Amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}
	req.Method = paymentdomain.Method(strings.ToLower(strings.TrimSpace(string(req.Method))))
	if !req.Method.Valid() {
		return nil, paymentdomain.ErrInvalidMethod
	}

	var out recordOutcome
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := r.apply(ctx, tx, req)
		if err != nil {
			return err
		}
		out = *o
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.obsMetrics.RecordPaymentRecorded(ctx, string(req.Method))
	logger.WithContext(ctx, r.log).Info("payment recorded",
		zap.String("invoice_id", out.invoice.ID.String()),
		zap.String("payment_id", out.payment.ID.String()),
		zap.Int64("amount", req.Amount),
		zap.Int64("balance_due", out.invoice.BalanceDue),
	)

	r.dispatchEvents(ctx, out)

	return &RecordPaymentResult{
		Invoice:      out.invoice,
		Payment:      out.payment,
		IsPaidInFull: out.invoice.IsPaidInFull(),
		NewBalance:   out.invoice.BalanceDue,
	}, nil
}

func (r *Recorder) apply(ctx context.Context, tx *gorm.DB, req RecordPaymentRequest) (*recordOutcome, error) {
	invoice, err := r.invoiceRepo.FindForUpdate(ctx, tx, req.TenantID, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if req.Amount > invoice.BalanceDue {
		return nil, &paymentdomain.AmountExceedsBalanceError{Amount: req.Amount, BalanceDue: invoice.BalanceDue}
	}

	var booking *bookingdomain.Booking
	if invoice.BookingID != nil {
		booking, err = r.bookingRepo.FindForUpdate(ctx, tx, req.TenantID, *invoice.BookingID)
		if err != nil && !errors.Is(err, bookingdomain.ErrBookingNotFound) {
			return nil, err
		}
	}

	now := r.clock.Now().UTC()
	contactID := invoice.ContactID
	payment := &paymentdomain.Payment{
		ID:                    r.genID.Generate(),
		TenantID:              req.TenantID,
		ContactID:             &contactID,
		Amount:                req.Amount,
		Currency:              invoice.Currency,
		Status:                paymentdomain.StatusSucceeded,
		StripePaymentIntentID: paymentdomain.OfflineIntentPrefix + ulid.Make().String(),
		StripeAccountID:       tenantdomain.OfflineAccount,
		Metadata: datatypes.JSONMap{
			"method":      string(req.Method),
			"notes":       strings.TrimSpace(req.Notes),
			"is_deposit":  req.IsDeposit,
			"recorded_by": "dashboard",
			"invoice_id":  invoice.ID.String(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.repo.Insert(ctx, tx, payment); err != nil {
		return nil, err
	}
	if err := r.repo.InsertInvoicePayment(ctx, tx, &paymentdomain.InvoicePayment{
		ID:            r.genID.Generate(),
		InvoiceID:     invoice.ID,
		PaymentID:     payment.ID,
		AmountApplied: req.Amount,
		CreatedAt:     now,
	}); err != nil {
		return nil, err
	}

	out := &recordOutcome{invoice: invoice, payment: payment, booking: booking}
	out.firstDeposit = req.IsDeposit && invoice.DepositPaidAt == nil

	previousStatus := invoice.Status
	invoice.AmountPaid += req.Amount
	balance := ledgerdomain.ComputeBalance(invoice.Total, invoice.AmountPaid)
	r.reportAnomaly(ctx, "invoice", invoice.ID, balance)
	invoice.BalanceDue = balance.Due
	switch {
	case invoice.BalanceDue <= 0:
		invoice.Status = invoicedomain.InvoiceStatusPaid
		invoice.PaidAt = &now
	case invoice.Status == invoicedomain.InvoiceStatusDraft:
		invoice.Status = invoicedomain.InvoiceStatusSent
	}
	if invoice.Status != invoicedomain.InvoiceStatusDraft && invoice.SentAt == nil {
		invoice.SentAt = &now
	}
	if out.firstDeposit {
		invoice.DepositPaidAt = &now
	}
	invoice.UpdatedAt = now
	if err := r.invoiceRepo.UpdateLedger(ctx, tx, invoice); err != nil {
		return nil, err
	}

	if booking != nil {
		scheduled, err := r.applyToBooking(ctx, tx, booking, payment, req, now)
		if err != nil {
			return nil, err
		}
		out.bookingScheduled = scheduled
	}

	if _, err := r.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityPayment, payment.ID, tagdomain.PaymentSucceeded, req.TenantID); err != nil {
		return nil, err
	}
	switch {
	case invoice.Status == invoicedomain.InvoiceStatusPaid:
		if _, err := r.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityInvoice, invoice.ID, tagdomain.InvoicePaid, req.TenantID); err != nil {
			return nil, err
		}
	case out.firstDeposit:
		if _, err := r.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityInvoice, invoice.ID, tagdomain.InvoiceDepositPaid, req.TenantID); err != nil {
			return nil, err
		}
	case invoice.Status != previousStatus:
		if name, ok := invoice.Status.StatusTag(); ok {
			if _, err := r.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityInvoice, invoice.ID, name, req.TenantID); err != nil {
				return nil, err
			}
		}
	}

	if err := r.convertLead(ctx, tx, req.TenantID, invoice.ContactID); err != nil {
		return nil, err
	}

	if _, err := r.ledgerSvc.Post(ctx, tx, ledgerdomain.Posting{
		TenantID:   req.TenantID,
		SourceType: ledgerdomain.SourceTypePayment,
		SourceID:   payment.ID,
		Currency:   payment.Currency,
		OccurredAt: now,
		Lines:      ledgerdomain.ReceiptPosting(ledgerdomain.AccountCodeCash, req.Amount),
	}); err != nil {
		return nil, err
	}

	return out, nil
}

// applyToBooking mirrors the payment onto the linked booking and reports
// whether the booking moved out of pending.
func (r *Recorder) applyToBooking(
	ctx context.Context,
	tx *gorm.DB,
	booking *bookingdomain.Booking,
	payment *paymentdomain.Payment,
	req RecordPaymentRequest,
	now time.Time,
) (bool, error) {
	firstMoney := booking.BookingAmountPaid <= 0

	booking.BookingAmountPaid += req.Amount
	balance := ledgerdomain.ComputeBalance(booking.TotalPrice, booking.BookingAmountPaid)
	r.reportAnomaly(ctx, "booking", booking.ID, balance)
	booking.BookingBalanceDue = balance.Due
	if req.IsDeposit {
		booking.DepositAllocated += req.Amount
	}
	booking.PaymentStatus = ledgerdomain.BookingPaymentStatus(booking.TotalPrice, booking.DepositAllocated, booking.BookingAmountPaid)

	scheduled := false
	if firstMoney && booking.Status == bookingdomain.BookingStatusPending {
		booking.Status = bookingdomain.BookingStatusScheduled
		scheduled = true
	}
	booking.UpdatedAt = now
	if err := r.bookingRepo.UpdateLedger(ctx, tx, booking); err != nil {
		return false, err
	}
	if err := r.repo.InsertBookingPayment(ctx, tx, &paymentdomain.BookingPayment{
		BookingID: booking.ID,
		PaymentID: payment.ID,
		CreatedAt: now,
	}); err != nil {
		return false, err
	}
	if scheduled {
		if _, err := r.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityBooking, booking.ID, tagdomain.BookingScheduled, req.TenantID); err != nil {
			return false, err
		}
	}
	return scheduled, nil
}

// convertLead promotes a Lead contact to Client. The transition is one-way.
func (r *Recorder) convertLead(ctx context.Context, tx *gorm.DB, tenantID, contactID snowflake.ID) error {
	if contactID == 0 {
		return nil
	}
	isLead, err := r.tagSvc.HasTag(ctx, tx, tagdomain.EntityContact, contactID, tagdomain.ContactLead, tenantID)
	if err != nil {
		return err
	}
	if !isLead {
		return nil
	}
	_, err = r.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityContact, contactID, tagdomain.ContactClient, tenantID)
	return err
}

func (r *Recorder) reportAnomaly(ctx context.Context, entityType string, id snowflake.ID, balance ledgerdomain.Balance) {
	if !balance.Anomalous() {
		return
	}
	r.obsMetrics.RecordLedgerAnomaly(ctx, entityType)
	logger.WithContext(ctx, r.log).Warn("balance clamped at zero",
		zap.String("entity_type", entityType),
		zap.String("entity_id", id.String()),
		zap.Int64("overpaid", balance.Overpaid),
	)
}

func (r *Recorder) dispatchEvents(ctx context.Context, out recordOutcome) {
	ec := workflowdomain.EventContext{
		TenantID:  out.invoice.TenantID,
		ContactID: out.invoice.ContactID,
		InvoiceID: out.invoice.ID,
		PaymentID: out.payment.ID,
		Data: map[string]any{
			"amount":      out.payment.Amount,
			"balance_due": out.invoice.BalanceDue,
		},
	}
	if out.booking != nil {
		ec.BookingID = out.booking.ID
	}

	r.dispatcher.Dispatch(ctx, workflowdomain.EventPaymentReceived, ec)
	if out.invoice.IsPaidInFull() {
		r.dispatcher.Dispatch(ctx, workflowdomain.EventInvoicePaid, ec)
	}
	if out.firstDeposit {
		r.dispatcher.Dispatch(ctx, workflowdomain.EventInvoiceDepositPaid, ec)
	}
	if out.bookingScheduled {
		r.dispatcher.Dispatch(ctx, workflowdomain.EventBookingScheduled, ec)
	}
}
