package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	invoicedomain "github.com/smallbiznis/clientflow/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPaymentValidation(t *testing.T) {
	h := newHarness(t)
	inv := h.createInvoice(t, 10000, 0, invoicedomain.InvoiceStatusSent, nil)

	_, err := h.recorder.RecordPayment(context.Background(), RecordPaymentRequest{
		TenantID: testTenant, InvoiceID: inv.ID, Amount: 0, Method: paymentdomain.MethodCash,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = h.recorder.RecordPayment(context.Background(), RecordPaymentRequest{
		TenantID: testTenant, InvoiceID: inv.ID, Amount: 100, Method: "crypto",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidMethod)

	_, err = h.recorder.RecordPayment(context.Background(), RecordPaymentRequest{
		TenantID: snowflake.ID(7), InvoiceID: inv.ID, Amount: 100, Method: paymentdomain.MethodCash,
	})
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceNotFound)
	assert.Zero(t, h.count(t, &paymentdomain.Payment{}))
}

func TestRecordPaymentRejectsOverpayment(t *testing.T) {
	h := newHarness(t)
	inv := h.createInvoice(t, 10000, 8000, invoicedomain.InvoiceStatusSent, nil)

	_, err := h.recorder.RecordPayment(context.Background(), RecordPaymentRequest{
		TenantID: testTenant, InvoiceID: inv.ID, Amount: 3000, Method: paymentdomain.MethodZelle,
	})
	require.ErrorIs(t, err, paymentdomain.ErrAmountExceedsBalance)

	var exceeded *paymentdomain.AmountExceedsBalanceError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, int64(3000), exceeded.Amount)
	assert.Equal(t, int64(2000), exceeded.BalanceDue)

	got := h.reloadInvoice(t, inv.ID)
	assert.Equal(t, int64(8000), got.AmountPaid)
	assert.Equal(t, int64(2000), got.BalanceDue)
	assert.Zero(t, h.count(t, &paymentdomain.Payment{}))
	assert.Zero(t, h.count(t, &paymentdomain.InvoicePayment{}))
	assert.Empty(t, h.dispatcher.names())
}

func TestRecordPaymentDepositThenFullPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	booking := h.createBooking(t, 20000, bookingdomain.BookingStatusPending)
	inv := h.createInvoice(t, 20000, 0, invoicedomain.InvoiceStatusSent, booking)
	_, err := h.tags.SetStatusTag(ctx, nil, tagdomain.EntityContact, inv.ContactID, tagdomain.ContactLead, testTenant)
	require.NoError(t, err)

	res, err := h.recorder.RecordPayment(ctx, RecordPaymentRequest{
		TenantID: testTenant, InvoiceID: inv.ID, Amount: 6000, Method: paymentdomain.MethodCash, IsDeposit: true, Notes: "deposit",
	})
	require.NoError(t, err)
	assert.False(t, res.IsPaidInFull)
	assert.Equal(t, int64(14000), res.NewBalance)
	assert.True(t, res.Payment.IsOffline())
	assert.Equal(t, true, res.Payment.Metadata["is_deposit"])

	got := h.reloadInvoice(t, inv.ID)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, got.Status)
	assert.Equal(t, int64(6000), got.AmountPaid)
	assert.NotNil(t, got.DepositPaidAt)
	assert.Nil(t, got.PaidAt)
	assert.Equal(t, []string{"Deposit Paid"}, h.tagNames(t, tagdomain.EntityInvoice, inv.ID))

	b := h.reloadBooking(t, booking.ID)
	assert.Equal(t, ledgerdomain.PaymentStatusDepositPaid, b.PaymentStatus)
	assert.Equal(t, bookingdomain.BookingStatusScheduled, b.Status)
	assert.Equal(t, int64(6000), b.DepositAllocated)
	assert.Equal(t, int64(14000), b.BookingBalanceDue)
	assert.Equal(t, []string{"Scheduled"}, h.tagNames(t, tagdomain.EntityBooking, booking.ID))
	assert.Equal(t, []string{"Client"}, h.tagNames(t, tagdomain.EntityContact, inv.ContactID))
	assert.Equal(t, []string{"Succeeded"}, h.tagNames(t, tagdomain.EntityPayment, res.Payment.ID))
	assert.Equal(t, []workflowdomain.EventName{
		workflowdomain.EventPaymentReceived,
		workflowdomain.EventInvoiceDepositPaid,
		workflowdomain.EventBookingScheduled,
	}, h.dispatcher.names())

	h.dispatcher.reset()
	res, err = h.recorder.RecordPayment(ctx, RecordPaymentRequest{
		TenantID: testTenant, InvoiceID: inv.ID, Amount: 14000, Method: paymentdomain.MethodCheck,
	})
	require.NoError(t, err)
	assert.True(t, res.IsPaidInFull)
	assert.Zero(t, res.NewBalance)

	got = h.reloadInvoice(t, inv.ID)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, got.Status)
	assert.Equal(t, int64(20000), got.AmountPaid)
	assert.Zero(t, got.BalanceDue)
	assert.NotNil(t, got.PaidAt)
	assert.Equal(t, []string{"Paid"}, h.tagNames(t, tagdomain.EntityInvoice, inv.ID))

	b = h.reloadBooking(t, booking.ID)
	assert.Equal(t, ledgerdomain.PaymentStatusPaid, b.PaymentStatus)
	assert.Equal(t, bookingdomain.BookingStatusScheduled, b.Status)
	assert.Zero(t, b.BookingBalanceDue)
	assert.Equal(t, []workflowdomain.EventName{
		workflowdomain.EventPaymentReceived,
		workflowdomain.EventInvoicePaid,
	}, h.dispatcher.names())

	assert.Equal(t, int64(2), h.count(t, &ledgerdomain.LedgerEntry{}))
	assert.Equal(t, int64(2), h.count(t, &paymentdomain.BookingPayment{}))
}

func TestRecordPaymentSecondDepositDoesNotRetag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inv := h.createInvoice(t, 30000, 0, invoicedomain.InvoiceStatusSent, nil)

	_, err := h.recorder.RecordPayment(ctx, RecordPaymentRequest{
		TenantID: testTenant, InvoiceID: inv.ID, Amount: 5000, Method: paymentdomain.MethodVenmo, IsDeposit: true,
	})
	require.NoError(t, err)
	first := h.reloadInvoice(t, inv.ID)

	h.dispatcher.reset()
	h.clock.Advance(24 * time.Hour)
	_, err = h.recorder.RecordPayment(ctx, RecordPaymentRequest{
		TenantID: testTenant, InvoiceID: inv.ID, Amount: 5000, Method: paymentdomain.MethodVenmo, IsDeposit: true,
	})
	require.NoError(t, err)

	got := h.reloadInvoice(t, inv.ID)
	require.NotNil(t, got.DepositPaidAt)
	assert.True(t, first.DepositPaidAt.Equal(*got.DepositPaidAt))
	assert.Equal(t, []string{"Deposit Paid"}, h.tagNames(t, tagdomain.EntityInvoice, inv.ID))
	assert.Equal(t, []workflowdomain.EventName{workflowdomain.EventPaymentReceived}, h.dispatcher.names())
}

func TestRecordPaymentMovesDraftToSent(t *testing.T) {
	h := newHarness(t)
	inv := h.createInvoice(t, 10000, 0, invoicedomain.InvoiceStatusDraft, nil)

	_, err := h.recorder.RecordPayment(context.Background(), RecordPaymentRequest{
		TenantID: testTenant, InvoiceID: inv.ID, Amount: 2500, Method: "Bank_Transfer",
	})
	require.NoError(t, err)

	got := h.reloadInvoice(t, inv.ID)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, got.Status)
	assert.NotNil(t, got.SentAt)
	assert.Equal(t, int64(7500), got.BalanceDue)
	assert.Equal(t, []string{"Sent"}, h.tagNames(t, tagdomain.EntityInvoice, inv.ID))
}

func TestRecordPaymentRollsBackWhenStatusTagMissing(t *testing.T) {
	h := newHarness(t)
	inv := h.createInvoice(t, 10000, 0, invoicedomain.InvoiceStatusSent, nil)
	require.NoError(t, h.db.Where("tenant_id = ? AND name = ?", testTenant, "Succeeded").Delete(&tagdomain.Tag{}).Error)

	_, err := h.recorder.RecordPayment(context.Background(), RecordPaymentRequest{
		TenantID: testTenant, InvoiceID: inv.ID, Amount: 10000, Method: paymentdomain.MethodCash,
	})
	require.ErrorIs(t, err, tagdomain.ErrTagNotFound)

	got := h.reloadInvoice(t, inv.ID)
	assert.Zero(t, got.AmountPaid)
	assert.Equal(t, invoicedomain.InvoiceStatusSent, got.Status)
	assert.Zero(t, h.count(t, &paymentdomain.Payment{}))
	assert.Zero(t, h.count(t, &ledgerdomain.LedgerEntry{}))
	assert.Empty(t, h.dispatcher.names())
}
