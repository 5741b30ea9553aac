package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/clientflow/internal/booking/repository"
	"github.com/smallbiznis/clientflow/internal/clock"
	invoicedomain "github.com/smallbiznis/clientflow/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/clientflow/internal/invoice/repository"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/clientflow/internal/ledger/service"
	paymentdomain "github.com/smallbiznis/clientflow/internal/payment/domain"
	paymentrepo "github.com/smallbiznis/clientflow/internal/payment/repository"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	tagrepo "github.com/smallbiznis/clientflow/internal/tag/repository"
	tagservice "github.com/smallbiznis/clientflow/internal/tag/service"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testTenant = snowflake.ID(42)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type dispatched struct {
	event workflowdomain.EventName
	ec    workflowdomain.EventContext
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatched
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event workflowdomain.EventName, ec workflowdomain.EventContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatched{event: event, ec: ec})
}

func (d *recordingDispatcher) names() []workflowdomain.EventName {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]workflowdomain.EventName, 0, len(d.events))
	for _, e := range d.events {
		out = append(out, e.event)
	}
	return out
}

func (d *recordingDispatcher) reset() {
	d.mu.Lock()
	d.events = nil
	d.mu.Unlock()
}

type fakeGateway struct {
	charge *paymentdomain.Charge
	err    error
	calls  int
}

func (g *fakeGateway) RetrieveCharge(_ context.Context, _ paymentdomain.ChargeQuery) (*paymentdomain.Charge, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	c := *g.charge
	return &c, nil
}

type harness struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	tags       tagdomain.Service
	dispatcher *recordingDispatcher
	gateway    *fakeGateway
	recorder   *Recorder
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:payments_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&invoicedomain.Invoice{},
		&bookingdomain.Booking{},
		&paymentdomain.Payment{},
		&paymentdomain.InvoicePayment{},
		&paymentdomain.BookingPayment{},
		&tagdomain.Tag{},
		&tagdomain.EntityTag{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()

	tags := tagservice.NewService(tagservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: tagrepo.Provide()})
	require.NoError(t, tags.EnsureStatusTags(context.Background(), nil, testTenant))
	ledger := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk})

	h := &harness{
		db:         db,
		node:       node,
		clock:      clk,
		tags:       tags,
		dispatcher: &recordingDispatcher{},
		gateway:    &fakeGateway{},
	}
	h.recorder = NewRecorder(RecorderParams{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Repo:        paymentrepo.Provide(),
		InvoiceRepo: invoicerepo.Provide(),
		BookingRepo: bookingrepo.Provide(),
		TagSvc:      tags,
		LedgerSvc:   ledger,
		Dispatcher:  h.dispatcher,
	})
	h.reconciler = NewReconciler(ReconcilerParams{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Gateway:     h.gateway,
		Repo:        paymentrepo.Provide(),
		InvoiceRepo: invoicerepo.Provide(),
		BookingRepo: bookingrepo.Provide(),
		TagSvc:      tags,
		LedgerSvc:   ledger,
		Dispatcher:  h.dispatcher,
	})
	return h
}

func (h *harness) createBooking(t *testing.T, price int64, status bookingdomain.BookingStatus) *bookingdomain.Booking {
	t.Helper()
	b := &bookingdomain.Booking{
		ID:                h.node.Generate(),
		TenantID:          testTenant,
		ContactID:         snowflake.ID(500),
		ScheduledAt:       testNow.Add(48 * time.Hour),
		DurationMinutes:   60,
		TotalPrice:        price,
		BookingBalanceDue: price,
		PaymentStatus:     ledgerdomain.PaymentStatusUnpaid,
		Status:            status,
		CreatedAt:         testNow,
		UpdatedAt:         testNow,
	}
	require.NoError(t, h.db.Create(b).Error)
	return b
}

func (h *harness) createInvoice(t *testing.T, total, paid int64, status invoicedomain.InvoiceStatus, booking *bookingdomain.Booking) *invoicedomain.Invoice {
	t.Helper()
	inv := &invoicedomain.Invoice{
		ID:            h.node.Generate(),
		TenantID:      testTenant,
		ContactID:     snowflake.ID(500),
		InvoiceNumber: "INV-0001",
		Currency:      "USD",
		Subtotal:      total,
		Total:         total,
		AmountPaid:    paid,
		BalanceDue:    ledgerdomain.ComputeBalance(total, paid).Due,
		Status:        status,
		CreatedAt:     testNow,
		UpdatedAt:     testNow,
	}
	if status != invoicedomain.InvoiceStatusDraft {
		sent := testNow.Add(-time.Hour)
		inv.SentAt = &sent
	}
	if booking != nil {
		inv.BookingID = &booking.ID
	}
	require.NoError(t, h.db.Create(inv).Error)
	return inv
}

// createStripePayment seeds a gateway payment fully applied to inv.
func (h *harness) createStripePayment(t *testing.T, inv *invoicedomain.Invoice, booking *bookingdomain.Booking, amount int64) *paymentdomain.Payment {
	t.Helper()
	contactID := inv.ContactID
	p := &paymentdomain.Payment{
		ID:                    h.node.Generate(),
		TenantID:              testTenant,
		ContactID:             &contactID,
		Amount:                amount,
		Currency:              "USD",
		Status:                paymentdomain.StatusSucceeded,
		StripePaymentIntentID: "pi_test_1",
		StripeAccountID:       "acct_test_1",
		CreatedAt:             testNow,
		UpdatedAt:             testNow,
	}
	require.NoError(t, h.db.Create(p).Error)
	require.NoError(t, h.db.Create(&paymentdomain.InvoicePayment{
		ID:            h.node.Generate(),
		InvoiceID:     inv.ID,
		PaymentID:     p.ID,
		AmountApplied: amount,
		CreatedAt:     testNow,
	}).Error)
	if booking != nil {
		require.NoError(t, h.db.Create(&paymentdomain.BookingPayment{
			BookingID: booking.ID,
			PaymentID: p.ID,
			CreatedAt: testNow,
		}).Error)
	}
	return p
}

func (h *harness) reloadInvoice(t *testing.T, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()
	var inv invoicedomain.Invoice
	require.NoError(t, h.db.Where("id = ?", id).Take(&inv).Error)
	return inv
}

func (h *harness) reloadBooking(t *testing.T, id snowflake.ID) bookingdomain.Booking {
	t.Helper()
	var b bookingdomain.Booking
	require.NoError(t, h.db.Where("id = ?", id).Take(&b).Error)
	return b
}

func (h *harness) reloadPayment(t *testing.T, id snowflake.ID) paymentdomain.Payment {
	t.Helper()
	var p paymentdomain.Payment
	require.NoError(t, h.db.Where("id = ?", id).Take(&p).Error)
	return p
}

func (h *harness) tagNames(t *testing.T, entityType tagdomain.EntityType, entityID snowflake.ID) []string {
	t.Helper()
	var names []string
	require.NoError(t, h.db.Raw(
		`SELECT t.name FROM tags t JOIN entity_tags et ON et.tag_id = t.id
		WHERE et.entity_type = ? AND et.entity_id = ? ORDER BY t.name`,
		string(entityType), entityID,
	).Scan(&names).Error)
	return names
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Count(&n).Error)
	return n
}
