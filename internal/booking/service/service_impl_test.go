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
	contactdomain "github.com/smallbiznis/clientflow/internal/contact/domain"
	contactrepo "github.com/smallbiznis/clientflow/internal/contact/repository"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	tagrepo "github.com/smallbiznis/clientflow/internal/tag/repository"
	tagservice "github.com/smallbiznis/clientflow/internal/tag/service"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/clientflow/internal/tenant/repository"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testTenant = snowflake.ID(42)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu       sync.Mutex
	events   []workflowdomain.EventName
	webhooks []string
	emails   []string
}

func (r *recorder) Dispatch(_ context.Context, event workflowdomain.EventName, _ workflowdomain.EventContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) Send(_ context.Context, _ snowflake.ID, event string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.webhooks = append(r.webhooks, event)
	return nil
}

type emailRecorder struct{ r *recorder }

func (e emailRecorder) Send(_ context.Context, to []string, _ string, _ string) error {
	e.r.mu.Lock()
	defer e.r.mu.Unlock()
	e.r.emails = append(e.r.emails, to...)
	return nil
}

type harness struct {
	db   *gorm.DB
	node *snowflake.Node
	tags tagdomain.Service
	rec  *recorder
	svc  *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:bookings_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&tenantdomain.Tenant{},
		&contactdomain.Contact{},
		&bookingdomain.Booking{},
		&tagdomain.Tag{},
		&tagdomain.EntityTag{},
	))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	clk := clock.NewFakeClock(testNow)
	log := zap.NewNop()

	tags := tagservice.NewService(tagservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: tagrepo.Provide()})
	require.NoError(t, tags.EnsureStatusTags(context.Background(), nil, testTenant))
	require.NoError(t, db.Create(&tenantdomain.Tenant{
		ID: testTenant, Slug: "glow-studio", Name: "Glow Studio", Email: "owner@glow.test",
		CreatedAt: testNow, UpdatedAt: testNow,
	}).Error)

	rec := &recorder{}
	svc := NewService(Params{
		DB:          db,
		Log:         log,
		GenID:       node,
		Clock:       clk,
		Repo:        bookingrepo.Provide(),
		TenantRepo:  tenantrepo.Provide(),
		ContactRepo: contactrepo.Provide(),
		TagSvc:      tags,
		Dispatcher:  rec,
		Webhooks:    rec,
		Email:       emailRecorder{r: rec},
	})
	return &harness{db: db, node: node, tags: tags, rec: rec, svc: svc}
}

func (h *harness) seedBooking(t *testing.T, start time.Time, minutes int, status bookingdomain.BookingStatus) {
	t.Helper()
	require.NoError(t, h.db.Create(&bookingdomain.Booking{
		ID:              h.node.Generate(),
		TenantID:        testTenant,
		ContactID:       1,
		ScheduledAt:     start,
		DurationMinutes: minutes,
		PaymentStatus:   ledgerdomain.PaymentStatusUnpaid,
		Status:          status,
		CreatedAt:       testNow,
		UpdatedAt:       testNow,
	}).Error)
}

func request(start time.Time, minutes int) PublicBookingRequest {
	return PublicBookingRequest{
		Name:            "Ada Lovelace",
		Email:           "Ada@Example.com ",
		ScheduledAt:     start,
		DurationMinutes: minutes,
		TotalPrice:      15000,
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestCheckConflictHalfOpenIntervals(t *testing.T) {
	h := newHarness(t)
	h.seedBooking(t, at(10, 0), 30, bookingdomain.BookingStatusPending)
	ctx := context.Background()

	cases := []struct {
		name     string
		start    time.Time
		minutes  int
		conflict bool
	}{
		{"overlapping tail", at(10, 15), 30, true},
		{"adjacent after", at(10, 30), 30, false},
		{"adjacent before", at(9, 30), 30, false},
		{"enclosing", at(9, 45), 60, true},
		{"inside", at(10, 5), 10, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conflict, err := h.svc.CheckConflict(ctx, nil, testTenant, tc.start, tc.minutes)
			require.NoError(t, err)
			assert.Equal(t, tc.conflict, conflict)
		})
	}
}

func TestCheckConflictLooksBackForLongBookings(t *testing.T) {
	h := newHarness(t)
	h.seedBooking(t, time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC), 120, bookingdomain.BookingStatusConfirmed)

	conflict, err := h.svc.CheckConflict(context.Background(), nil, testTenant, at(0, 30), 30)
	require.NoError(t, err)
	assert.True(t, conflict)

	conflict, err = h.svc.CheckConflict(context.Background(), nil, testTenant, at(1, 0), 30)
	require.NoError(t, err)
	assert.False(t, conflict)
}

func TestCheckConflictIgnoresInactiveBookings(t *testing.T) {
	h := newHarness(t)
	h.seedBooking(t, at(10, 0), 60, bookingdomain.BookingStatusCompleted)
	h.seedBooking(t, at(10, 0), 60, bookingdomain.BookingStatusCancelled)

	conflict, err := h.svc.CheckConflict(context.Background(), nil, testTenant, at(10, 0), 60)
	require.NoError(t, err)
	assert.False(t, conflict)

	h.seedBooking(t, at(10, 0), 60, bookingdomain.BookingStatusInquiry)
	conflict, err = h.svc.CheckConflict(context.Background(), nil, testTenant, at(10, 0), 60)
	require.NoError(t, err)
	assert.True(t, conflict)
}

func TestCreatePublicBookingRejectsOverlap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.CreatePublicBooking(ctx, "glow-studio", request(at(10, 0), 30))
	require.NoError(t, err)

	_, err = h.svc.CreatePublicBooking(ctx, "glow-studio", request(at(10, 15), 30))
	assert.ErrorIs(t, err, bookingdomain.ErrSlotUnavailable)

	second, err := h.svc.CreatePublicBooking(ctx, "glow-studio", request(at(10, 30), 30))
	require.NoError(t, err)
	assert.NotEqual(t, first.Booking.ID, second.Booking.ID)

	var count int64
	require.NoError(t, h.db.Model(&bookingdomain.Booking{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

// heldLocker reports the tenant lock as taken by another request.
type heldLocker struct{ calls int }

func (l *heldLocker) LockBookingSlots(context.Context, snowflake.ID) (func(), bool, error) {
	l.calls++
	return func() {}, false, nil
}

func TestCreatePublicBookingWhileTenantLockHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	locker := &heldLocker{}
	h.svc.locker = locker
	h.seedBooking(t, at(10, 0), 30, bookingdomain.BookingStatusScheduled)

	res, err := h.svc.CreatePublicBooking(ctx, "glow-studio", request(at(11, 0), 30))
	require.NoError(t, err)
	assert.True(t, res.Booking.ScheduledAt.Equal(at(11, 0)))

	_, err = h.svc.CreatePublicBooking(ctx, "glow-studio", request(at(10, 15), 30))
	assert.ErrorIs(t, err, bookingdomain.ErrSlotUnavailable)
	assert.Equal(t, 2, locker.calls)
	h.svc.Wait()
}

func TestCreatePublicBookingNewLead(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.svc.CreatePublicBooking(ctx, "Glow Studio", request(at(10, 0), 45))
	require.NoError(t, err)
	h.svc.Wait()

	assert.True(t, res.IsNewContact)
	assert.Equal(t, "ada@example.com", res.Contact.Email)
	assert.Equal(t, bookingdomain.BookingStatusPending, res.Booking.Status)
	assert.Equal(t, ledgerdomain.PaymentStatusUnpaid, res.Booking.PaymentStatus)
	assert.Equal(t, int64(15000), res.Booking.BookingBalanceDue)

	tag, err := h.tags.StatusTag(ctx, nil, tagdomain.EntityContact, res.Contact.ID, testTenant)
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, tagdomain.ContactLead, tag.Name)

	tag, err = h.tags.StatusTag(ctx, nil, tagdomain.EntityBooking, res.Booking.ID, testTenant)
	require.NoError(t, err)
	require.NotNil(t, tag)
	assert.Equal(t, tagdomain.BookingPending, tag.Name)

	assert.Equal(t, []workflowdomain.EventName{workflowdomain.EventBookingCreated, workflowdomain.EventLeadCreated}, h.rec.events)
	assert.Equal(t, []string{"booking.created", "client.created"}, h.rec.webhooks)
	assert.ElementsMatch(t, []string{"ada@example.com", "owner@glow.test"}, h.rec.emails)
}

func TestCreatePublicBookingReusesContact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.svc.CreatePublicBooking(ctx, "glow-studio", request(at(10, 0), 30))
	require.NoError(t, err)
	h.svc.Wait()
	h.rec.events, h.rec.webhooks = nil, nil

	req := request(at(12, 0), 30)
	req.Email = "ADA@example.COM"
	second, err := h.svc.CreatePublicBooking(ctx, "glow-studio", req)
	require.NoError(t, err)
	h.svc.Wait()

	assert.False(t, second.IsNewContact)
	assert.Equal(t, first.Contact.ID, second.Contact.ID)
	assert.Equal(t, []workflowdomain.EventName{workflowdomain.EventBookingCreated}, h.rec.events)
	assert.Equal(t, []string{"booking.created"}, h.rec.webhooks)
}

func TestCreatePublicBookingValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*PublicBookingRequest)
		want   error
	}{
		{"missing name", func(r *PublicBookingRequest) { r.Name = "  " }, bookingdomain.ErrMissingClientName},
		{"bad email", func(r *PublicBookingRequest) { r.Email = "not-an-email" }, bookingdomain.ErrInvalidEmail},
		{"no time", func(r *PublicBookingRequest) { r.ScheduledAt = time.Time{} }, bookingdomain.ErrInvalidSchedule},
		{"negative duration", func(r *PublicBookingRequest) { r.DurationMinutes = -5 }, bookingdomain.ErrInvalidDuration},
		{"longer than a day", func(r *PublicBookingRequest) { r.DurationMinutes = 25 * 60 }, bookingdomain.ErrInvalidDuration},
		{"negative price", func(r *PublicBookingRequest) { r.TotalPrice = -1 }, bookingdomain.ErrInvalidPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := request(at(10, 0), 30)
			tc.mutate(&req)
			_, err := h.svc.CreatePublicBooking(ctx, "glow-studio", req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := h.svc.CreatePublicBooking(ctx, "nobody", request(at(10, 0), 30))
	assert.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)
}

func TestCreatePublicBookingDefaultsDuration(t *testing.T) {
	h := newHarness(t)
	res, err := h.svc.CreatePublicBooking(context.Background(), "glow-studio", request(at(10, 0), 0))
	require.NoError(t, err)
	h.svc.Wait()
	assert.Equal(t, 60, res.Booking.DurationMinutes)

	available, err := h.svc.SlotAvailable(context.Background(), "glow-studio", at(10, 59), 0)
	require.NoError(t, err)
	assert.False(t, available)

	available, err = h.svc.SlotAvailable(context.Background(), "glow-studio", at(11, 0), 0)
	require.NoError(t, err)
	assert.True(t, available)
}
