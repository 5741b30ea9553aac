package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	"github.com/smallbiznis/clientflow/internal/clock"
	contactdomain "github.com/smallbiznis/clientflow/internal/contact/domain"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	"github.com/smallbiznis/clientflow/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/clientflow/internal/observability/metrics"
	"github.com/smallbiznis/clientflow/internal/observability/tracing"
	"github.com/smallbiznis/clientflow/internal/providers/email"
	"github.com/smallbiznis/clientflow/internal/ratelimit"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	webhookdomain "github.com/smallbiznis/clientflow/internal/webhook/domain"
	workflowdomain "github.com/smallbiznis/clientflow/internal/workflow/domain"
	pkgdb "github.com/smallbiznis/clientflow/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tracerName             = "clientflow/booking"
	defaultDurationMinutes = 60
	maxTxAttempts          = 3
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        bookingdomain.Repository
	TenantRepo  tenantdomain.Repository
	ContactRepo contactdomain.Repository
	TagSvc      tagdomain.Service
	Dispatcher  workflowdomain.Dispatcher
	Webhooks    webhookdomain.Sender
	Email       email.Provider
	Locker      *ratelimit.Locker   `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

// slotLocker narrows *ratelimit.Locker to the call bookings make.
type slotLocker interface {
	LockBookingSlots(ctx context.Context, tenantID snowflake.ID) (unlock func(), ok bool, err error)
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        bookingdomain.Repository
	tenantRepo  tenantdomain.Repository
	contactRepo contactdomain.Repository
	tagSvc      tagdomain.Service
	dispatcher  workflowdomain.Dispatcher
	webhooks    webhookdomain.Sender
	email       email.Provider
	locker      slotLocker
	obsMetrics  *obsmetrics.Metrics
	notifyWG    sync.WaitGroup
}

func NewService(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("booking.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		tenantRepo:  p.TenantRepo,
		contactRepo: p.ContactRepo,
		tagSvc:      p.TagSvc,
		dispatcher:  p.Dispatcher,
		webhooks:    p.Webhooks,
		email:       p.Email,
		locker:      p.Locker,
		obsMetrics:  p.ObsMetrics,
	}
}

type PublicBookingRequest struct {
	Name            string
	Email           string
	Phone           string
	ScheduledAt     time.Time
	DurationMinutes int
	TotalPrice      int64
	Notes           string
}

type PublicBookingResult struct {
	Booking      *bookingdomain.Booking
	Contact      *contactdomain.Contact
	Tenant       *tenantdomain.Tenant
	IsNewContact bool
}

// CheckConflict reports whether [start, start+duration) overlaps an active
// booking of the tenant. A nil tx uses the base connection.
func (s *Service) CheckConflict(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, start time.Time, durationMinutes int) (bool, error) {
	if tx == nil {
		tx = s.db
	}
	if durationMinutes <= 0 {
		return false, bookingdomain.ErrInvalidDuration
	}
	start = start.UTC()
	end := start.Add(time.Duration(durationMinutes) * time.Minute)

	candidates, err := s.repo.ActiveStartingBetween(ctx, tx, tenantID, start.Add(-bookingdomain.ConflictLookback), end)
	if err != nil {
		return false, err
	}
	for _, existing := range candidates {
		if !existing.Status.Active() {
			continue
		}
		if bookingdomain.Overlaps(start, end, existing.ScheduledAt, existing.End()) {
			return true, nil
		}
	}
	return false, nil
}

// SlotAvailable resolves the tenant by public slug and checks the slot.
func (s *Service) SlotAvailable(ctx context.Context, tenantSlug string, start time.Time, durationMinutes int) (bool, error) {
	tenant, err := s.tenantRepo.FindBySlug(ctx, s.db, tenantSlug)
	if err != nil {
		return false, err
	}
	if durationMinutes == 0 {
		durationMinutes = defaultDurationMinutes
	}
	conflict, err := s.CheckConflict(ctx, nil, tenant.ID, start, durationMinutes)
	if err != nil {
		return false, err
	}
	return !conflict, nil
}

// CreatePublicBooking books a slot for a client of the tenant behind
// tenantSlug. The conflict check and insert share one transaction.
func (s *Service) CreatePublicBooking(ctx context.Context, tenantSlug string, req PublicBookingRequest) (result *PublicBookingResult, err error) {
	ctx, span := tracing.Start(ctx, tracerName, "booking.create_public",
		attribute.String("tenant_slug", tenantSlug),
	)
	defer func() { tracing.End(span, err) }()

	req, err = normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	tenant, err := s.tenantRepo.FindBySlug(ctx, s.db, tenantSlug)
	if err != nil {
		return nil, err
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("tenant_id", tenant.ID.String()))

	// The lock is tenant-wide, so a held lock says nothing about this slot.
	// Only the conflict check or the active-slot index rejects a booking.
	unlock, ok, err := s.locker.LockBookingSlots(ctx, tenant.ID)
	switch {
	case err != nil:
		log.Warn("slot lock unavailable, relying on transaction", zap.Error(err))
	case !ok:
		log.Debug("slot lock held, relying on transaction")
	default:
		defer unlock()
	}

	for attempt := 1; ; attempt++ {
		result, err = s.createInTx(ctx, tenant, req)
		if err == nil || !pkgdb.IsRetryableTxErr(err) || attempt == maxTxAttempts {
			break
		}
		log.Debug("retrying booking after serialization failure", zap.Int("attempt", attempt))
	}
	if errors.Is(err, bookingdomain.ErrSlotUnavailable) {
		s.obsMetrics.RecordBookingConflict(ctx)
		log.Info("booking slot unavailable", zap.Time("scheduled_at", req.ScheduledAt))
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	log.Info("public booking created",
		zap.String("booking_id", result.Booking.ID.String()),
		zap.String("contact_id", result.Contact.ID.String()),
		zap.Bool("new_contact", result.IsNewContact),
	)
	s.afterCreate(ctx, result)
	return result, nil
}

func (s *Service) createInTx(ctx context.Context, tenant *tenantdomain.Tenant, req PublicBookingRequest) (*PublicBookingResult, error) {
	result := &PublicBookingResult{Tenant: tenant}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conflict, err := s.CheckConflict(ctx, tx, tenant.ID, req.ScheduledAt, req.DurationMinutes)
		if err != nil {
			return err
		}
		if conflict {
			return bookingdomain.ErrSlotUnavailable
		}

		now := s.clock.Now().UTC()
		contact, isNew, err := s.findOrCreateContact(ctx, tx, tenant.ID, req, now)
		if err != nil {
			return err
		}

		booking := &bookingdomain.Booking{
			ID:                s.genID.Generate(),
			TenantID:          tenant.ID,
			ContactID:         contact.ID,
			ScheduledAt:       req.ScheduledAt,
			DurationMinutes:   req.DurationMinutes,
			TotalPrice:        req.TotalPrice,
			BookingBalanceDue: ledgerdomain.ComputeBalance(req.TotalPrice, 0).Due,
			PaymentStatus:     ledgerdomain.BookingPaymentStatus(req.TotalPrice, 0, 0),
			Status:            bookingdomain.BookingStatusPending,
			Notes:             req.Notes,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := s.repo.Insert(ctx, tx, booking); err != nil {
			if pkgdb.IsDuplicateKeyErr(err) {
				return bookingdomain.ErrSlotUnavailable
			}
			return err
		}
		if _, err := s.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityBooking, booking.ID, tagdomain.BookingPending, tenant.ID); err != nil {
			return err
		}

		result.Booking = booking
		result.Contact = contact
		result.IsNewContact = isNew
		return nil
	}, pkgdb.SerializableTx(s.db))
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) findOrCreateContact(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID, req PublicBookingRequest, now time.Time) (*contactdomain.Contact, bool, error) {
	contact, err := s.contactRepo.FindByEmail(ctx, tx, tenantID, req.Email)
	if err != nil {
		return nil, false, err
	}
	if contact != nil {
		return contact, false, nil
	}

	contact = &contactdomain.Contact{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.contactRepo.Insert(ctx, tx, contact); err != nil {
		return nil, false, err
	}
	if _, err := s.tagSvc.SetStatusTag(ctx, tx, tagdomain.EntityContact, contact.ID, tagdomain.ContactLead, tenantID); err != nil {
		return nil, false, err
	}
	return contact, true, nil
}

func normalizeRequest(req PublicBookingRequest) (PublicBookingRequest, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = contactdomain.NormalizeEmail(req.Email)
	req.Phone = strings.TrimSpace(req.Phone)
	req.Notes = strings.TrimSpace(req.Notes)

	if req.Name == "" {
		return req, bookingdomain.ErrMissingClientName
	}
	if !emailPattern.MatchString(req.Email) {
		return req, bookingdomain.ErrInvalidEmail
	}
	if req.ScheduledAt.IsZero() {
		return req, bookingdomain.ErrInvalidSchedule
	}
	req.ScheduledAt = req.ScheduledAt.UTC()
	if req.DurationMinutes == 0 {
		req.DurationMinutes = defaultDurationMinutes
	}
	// Longer bookings would escape the conflict lookback window.
	if req.DurationMinutes < 0 || time.Duration(req.DurationMinutes)*time.Minute > bookingdomain.ConflictLookback {
		return req, bookingdomain.ErrInvalidDuration
	}
	if req.TotalPrice < 0 {
		return req, bookingdomain.ErrInvalidPrice
	}
	return req, nil
}

// Wait blocks until background notifications have been handed off.
func (s *Service) Wait() {
	s.notifyWG.Wait()
}

func (s *Service) afterCreate(ctx context.Context, result *PublicBookingResult) {
	ec := workflowdomain.EventContext{
		TenantID:  result.Tenant.ID,
		ContactID: result.Contact.ID,
		BookingID: result.Booking.ID,
	}
	s.dispatcher.Dispatch(ctx, workflowdomain.EventBookingCreated, ec)
	if result.IsNewContact {
		s.dispatcher.Dispatch(ctx, workflowdomain.EventLeadCreated, ec)
	}

	ctx = context.WithoutCancel(ctx)
	s.notifyWG.Add(1)
	go func() {
		defer s.notifyWG.Done()
		s.notify(ctx, result)
	}()
}

// notify delivers outbound webhooks and emails. Failures are logged only.
func (s *Service) notify(ctx context.Context, result *PublicBookingResult) {
	log := logger.WithContext(ctx, s.log).With(zap.String("booking_id", result.Booking.ID.String()))
	tenantID := result.Tenant.ID

	if err := s.webhooks.Send(ctx, tenantID, webhookdomain.EventBookingCreated, map[string]any{
		"booking": result.Booking,
		"client":  result.Contact,
	}); err != nil {
		log.Warn("booking.created webhook failed", zap.Error(err))
	}
	if result.IsNewContact {
		if err := s.webhooks.Send(ctx, tenantID, webhookdomain.EventClientCreated, result.Contact); err != nil {
			log.Warn("client.created webhook failed", zap.Error(err))
		}
	}

	when := result.Booking.ScheduledAt.Format("Monday, January 2, 2006 at 3:04 PM MST")
	if err := s.email.Send(ctx, []string{result.Contact.Email},
		fmt.Sprintf("Booking request received - %s", result.Tenant.Name),
		fmt.Sprintf("<p>Hi %s,</p><p>Thanks for booking with %s. We received your request for %s and will confirm shortly.</p>",
			html.EscapeString(result.Contact.Name), html.EscapeString(result.Tenant.Name), when),
	); err != nil {
		log.Warn("booking confirmation email failed", zap.Error(err))
	}
	if owner := strings.TrimSpace(result.Tenant.Email); owner != "" {
		if err := s.email.Send(ctx, []string{owner},
			fmt.Sprintf("New booking request from %s", result.Contact.Name),
			fmt.Sprintf("<p>%s (%s) requested %s for %d minutes.</p>",
				html.EscapeString(result.Contact.Name), html.EscapeString(result.Contact.Email), when, result.Booking.DurationMinutes),
		); err != nil {
			log.Warn("new booking notification failed", zap.Error(err))
		}
	}
}
