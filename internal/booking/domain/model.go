package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	"gorm.io/gorm"
)

type BookingStatus string

const (
	BookingStatusPending       BookingStatus = "pending"
	BookingStatusScheduled     BookingStatus = "scheduled"
	BookingStatusConfirmed     BookingStatus = "confirmed"
	BookingStatusCompleted     BookingStatus = "completed"
	BookingStatusCancelled     BookingStatus = "cancelled"
	BookingStatusRefunded      BookingStatus = "refunded"
	BookingStatusPartialRefund BookingStatus = "partial_refund"
	// BookingStatusInquiry is carried by rows created before bookings
	// started as pending.
	BookingStatusInquiry BookingStatus = "inquiry"
)

// ActiveStatuses hold their time slot against new bookings.
var ActiveStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusScheduled,
	BookingStatusConfirmed,
	BookingStatusInquiry,
}

// ConflictLookback bounds how far before a candidate start an existing
// booking may begin and still run into the candidate slot.
const ConflictLookback = 24 * time.Hour

var statusTagNames = map[BookingStatus]string{
	BookingStatusPending:   tagdomain.BookingPending,
	BookingStatusScheduled: tagdomain.BookingScheduled,
	BookingStatusConfirmed: tagdomain.BookingConfirmed,
	BookingStatusCompleted: tagdomain.BookingCompleted,
	BookingStatusCancelled: tagdomain.BookingCancelled,
}

func (s BookingStatus) StatusTag() (string, bool) {
	name, ok := statusTagNames[s]
	return name, ok
}

func (s BookingStatus) Active() bool {
	for _, active := range ActiveStatuses {
		if s == active {
			return true
		}
	}
	return false
}

type Booking struct {
	ID                snowflake.ID               `json:"id" gorm:"primaryKey"`
	TenantID          snowflake.ID               `json:"tenant_id" gorm:"not null;index:ix_bookings_tenant_slot,priority:1"`
	ContactID         snowflake.ID               `json:"contact_id" gorm:"not null;index"`
	ScheduledAt       time.Time                  `json:"scheduled_at" gorm:"not null;index:ix_bookings_tenant_slot,priority:2"`
	DurationMinutes   int                        `json:"duration_minutes" gorm:"not null;default:60"`
	TotalPrice        int64                      `json:"total_price" gorm:"not null;default:0"`
	BookingAmountPaid int64                      `json:"booking_amount_paid" gorm:"not null;default:0"`
	BookingBalanceDue int64                      `json:"booking_balance_due" gorm:"not null;default:0"`
	DepositAllocated  int64                      `json:"deposit_allocated" gorm:"not null;default:0"`
	PaymentStatus     ledgerdomain.PaymentStatus `json:"payment_status" gorm:"type:text;not null;default:'unpaid'"`
	Status            BookingStatus              `json:"status" gorm:"type:text;not null;default:'pending'"`
	Notes             string                     `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt         time.Time                  `json:"created_at" gorm:"not null"`
	UpdatedAt         time.Time                  `json:"updated_at" gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

// End is the exclusive end of the booking's time range.
func (b Booking) End() time.Time {
	return b.ScheduledAt.Add(time.Duration(b.DurationMinutes) * time.Minute)
}

// Overlaps reports whether the half-open ranges [aStart, aEnd) and
// [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, tenantID, bookingID snowflake.ID) (*Booking, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, tenantID, bookingID snowflake.ID) (*Booking, error)
	FindByIDsForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]Booking, error)
	ActiveStartingBetween(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, from, to time.Time) ([]Booking, error)
	Insert(ctx context.Context, db *gorm.DB, booking *Booking) error
	UpdateLedger(ctx context.Context, db *gorm.DB, booking *Booking) error
}

var (
	ErrBookingNotFound   = errors.New("booking_not_found")
	ErrSlotUnavailable   = errors.New("slot_unavailable")
	ErrInvalidSchedule   = errors.New("invalid_schedule")
	ErrInvalidDuration   = errors.New("invalid_duration")
	ErrInvalidPrice      = errors.New("invalid_price")
	ErrMissingClientName = errors.New("missing_client_name")
	ErrInvalidEmail      = errors.New("invalid_email")
)
