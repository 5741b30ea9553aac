package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	bookingdomain "github.com/smallbiznis/clientflow/internal/booking/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() bookingdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, bookingID snowflake.ID) (*bookingdomain.Booking, error) {
	return r.find(db.WithContext(ctx), tenantID, bookingID)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, tenantID, bookingID snowflake.ID) (*bookingdomain.Booking, error) {
	return r.find(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, bookingID)
}

func (r *repo) find(db *gorm.DB, tenantID, bookingID snowflake.ID) (*bookingdomain.Booking, error) {
	var booking bookingdomain.Booking
	err := db.Where("id = ? AND tenant_id = ?", bookingID, tenantID).Take(&booking).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, bookingdomain.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repo) FindByIDsForUpdate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]bookingdomain.Booking, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var bookings []bookingdomain.Booking
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("id ASC").
		Find(&bookings).Error
	return bookings, err
}

// ActiveStartingBetween returns active bookings whose start lies in
// [from, to). Callers verify the exact overlap.
func (r *repo) ActiveStartingBetween(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, from, to time.Time) ([]bookingdomain.Booking, error) {
	var bookings []bookingdomain.Booking
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND status IN ? AND scheduled_at >= ? AND scheduled_at < ?",
			tenantID, bookingdomain.ActiveStatuses, from.UTC(), to.UTC()).
		Order("scheduled_at ASC").
		Find(&bookings).Error
	return bookings, err
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, booking *bookingdomain.Booking) error {
	return db.WithContext(ctx).Create(booking).Error
}

func (r *repo) UpdateLedger(ctx context.Context, db *gorm.DB, booking *bookingdomain.Booking) error {
	return db.WithContext(ctx).
		Model(&bookingdomain.Booking{}).
		Where("id = ? AND tenant_id = ?", booking.ID, booking.TenantID).
		Updates(map[string]any{
			"booking_amount_paid": booking.BookingAmountPaid,
			"booking_balance_due": booking.BookingBalanceDue,
			"deposit_allocated":   booking.DepositAllocated,
			"payment_status":      booking.PaymentStatus,
			"status":              booking.Status,
			"updated_at":          booking.UpdatedAt,
		}).Error
}
