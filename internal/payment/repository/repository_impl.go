package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientflow/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, paymentID snowflake.ID) (*domain.Payment, error) {
	return r.find(db.WithContext(ctx), tenantID, paymentID)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, tenantID, paymentID snowflake.ID) (*domain.Payment, error) {
	return r.find(db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, paymentID)
}

func (r *repo) find(db *gorm.DB, tenantID, paymentID snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.Where("id = ? AND tenant_id = ?", paymentID, tenantID).Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// FindByGatewayRef resolves a payment from webhook identifiers. The charge id
// is tried first since it is the more specific reference.
func (r *repo) FindByGatewayRef(ctx context.Context, db *gorm.DB, chargeID, paymentIntentID string) (*domain.Payment, error) {
	chargeID = strings.TrimSpace(chargeID)
	paymentIntentID = strings.TrimSpace(paymentIntentID)

	lookups := []struct {
		column string
		value  string
	}{
		{"stripe_charge_id", chargeID},
		{"stripe_payment_intent_id", paymentIntentID},
	}
	for _, lookup := range lookups {
		if lookup.value == "" {
			continue
		}
		var item domain.Payment
		err := db.WithContext(ctx).
			Where(lookup.column+" = ?", lookup.value).
			Order("id ASC").
			Take(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return &item, nil
	}
	return nil, domain.ErrPaymentNotFound
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) UpdateGatewayState(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("id = ? AND tenant_id = ?", payment.ID, payment.TenantID).
		Updates(map[string]any{
			"status":           payment.Status,
			"refunded_amount":  payment.RefundedAmount,
			"stripe_charge_id": payment.StripeChargeID,
			"card_brand":       payment.CardBrand,
			"card_last4":       payment.CardLast4,
			"receipt_url":      payment.ReceiptURL,
			"updated_at":       payment.UpdatedAt,
		}).Error
}

func (r *repo) InsertInvoicePayment(ctx context.Context, db *gorm.DB, link *domain.InvoicePayment) error {
	return db.WithContext(ctx).Create(link).Error
}

func (r *repo) ListInvoicePayments(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.InvoicePayment, error) {
	var links []domain.InvoicePayment
	err := db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC, id ASC").
		Find(&links).Error
	return links, err
}

func (r *repo) UpdateInvoicePaymentRefund(ctx context.Context, db *gorm.DB, linkID snowflake.ID, amountRefunded int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoice_payments SET amount_refunded = ? WHERE id = ?`,
		amountRefunded,
		linkID,
	).Error
}

func (r *repo) InsertBookingPayment(ctx context.Context, db *gorm.DB, link *domain.BookingPayment) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(link).Error
}

func (r *repo) ListBookingIDs(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).
		Model(&domain.BookingPayment{}).
		Where("payment_id = ?", paymentID).
		Order("booking_id ASC").
		Pluck("booking_id", &ids).Error
	return ids, err
}

func (r *repo) CountSucceededForContact(ctx context.Context, db *gorm.DB, tenantID, contactID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Payment{}).
		Where("tenant_id = ? AND contact_id = ? AND status = ?", tenantID, contactID, domain.StatusSucceeded).
		Count(&count).Error
	return count, err
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, tenant_id, provider, provider_event_id, event_type,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payment_events (
			id, tenant_id, provider, provider_event_id, event_type,
			payload, received_at, processed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		event.ID,
		event.TenantID,
		event.Provider,
		event.ProviderEventID,
		event.EventType,
		event.Payload,
		event.ReceivedAt,
		event.ProcessedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, tenantID *snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?, tenant_id = COALESCE(?, tenant_id)
		 WHERE id = ?`,
		processedAt,
		tenantID,
		id,
	).Error
}
