package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/clientflow/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

// FindForUpdate loads a tenant's invoice and locks the row for the rest of
// the transaction.
func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND tenant_id = ?", invoiceID, tenantID).
		Take(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]invoicedomain.Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var invoices []invoicedomain.Invoice
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("id ASC").
		Find(&invoices).Error
	return invoices, err
}

// UpdateLedger persists the monetary and status columns of invoice.
func (r *repo) UpdateLedger(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ? AND tenant_id = ?", invoice.ID, invoice.TenantID).
		Updates(map[string]any{
			"amount_paid":     invoice.AmountPaid,
			"balance_due":     invoice.BalanceDue,
			"status":          invoice.Status,
			"sent_at":         invoice.SentAt,
			"deposit_paid_at": invoice.DepositPaidAt,
			"paid_at":         invoice.PaidAt,
			"updated_at":      invoice.UpdatedAt,
		}).Error
}
