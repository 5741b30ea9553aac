// Package domain contains persistence models for invoicing.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	"gorm.io/gorm"
)

// InvoiceStatus mirrors the canonical status tag for legacy readers.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusSent      InvoiceStatus = "sent"
	InvoiceStatusViewed    InvoiceStatus = "viewed"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusVoid      InvoiceStatus = "void"
)

var statusTagNames = map[InvoiceStatus]string{
	InvoiceStatusDraft:     tagdomain.InvoiceDraft,
	InvoiceStatusSent:      tagdomain.InvoiceSent,
	InvoiceStatusViewed:    tagdomain.InvoiceViewed,
	InvoiceStatusPaid:      tagdomain.InvoicePaid,
	InvoiceStatusOverdue:   tagdomain.InvoiceOverdue,
	InvoiceStatusCancelled: tagdomain.InvoiceCancelled,
}

// StatusTag returns the status tag for s. Void invoices have none.
func (s InvoiceStatus) StatusTag() (string, bool) {
	name, ok := statusTagNames[s]
	return name, ok
}

// Invoice is a tenant's bill to a contact, optionally settling one booking.
type Invoice struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	TenantID      snowflake.ID  `json:"tenant_id" gorm:"not null;index"`
	ContactID     snowflake.ID  `json:"contact_id" gorm:"not null;index"`
	BookingID     *snowflake.ID `json:"booking_id,omitempty" gorm:"index"`
	InvoiceNumber string        `json:"invoice_number" gorm:"type:text;not null"`
	Currency      string        `json:"currency" gorm:"type:text;not null;default:'USD'"`
	Subtotal      int64         `json:"subtotal" gorm:"not null;default:0"`
	TaxAmount     int64         `json:"tax_amount" gorm:"not null;default:0"`
	Total         int64         `json:"total" gorm:"not null;default:0"`
	AmountPaid    int64         `json:"amount_paid" gorm:"not null;default:0"`
	BalanceDue    int64         `json:"balance_due" gorm:"not null;default:0"`
	DepositAmount int64         `json:"deposit_amount" gorm:"not null;default:0"`
	Status        InvoiceStatus `json:"status" gorm:"type:text;not null;default:'draft'"`
	SentAt        *time.Time    `json:"sent_at,omitempty"`
	DepositPaidAt *time.Time    `json:"deposit_paid_at,omitempty"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	DueDate       *time.Time    `json:"due_date,omitempty"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time     `json:"updated_at" gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

// IsPaidInFull reports whether nothing remains due.
func (i Invoice) IsPaidInFull() bool {
	return i.BalanceDue <= 0
}

// WasSent reports whether the invoice was ever issued to the client.
func (i Invoice) WasSent() bool {
	return i.SentAt != nil || (i.Status != InvoiceStatusDraft && i.Status != "")
}

type Repository interface {
	FindForUpdate(ctx context.Context, db *gorm.DB, tenantID, invoiceID snowflake.ID) (*Invoice, error)
	FindByIDs(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, ids []snowflake.ID) ([]Invoice, error)
	UpdateLedger(ctx context.Context, db *gorm.DB, invoice *Invoice) error
}

var ErrInvoiceNotFound = errors.New("invoice_not_found")
