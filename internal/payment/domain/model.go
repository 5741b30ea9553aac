package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OfflineIntentPrefix marks payment intent ids that were never sent to the gateway.
const OfflineIntentPrefix = "offline_"

type Method string

const (
	MethodCash         Method = "cash"
	MethodCheck        Method = "check"
	MethodVenmo        Method = "venmo"
	MethodZelle        Method = "zelle"
	MethodBankTransfer Method = "bank_transfer"
	MethodOther        Method = "other"
)

func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCheck, MethodVenmo, MethodZelle, MethodBankTransfer, MethodOther:
		return true
	}
	return false
}

// MethodNames lists the accepted offline methods in display order.
func MethodNames() []string {
	return []string{
		string(MethodCash),
		string(MethodCheck),
		string(MethodVenmo),
		string(MethodZelle),
		string(MethodBankTransfer),
		string(MethodOther),
	}
}

type Status string

const (
	StatusSucceeded     Status = "succeeded"
	StatusFailed        Status = "failed"
	StatusRefunded      Status = "refunded"
	StatusPartialRefund Status = "partial_refund"
	StatusPending       Status = "pending"
	StatusDisputed      Status = "disputed"
)

// Payment is one money movement. Amounts are never rewritten after
// creation; only status, refund and display fields change.
type Payment struct {
	ID                    snowflake.ID      `json:"id" gorm:"primaryKey"`
	TenantID              snowflake.ID      `json:"tenant_id" gorm:"not null;index"`
	ContactID             *snowflake.ID     `json:"contact_id,omitempty" gorm:"index"`
	Amount                int64             `json:"amount" gorm:"not null"`
	RefundedAmount        int64             `json:"refunded_amount" gorm:"not null;default:0"`
	Currency              string            `json:"currency" gorm:"type:text;not null;default:'USD'"`
	Status                Status            `json:"status" gorm:"type:text;not null"`
	StripePaymentIntentID string            `json:"stripe_payment_intent_id,omitempty" gorm:"type:text;index"`
	StripeChargeID        string            `json:"stripe_charge_id,omitempty" gorm:"type:text;index"`
	StripeAccountID       string            `json:"stripe_account_id,omitempty" gorm:"type:text"`
	CardBrand             string            `json:"card_brand,omitempty" gorm:"type:text"`
	CardLast4             string            `json:"card_last4,omitempty" gorm:"type:text"`
	ReceiptURL            string            `json:"receipt_url,omitempty" gorm:"type:text"`
	Metadata              datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:jsonb"`
	CreatedAt             time.Time         `json:"created_at" gorm:"not null"`
	UpdatedAt             time.Time         `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// IsOffline reports whether the payment was recorded without the gateway.
func (p Payment) IsOffline() bool {
	return p.StripeAccountID == tenantdomain.OfflineAccount ||
		strings.HasPrefix(p.StripePaymentIntentID, OfflineIntentPrefix)
}

// InvoicePayment applies part of a payment to one invoice. AmountRefunded
// tracks how much of this application reconciliation has already rolled back.
type InvoicePayment struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	InvoiceID      snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	PaymentID      snowflake.ID `json:"payment_id" gorm:"not null;index"`
	AmountApplied  int64        `json:"amount_applied" gorm:"not null"`
	AmountRefunded int64        `json:"amount_refunded" gorm:"not null;default:0"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
}

func (InvoicePayment) TableName() string { return "invoice_payments" }

type BookingPayment struct {
	BookingID snowflake.ID `json:"booking_id" gorm:"primaryKey"`
	PaymentID snowflake.ID `json:"payment_id" gorm:"primaryKey"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (BookingPayment) TableName() string { return "booking_payments" }

// EventRecord is a received gateway webhook, kept for dedupe and audit.
type EventRecord struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	TenantID        *snowflake.ID  `json:"tenant_id,omitempty" gorm:"index"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, tenantID, paymentID snowflake.ID) (*Payment, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, tenantID, paymentID snowflake.ID) (*Payment, error)
	FindByGatewayRef(ctx context.Context, db *gorm.DB, chargeID, paymentIntentID string) (*Payment, error)
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	UpdateGatewayState(ctx context.Context, db *gorm.DB, payment *Payment) error

	InsertInvoicePayment(ctx context.Context, db *gorm.DB, link *InvoicePayment) error
	ListInvoicePayments(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]InvoicePayment, error)
	UpdateInvoicePaymentRefund(ctx context.Context, db *gorm.DB, linkID snowflake.ID, amountRefunded int64) error
	InsertBookingPayment(ctx context.Context, db *gorm.DB, link *BookingPayment) error
	ListBookingIDs(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]snowflake.ID, error)
	CountSucceededForContact(ctx context.Context, db *gorm.DB, tenantID, contactID snowflake.ID) (int64, error)

	FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, tenantID *snowflake.ID, processedAt time.Time) error
}
