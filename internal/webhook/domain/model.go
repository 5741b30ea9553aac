package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outbound event names.
const (
	EventBookingCreated    = "booking.created"
	EventClientCreated     = "client.created"
	EventPaymentReceived   = "payment.received"
	EventPaymentRefunded   = "payment.refunded"
	EventWorkflowTriggered = "workflow.triggered"

	// EventWildcard subscribes an endpoint to everything.
	EventWildcard = "*"
)

// Webhook is a tenant endpoint subscribed to outbound events.
type Webhook struct {
	ID        snowflake.ID                `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID                `json:"tenant_id" gorm:"not null;index"`
	URL       string                      `json:"url" gorm:"type:text;not null"`
	Secret    string                      `json:"-" gorm:"type:text;not null"`
	Events    datatypes.JSONSlice[string] `json:"events" gorm:"type:jsonb;not null"`
	IsActive  bool                        `json:"is_active" gorm:"not null;default:true"`
	CreatedAt time.Time                   `json:"created_at" gorm:"not null"`
}

func (Webhook) TableName() string { return "webhooks" }

// Subscribed reports whether the endpoint wants event.
func (w Webhook) Subscribed(event string) bool {
	for _, e := range w.Events {
		e = strings.TrimSpace(e)
		if e == EventWildcard || strings.EqualFold(e, event) {
			return true
		}
	}
	return false
}

// Delivery is the outcome of one delivery attempt.
type Delivery struct {
	ID         snowflake.ID   `json:"id" gorm:"primaryKey"`
	WebhookID  snowflake.ID   `json:"webhook_id" gorm:"not null;index"`
	Event      string         `json:"event" gorm:"type:text;not null"`
	Payload    datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	StatusCode int            `json:"status_code"`
	Success    bool           `json:"success" gorm:"not null"`
	Attempts   int            `json:"attempts" gorm:"not null"`
	Error      string         `json:"error,omitempty" gorm:"type:text"`
	CreatedAt  time.Time      `json:"created_at" gorm:"not null"`
}

func (Delivery) TableName() string { return "webhook_deliveries" }

// Sender delivers an event to every subscribed endpoint of a tenant.
type Sender interface {
	Send(ctx context.Context, tenantID snowflake.ID, event string, data any) error
}

type Repository interface {
	ListActive(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]Webhook, error)
	InsertDelivery(ctx context.Context, db *gorm.DB, delivery *Delivery) error
}

var (
	ErrInvalidEvent   = errors.New("invalid_webhook_event")
	ErrDeliveryFailed = errors.New("webhook_delivery_failed")
)
