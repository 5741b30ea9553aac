package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type EntityType string

const (
	EntityInvoice EntityType = "invoice"
	EntityBooking EntityType = "booking"
	EntityContact EntityType = "contact"
	EntityPayment EntityType = "payment"
)

// Valid reports whether t names a taggable entity.
func (t EntityType) Valid() bool {
	_, ok := statusTags[t]
	return ok
}

const (
	InvoiceDraft       = "Draft"
	InvoiceSent        = "Sent"
	InvoiceViewed      = "Viewed"
	InvoiceDepositPaid = "Deposit Paid"
	InvoicePaid        = "Paid"
	InvoiceOverdue     = "Overdue"
	InvoiceCancelled   = "Cancelled"

	BookingPending   = "Pending"
	BookingScheduled = "Scheduled"
	BookingConfirmed = "Confirmed"
	BookingCompleted = "Completed"
	BookingCancelled = "Cancelled"
	BookingNoShow    = "No Show"

	ContactLead     = "Lead"
	ContactClient   = "Client"
	ContactInactive = "Inactive"

	PaymentSucceeded = "Succeeded"
	PaymentFailed    = "Failed"
	PaymentRefunded  = "Refunded"
	PaymentDisputed  = "Disputed"
)

// statusTags is the closed status taxonomy per entity type. Tags within one
// taxonomy are mutually exclusive.
var statusTags = map[EntityType][]string{
	EntityInvoice: {InvoiceDraft, InvoiceSent, InvoiceViewed, InvoiceDepositPaid, InvoicePaid, InvoiceOverdue, InvoiceCancelled},
	EntityBooking: {BookingPending, BookingScheduled, BookingConfirmed, BookingCompleted, BookingCancelled, BookingNoShow},
	EntityContact: {ContactLead, ContactClient, ContactInactive},
	EntityPayment: {PaymentSucceeded, PaymentFailed, PaymentRefunded, PaymentDisputed},
}

var statusColors = map[string]string{
	InvoiceDraft:       "#9CA3AF",
	InvoiceSent:        "#3B82F6",
	InvoiceViewed:      "#8B5CF6",
	InvoiceDepositPaid: "#F59E0B",
	InvoicePaid:        "#10B981",
	InvoiceOverdue:     "#EF4444",
	InvoiceCancelled:   "#6B7280",
	BookingPending:     "#F59E0B",
	BookingScheduled:   "#3B82F6",
	BookingConfirmed:   "#10B981",
	BookingCompleted:   "#059669",
	BookingNoShow:      "#DC2626",
	ContactLead:        "#F59E0B",
	ContactClient:      "#10B981",
	ContactInactive:    "#6B7280",
	PaymentSucceeded:   "#10B981",
	PaymentFailed:      "#EF4444",
	PaymentRefunded:    "#6B7280",
	PaymentDisputed:    "#DC2626",
}

// StatusTags returns the status taxonomy for entityType.
func StatusTags(entityType EntityType) []string {
	names := statusTags[entityType]
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// CanonicalStatusTag returns the taxonomy spelling of name, matching
// case-insensitively.
func CanonicalStatusTag(entityType EntityType, name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, candidate := range statusTags[entityType] {
		if strings.EqualFold(candidate, name) {
			return candidate, true
		}
	}
	return "", false
}

// IsStatusTagName reports whether name belongs to any status taxonomy.
func IsStatusTagName(name string) bool {
	for entityType := range statusTags {
		if _, ok := CanonicalStatusTag(entityType, name); ok {
			return true
		}
	}
	return false
}

// StatusColor returns the default colour seeded for a status tag.
func StatusColor(name string) string {
	if color, ok := statusColors[name]; ok {
		return color
	}
	return "#6B7280"
}

type Tag struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID `json:"tenant_id" gorm:"not null;index"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Color     string       `json:"color" gorm:"type:text"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (Tag) TableName() string { return "tags" }

type EntityTag struct {
	EntityType EntityType   `json:"entity_type" gorm:"type:text;primaryKey"`
	EntityID   snowflake.ID `json:"entity_id" gorm:"primaryKey"`
	TagID      snowflake.ID `json:"tag_id" gorm:"primaryKey;index"`
	CreatedAt  time.Time    `json:"created_at" gorm:"not null"`
}

func (EntityTag) TableName() string { return "entity_tags" }

// Service is the status tag store. Mutating methods accept the caller's
// transaction; a nil tx runs against the base connection.
type Service interface {
	SetStatusTag(ctx context.Context, tx *gorm.DB, entityType EntityType, entityID snowflake.ID, tagName string, tenantID snowflake.ID) (*Tag, error)
	StatusTag(ctx context.Context, tx *gorm.DB, entityType EntityType, entityID snowflake.ID, tenantID snowflake.ID) (*Tag, error)
	HasTag(ctx context.Context, tx *gorm.DB, entityType EntityType, entityID snowflake.ID, tagName string, tenantID snowflake.ID) (bool, error)
	AddTag(ctx context.Context, tx *gorm.DB, entityType EntityType, entityID snowflake.ID, tagID snowflake.ID, tenantID snowflake.ID) error
	RemoveTag(ctx context.Context, tx *gorm.DB, entityType EntityType, entityID snowflake.ID, tagID snowflake.ID, tenantID snowflake.ID) error
	EntitiesWithTags(ctx context.Context, entityType EntityType, tenantID snowflake.ID, tagIDs []snowflake.ID, matchAll bool) ([]snowflake.ID, error)
	EnsureStatusTags(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error
	RequireEntity(ctx context.Context, tx *gorm.DB, entityType EntityType, entityID snowflake.ID, tenantID snowflake.ID) error
}

// Repository persists tags and their associations.
type Repository interface {
	FindByName(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, name string) (*Tag, error)
	FindByID(ctx context.Context, db *gorm.DB, tenantID, tagID snowflake.ID) (*Tag, error)
	FindByNames(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, names []string) ([]Tag, error)
	Insert(ctx context.Context, db *gorm.DB, tag *Tag) (bool, error)
	Associate(ctx context.Context, db *gorm.DB, link *EntityTag) error
	Dissociate(ctx context.Context, db *gorm.DB, entityType EntityType, entityID snowflake.ID, tagIDs []snowflake.ID) error
	ListForEntity(ctx context.Context, db *gorm.DB, entityType EntityType, entityID snowflake.ID) ([]Tag, error)
	EntitiesWithTags(ctx context.Context, db *gorm.DB, entityType EntityType, tenantID snowflake.ID, tagIDs []snowflake.ID, matchAll bool) ([]snowflake.ID, error)
	EntityExists(ctx context.Context, db *gorm.DB, entityType EntityType, entityID, tenantID snowflake.ID) (bool, error)
}
