package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Contact is a tenant's lead or client.
type Contact struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	TenantID  snowflake.ID `json:"tenant_id" gorm:"not null;uniqueIndex:ux_contacts_tenant_email,priority:1"`
	Name      string       `json:"name" gorm:"type:text;not null"`
	Email     string       `json:"email" gorm:"type:text;not null;uniqueIndex:ux_contacts_tenant_email,priority:2"`
	Phone     string       `json:"phone,omitempty" gorm:"type:text"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time    `json:"updated_at" gorm:"not null"`
}

func (Contact) TableName() string { return "contacts" }

// NormalizeEmail is the form emails are stored and matched in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, tenantID, contactID snowflake.ID) (*Contact, error)
	FindByEmail(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, email string) (*Contact, error)
	Insert(ctx context.Context, db *gorm.DB, contact *Contact) error
}

var ErrContactNotFound = errors.New("contact_not_found")
