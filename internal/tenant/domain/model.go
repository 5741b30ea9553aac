package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OfflineAccount marks payments that never touched the gateway.
const OfflineAccount = "offline"

type Tenant struct {
	ID              snowflake.ID `json:"id" gorm:"primaryKey"`
	Slug            string       `json:"slug" gorm:"type:text;not null;uniqueIndex"`
	Name            string       `json:"name" gorm:"type:text;not null"`
	Email           string       `json:"email" gorm:"type:text"`
	StripeAccountID *string      `json:"stripe_account_id,omitempty" gorm:"type:text"`
	CreatedAt       time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time    `json:"updated_at" gorm:"not null"`
}

func (Tenant) TableName() string { return "tenants" }

// GatewayAccount returns the connected account id, or the offline sentinel.
func (t Tenant) GatewayAccount() string {
	if t.StripeAccountID == nil || strings.TrimSpace(*t.StripeAccountID) == "" {
		return OfflineAccount
	}
	return strings.TrimSpace(*t.StripeAccountID)
}

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Tenant, error)
	FindBySlug(ctx context.Context, db *gorm.DB, slug string) (*Tenant, error)
}

var ErrTenantNotFound = errors.New("tenant_not_found")
