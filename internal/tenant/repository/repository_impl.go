package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() tenantdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).Where("id = ?", id).Take(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tenantdomain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindBySlug normalises the public slug before lookup so "Jane's Studio"
// and "janes-studio" resolve alike.
func (r *repo) FindBySlug(ctx context.Context, db *gorm.DB, raw string) (*tenantdomain.Tenant, error) {
	normalized := slug.Make(raw)
	if normalized == "" {
		return nil, tenantdomain.ErrTenantNotFound
	}
	var tenant tenantdomain.Tenant
	err := db.WithContext(ctx).Where("slug = ?", normalized).Take(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, tenantdomain.ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}
