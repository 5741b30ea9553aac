package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	contactdomain "github.com/smallbiznis/clientflow/internal/contact/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() contactdomain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, contactID snowflake.ID) (*contactdomain.Contact, error) {
	var contact contactdomain.Contact
	err := db.WithContext(ctx).Where("id = ? AND tenant_id = ?", contactID, tenantID).Take(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, contactdomain.ErrContactNotFound
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

// FindByEmail returns nil without error when no contact matches.
func (r *repo) FindByEmail(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, email string) (*contactdomain.Contact, error) {
	var contact contactdomain.Contact
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND email = ?", tenantID, contactdomain.NormalizeEmail(email)).
		Take(&contact).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, contact *contactdomain.Contact) error {
	contact.Email = contactdomain.NormalizeEmail(contact.Email)
	return db.WithContext(ctx).Create(contact).Error
}
