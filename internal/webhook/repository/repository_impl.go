package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	webhookdomain "github.com/smallbiznis/clientflow/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() webhookdomain.Repository {
	return &repo{}
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]webhookdomain.Webhook, error) {
	var hooks []webhookdomain.Webhook
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND is_active = ?", tenantID, true).
		Order("id ASC").
		Find(&hooks).Error
	return hooks, err
}

func (r *repo) InsertDelivery(ctx context.Context, db *gorm.DB, delivery *webhookdomain.Delivery) error {
	return db.WithContext(ctx).Create(delivery).Error
}
