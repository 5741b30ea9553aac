package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

var entityTables = map[tagdomain.EntityType]string{
	tagdomain.EntityInvoice: "invoices",
	tagdomain.EntityBooking: "bookings",
	tagdomain.EntityContact: "contacts",
	tagdomain.EntityPayment: "payments",
}

func Provide() tagdomain.Repository {
	return &repo{}
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, name string) (*tagdomain.Tag, error) {
	var tag tagdomain.Tag
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND LOWER(name) = ?", tenantID, strings.ToLower(strings.TrimSpace(name))).
		Order("id ASC").
		Take(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, tenantID, tagID snowflake.ID) (*tagdomain.Tag, error) {
	var tag tagdomain.Tag
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, tagID).
		Take(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

func (r *repo) FindByNames(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, names []string) ([]tagdomain.Tag, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(names))
	for _, name := range names {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(name)))
	}
	var tags []tagdomain.Tag
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND LOWER(name) IN ?", tenantID, lowered).
		Find(&tags).Error
	return tags, err
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, tag *tagdomain.Tag) (bool, error) {
	result := db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(tag)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) Associate(ctx context.Context, db *gorm.DB, link *tagdomain.EntityTag) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(link).Error
}

func (r *repo) Dissociate(ctx context.Context, db *gorm.DB, entityType tagdomain.EntityType, entityID snowflake.ID, tagIDs []snowflake.ID) error {
	if len(tagIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM entity_tags WHERE entity_type = ? AND entity_id = ? AND tag_id IN ?`,
		string(entityType),
		entityID,
		tagIDs,
	).Error
}

func (r *repo) ListForEntity(ctx context.Context, db *gorm.DB, entityType tagdomain.EntityType, entityID snowflake.ID) ([]tagdomain.Tag, error) {
	var tags []tagdomain.Tag
	err := db.WithContext(ctx).Raw(
		`SELECT t.id, t.tenant_id, t.name, t.color, t.created_at
		FROM tags t
		JOIN entity_tags et ON et.tag_id = t.id
		WHERE et.entity_type = ? AND et.entity_id = ?
		ORDER BY et.created_at ASC`,
		string(entityType),
		entityID,
	).Scan(&tags).Error
	return tags, err
}

func (r *repo) EntitiesWithTags(ctx context.Context, db *gorm.DB, entityType tagdomain.EntityType, tenantID snowflake.ID, tagIDs []snowflake.ID, matchAll bool) ([]snowflake.ID, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	query := `SELECT et.entity_id
		FROM entity_tags et
		JOIN tags t ON t.id = et.tag_id
		WHERE et.entity_type = ? AND t.tenant_id = ? AND et.tag_id IN ?
		GROUP BY et.entity_id`
	args := []any{string(entityType), tenantID, tagIDs}
	if matchAll {
		query += ` HAVING COUNT(DISTINCT et.tag_id) = ?`
		args = append(args, len(tagIDs))
	}
	query += ` ORDER BY et.entity_id ASC`

	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(query, args...).Scan(&ids).Error
	return ids, err
}

func (r *repo) EntityExists(ctx context.Context, db *gorm.DB, entityType tagdomain.EntityType, entityID, tenantID snowflake.ID) (bool, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return false, tagdomain.ErrInvalidEntityType
	}
	var count int64
	err := db.WithContext(ctx).
		Table(table).
		Where("id = ? AND tenant_id = ?", entityID, tenantID).
		Count(&count).Error
	return count > 0, err
}
