package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientflow/internal/clock"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  tagdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  tagdomain.Repository
}

func NewService(p Params) tagdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tag.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// SetStatusTag replaces whatever status tag the entity holds in its taxonomy
// with tagName. The delete and insert run in one unit of work: the caller's
// transaction when given, otherwise a new one.
func (s *Service) SetStatusTag(ctx context.Context, tx *gorm.DB, entityType tagdomain.EntityType, entityID snowflake.ID, tagName string, tenantID snowflake.ID) (*tagdomain.Tag, error) {
	if !entityType.Valid() {
		return nil, tagdomain.ErrInvalidEntityType
	}
	canonical, ok := tagdomain.CanonicalStatusTag(entityType, tagName)
	if !ok {
		return nil, tagdomain.ErrInvalidStatusTag
	}

	var tag *tagdomain.Tag
	apply := func(db *gorm.DB) error {
		found, err := s.repo.FindByName(ctx, db, tenantID, canonical)
		if err != nil {
			return err
		}
		if found == nil {
			s.log.Error("status tag not provisioned for tenant",
				zap.String("tenant_id", tenantID.String()),
				zap.String("entity_type", string(entityType)),
				zap.String("tag", canonical),
				zap.Bool("alert", true),
			)
			return tagdomain.ErrTagNotFound
		}
		tag = found

		taxonomy, err := s.repo.FindByNames(ctx, db, tenantID, tagdomain.StatusTags(entityType))
		if err != nil {
			return err
		}
		ids := make([]snowflake.ID, 0, len(taxonomy))
		for _, t := range taxonomy {
			ids = append(ids, t.ID)
		}
		if err := s.repo.Dissociate(ctx, db, entityType, entityID, ids); err != nil {
			return err
		}
		return s.repo.Associate(ctx, db, &tagdomain.EntityTag{
			EntityType: entityType,
			EntityID:   entityID,
			TagID:      found.ID,
			CreatedAt:  s.clock.Now(),
		})
	}

	var err error
	if tx != nil {
		err = apply(tx)
	} else {
		err = s.db.WithContext(ctx).Transaction(apply)
	}
	if err != nil {
		return nil, err
	}
	return tag, nil
}

// StatusTag returns the entity's current status tag, or nil.
func (s *Service) StatusTag(ctx context.Context, tx *gorm.DB, entityType tagdomain.EntityType, entityID snowflake.ID, tenantID snowflake.ID) (*tagdomain.Tag, error) {
	tags, err := s.repo.ListForEntity(ctx, s.conn(tx), entityType, entityID)
	if err != nil {
		return nil, err
	}
	for i := range tags {
		if tags[i].TenantID != tenantID {
			continue
		}
		if _, ok := tagdomain.CanonicalStatusTag(entityType, tags[i].Name); ok {
			return &tags[i], nil
		}
	}
	return nil, nil
}

func (s *Service) HasTag(ctx context.Context, tx *gorm.DB, entityType tagdomain.EntityType, entityID snowflake.ID, tagName string, tenantID snowflake.ID) (bool, error) {
	tags, err := s.repo.ListForEntity(ctx, s.conn(tx), entityType, entityID)
	if err != nil {
		return false, err
	}
	for _, t := range tags {
		if t.TenantID == tenantID && strings.EqualFold(t.Name, strings.TrimSpace(tagName)) {
			return true, nil
		}
	}
	return false, nil
}

// AddTag attaches a tenant tag. Re-adding an attached tag is a no-op. A tag
// from the entity's status taxonomy replaces the current status instead.
func (s *Service) AddTag(ctx context.Context, tx *gorm.DB, entityType tagdomain.EntityType, entityID snowflake.ID, tagID snowflake.ID, tenantID snowflake.ID) error {
	if !entityType.Valid() {
		return tagdomain.ErrInvalidEntityType
	}
	db := s.conn(tx)
	tag, err := s.repo.FindByID(ctx, db, tenantID, tagID)
	if err != nil {
		return err
	}
	if tag == nil {
		return tagdomain.ErrTagNotFound
	}
	if _, ok := tagdomain.CanonicalStatusTag(entityType, tag.Name); ok {
		_, err := s.SetStatusTag(ctx, tx, entityType, entityID, tag.Name, tenantID)
		return err
	}
	return s.repo.Associate(ctx, db, &tagdomain.EntityTag{
		EntityType: entityType,
		EntityID:   entityID,
		TagID:      tag.ID,
		CreatedAt:  s.clock.Now(),
	})
}

// RemoveTag detaches a tag. Removing an absent tag is a no-op.
func (s *Service) RemoveTag(ctx context.Context, tx *gorm.DB, entityType tagdomain.EntityType, entityID snowflake.ID, tagID snowflake.ID, tenantID snowflake.ID) error {
	if !entityType.Valid() {
		return tagdomain.ErrInvalidEntityType
	}
	db := s.conn(tx)
	tag, err := s.repo.FindByID(ctx, db, tenantID, tagID)
	if err != nil {
		return err
	}
	if tag == nil {
		return nil
	}
	return s.repo.Dissociate(ctx, db, entityType, entityID, []snowflake.ID{tag.ID})
}

func (s *Service) EntitiesWithTags(ctx context.Context, entityType tagdomain.EntityType, tenantID snowflake.ID, tagIDs []snowflake.ID, matchAll bool) ([]snowflake.ID, error) {
	if !entityType.Valid() {
		return nil, tagdomain.ErrInvalidEntityType
	}
	return s.repo.EntitiesWithTags(ctx, s.db, entityType, tenantID, tagIDs, matchAll)
}

// EnsureStatusTags provisions every status tag for a tenant. Existing tags
// are left untouched.
func (s *Service) EnsureStatusTags(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	db := s.conn(tx)
	seen := map[string]struct{}{}
	created := 0
	for _, entityType := range []tagdomain.EntityType{
		tagdomain.EntityInvoice,
		tagdomain.EntityBooking,
		tagdomain.EntityContact,
		tagdomain.EntityPayment,
	} {
		for _, name := range tagdomain.StatusTags(entityType) {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}

			existing, err := s.repo.FindByName(ctx, db, tenantID, name)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			inserted, err := s.repo.Insert(ctx, db, &tagdomain.Tag{
				ID:        s.genID.Generate(),
				TenantID:  tenantID,
				Name:      name,
				Color:     tagdomain.StatusColor(name),
				CreatedAt: s.clock.Now(),
			})
			if err != nil {
				return err
			}
			if inserted {
				created++
			}
		}
	}
	if created > 0 {
		s.log.Info("status tags provisioned",
			zap.String("tenant_id", tenantID.String()),
			zap.Int("created", created),
		)
	}
	return nil
}

// RequireEntity fails with ErrEntityNotFound unless the entity exists and
// belongs to the tenant.
func (s *Service) RequireEntity(ctx context.Context, tx *gorm.DB, entityType tagdomain.EntityType, entityID snowflake.ID, tenantID snowflake.ID) error {
	if !entityType.Valid() {
		return tagdomain.ErrInvalidEntityType
	}
	ok, err := s.repo.EntityExists(ctx, s.conn(tx), entityType, entityID, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return tagdomain.ErrEntityNotFound
	}
	return nil
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
