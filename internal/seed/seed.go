package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/clientflow/internal/clock"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Provide(New),
)

var ErrInvalidTenant = errors.New("invalid_tenant")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	TenantRepo tenantdomain.Repository
	TagSvc     tagdomain.Service
	LedgerSvc  ledgerdomain.Service
}

// Seeder provisions the per-tenant rows every other module expects to
// exist: status tags and ledger accounts.
type Seeder struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	tenantRepo tenantdomain.Repository
	tagSvc     tagdomain.Service
	ledgerSvc  ledgerdomain.Service
}

func New(p Params) *Seeder {
	return &Seeder{
		db:         p.DB,
		log:        p.Log.Named("seed"),
		genID:      p.GenID,
		clock:      p.Clock,
		tenantRepo: p.TenantRepo,
		tagSvc:     p.TagSvc,
		ledgerSvc:  p.LedgerSvc,
	}
}

type TenantInput struct {
	Slug  string
	Name  string
	Email string
}

// EnsureTenant creates the tenant when its slug is unknown and provisions it.
func (s *Seeder) EnsureTenant(ctx context.Context, in TenantInput) (*tenantdomain.Tenant, error) {
	normalized := slug.Make(in.Slug)
	name := strings.TrimSpace(in.Name)
	if normalized == "" || name == "" {
		return nil, ErrInvalidTenant
	}

	var tenant *tenantdomain.Tenant
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.ensureTenantTx(ctx, tx, normalized, name, strings.TrimSpace(in.Email))
		if err != nil {
			return err
		}
		tenant = found
		return s.provisionTx(ctx, tx, tenant.ID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant ensured", zap.String("tenant_id", tenant.ID.String()), zap.String("slug", tenant.Slug))
	return tenant, nil
}

// ProvisionTenant fills in missing status tags and ledger accounts for an
// existing tenant. Rerunning it is a no-op.
func (s *Seeder) ProvisionTenant(ctx context.Context, tenantSlug string) (*tenantdomain.Tenant, error) {
	tenant, err := s.tenantRepo.FindBySlug(ctx, s.db, tenantSlug)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.provisionTx(ctx, tx, tenant.ID)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("tenant provisioned", zap.String("tenant_id", tenant.ID.String()), zap.String("slug", tenant.Slug))
	return tenant, nil
}

func (s *Seeder) provisionTx(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) error {
	if err := s.tagSvc.EnsureStatusTags(ctx, tx, tenantID); err != nil {
		return err
	}
	_, err := s.ledgerSvc.EnsureAccounts(ctx, tx, tenantID)
	return err
}

func (s *Seeder) ensureTenantTx(ctx context.Context, tx *gorm.DB, tenantSlug, name, email string) (*tenantdomain.Tenant, error) {
	var tenant tenantdomain.Tenant
	err := tx.WithContext(ctx).Where("slug = ?", tenantSlug).First(&tenant).Error
	if err == nil {
		return &tenant, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := s.clock.Now()
	tenant = tenantdomain.Tenant{
		ID:        s.genID.Generate(),
		Slug:      tenantSlug,
		Name:      name,
		Email:     email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := tx.WithContext(ctx).Create(&tenant).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}
