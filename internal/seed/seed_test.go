package seed

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/clientflow/internal/clock"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	ledgerservice "github.com/smallbiznis/clientflow/internal/ledger/service"
	tagdomain "github.com/smallbiznis/clientflow/internal/tag/domain"
	tagrepository "github.com/smallbiznis/clientflow/internal/tag/repository"
	tagservice "github.com/smallbiznis/clientflow/internal/tag/service"
	tenantdomain "github.com/smallbiznis/clientflow/internal/tenant/domain"
	tenantrepository "github.com/smallbiznis/clientflow/internal/tenant/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupSeeder(t *testing.T) (*Seeder, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:seed_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&tenantdomain.Tenant{},
		&tagdomain.Tag{},
		&tagdomain.EntityTag{},
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
	))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	tagSvc := tagservice.NewService(tagservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: tagrepository.Provide()})
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{DB: db, Log: log, GenID: node, Clock: clk})

	return New(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		TenantRepo: tenantrepository.Provide(),
		TagSvc:     tagSvc,
		LedgerSvc:  ledgerSvc,
	}), db
}

func countRows(t *testing.T, db *gorm.DB, model any, tenantID snowflake.ID) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(model).Where("tenant_id = ?", tenantID).Count(&count).Error)
	return count
}

func TestEnsureTenantCreatesAndProvisions(t *testing.T) {
	seeder, db := setupSeeder(t)
	ctx := context.Background()

	tenant, err := seeder.EnsureTenant(ctx, TenantInput{Slug: "Glow Studio", Name: " Glow Studio ", Email: "owner@glow.test"})
	require.NoError(t, err)
	assert.Equal(t, "glow-studio", tenant.Slug)
	assert.Equal(t, "Glow Studio", tenant.Name)

	assert.Equal(t, int64(19), countRows(t, db, &tagdomain.Tag{}, tenant.ID))
	assert.Equal(t, int64(len(ledgerdomain.DefaultAccounts())), countRows(t, db, &ledgerdomain.LedgerAccount{}, tenant.ID))

	again, err := seeder.EnsureTenant(ctx, TenantInput{Slug: "glow-studio", Name: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, again.ID)
	assert.Equal(t, "Glow Studio", again.Name)
}

func TestProvisionTenantIsIdempotent(t *testing.T) {
	seeder, db := setupSeeder(t)
	ctx := context.Background()

	tenant := tenantdomain.Tenant{ID: 42, Slug: "ink-bar", Name: "Ink Bar", CreatedAt: time.Now(), UpdatedAt: time.Now()}
	require.NoError(t, db.Create(&tenant).Error)

	for i := 0; i < 2; i++ {
		got, err := seeder.ProvisionTenant(ctx, "Ink Bar")
		require.NoError(t, err)
		assert.Equal(t, tenant.ID, got.ID)
	}

	assert.Equal(t, int64(19), countRows(t, db, &tagdomain.Tag{}, tenant.ID))
	assert.Equal(t, int64(3), countRows(t, db, &ledgerdomain.LedgerAccount{}, tenant.ID))
}

func TestProvisionTenantUnknownSlug(t *testing.T) {
	seeder, _ := setupSeeder(t)

	_, err := seeder.ProvisionTenant(context.Background(), "nobody")
	assert.ErrorIs(t, err, tenantdomain.ErrTenantNotFound)
}

func TestEnsureTenantRejectsBlankInput(t *testing.T) {
	seeder, _ := setupSeeder(t)

	_, err := seeder.EnsureTenant(context.Background(), TenantInput{Slug: "  ", Name: "X"})
	assert.ErrorIs(t, err, ErrInvalidTenant)
	_, err = seeder.EnsureTenant(context.Background(), TenantInput{Slug: "x", Name: ""})
	assert.ErrorIs(t, err, ErrInvalidTenant)
}
