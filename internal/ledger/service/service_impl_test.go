package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/clientflow/internal/clock"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupLedger(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&ledgerdomain.LedgerAccount{},
		&ledgerdomain.LedgerEntry{},
		&ledgerdomain.LedgerEntryLine{},
	))
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	}).(*Service)
	return svc, db
}

func TestPostWritesBalancedEntryOnce(t *testing.T) {
	svc, db := setupLedger(t)
	ctx := context.Background()
	posting := ledgerdomain.Posting{
		TenantID:   snowflake.ID(7),
		SourceType: ledgerdomain.SourceTypePayment,
		SourceID:   snowflake.ID(99),
		Currency:   "usd",
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Lines:      ledgerdomain.ReceiptPosting(ledgerdomain.AccountCodeCash, 6000),
	}

	inserted, err := svc.Post(ctx, nil, posting)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = svc.Post(ctx, nil, posting)
	require.NoError(t, err)
	assert.False(t, inserted)

	var entries, lines, accounts int64
	db.Model(&ledgerdomain.LedgerEntry{}).Count(&entries)
	db.Model(&ledgerdomain.LedgerEntryLine{}).Count(&lines)
	db.Model(&ledgerdomain.LedgerAccount{}).Count(&accounts)
	assert.Equal(t, int64(1), entries)
	assert.Equal(t, int64(2), lines)
	assert.Equal(t, int64(3), accounts)
}

func TestPostRejectsUnbalancedLines(t *testing.T) {
	svc, _ := setupLedger(t)
	_, err := svc.Post(context.Background(), nil, ledgerdomain.Posting{
		TenantID:   snowflake.ID(7),
		SourceType: ledgerdomain.SourceTypeRefund,
		SourceID:   snowflake.ID(100),
		Currency:   "USD",
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Lines: []ledgerdomain.PostingLine{
			{Account: ledgerdomain.AccountCodeAccountsReceivable, Direction: ledgerdomain.LedgerEntryDirectionDebit, Amount: 500},
			{Account: ledgerdomain.AccountCodeCash, Direction: ledgerdomain.LedgerEntryDirectionCredit, Amount: 400},
		},
	})
	assert.ErrorIs(t, err, ledgerdomain.ErrUnbalancedEntry)
}
