package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/clientflow/internal/clock"
	ledgerdomain "github.com/smallbiznis/clientflow/internal/ledger/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewService(p Params) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// EnsureAccounts creates any missing default accounts for the tenant and
// returns the code to id mapping.
func (s *Service) EnsureAccounts(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (map[ledgerdomain.LedgerAccountCode]snowflake.ID, error) {
	if tenantID == 0 {
		return nil, ledgerdomain.ErrInvalidTenant
	}
	db := s.conn(tx).WithContext(ctx)

	now := s.clock.Now()
	for code, name := range ledgerdomain.DefaultAccounts() {
		account := ledgerdomain.LedgerAccount{
			ID:        s.genID.Generate(),
			TenantID:  tenantID,
			Code:      code,
			Name:      name,
			CreatedAt: now,
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&account).Error; err != nil {
			return nil, err
		}
	}

	var accounts []ledgerdomain.LedgerAccount
	if err := db.Where("tenant_id = ?", tenantID).Find(&accounts).Error; err != nil {
		return nil, err
	}
	out := make(map[ledgerdomain.LedgerAccountCode]snowflake.ID, len(accounts))
	for _, acc := range accounts {
		out[acc.Code] = acc.ID
	}
	return out, nil
}

// Post writes a balanced entry. It reports false when an entry for the same
// source already exists.
func (s *Service) Post(ctx context.Context, tx *gorm.DB, posting ledgerdomain.Posting) (bool, error) {
	if err := validatePosting(posting); err != nil {
		return false, err
	}

	accounts, err := s.EnsureAccounts(ctx, tx, posting.TenantID)
	if err != nil {
		return false, err
	}

	db := s.conn(tx).WithContext(ctx)
	entryID := s.genID.Generate()
	now := s.clock.Now()
	result := db.Exec(
		`INSERT INTO ledger_entries (
			id, tenant_id, source_type, source_id, currency, occurred_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, source_type, source_id) DO NOTHING`,
		entryID,
		posting.TenantID,
		string(posting.SourceType),
		posting.SourceID,
		strings.ToUpper(strings.TrimSpace(posting.Currency)),
		posting.OccurredAt.UTC(),
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Debug("ledger entry already posted",
			zap.String("source_type", string(posting.SourceType)),
			zap.String("source_id", posting.SourceID.String()),
		)
		return false, nil
	}

	for _, line := range posting.Lines {
		accountID, ok := accounts[line.Account]
		if !ok {
			return false, ledgerdomain.ErrInvalidAccount
		}
		if err := db.Create(&ledgerdomain.LedgerEntryLine{
			ID:            s.genID.Generate(),
			LedgerEntryID: entryID,
			AccountID:     accountID,
			Direction:     line.Direction,
			Amount:        line.Amount,
			CreatedAt:     now,
		}).Error; err != nil {
			return false, err
		}
	}
	return true, nil
}

func (s *Service) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}

func validatePosting(p ledgerdomain.Posting) error {
	switch {
	case p.TenantID == 0:
		return ledgerdomain.ErrInvalidTenant
	case strings.TrimSpace(string(p.SourceType)) == "":
		return ledgerdomain.ErrInvalidSourceType
	case p.SourceID == 0:
		return ledgerdomain.ErrInvalidSourceID
	case strings.TrimSpace(p.Currency) == "":
		return ledgerdomain.ErrInvalidCurrency
	case p.OccurredAt.IsZero():
		return ledgerdomain.ErrInvalidOccurredAt
	case len(p.Lines) < 2:
		return ledgerdomain.ErrInvalidEntryLines
	}
	for _, line := range p.Lines {
		if line.Amount <= 0 {
			return ledgerdomain.ErrInvalidLineAmount
		}
	}
	return ledgerdomain.ValidateBalanced(p.Lines)
}
