package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// LedgerEntryDirection represents debit or credit postings.
type LedgerEntryDirection string

const (
	LedgerEntryDirectionDebit  LedgerEntryDirection = "debit"
	LedgerEntryDirectionCredit LedgerEntryDirection = "credit"
)

type LedgerSourceType string

const (
	SourceTypePayment LedgerSourceType = "payment" // money received against an invoice
	SourceTypeRefund  LedgerSourceType = "refund"  // money returned through the gateway
)

type LedgerAccountCode string

const (
	AccountCodeAccountsReceivable LedgerAccountCode = "accounts_receivable"
	AccountCodeCash               LedgerAccountCode = "cash"
	AccountCodeGatewayClearing    LedgerAccountCode = "gateway_clearing"
)

var defaultAccounts = []struct {
	Code LedgerAccountCode
	Name string
}{
	{AccountCodeAccountsReceivable, "Accounts Receivable"},
	{AccountCodeCash, "Cash & Offline Payments"},
	{AccountCodeGatewayClearing, "Payment Gateway Clearing"},
}

// DefaultAccounts lists the chart of accounts seeded for every tenant.
func DefaultAccounts() map[LedgerAccountCode]string {
	out := make(map[LedgerAccountCode]string, len(defaultAccounts))
	for _, acc := range defaultAccounts {
		out[acc.Code] = acc.Name
	}
	return out
}

// LedgerAccount defines a chart-of-accounts entry.
type LedgerAccount struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	TenantID  snowflake.ID      `gorm:"not null;index;uniqueIndex:ux_ledger_accounts_tenant_code,priority:1"`
	Code      LedgerAccountCode `gorm:"type:text;not null;uniqueIndex:ux_ledger_accounts_tenant_code,priority:2"`
	Name      string            `gorm:"type:text;not null"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (LedgerAccount) TableName() string { return "ledger_accounts" }

// LedgerEntry captures the immutable header for a financial event.
type LedgerEntry struct {
	ID         snowflake.ID     `gorm:"primaryKey"`
	TenantID   snowflake.ID     `gorm:"not null;uniqueIndex:ux_ledger_entries_source,priority:1"`
	SourceType LedgerSourceType `gorm:"type:text;not null;uniqueIndex:ux_ledger_entries_source,priority:2"`
	SourceID   snowflake.ID     `gorm:"not null;uniqueIndex:ux_ledger_entries_source,priority:3"`
	Currency   string           `gorm:"type:text;not null"`
	OccurredAt time.Time        `gorm:"not null"`
	CreatedAt  time.Time        `gorm:"not null"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// LedgerEntryLine is a double-entry posting line.
type LedgerEntryLine struct {
	ID            snowflake.ID         `gorm:"primaryKey"`
	LedgerEntryID snowflake.ID         `gorm:"not null;index"`
	AccountID     snowflake.ID         `gorm:"not null;index"`
	Direction     LedgerEntryDirection `gorm:"type:text;not null"`
	Amount        int64                `gorm:"not null"`
	CreatedAt     time.Time            `gorm:"not null"`
}

func (LedgerEntryLine) TableName() string { return "ledger_entry_lines" }

// PostingLine is one side of an entry addressed by account code.
type PostingLine struct {
	Account   LedgerAccountCode
	Direction LedgerEntryDirection
	Amount    int64
}

// Posting is a balanced journal entry to be written.
type Posting struct {
	TenantID   snowflake.ID
	SourceType LedgerSourceType
	SourceID   snowflake.ID
	Currency   string
	OccurredAt time.Time
	Lines      []PostingLine
}

// Service writes journal entries. Both methods join the caller's transaction
// when tx is non-nil.
type Service interface {
	EnsureAccounts(ctx context.Context, tx *gorm.DB, tenantID snowflake.ID) (map[LedgerAccountCode]snowflake.ID, error)
	Post(ctx context.Context, tx *gorm.DB, posting Posting) (bool, error)
}

// ValidateBalanced checks that debits equal credits.
func ValidateBalanced(lines []PostingLine) error {
	var debit, credit int64
	for _, line := range lines {
		switch line.Direction {
		case LedgerEntryDirectionDebit:
			debit += line.Amount
		case LedgerEntryDirectionCredit:
			credit += line.Amount
		default:
			return ErrInvalidLineDirection
		}
	}
	if debit != credit {
		return ErrUnbalancedEntry
	}
	return nil
}

// ReceiptPosting moves amount from receivables into the settling asset account.
func ReceiptPosting(asset LedgerAccountCode, amount int64) []PostingLine {
	return []PostingLine{
		{Account: asset, Direction: LedgerEntryDirectionDebit, Amount: amount},
		{Account: AccountCodeAccountsReceivable, Direction: LedgerEntryDirectionCredit, Amount: amount},
	}
}

// RefundPosting reverses a receipt for amount.
func RefundPosting(asset LedgerAccountCode, amount int64) []PostingLine {
	return []PostingLine{
		{Account: AccountCodeAccountsReceivable, Direction: LedgerEntryDirectionDebit, Amount: amount},
		{Account: asset, Direction: LedgerEntryDirectionCredit, Amount: amount},
	}
}
