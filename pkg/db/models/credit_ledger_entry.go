package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pagemint/pagemint-backend/pkg/enums"
)

// LedgerCurrencyCredits is the only unit this ledger tracks today. The column
// exists so a second currency does not force a schema change.
const LedgerCurrencyCredits = "credits"

// UniqueSourceRefConstraint names the unique index backing idempotency keys.
const UniqueSourceRefConstraint = "idx_credit_ledger_entries_source_ref"

// CreditLedgerEntry is one append-only signed balance delta for a user.
// Rows are never updated or deleted; corrections append compensating entries.
// The user's balance is the sum of Delta over their rows.
type CreditLedgerEntry struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	// Delta is positive for grants and negative for spends. Zero is invalid.
	Delta    int64              `gorm:"column:delta;not null"`
	Currency string             `gorm:"column:currency;not null;default:'credits'"`
	Reason   string             `gorm:"column:reason;not null"`
	Source   enums.LedgerSource `gorm:"column:source"`
	// SourceRef is the idempotency key for the mutation that wrote this row.
	// The unique index on it is the authoritative at-most-once guard.
	SourceRef string `gorm:"column:source_ref;not null;uniqueIndex:idx_credit_ledger_entries_source_ref"`
	// BalanceAfter snapshots the post-entry aggregate. Advisory only; the
	// authoritative balance is always the per-user sum of Delta.
	BalanceAfter int64           `gorm:"column:balance_after;not null"`
	Metadata     json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (e *CreditLedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
