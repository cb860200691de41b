package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UniqueUsageKeyConstraint names the unique index on usage idempotency keys.
const UniqueUsageKeyConstraint = "idx_usage_events_idempotency_key"

// UsageEvent records what feature consumed how many credits. A successful
// spend writes exactly one UsageEvent correlated to its debit ledger entry by
// the shared idempotency key. ResultJSON is the only field ever written after
// creation: a best-effort cache of the metered operation's output so a replay
// can skip the expensive work.
type UsageEvent struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID       `gorm:"column:user_id;type:uuid;not null;index"`
	MeterCode      string          `gorm:"column:meter_code;not null"`
	Quantity       int64           `gorm:"column:quantity;not null"`
	IdempotencyKey string          `gorm:"column:idempotency_key;not null;uniqueIndex:idx_usage_events_idempotency_key"`
	ResultJSON     json.RawMessage `gorm:"column:result_json;type:jsonb"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (e *UsageEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
