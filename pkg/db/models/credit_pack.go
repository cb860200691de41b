package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pagemint/pagemint-backend/pkg/enums"
)

// CreditPack describes a purchasable bundle of credits. The checkout grant
// resolves a completed session's line items against these rows (by Stripe
// price id) to decide how many credits to write.
type CreditPack struct {
	ID            string           `gorm:"column:id;primaryKey"`
	Name          string           `gorm:"column:name;not null"`
	Status        enums.PlanStatus `gorm:"column:status;not null"`
	StripePriceID string           `gorm:"column:stripe_price_id;not null;uniqueIndex"`
	Credits       int64            `gorm:"column:credits;not null"`
	PriceAmount   decimal.Decimal  `gorm:"column:price_amount;type:numeric(12,2);not null"`
	CurrencyCode  string           `gorm:"column:currency_code;not null"`
	Features      pq.StringArray   `gorm:"column:features;type:text[]"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
