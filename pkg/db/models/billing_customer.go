package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BillingCustomer maps an internal user to their payment-provider customer.
// Webhook-driven grants must resolve and verify this mapping before any
// credit is written; an event referencing a customer we cannot map is
// deferred for manual review, never guessed.
type BillingCustomer struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID           uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	StripeCustomerID string    `gorm:"column:stripe_customer_id;not null;uniqueIndex"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key when the caller did not.
func (c *BillingCustomer) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
