package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/pagemint/pagemint-backend/internal/billing"
	"github.com/pagemint/pagemint-backend/internal/credits"
	"github.com/pagemint/pagemint-backend/internal/ledger"
	"github.com/pagemint/pagemint-backend/internal/usage"
	pkgdb "github.com/pagemint/pagemint-backend/pkg/db"
	"github.com/pagemint/pagemint-backend/pkg/db/models"
	"github.com/pagemint/pagemint-backend/pkg/enums"
	pkgerrors "github.com/pagemint/pagemint-backend/pkg/errors"
	"github.com/pagemint/pagemint-backend/pkg/logger"
	"github.com/pagemint/pagemint-backend/pkg/metrics"
)

type webhookFixture struct {
	db      *gorm.DB
	service *Service
	billing *billing.Service
	engine  credits.Engine
}

func setupWebhookService(t *testing.T) *webhookFixture {
	t.Helper()

	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, gormDB.AutoMigrate(
		&models.User{},
		&models.CreditLedgerEntry{},
		&models.UsageEvent{},
		&models.BillingCustomer{},
		&models.Subscription{},
		&models.CreditPack{},
	))

	logg := logger.New(logger.Options{ServiceName: "webhook-test", Level: zerolog.ErrorLevel})
	client := pkgdb.NewWithConn(gormDB)
	ledgerRepo := ledger.NewRepository(gormDB)
	usageRepo := usage.NewRepository(gormDB)

	ledgerSvc, err := ledger.NewService(ledgerRepo, nil, 0, logg)
	require.NoError(t, err)

	engine, err := credits.NewEngine(client, ledgerRepo, usageRepo, ledgerSvc, metrics.NewCreditMetrics(prometheus.NewRegistry()), logg)
	require.NoError(t, err)

	billingSvc, err := billing.NewService(billing.ServiceParams{Repo: billing.NewRepository(gormDB)})
	require.NoError(t, err)

	service, err := NewService(ServiceParams{
		Billing: billingSvc,
		Engine:  engine,
		Logger:  logg,
	})
	require.NoError(t, err)

	return &webhookFixture{db: gormDB, service: service, billing: billingSvc, engine: engine}
}

func (f *webhookFixture) seedLinkedUser(t *testing.T, stripeCustomerID string) *models.User {
	t.Helper()
	user := &models.User{
		Email:       fmt.Sprintf("%s@example.com", uuid.NewString()),
		DisplayName: "Webhook User",
		IsActive:    true,
	}
	require.NoError(t, f.db.Create(user).Error)
	_, err := f.billing.LinkCustomer(context.Background(), user.ID, stripeCustomerID)
	require.NoError(t, err)
	return user
}

func checkoutEvent(t *testing.T, session *stripe.CheckoutSession) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(session)
	require.NoError(t, err)
	return &stripe.Event{
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestServiceCheckoutCompletedGrantsCredits(t *testing.T) {
	f := setupWebhookService(t)
	ctx := context.Background()
	user := f.seedLinkedUser(t, "cus_123")

	event := checkoutEvent(t, &stripe.CheckoutSession{
		ID:                "cs_1",
		Customer:          &stripe.Customer{ID: "cus_123"},
		ClientReferenceID: user.ID.String(),
		Metadata:          map[string]string{"credits": "100"},
	})
	require.NoError(t, f.service.HandleEvent(ctx, event))

	var entry models.CreditLedgerEntry
	require.NoError(t, f.db.Where("source_ref = ?", "checkout:cs_1").First(&entry).Error)
	assert.Equal(t, user.ID, entry.UserID)
	assert.Equal(t, int64(100), entry.Delta)
	assert.Equal(t, enums.LedgerSourceStripe, entry.Source)

	// redelivery does not double-credit
	require.NoError(t, f.service.HandleEvent(ctx, event))
	var count int64
	require.NoError(t, f.db.Model(&models.CreditLedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestServiceCheckoutResolvesCreditPack(t *testing.T) {
	f := setupWebhookService(t)
	ctx := context.Background()
	user := f.seedLinkedUser(t, "cus_123")

	require.NoError(t, f.db.Create(&models.CreditPack{
		ID: "pro", Name: "Pro", Status: enums.PlanStatusActive,
		StripePriceID: "price_pro", Credits: 1000,
	}).Error)

	event := checkoutEvent(t, &stripe.CheckoutSession{
		ID:       "cs_pack",
		Customer: &stripe.Customer{ID: "cus_123"},
		Metadata: map[string]string{"credit_pack_id": "pro"},
	})
	require.NoError(t, f.service.HandleEvent(ctx, event))

	var entry models.CreditLedgerEntry
	require.NoError(t, f.db.Where("source_ref = ?", "checkout:cs_pack").First(&entry).Error)
	assert.Equal(t, user.ID, entry.UserID)
	assert.Equal(t, int64(1000), entry.Delta)
}

func TestServiceCheckoutUpstreamMismatch(t *testing.T) {
	f := setupWebhookService(t)
	ctx := context.Background()
	f.seedLinkedUser(t, "cus_123")

	// unknown customer
	err := f.service.HandleEvent(ctx, checkoutEvent(t, &stripe.CheckoutSession{
		ID:       "cs_ghost",
		Customer: &stripe.Customer{ID: "cus_ghost"},
		Metadata: map[string]string{"credits": "100"},
	}))
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeUpstreamMismatch, appErr.Code())

	// customer owned by someone else than the claimed user
	err = f.service.HandleEvent(ctx, checkoutEvent(t, &stripe.CheckoutSession{
		ID:                "cs_claim",
		Customer:          &stripe.Customer{ID: "cus_123"},
		ClientReferenceID: uuid.NewString(),
		Metadata:          map[string]string{"credits": "100"},
	}))
	require.Error(t, err)
	appErr = pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeUpstreamMismatch, appErr.Code())

	// nothing was credited
	var count int64
	require.NoError(t, f.db.Model(&models.CreditLedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestServiceInvoicePaidGrantsLineCredits(t *testing.T) {
	f := setupWebhookService(t)
	ctx := context.Background()
	user := f.seedLinkedUser(t, "cus_123")

	invoice := &stripe.Invoice{
		ID:       "in_1",
		Customer: &stripe.Customer{ID: "cus_123"},
		Lines: &stripe.InvoiceLineItemList{
			Data: []*stripe.InvoiceLineItem{
				{Metadata: map[string]string{"credits": "300"}},
				{Metadata: map[string]string{"credits": "200"}},
			},
		},
	}
	raw, err := json.Marshal(invoice)
	require.NoError(t, err)
	event := &stripe.Event{
		Type: stripe.EventTypeInvoicePaid,
		Data: &stripe.EventData{Raw: raw},
	}
	require.NoError(t, f.service.HandleEvent(ctx, event))

	var entry models.CreditLedgerEntry
	require.NoError(t, f.db.Where("source_ref = ?", "invoice:in_1").First(&entry).Error)
	assert.Equal(t, user.ID, entry.UserID)
	assert.Equal(t, int64(500), entry.Delta)

	// replay keeps the ledger unchanged
	require.NoError(t, f.service.HandleEvent(ctx, event))
	var count int64
	require.NoError(t, f.db.Model(&models.CreditLedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestServiceInvoicePaidFallsBackToSubscriptionPrice(t *testing.T) {
	f := setupWebhookService(t)
	ctx := context.Background()
	user := f.seedLinkedUser(t, "cus_123")

	require.NoError(t, f.db.Create(&models.CreditPack{
		ID: "pro", Name: "Pro", Status: enums.PlanStatusActive,
		StripePriceID: "price_pro", Credits: 500,
	}).Error)
	priceID := "price_pro"
	require.NoError(t, f.db.Create(&models.Subscription{
		UserID:               user.ID,
		StripeSubscriptionID: "sub_renewal",
		Status:               enums.SubscriptionStatusActive,
		PlanCode:             "pro",
		PriceID:              &priceID,
		Quantity:             2,
		CurrentPeriodEnd:     time.Now().Add(720 * time.Hour),
	}).Error)

	// no credit metadata anywhere on the invoice
	raw, err := json.Marshal(&stripe.Invoice{
		ID:       "in_renewal",
		Customer: &stripe.Customer{ID: "cus_123"},
	})
	require.NoError(t, err)
	require.NoError(t, f.service.HandleEvent(ctx, &stripe.Event{
		Type: stripe.EventTypeInvoicePaid,
		Data: &stripe.EventData{Raw: raw},
	}))

	var entry models.CreditLedgerEntry
	require.NoError(t, f.db.Where("source_ref = ?", "invoice:in_renewal").First(&entry).Error)
	assert.Equal(t, user.ID, entry.UserID)
	assert.Equal(t, int64(1000), entry.Delta, "pack credits scale with subscription quantity")
}

func TestServiceInvoicePaidWithoutResolvableAmount(t *testing.T) {
	f := setupWebhookService(t)
	ctx := context.Background()
	f.seedLinkedUser(t, "cus_123")

	raw, err := json.Marshal(&stripe.Invoice{
		ID:       "in_bare",
		Customer: &stripe.Customer{ID: "cus_123"},
	})
	require.NoError(t, err)
	err = f.service.HandleEvent(ctx, &stripe.Event{
		Type: stripe.EventTypeInvoicePaid,
		Data: &stripe.EventData{Raw: raw},
	})
	require.Error(t, err)
	appErr := pkgerrors.As(err)
	require.NotNil(t, appErr)
	assert.Equal(t, pkgerrors.CodeValidation, appErr.Code())

	var count int64
	require.NoError(t, f.db.Model(&models.CreditLedgerEntry{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestServiceSubscriptionEventSyncsMirror(t *testing.T) {
	f := setupWebhookService(t)
	ctx := context.Background()
	user := f.seedLinkedUser(t, "cus_123")

	subscription := &stripe.Subscription{
		ID:       "sub_1",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_123"},
		Metadata: map[string]string{"plan_code": "pro"},
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				Quantity:           1,
				CurrentPeriodStart: 1_700_000_000,
				CurrentPeriodEnd:   1_702_592_000,
				Price:              &stripe.Price{ID: "price_pro"},
			}},
		},
	}
	raw, err := json.Marshal(subscription)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleEvent(ctx, &stripe.Event{
		Type: stripe.EventTypeCustomerSubscriptionCreated,
		Data: &stripe.EventData{Raw: raw},
	}))

	var stored models.Subscription
	require.NoError(t, f.db.Where("stripe_subscription_id = ?", "sub_1").First(&stored).Error)
	assert.Equal(t, user.ID, stored.UserID)
	assert.Equal(t, enums.SubscriptionStatusActive, stored.Status)
	assert.Equal(t, "pro", stored.PlanCode)
	require.NotNil(t, stored.PriceID)
	assert.Equal(t, "price_pro", *stored.PriceID)
	assert.False(t, stored.CurrentPeriodEnd.IsZero())

	// deletion event flips the mirrored status in place
	subscription.Status = stripe.SubscriptionStatusCanceled
	raw, err = json.Marshal(subscription)
	require.NoError(t, err)
	require.NoError(t, f.service.HandleEvent(ctx, &stripe.Event{
		Type: stripe.EventTypeCustomerSubscriptionDeleted,
		Data: &stripe.EventData{Raw: raw},
	}))

	var count int64
	require.NoError(t, f.db.Model(&models.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, f.db.Where("stripe_subscription_id = ?", "sub_1").First(&stored).Error)
	assert.Equal(t, enums.SubscriptionStatusCanceled, stored.Status)
}

func TestServiceIgnoresUnhandledEventTypes(t *testing.T) {
	f := setupWebhookService(t)

	err := f.service.HandleEvent(context.Background(), &stripe.Event{
		Type: stripe.EventTypePaymentIntentCreated,
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	})
	assert.NoError(t, err)
}
