package billing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pagemint/pagemint-backend/pkg/db/models"
	"github.com/pagemint/pagemint-backend/pkg/enums"
)

// Repository handles billing persistence: Stripe customer mappings,
// subscription mirrors, and purchasable credit packs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateCustomer(ctx context.Context, customer *models.BillingCustomer) error
	FindCustomerByUserID(ctx context.Context, userID uuid.UUID) (*models.BillingCustomer, error)
	FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.BillingCustomer, error)
	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	ListCreditPacks(ctx context.Context, status *enums.PlanStatus) ([]models.CreditPack, error)
	FindCreditPackByID(ctx context.Context, id string) (*models.CreditPack, error)
	FindCreditPackByStripePriceID(ctx context.Context, stripePriceID string) (*models.CreditPack, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateCustomer(ctx context.Context, customer *models.BillingCustomer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *repository) FindCustomerByUserID(ctx context.Context, userID uuid.UUID) (*models.BillingCustomer, error) {
	var customer models.BillingCustomer
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repository) FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.BillingCustomer, error) {
	var customer models.BillingCustomer
	err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", stripeCustomerID).
		First(&customer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptionsByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListCreditPacks(ctx context.Context, status *enums.PlanStatus) ([]models.CreditPack, error) {
	q := r.db.WithContext(ctx).Order("price_amount ASC")
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var packs []models.CreditPack
	if err := q.Find(&packs).Error; err != nil {
		return nil, err
	}
	return packs, nil
}

func (r *repository) FindCreditPackByID(ctx context.Context, id string) (*models.CreditPack, error) {
	var pack models.CreditPack
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&pack).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pack, nil
}

func (r *repository) FindCreditPackByStripePriceID(ctx context.Context, stripePriceID string) (*models.CreditPack, error) {
	var pack models.CreditPack
	err := r.db.WithContext(ctx).
		Where("stripe_price_id = ?", stripePriceID).
		First(&pack).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pack, nil
}
