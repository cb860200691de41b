package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/pagemint/pagemint-backend/pkg/db/models"
	"github.com/pagemint/pagemint-backend/pkg/enums"
	"github.com/pagemint/pagemint-backend/pkg/errors"
)

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo Repository
}

// Service orchestrates customer mapping, subscription mirroring, and credit
// pack lookups.
type Service struct {
	repo Repository
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("repo is required")
	}
	return &Service{repo: params.Repo}, nil
}

// ResolveUserForStripeCustomer maps a Stripe customer id to the local user.
// Webhooks must pass this guard before any grant is written: a payload whose
// customer is unknown, or whose claimed user does not own that customer,
// is an upstream mismatch and must not credit anyone.
func (s *Service) ResolveUserForStripeCustomer(ctx context.Context, stripeCustomerID string, claimedUserID uuid.UUID) (uuid.UUID, error) {
	if stripeCustomerID == "" {
		return uuid.Nil, errors.New(errors.CodeValidation, "stripe customer id is required")
	}

	customer, err := s.repo.FindCustomerByStripeID(ctx, stripeCustomerID)
	if err != nil {
		return uuid.Nil, errors.Wrap(errors.CodeInternal, err, "looking up billing customer")
	}
	if customer == nil {
		return uuid.Nil, errors.New(errors.CodeUpstreamMismatch, "unknown stripe customer").
			WithDetails(map[string]string{"stripe_customer_id": stripeCustomerID})
	}
	if claimedUserID != uuid.Nil && claimedUserID != customer.UserID {
		return uuid.Nil, errors.New(errors.CodeUpstreamMismatch, "stripe customer does not belong to claimed user").
			WithDetails(map[string]string{
				"stripe_customer_id": stripeCustomerID,
				"claimed_user_id":    claimedUserID.String(),
			})
	}
	return customer.UserID, nil
}

// LinkCustomer records the mapping between a local user and a Stripe customer.
func (s *Service) LinkCustomer(ctx context.Context, userID uuid.UUID, stripeCustomerID string) (*models.BillingCustomer, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if stripeCustomerID == "" {
		return nil, errors.New(errors.CodeValidation, "stripe customer id is required")
	}

	existing, err := s.repo.FindCustomerByUserID(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up billing customer")
	}
	if existing != nil {
		if existing.StripeCustomerID != stripeCustomerID {
			return nil, errors.New(errors.CodeConflict, "user already linked to a different stripe customer")
		}
		return existing, nil
	}

	customer := &models.BillingCustomer{
		UserID:           userID,
		StripeCustomerID: stripeCustomerID,
	}
	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "creating billing customer")
	}
	return customer, nil
}

// SyncSubscription upserts the local mirror of a Stripe subscription.
func (s *Service) SyncSubscription(ctx context.Context, incoming *models.Subscription) (*models.Subscription, error) {
	if incoming == nil {
		return nil, errors.New(errors.CodeValidation, "subscription is required")
	}
	if incoming.UserID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	if incoming.StripeSubscriptionID == "" {
		return nil, errors.New(errors.CodeValidation, "stripe subscription id is required")
	}
	if !incoming.Status.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("invalid subscription status %q", incoming.Status))
	}

	existing, err := s.repo.FindSubscriptionByStripeID(ctx, incoming.StripeSubscriptionID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up subscription")
	}
	if existing == nil {
		if err := s.repo.CreateSubscription(ctx, incoming); err != nil {
			return nil, errors.Wrap(errors.CodeInternal, err, "creating subscription")
		}
		return incoming, nil
	}

	existing.Status = incoming.Status
	existing.PlanCode = incoming.PlanCode
	existing.PriceID = incoming.PriceID
	if incoming.Quantity > 0 {
		existing.Quantity = incoming.Quantity
	}
	existing.CurrentPeriodStart = incoming.CurrentPeriodStart
	existing.CurrentPeriodEnd = incoming.CurrentPeriodEnd
	existing.CancelAtPeriodEnd = incoming.CancelAtPeriodEnd
	existing.CanceledAt = incoming.CanceledAt
	if len(incoming.Metadata) > 0 {
		existing.Metadata = incoming.Metadata
	}
	if err := s.repo.UpdateSubscription(ctx, existing); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "updating subscription")
	}
	return existing, nil
}

// ListSubscriptions returns the user's mirrored subscriptions, newest first.
func (s *Service) ListSubscriptions(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, errors.New(errors.CodeValidation, "user id is required")
	}
	return s.repo.ListSubscriptionsByUser(ctx, userID)
}

// ListActiveCreditPacks returns packs available for purchase.
func (s *Service) ListActiveCreditPacks(ctx context.Context) ([]models.CreditPack, error) {
	status := enums.PlanStatusActive
	return s.repo.ListCreditPacks(ctx, &status)
}

// ResolveCreditPackByID returns the pack with the given identifier, or nil.
func (s *Service) ResolveCreditPackByID(ctx context.Context, id string) (*models.CreditPack, error) {
	if id == "" {
		return nil, errors.New(errors.CodeValidation, "credit pack id is required")
	}
	pack, err := s.repo.FindCreditPackByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up credit pack")
	}
	return pack, nil
}

// ResolveCreditPackByPrice maps a Stripe price to its configured credit pack.
func (s *Service) ResolveCreditPackByPrice(ctx context.Context, stripePriceID string) (*models.CreditPack, error) {
	if stripePriceID == "" {
		return nil, errors.New(errors.CodeValidation, "stripe price id is required")
	}
	pack, err := s.repo.FindCreditPackByStripePriceID(ctx, stripePriceID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up credit pack")
	}
	return pack, nil
}
