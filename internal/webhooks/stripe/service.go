package stripewebhook

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/pagemint/pagemint-backend/internal/billing"
	"github.com/pagemint/pagemint-backend/internal/credits"
	"github.com/pagemint/pagemint-backend/pkg/db/models"
	"github.com/pagemint/pagemint-backend/pkg/enums"
	pkgerrors "github.com/pagemint/pagemint-backend/pkg/errors"
	"github.com/pagemint/pagemint-backend/pkg/logger"
)

const creditsMetadataKey = "credits"
const creditPackMetadataKey = "credit_pack_id"

type ServiceParams struct {
	Billing *billing.Service
	Engine  credits.Engine
	Logger  *logger.Logger
}

// Service translates verified Stripe events into ledger grants and
// subscription mirror updates. Every grant passes the customer-to-user
// mapping guard first; a payload that fails it credits no one.
type Service struct {
	billing *billing.Service
	engine  credits.Engine
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Billing == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing service required")
	}
	if params.Engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit engine required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		billing: params.Billing,
		engine:  params.Engine,
		logg:    params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode checkout session event")
		}
		return s.handleCheckoutCompleted(ctx, &session)

	case stripe.EventTypeInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode invoice event")
		}
		return s.handleInvoicePaid(ctx, &invoice)

	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted:
		var stripeSub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode subscription event")
		}
		return s.syncSubscription(ctx, &stripeSub)

	default:
		return nil
	}
}

// handleCheckoutCompleted grants the purchased credits exactly once per
// session: the grant's source_ref is checkout:<sessionID>.
func (s *Service) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	if session.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
	}
	if session.Customer == nil || session.Customer.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session customer missing")
	}

	claimedUserID := parseClaimedUser(session.ClientReferenceID)
	userID, err := s.billing.ResolveUserForStripeCustomer(ctx, session.Customer.ID, claimedUserID)
	if err != nil {
		return err
	}

	amount, err := s.creditsFromMetadata(ctx, session.Metadata)
	if err != nil {
		return err
	}

	metadata, _ := json.Marshal(session.Metadata)
	result, err := s.engine.Grant(ctx, credits.GrantInput{
		UserID:    userID,
		Amount:    amount,
		Source:    enums.LedgerSourceStripe,
		SourceRef: "checkout:" + session.ID,
		Reason:    "credit pack purchase",
		Metadata:  metadata,
	})
	if err != nil {
		return err
	}
	if result.AlreadyApplied {
		s.logg.Info(ctx, "checkout grant already applied")
	}
	return nil
}

// handleInvoicePaid grants renewal credits once per invoice: the grant's
// source_ref is invoice:<invoiceID>. Credits come from line metadata, then
// invoice metadata, then the active subscription's price mapped through the
// credit pack catalog.
func (s *Service) handleInvoicePaid(ctx context.Context, invoice *stripe.Invoice) error {
	if invoice.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice id missing")
	}
	if invoice.Customer == nil || invoice.Customer.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice customer missing")
	}

	userID, err := s.billing.ResolveUserForStripeCustomer(ctx, invoice.Customer.ID, uuid.Nil)
	if err != nil {
		return err
	}

	var amount int64
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line == nil {
				continue
			}
			if lineCredits := parseCredits(line.Metadata[creditsMetadataKey]); lineCredits > 0 {
				amount += lineCredits
			}
		}
	}
	if amount == 0 {
		amount = parseCredits(invoice.Metadata[creditsMetadataKey])
	}
	if amount == 0 {
		amount = s.creditsFromSubscription(ctx, userID)
	}
	if amount <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invoice carries no credit amount").
			WithDetails(map[string]string{"invoice_id": invoice.ID})
	}

	metadata, _ := json.Marshal(invoice.Metadata)
	result, err := s.engine.Grant(ctx, credits.GrantInput{
		UserID:    userID,
		Amount:    amount,
		Source:    enums.LedgerSourceStripe,
		SourceRef: "invoice:" + invoice.ID,
		Reason:    "subscription renewal credits",
		Metadata:  metadata,
	})
	if err != nil {
		return err
	}
	if result.AlreadyApplied {
		s.logg.Info(ctx, "invoice grant already applied")
	}
	return nil
}

func (s *Service) syncSubscription(ctx context.Context, stripeSub *stripe.Subscription) error {
	if stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	if stripeSub.Customer == nil || stripeSub.Customer.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription customer missing")
	}

	userID, err := s.billing.ResolveUserForStripeCustomer(ctx, stripeSub.Customer.ID, uuid.Nil)
	if err != nil {
		return err
	}

	status, err := enums.ParseSubscriptionStatus(string(stripeSub.Status))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown subscription status")
	}

	incoming := subscriptionFromStripe(stripeSub, userID, status)
	if _, err := s.billing.SyncSubscription(ctx, incoming); err != nil {
		return err
	}
	return nil
}

// creditsFromMetadata resolves the granted amount either directly from the
// credits key or through the configured credit pack.
func (s *Service) creditsFromMetadata(ctx context.Context, metadata map[string]string) (int64, error) {
	if amount := parseCredits(metadata[creditsMetadataKey]); amount > 0 {
		return amount, nil
	}
	if packID := metadata[creditPackMetadataKey]; packID != "" {
		pack, err := s.billing.ResolveCreditPackByID(ctx, packID)
		if err != nil {
			return 0, err
		}
		if pack == nil {
			return 0, pkgerrors.New(pkgerrors.CodeUpstreamMismatch, "unknown credit pack").
				WithDetails(map[string]string{"credit_pack_id": packID})
		}
		return pack.Credits, nil
	}
	return 0, pkgerrors.New(pkgerrors.CodeValidation, "checkout session carries no credit amount")
}

// creditsFromSubscription resolves renewal credits through the user's active
// subscription price when the invoice itself carries no credit metadata.
func (s *Service) creditsFromSubscription(ctx context.Context, userID uuid.UUID) int64 {
	subs, err := s.billing.ListSubscriptions(ctx, userID)
	if err != nil {
		s.logg.Error(ctx, "listing subscriptions for invoice fallback", err)
		return 0
	}
	for _, sub := range subs {
		if sub.Status != enums.SubscriptionStatusActive {
			continue
		}
		if sub.PriceID == nil || *sub.PriceID == "" {
			continue
		}
		pack, err := s.billing.ResolveCreditPackByPrice(ctx, *sub.PriceID)
		if err != nil || pack == nil {
			continue
		}
		quantity := sub.Quantity
		if quantity < 1 {
			quantity = 1
		}
		return pack.Credits * quantity
	}
	return 0
}

func subscriptionFromStripe(stripeSub *stripe.Subscription, userID uuid.UUID, status enums.SubscriptionStatus) *models.Subscription {
	sub := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: stripeSub.ID,
		Status:               status,
		PlanCode:             stripeSub.Metadata["plan_code"],
		Quantity:             1,
		CancelAtPeriodEnd:    stripeSub.CancelAtPeriodEnd,
		CanceledAt:           toTimePtr(stripeSub.CanceledAt),
	}
	if stripeSub.Items != nil && len(stripeSub.Items.Data) > 0 {
		item := stripeSub.Items.Data[0]
		if item.Quantity > 0 {
			sub.Quantity = item.Quantity
		}
		if item.Price != nil && item.Price.ID != "" {
			priceID := item.Price.ID
			sub.PriceID = &priceID
		}
		sub.CurrentPeriodStart = toTimePtr(item.CurrentPeriodStart)
		sub.CurrentPeriodEnd = toTime(item.CurrentPeriodEnd)
	}
	if len(stripeSub.Metadata) > 0 {
		if data, err := json.Marshal(stripeSub.Metadata); err == nil {
			sub.Metadata = data
		}
	}
	return sub
}

func parseClaimedUser(clientReferenceID string) uuid.UUID {
	if clientReferenceID == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(clientReferenceID)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseCredits(raw string) int64 {
	if raw == "" {
		return 0
	}
	amount, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || amount < 0 {
		return 0
	}
	return amount
}

func toTime(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
