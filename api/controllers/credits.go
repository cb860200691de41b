package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pagemint/pagemint-backend/api/middleware"
	"github.com/pagemint/pagemint-backend/api/responses"
	"github.com/pagemint/pagemint-backend/api/validators"
	"github.com/pagemint/pagemint-backend/internal/billing"
	"github.com/pagemint/pagemint-backend/internal/credits"
	"github.com/pagemint/pagemint-backend/internal/ledger"
	"github.com/pagemint/pagemint-backend/internal/usage"
	"github.com/pagemint/pagemint-backend/pkg/db/models"
	"github.com/pagemint/pagemint-backend/pkg/enums"
	pkgerrors "github.com/pagemint/pagemint-backend/pkg/errors"
	"github.com/pagemint/pagemint-backend/pkg/logger"
)

// SpendRequest debits the caller's balance and records the metered work.
type SpendRequest struct {
	Amount         int64           `json:"amount" validate:"required,gt=0"`
	MeterCode      string          `json:"meter_code" validate:"required"`
	Quantity       int64           `json:"quantity" validate:"required,gt=0"`
	IdempotencyKey string          `json:"idempotency_key" validate:"required,min=8"`
	Reason         string          `json:"reason"`
	Result         json.RawMessage `json:"result,omitempty"`
}

// AdminGrantRequest credits an arbitrary user; operator only.
type AdminGrantRequest struct {
	UserID    string `json:"user_id" validate:"required,uuid"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	SourceRef string `json:"source_ref" validate:"required,min=8"`
	Reason    string `json:"reason" validate:"required"`
}

type ledgerEntryView struct {
	ID           uuid.UUID `json:"id"`
	Delta        int64     `json:"delta"`
	Reason       string    `json:"reason"`
	Source       string    `json:"source"`
	SourceRef    string    `json:"source_ref"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

type usageEventView struct {
	ID             uuid.UUID       `json:"id"`
	MeterCode      string          `json:"meter_code"`
	Quantity       int64           `json:"quantity"`
	IdempotencyKey string          `json:"idempotency_key"`
	Result         json.RawMessage `json:"result,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type spendResponse struct {
	Balance        int64            `json:"balance"`
	AlreadyApplied bool             `json:"already_applied"`
	Entry          *ledgerEntryView `json:"entry,omitempty"`
	UsageEvent     *usageEventView  `json:"usage_event,omitempty"`
}

type grantResponse struct {
	Balance        int64            `json:"balance"`
	AlreadyApplied bool             `json:"already_applied"`
	Entry          *ledgerEntryView `json:"entry,omitempty"`
}

type subscriptionView struct {
	ID                uuid.UUID  `json:"id"`
	Status            string     `json:"status"`
	PlanCode          string     `json:"plan_code,omitempty"`
	PriceID           *string    `json:"price_id,omitempty"`
	Quantity          int64      `json:"quantity"`
	CurrentPeriodEnd  time.Time  `json:"current_period_end"`
	CancelAtPeriodEnd bool       `json:"cancel_at_period_end"`
	CanceledAt        *time.Time `json:"canceled_at,omitempty"`
}

type balanceResponse struct {
	Balance       int64              `json:"balance"`
	Subscriptions []subscriptionView `json:"subscriptions"`
}

func entryView(entry *models.CreditLedgerEntry) *ledgerEntryView {
	if entry == nil {
		return nil
	}
	return &ledgerEntryView{
		ID:           entry.ID,
		Delta:        entry.Delta,
		Reason:       entry.Reason,
		Source:       string(entry.Source),
		SourceRef:    entry.SourceRef,
		BalanceAfter: entry.BalanceAfter,
		CreatedAt:    entry.CreatedAt,
	}
}

func eventView(event *models.UsageEvent) *usageEventView {
	if event == nil {
		return nil
	}
	return &usageEventView{
		ID:             event.ID,
		MeterCode:      event.MeterCode,
		Quantity:       event.Quantity,
		IdempotencyKey: event.IdempotencyKey,
		Result:         event.ResultJSON,
		CreatedAt:      event.CreatedAt,
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

// SpendCredits executes the debit-plus-usage transaction for the caller.
func SpendCredits(engine credits.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req SpendRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		result, err := engine.Spend(ctx, credits.SpendInput{
			UserID:         userID,
			Amount:         req.Amount,
			MeterCode:      req.MeterCode,
			Quantity:       req.Quantity,
			IdempotencyKey: req.IdempotencyKey,
			Reason:         req.Reason,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// attaching the work output is best-effort: the committed debit stands
		// even when the attachment fails
		if len(req.Result) > 0 && !result.AlreadyApplied {
			if err := engine.AttachSpendResult(ctx, req.IdempotencyKey, req.Result); err != nil {
				logg.Warn(logg.WithIdempotencyKey(ctx, req.IdempotencyKey), "attaching spend result failed")
			} else if result.Event != nil {
				result.Event.ResultJSON = req.Result
			}
		}

		responses.WriteSuccess(w, spendResponse{
			Balance:        result.Balance,
			AlreadyApplied: result.AlreadyApplied,
			Entry:          entryView(result.Entry),
			UsageEvent:     eventView(result.Event),
		})
	}
}

// GetBalance returns the caller's entitlements: the credit balance alongside
// the mirrored subscription state. The default balance read is the cheap
// display path; ?fresh=true forces the ledger aggregate.
func GetBalance(svc ledger.Service, billingSvc *billing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var balance int64
		if r.URL.Query().Get("fresh") == "true" {
			balance, err = svc.GetBalance(ctx, userID)
		} else {
			balance, err = svc.DisplayBalance(ctx, userID)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading balance"))
			return
		}

		subscriptions, err := billingSvc.ListSubscriptions(ctx, userID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading subscriptions"))
			return
		}

		views := make([]subscriptionView, 0, len(subscriptions))
		for _, sub := range subscriptions {
			views = append(views, subscriptionView{
				ID:                sub.ID,
				Status:            string(sub.Status),
				PlanCode:          sub.PlanCode,
				PriceID:           sub.PriceID,
				Quantity:          sub.Quantity,
				CurrentPeriodEnd:  sub.CurrentPeriodEnd,
				CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
				CanceledAt:        sub.CanceledAt,
			})
		}

		responses.WriteSuccess(w, balanceResponse{Balance: balance, Subscriptions: views})
	}
}

// GetHistory lists the caller's ledger entries, newest first.
func GetHistory(svc ledger.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		entries, err := svc.History(ctx, userID, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading history"))
			return
		}

		views := make([]ledgerEntryView, 0, len(entries))
		for i := range entries {
			views = append(views, *entryView(&entries[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

// GetUsageHistory lists the caller's metered usage events, newest first.
func GetUsageHistory(repo usage.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1_000_000)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		events, err := repo.ListByUser(ctx, userID, limit, offset)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reading usage history"))
			return
		}

		views := make([]usageEventView, 0, len(events))
		for i := range events {
			views = append(views, *eventView(&events[i]))
		}
		responses.WriteSuccess(w, views)
	}
}

// GetUsageEvent returns the usage event recorded under an idempotency key.
func GetUsageEvent(engine credits.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		key := chi.URLParam(r, "key")
		if key == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required"))
			return
		}

		event, err := engine.FindSpend(ctx, key)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if event.UserID != userID {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "usage event not found"))
			return
		}

		responses.WriteSuccess(w, eventView(event))
	}
}

// AdminGrantCredits credits an arbitrary user. Bound to the operator role at
// the router.
func AdminGrantCredits(engine credits.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req AdminGrantRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		targetID, err := uuid.Parse(req.UserID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		result, err := engine.Grant(ctx, credits.GrantInput{
			UserID:    targetID,
			Amount:    req.Amount,
			Source:    enums.LedgerSourceAdmin,
			SourceRef: req.SourceRef,
			Reason:    req.Reason,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, grantResponse{
			Balance:        result.Balance,
			AlreadyApplied: result.AlreadyApplied,
			Entry:          entryView(result.Entry),
		})
	}
}
