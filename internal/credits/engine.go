package credits

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pagemint/pagemint-backend/internal/ledger"
	"github.com/pagemint/pagemint-backend/internal/usage"
	"github.com/pagemint/pagemint-backend/pkg/db"
	"github.com/pagemint/pagemint-backend/pkg/db/models"
	"github.com/pagemint/pagemint-backend/pkg/enums"
	"github.com/pagemint/pagemint-backend/pkg/errors"
	"github.com/pagemint/pagemint-backend/pkg/logger"
	"github.com/pagemint/pagemint-backend/pkg/metrics"
)

// Idempotency keys and source refs must carry at least this many characters.
const minIdempotencyKeyLength = 8

// SpendInput describes a metered debit request. The idempotency key scopes the
// whole operation: retries with the same key return the original outcome.
type SpendInput struct {
	UserID         uuid.UUID
	Amount         int64
	MeterCode      string
	Quantity       int64
	IdempotencyKey string
	Reason         string
	Metadata       json.RawMessage
}

// SpendResult reports the committed (or replayed) debit.
type SpendResult struct {
	Entry          *models.CreditLedgerEntry
	Event          *models.UsageEvent
	Balance        int64
	AlreadyApplied bool
}

// GrantInput describes a credit top-up from Stripe, an operator, or a test fixture.
type GrantInput struct {
	UserID    uuid.UUID
	Amount    int64
	Source    enums.LedgerSource
	SourceRef string
	Reason    string
	Metadata  json.RawMessage
}

// GrantResult reports the committed (or replayed) credit.
type GrantResult struct {
	Entry          *models.CreditLedgerEntry
	Balance        int64
	AlreadyApplied bool
}

// Engine executes the transactional spend and grant paths over the ledger.
type Engine interface {
	Spend(ctx context.Context, input SpendInput) (*SpendResult, error)
	Grant(ctx context.Context, input GrantInput) (*GrantResult, error)
	AttachSpendResult(ctx context.Context, idempotencyKey string, result json.RawMessage) error
	FindSpend(ctx context.Context, idempotencyKey string) (*models.UsageEvent, error)
}

type engine struct {
	client     *db.Client
	ledgerRepo ledger.Repository
	usageRepo  usage.Repository
	ledgerSvc  ledger.Service
	creditMet  *metrics.CreditMetrics
	logg       *logger.Logger
}

// NewEngine wires the credit engine. Metrics may be nil (counters become no-ops).
func NewEngine(
	client *db.Client,
	ledgerRepo ledger.Repository,
	usageRepo usage.Repository,
	ledgerSvc ledger.Service,
	creditMet *metrics.CreditMetrics,
	logg *logger.Logger,
) (Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("db client required")
	}
	if ledgerRepo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if usageRepo == nil {
		return nil, fmt.Errorf("usage repository required")
	}
	if ledgerSvc == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &engine{
		client:     client,
		ledgerRepo: ledgerRepo,
		usageRepo:  usageRepo,
		ledgerSvc:  ledgerSvc,
		creditMet:  creditMet,
		logg:       logg,
	}, nil
}

// errAlreadyApplied aborts the transaction when the unique constraint reports
// a concurrent duplicate; the caller then replays the stored outcome.
var errAlreadyApplied = fmt.Errorf("operation already applied")

// Spend debits credits and records the correlated usage event in one
// transaction. Both writes commit or neither does. An insufficient balance
// aborts before any row is written.
func (e *engine) Spend(ctx context.Context, input SpendInput) (*SpendResult, error) {
	if err := validateSpendInput(input); err != nil {
		return nil, err
	}

	ctx = e.logg.WithIdempotencyKey(ctx, input.IdempotencyKey)

	// Pre-check keeps the common retry path off the write lock.
	if existing, err := e.usageRepo.FindByKey(ctx, input.IdempotencyKey); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up usage event")
	} else if existing != nil {
		return e.replaySpend(ctx, existing)
	}

	start := time.Now()
	var (
		entry *models.CreditLedgerEntry
		event *models.UsageEvent
	)

	err := e.client.WithTx(ctx, func(tx *gorm.DB) error {
		lRepo := e.ledgerRepo.WithTx(tx)
		uRepo := e.usageRepo.WithTx(tx)

		if err := lRepo.LockUserRow(ctx, input.UserID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.New(errors.CodeNotFound, "user not found")
			}
			return errors.Wrap(errors.CodeInternal, err, "locking user row")
		}

		balance, err := lRepo.SumDeltaByUser(ctx, input.UserID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "reading balance")
		}
		if balance < input.Amount {
			e.creditMet.IncInsufficientBalance(input.MeterCode)
			return errors.New(errors.CodeInsufficientBalance, "insufficient credit balance").
				WithDetails(map[string]int64{
					"balance":  balance,
					"required": input.Amount,
				})
		}

		entry = &models.CreditLedgerEntry{
			UserID:       input.UserID,
			Delta:        -input.Amount,
			Currency:     models.LedgerCurrencyCredits,
			Reason:       input.Reason,
			Source:       enums.LedgerSourceUsage,
			SourceRef:    input.IdempotencyKey,
			BalanceAfter: balance - input.Amount,
			Metadata:     input.Metadata,
		}
		if err := lRepo.Create(ctx, entry); err != nil {
			if db.IsUniqueViolation(err, models.UniqueSourceRefConstraint) {
				return errAlreadyApplied
			}
			return errors.Wrap(errors.CodeInternal, err, "writing debit entry")
		}

		event = &models.UsageEvent{
			UserID:         input.UserID,
			MeterCode:      input.MeterCode,
			Quantity:       input.Quantity,
			IdempotencyKey: input.IdempotencyKey,
		}
		if err := uRepo.Create(ctx, event); err != nil {
			if db.IsUniqueViolation(err, models.UniqueUsageKeyConstraint) {
				return errAlreadyApplied
			}
			return errors.Wrap(errors.CodeInternal, err, "writing usage event")
		}
		return nil
	})

	if err == errAlreadyApplied {
		existing, lookupErr := e.usageRepo.FindByKey(ctx, input.IdempotencyKey)
		if lookupErr != nil {
			return nil, errors.Wrap(errors.CodeInternal, lookupErr, "replaying spend")
		}
		if existing == nil {
			return nil, errors.New(errors.CodeInternal, "duplicate spend key without stored event")
		}
		return e.replaySpend(ctx, existing)
	}
	if err != nil {
		return nil, err
	}

	e.ledgerSvc.InvalidateDisplayBalance(ctx, input.UserID)
	e.creditMet.IncSpend(input.MeterCode)
	e.creditMet.ObserveSpendDuration(input.MeterCode, time.Since(start))
	e.logg.Info(e.logg.WithUserID(ctx, input.UserID.String()), "credit spend committed")

	return &SpendResult{
		Entry:   entry,
		Event:   event,
		Balance: entry.BalanceAfter,
	}, nil
}

// Grant credits an account. The source reference is the idempotency key:
// replaying a webhook or an operator retry returns the original entry.
func (e *engine) Grant(ctx context.Context, input GrantInput) (*GrantResult, error) {
	if err := validateGrantInput(input); err != nil {
		return nil, err
	}

	ctx = e.logg.WithIdempotencyKey(ctx, input.SourceRef)

	if existing, err := e.ledgerRepo.FindBySourceRef(ctx, input.SourceRef); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up ledger entry")
	} else if existing != nil {
		return e.replayGrant(ctx, existing)
	}

	var entry *models.CreditLedgerEntry
	err := e.client.WithTx(ctx, func(tx *gorm.DB) error {
		lRepo := e.ledgerRepo.WithTx(tx)

		if err := lRepo.LockUserRow(ctx, input.UserID); err != nil {
			if err == gorm.ErrRecordNotFound {
				return errors.New(errors.CodeNotFound, "user not found")
			}
			return errors.Wrap(errors.CodeInternal, err, "locking user row")
		}

		balance, err := lRepo.SumDeltaByUser(ctx, input.UserID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "reading balance")
		}

		entry = &models.CreditLedgerEntry{
			UserID:       input.UserID,
			Delta:        input.Amount,
			Currency:     models.LedgerCurrencyCredits,
			Reason:       input.Reason,
			Source:       input.Source,
			SourceRef:    input.SourceRef,
			BalanceAfter: balance + input.Amount,
			Metadata:     input.Metadata,
		}
		if err := lRepo.Create(ctx, entry); err != nil {
			if db.IsUniqueViolation(err, models.UniqueSourceRefConstraint) {
				return errAlreadyApplied
			}
			return errors.Wrap(errors.CodeInternal, err, "writing credit entry")
		}
		return nil
	})

	if err == errAlreadyApplied {
		existing, lookupErr := e.ledgerRepo.FindBySourceRef(ctx, input.SourceRef)
		if lookupErr != nil {
			return nil, errors.Wrap(errors.CodeInternal, lookupErr, "replaying grant")
		}
		if existing == nil {
			return nil, errors.New(errors.CodeInternal, "duplicate grant ref without stored entry")
		}
		return e.replayGrant(ctx, existing)
	}
	if err != nil {
		return nil, err
	}

	e.ledgerSvc.InvalidateDisplayBalance(ctx, input.UserID)
	e.creditMet.IncGrant(string(input.Source))
	e.logg.Info(e.logg.WithUserID(ctx, input.UserID.String()), "credit grant committed")

	return &GrantResult{
		Entry:   entry,
		Balance: entry.BalanceAfter,
	}, nil
}

// AttachSpendResult stores the work output alongside a committed spend. The
// spend itself is never unwound when this fails; callers log and move on.
func (e *engine) AttachSpendResult(ctx context.Context, idempotencyKey string, result json.RawMessage) error {
	if idempotencyKey == "" {
		return errors.New(errors.CodeValidation, "idempotency key is required")
	}
	if len(result) == 0 {
		return errors.New(errors.CodeValidation, "result payload is required")
	}
	event, err := e.usageRepo.FindByKey(ctx, idempotencyKey)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "looking up usage event")
	}
	if event == nil {
		return errors.New(errors.CodeNotFound, "usage event not found")
	}
	if err := e.usageRepo.AttachResult(ctx, event.ID, result); err != nil {
		return errors.Wrap(errors.CodeInternal, err, "attaching usage result")
	}
	return nil
}

// FindSpend returns the usage event stored under the key, or a not-found error.
func (e *engine) FindSpend(ctx context.Context, idempotencyKey string) (*models.UsageEvent, error) {
	if idempotencyKey == "" {
		return nil, errors.New(errors.CodeValidation, "idempotency key is required")
	}
	event, err := e.usageRepo.FindByKey(ctx, idempotencyKey)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up usage event")
	}
	if event == nil {
		return nil, errors.New(errors.CodeNotFound, "usage event not found")
	}
	return event, nil
}

func (e *engine) replaySpend(ctx context.Context, event *models.UsageEvent) (*SpendResult, error) {
	entry, err := e.ledgerRepo.FindBySourceRef(ctx, event.IdempotencyKey)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading replayed debit entry")
	}
	balance, err := e.ledgerRepo.SumDeltaByUser(ctx, event.UserID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "reading balance")
	}
	e.creditMet.IncReplay("spend")
	e.logg.Info(ctx, "spend replayed from stored outcome")
	return &SpendResult{
		Entry:          entry,
		Event:          event,
		Balance:        balance,
		AlreadyApplied: true,
	}, nil
}

func (e *engine) replayGrant(ctx context.Context, entry *models.CreditLedgerEntry) (*GrantResult, error) {
	balance, err := e.ledgerRepo.SumDeltaByUser(ctx, entry.UserID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "reading balance")
	}
	e.creditMet.IncReplay("grant")
	e.logg.Info(ctx, "grant replayed from stored outcome")
	return &GrantResult{
		Entry:          entry,
		Balance:        balance,
		AlreadyApplied: true,
	}, nil
}

func validateSpendInput(input SpendInput) error {
	if input.UserID == uuid.Nil {
		return errors.New(errors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return errors.New(errors.CodeValidation, "amount must be positive")
	}
	if input.MeterCode == "" {
		return errors.New(errors.CodeValidation, "meter code is required")
	}
	if input.Quantity <= 0 {
		return errors.New(errors.CodeValidation, "quantity must be positive")
	}
	if len(input.IdempotencyKey) < minIdempotencyKeyLength {
		return errors.New(errors.CodeValidation, "idempotency key must be at least 8 characters")
	}
	return nil
}

func validateGrantInput(input GrantInput) error {
	if input.UserID == uuid.Nil {
		return errors.New(errors.CodeValidation, "user id is required")
	}
	if input.Amount <= 0 {
		return errors.New(errors.CodeValidation, "amount must be positive")
	}
	if !input.Source.IsValid() || input.Source == "" {
		return errors.New(errors.CodeValidation, "invalid ledger source")
	}
	if len(input.SourceRef) < minIdempotencyKeyLength {
		return errors.New(errors.CodeValidation, "source ref must be at least 8 characters")
	}
	return nil
}
