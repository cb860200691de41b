package ledger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pagemint/pagemint-backend/pkg/db/models"
	"github.com/pagemint/pagemint-backend/pkg/logger"
	"github.com/pagemint/pagemint-backend/pkg/redis"
)

const defaultHistoryLimit = 50
const maxHistoryLimit = 200

// Service exposes read operations over the credit ledger.
type Service interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	DisplayBalance(ctx context.Context, userID uuid.UUID) (int64, error)
	InvalidateDisplayBalance(ctx context.Context, userID uuid.UUID)
	History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditLedgerEntry, error)
}

type service struct {
	repo     Repository
	cache    redis.BalanceCache
	cacheTTL time.Duration
	logg     *logger.Logger
}

// NewService wires a ledger read service. The balance cache is optional; when
// nil every read aggregates the ledger directly.
func NewService(repo Repository, cache redis.BalanceCache, cacheTTL time.Duration, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, cache: cache, cacheTTL: cacheTTL, logg: logg}, nil
}

// GetBalance returns the authoritative balance as the sum of signed deltas.
func (s *service) GetBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, fmt.Errorf("user id is required")
	}
	return s.repo.SumDeltaByUser(ctx, userID)
}

// DisplayBalance serves dashboard reads cheaply: the short-TTL cache first,
// then the latest entry's advisory balance_after. An empty ledger reads as 0.
// Correctness-critical reads go through GetBalance instead.
func (s *service) DisplayBalance(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, fmt.Errorf("user id is required")
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, s.cache.BalanceKey(userID.String()))
		if err == nil {
			if balance, parseErr := strconv.ParseInt(cached, 10, 64); parseErr == nil {
				return balance, nil
			}
		}
	}

	latest, err := s.repo.FindLatestByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	var balance int64
	if latest != nil {
		balance = latest.BalanceAfter
	}

	if s.cache != nil && s.cacheTTL > 0 {
		key := s.cache.BalanceKey(userID.String())
		if err := s.cache.Set(ctx, key, strconv.FormatInt(balance, 10), s.cacheTTL); err != nil {
			s.logg.Warn(ctx, fmt.Sprintf("caching display balance failed: %v", err))
		}
	}
	return balance, nil
}

// InvalidateDisplayBalance drops the cached balance after a ledger write.
// Failures are logged and ignored; the cache TTL bounds staleness.
func (s *service) InvalidateDisplayBalance(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil || userID == uuid.Nil {
		return
	}
	if err := s.cache.Del(ctx, s.cache.BalanceKey(userID.String())); err != nil {
		s.logg.Warn(ctx, fmt.Sprintf("invalidating display balance failed: %v", err))
	}
}

// History lists ledger entries for a user, newest first.
func (s *service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditLedgerEntry, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}
