package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pagemint/pagemint-backend/pkg/db/models"
)

// Repository manages persistence for credit ledger entries. The table is
// append-only: entries are created and read, never updated or deleted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.CreditLedgerEntry) error
	FindBySourceRef(ctx context.Context, sourceRef string) (*models.CreditLedgerEntry, error)
	SumDeltaByUser(ctx context.Context, userID uuid.UUID) (int64, error)
	FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.CreditLedgerEntry, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditLedgerEntry, error)
	LockUserRow(ctx context.Context, userID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.CreditLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

// FindBySourceRef returns the entry carrying the given idempotency reference,
// or nil when no entry exists.
func (r *repository) FindBySourceRef(ctx context.Context, sourceRef string) (*models.CreditLedgerEntry, error) {
	var entry models.CreditLedgerEntry
	err := r.db.WithContext(ctx).
		Where("source_ref = ?", sourceRef).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// SumDeltaByUser aggregates the signed deltas for a user. This is the
// authoritative balance; balance_after on individual rows is advisory.
func (r *repository) SumDeltaByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditLedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

// FindLatestByUser returns the newest entry for a user, or nil for an empty
// ledger. Its balance_after feeds the O(1) display-balance read.
func (r *repository) FindLatestByUser(ctx context.Context, userID uuid.UUID) (*models.CreditLedgerEntry, error) {
	var entry models.CreditLedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditLedgerEntry, error) {
	var entries []models.CreditLedgerEntry
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// LockUserRow takes a row-level lock on the user record so concurrent spends
// against the same user serialize for the remainder of the transaction.
// SQLite has a single writer and no SELECT ... FOR UPDATE, so the clause is
// applied only on Postgres.
func (r *repository) LockUserRow(ctx context.Context, userID uuid.UUID) error {
	q := r.db.WithContext(ctx)
	if r.db.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var user models.User
	return q.Select("id").Where("id = ?", userID).First(&user).Error
}
