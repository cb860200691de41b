package usage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pagemint/pagemint-backend/pkg/db/models"
)

// Repository manages persistence for metered usage events. Events correlate
// one debit ledger entry with the work it paid for; each idempotency key maps
// to at most one event.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, event *models.UsageEvent) error
	FindByKey(ctx context.Context, idempotencyKey string) (*models.UsageEvent, error)
	AttachResult(ctx context.Context, eventID uuid.UUID, result json.RawMessage) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UsageEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, event *models.UsageEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// FindByKey returns the event recorded under the idempotency key, or nil when
// no event exists.
func (r *repository) FindByKey(ctx context.Context, idempotencyKey string) (*models.UsageEvent, error) {
	var event models.UsageEvent
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", idempotencyKey).
		First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// AttachResult stores the serialized work output on an existing event.
func (r *repository) AttachResult(ctx context.Context, eventID uuid.UUID, result json.RawMessage) error {
	res := r.db.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("id = ?", eventID).
		Update("result_json", result)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UsageEvent, error) {
	var events []models.UsageEvent
	q := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
