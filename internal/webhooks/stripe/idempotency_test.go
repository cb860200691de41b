package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdempotencyStore struct {
	values map[string]string
}

func newFakeIdempotencyStore() *fakeIdempotencyStore {
	return &fakeIdempotencyStore{values: map[string]string{}}
}

func (f *fakeIdempotencyStore) Get(_ context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeIdempotencyStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = value.(string)
	return true, nil
}

func (f *fakeIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "pm:idempotency:" + scope + ":" + id
}

func (f *fakeIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.values, key)
	}
	return nil
}

func TestIdempotencyGuardCheckAndMark(t *testing.T) {
	store := newFakeIdempotencyStore()
	guard, err := NewIdempotencyGuard(store, time.Hour, "stripe-webhook")
	require.NoError(t, err)

	ctx := context.Background()

	seen, err := guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen, "redelivery of the same event is flagged")

	// clearing the mark lets a retry reach the handler again
	require.NoError(t, guard.Delete(ctx, "evt_1"))
	seen, err = guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestNewIdempotencyGuardValidation(t *testing.T) {
	store := newFakeIdempotencyStore()

	_, err := NewIdempotencyGuard(nil, time.Hour, "stripe-webhook")
	assert.Error(t, err)

	_, err = NewIdempotencyGuard(store, -time.Second, "stripe-webhook")
	assert.Error(t, err)

	_, err = NewIdempotencyGuard(store, time.Hour, "")
	assert.Error(t, err)

	_, err = NewIdempotencyGuard(store, time.Hour, "stripe-webhook")
	assert.NoError(t, err)
}
