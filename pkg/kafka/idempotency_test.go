package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- RedisIdempotencyStore ---

func setupRedisStore(t *testing.T) (*RedisIdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisIdempotencyStore(client, "idem:", time.Hour), mr
}

func TestRedisIdempotencyStore_AddAndContains(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	ok, err := store.Contains(ctx, "evt-9")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Add(ctx, "evt-9"))
	ok, err = store.Contains(ctx, "evt-9")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("idem:evt-9"))
}

func TestRedisIdempotencyStore_ExpiresWithTTL(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, "evt-9"))
	mr.FastForward(2 * time.Hour)

	ok, err := store.Contains(ctx, "evt-9")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisIdempotencyStore_ServerDown(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	_, err := store.Contains(context.Background(), "evt-1")
	assert.Error(t, err)
}

// --- IdempotentHandler ---

type failingStore struct{}

func (failingStore) Contains(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}
func (failingStore) Add(context.Context, string) error { return errors.New("redis down") }

func TestIdempotentHandler_SkipsDuplicates(t *testing.T) {
	store, _ := setupRedisStore(t)
	calls := 0
	h := IdempotentHandler(store, func(context.Context, *Event) error { calls++; return nil }, testLogger())

	event := &Event{EventID: "evt-1", EventType: "fulfillment.retry_requested"}
	require.NoError(t, h(context.Background(), event))
	require.NoError(t, h(context.Background(), event))

	assert.Equal(t, 1, calls)
}

func TestIdempotentHandler_DoesNotRecordFailures(t *testing.T) {
	store, _ := setupRedisStore(t)
	calls := 0
	h := IdempotentHandler(store, func(context.Context, *Event) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	}, testLogger())

	event := &Event{EventID: "evt-2"}
	require.Error(t, h(context.Background(), event))
	require.NoError(t, h(context.Background(), event))
	assert.Equal(t, 2, calls)
}

func TestIdempotentHandler_StoreFailureProcessesAnyway(t *testing.T) {
	calls := 0
	h := IdempotentHandler(failingStore{}, func(context.Context, *Event) error { calls++; return nil }, testLogger())

	require.NoError(t, h(context.Background(), &Event{EventID: "evt-3"}))
	assert.Equal(t, 1, calls)
}

func TestIdempotentHandler_RedeliveryAfterTTLIsProcessed(t *testing.T) {
	store, mr := setupRedisStore(t)
	calls := 0
	h := IdempotentHandler(store, func(context.Context, *Event) error { calls++; return nil }, testLogger())

	event := &Event{EventID: "evt-4"}
	require.NoError(t, h(context.Background(), event))
	mr.FastForward(2 * time.Hour)
	require.NoError(t, h(context.Background(), event))
	assert.Equal(t, 2, calls)
}

func TestIdempotentHandler_NoEventIDPassesThrough(t *testing.T) {
	store, _ := setupRedisStore(t)
	calls := 0
	h := IdempotentHandler(store, func(context.Context, *Event) error { calls++; return nil }, testLogger())

	require.NoError(t, h(context.Background(), &Event{}))
	require.NoError(t, h(context.Background(), &Event{}))
	assert.Equal(t, 2, calls)
}
