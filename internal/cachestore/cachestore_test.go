package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewFromClient(client), mr
}

type payload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func TestStore_SetAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	ok := store.Set(ctx, Namespace+"test", payload{Name: "pool", Value: 7}, time.Minute)
	require.True(t, ok, "Set should succeed")

	var got payload
	err := store.Get(ctx, Namespace+"test", &got)
	require.NoError(t, err)
	assert.Equal(t, payload{Name: "pool", Value: 7}, got)
}

func TestStore_GetMissReturnsNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	var got payload
	err := store.Get(context.Background(), Namespace+"absent", &got)
	assert.ErrorIs(t, err, ErrNotFound, "A miss must be distinguishable from a store error")
}

func TestStore_GetStoreErrorIsNotAMiss(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	var got payload
	err := store.Get(context.Background(), Namespace+"test", &got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound, "A dead store must not masquerade as a cold cache")
	assert.False(t, store.Connected(), "Connection flag should drop after a network failure")
}

func TestStore_TTLAndExists(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, Namespace+"ttl", payload{}, 300*time.Second)
	assert.True(t, store.Exists(ctx, Namespace+"ttl"))
	assert.False(t, store.Exists(ctx, Namespace+"other"))

	ttl := store.TTL(ctx, Namespace+"ttl")
	assert.InDelta(t, 300, ttl, 2, "TTL should be close to the configured value")

	// Expiry removes the key.
	mr.FastForward(301 * time.Second)
	assert.False(t, store.Exists(ctx, Namespace+"ttl"), "Key should expire after TTL")
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, Namespace+"del", payload{}, time.Minute)
	assert.True(t, store.Delete(ctx, Namespace+"del"))
	assert.True(t, store.Delete(ctx, Namespace+"del"), "Deleting an absent key is not an error")
}

func TestStore_StatsCountsNamespaceKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, Namespace+"a", payload{}, time.Minute)
	store.Set(ctx, Namespace+"b", payload{}, time.Minute)
	store.Set(ctx, "other:c", payload{}, time.Minute)

	stats := store.GetStats(ctx)
	assert.True(t, stats.Connected)
	assert.Equal(t, 2, stats.TotalKeys, "Stats should only count keys under the service namespace")
}

func TestStore_StatsReportsDisconnected(t *testing.T) {
	store, mr := newTestStore(t)
	mr.Close()

	stats := store.GetStats(context.Background())
	assert.False(t, stats.Connected)
	assert.NotEmpty(t, stats.Error)
}
