package redisnonce_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/loan-fraud-adjudicator/internal/adapter/nonce/redisnonce"
)

func newStore(t *testing.T) (*redisnonce.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisnonce.New(rdb, 5*time.Minute), mr
}

func TestSeenAndRemember_FreshThenDuplicate(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()
	now := time.Now()

	fresh, err := s.SeenAndRemember(ctx, "key-1", "nonce-a", now)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.SeenAndRemember(ctx, "key-1", "nonce-a", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, fresh, "same (api_key, nonce) must be rejected inside the window")
}

func TestSeenAndRemember_ScopedByAPIKey(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)
	ctx := context.Background()
	now := time.Now()

	fresh, err := s.SeenAndRemember(ctx, "key-1", "nonce-a", now)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.SeenAndRemember(ctx, "key-2", "nonce-a", now)
	require.NoError(t, err)
	assert.True(t, fresh, "the pair is keyed by (api_key, nonce), not nonce alone")
}

func TestSeenAndRemember_EvictsAfterWindow(t *testing.T) {
	t.Parallel()
	s, mr := newStore(t)
	ctx := context.Background()
	now := time.Now()

	fresh, err := s.SeenAndRemember(ctx, "key-1", "nonce-a", now)
	require.NoError(t, err)
	assert.True(t, fresh)

	mr.FastForward(6 * time.Minute)

	fresh, err = s.SeenAndRemember(ctx, "key-1", "nonce-a", now.Add(6*time.Minute))
	require.NoError(t, err)
	assert.True(t, fresh, "entries older than the window may be dropped")
}

func TestSeenAndRemember_StoreDown(t *testing.T) {
	t.Parallel()
	s, mr := newStore(t)
	mr.Close()

	_, err := s.SeenAndRemember(context.Background(), "key-1", "nonce-a", time.Now())
	require.Error(t, err)
}
