package correlate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestKeyCache(t *testing.T) *RedisKeyCache {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := NewRedisKeyCache(mr.Addr(), "", 0, 4, zap.NewNop().Sugar())
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestRedisKeyCache_SetAndGet(t *testing.T) {
	ctx := context.Background()
	cache := newTestKeyCache(t)

	require.NoError(t, cache.Ping(ctx))

	_, ok, err := cache.GetAlertID(ctx, "host-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.SetAlertID(ctx, "host-1", "alert-42", time.Minute))

	id, ok, err := cache.GetAlertID(ctx, "host-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alert-42", id)
}

func TestRedisKeyCache_EntriesExpireWithWindow(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cache := NewRedisKeyCache(mr.Addr(), "", 0, 4, zap.NewNop().Sugar())
	defer cache.Close()

	require.NoError(t, cache.SetAlertID(ctx, "host-1", "alert-42", 30*time.Second))

	mr.FastForward(31 * time.Second)

	_, ok, err := cache.GetAlertID(ctx, "host-1")
	require.NoError(t, err)
	assert.False(t, ok)
}
