//go:build integration

package redisx_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/redisx"
)

func TestRedisAdapters(t *testing.T) {
	ctx := context.Background()
	rc, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Terminate(context.Background()) })

	endpoint, err := rc.Endpoint(ctx, "")
	require.NoError(t, err)
	rdb := redisx.New(endpoint)
	t.Cleanup(func() { _ = rdb.Close() })

	t.Run("lock has a single holder", func(t *testing.T) {
		a := redisx.NewLock(rdb, "lock:test", time.Minute)
		b := redisx.NewLock(rdb, "lock:test", time.Minute)

		unlock, ok, err := a.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = b.TryLock(ctx)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, unlock(ctx))
		assert.ErrorIs(t, unlock(ctx), redisx.ErrLockLost)

		_, ok, err = b.TryLock(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("expired lease is not released by its old holder", func(t *testing.T) {
		short := redisx.NewLock(rdb, "lock:short", 50*time.Millisecond)
		unlock, ok, err := short.TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(100 * time.Millisecond)
		_, ok, err = redisx.NewLock(rdb, "lock:short", time.Minute).TryLock(ctx)
		require.NoError(t, err)
		require.True(t, ok)

		assert.ErrorIs(t, unlock(ctx), redisx.ErrLockLost)
		n, err := rdb.Exists(ctx, "lock:short").Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("callback cache", func(t *testing.T) {
		cache := redisx.NewCallbackCache(rdb, time.Minute, zap.NewNop())
		_, ok := cache.Lookup(ctx, "txn-1")
		assert.False(t, ok)

		cache.Remember(ctx, "txn-1", "order-1")
		orderID, ok := cache.Lookup(ctx, "txn-1")
		assert.True(t, ok)
		assert.Equal(t, "order-1", orderID)
	})

	t.Run("mark once", func(t *testing.T) {
		first, err := redisx.MarkOnce(ctx, rdb, "dedup:test:1", time.Minute)
		require.NoError(t, err)
		second, err := redisx.MarkOnce(ctx, rdb, "dedup:test:1", time.Minute)
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)

		require.NoError(t, redisx.Forget(ctx, rdb, "dedup:test:1"))
		again, err := redisx.MarkOnce(ctx, rdb, "dedup:test:1", time.Minute)
		require.NoError(t, err)
		assert.True(t, again)
	})

	t.Run("status cache", func(t *testing.T) {
		cache := redisx.NewStatusCache(rdb)
		cache.Put(ctx, "o-1", []byte(`{"status":"PAID"}`))
		b, ok := cache.Get(ctx, "o-1")
		require.True(t, ok)
		assert.JSONEq(t, `{"status":"PAID"}`, string(b))

		cache.Invalidate(ctx, "o-1")
		_, ok = cache.Get(ctx, "o-1")
		assert.False(t, ok)
	})
}
