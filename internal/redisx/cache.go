package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CallbackCache remembers settled payment transactions. Redis errors degrade
// to a cache miss; the payments table stays authoritative.
type CallbackCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewCallbackCache(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *CallbackCache {
	if ttl <= 0 {
		ttl = TTLCallback
	}
	return &CallbackCache{rdb: rdb, ttl: ttl, log: log}
}

func (c *CallbackCache) Lookup(ctx context.Context, txnID string) (string, bool) {
	orderID, err := c.rdb.Get(ctx, fmt.Sprintf(KeyCallback, txnID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("callback cache lookup failed", zap.String("txn_id", txnID), zap.Error(err))
		}
		return "", false
	}
	return orderID, orderID != ""
}

func (c *CallbackCache) Remember(ctx context.Context, txnID, orderID string) {
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyCallback, txnID), orderID, c.ttl).Err(); err != nil {
		c.log.Warn("callback cache write failed", zap.String("txn_id", txnID), zap.Error(err))
	}
}

// StatusCache holds the rendered order view for GET /orders/{id}.
type StatusCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb, ttl: TTLStatusCache}
}

func (c *StatusCache) Get(ctx context.Context, orderID string) ([]byte, bool) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if err != nil || len(b) == 0 {
		return nil, false
	}
	return b, true
}

func (c *StatusCache) Put(ctx context.Context, orderID string, view []byte) {
	_ = c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), view, c.ttl).Err()
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) {
	_ = c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
