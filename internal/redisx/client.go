package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Dedup fast path for proxy fulfillment: dedup:{key} -> 1.
	keyDedup = "dedup:%s"

	// Cache of the authoritative order status: order_status:{order_id}.
	keyOrderStatus = "order_status:%s"
)

var (
	TTLDedup       = 48 * time.Hour
	TTLStatusCache = 5 * time.Minute
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// Deduper suppresses repeated fulfillment attempts before they reach the
// database-level idempotency check. The record is time-boxed and keyed
// by subject, so it survives process restarts and scale-out.
type Deduper struct {
	rdb *redis.Client
}

func NewDeduper(rdb *redis.Client) *Deduper {
	return &Deduper{rdb: rdb}
}

func (d *Deduper) Seen(ctx context.Context, key string) (bool, error) {
	n, err := d.rdb.Exists(ctx, fmt.Sprintf(keyDedup, key)).Result()
	if err != nil {
		return false, fmt.Errorf("redisx: failed to check dedup key: %w", err)
	}
	return n > 0, nil
}

func (d *Deduper) Mark(ctx context.Context, key string) error {
	if err := d.rdb.Set(ctx, fmt.Sprintf(keyDedup, key), "1", TTLDedup).Err(); err != nil {
		return fmt.Errorf("redisx: failed to set dedup key: %w", err)
	}
	return nil
}

// StatusCache is a read-aside cache of order status for the feed-facing
// GET path. The database stays authoritative.
type StatusCache struct {
	rdb *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache {
	return &StatusCache{rdb: rdb}
}

func (c *StatusCache) Get(ctx context.Context, orderID string) (string, bool) {
	s, err := c.rdb.Get(ctx, fmt.Sprintf(keyOrderStatus, orderID)).Result()
	if err != nil {
		return "", false
	}
	return s, true
}

func (c *StatusCache) Set(ctx context.Context, orderID, status string) {
	_ = c.rdb.Set(ctx, fmt.Sprintf(keyOrderStatus, orderID), status, TTLStatusCache).Err()
}
