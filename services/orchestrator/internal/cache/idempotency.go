// Package cache implements the Redis-backed fast paths in front of the
// orchestrator's Postgres idempotency constraint and HTTP rate limit:
// a token bucket per customer and a TTL'd idempotency response cache.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func idempotencyCacheKey(customerID, idempotencyKey string) string {
	return fmt.Sprintf("idempotency:payment:%s:%s", customerID, idempotencyKey)
}

// GetCachedResponse returns the previously-cached JSON response body for
// this (customer, idempotency key) pair, if any.
func (c *Client) GetCachedResponse(ctx context.Context, customerID, idempotencyKey string, out any) (bool, error) {
	raw, err := c.rdb.Get(ctx, idempotencyCacheKey(customerID, idempotencyKey)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, err
	}
	return true, nil
}

// PutCachedResponse caches the response body for ttl, matching the
// original gateway's settings.idempotency_ttl_seconds default (24h).
func (c *Client) PutCachedResponse(ctx context.Context, customerID, idempotencyKey string, body any, ttl time.Duration) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, idempotencyCacheKey(customerID, idempotencyKey), raw, ttl).Err()
}

// AllowTokenBucket implements the per-customer rate limit: capacity and
// refill rate both equal requestsPerMinute, tokens stored in a Redis
// hash and lazily refilled based on elapsed wall-clock time since the
// last request, matching the original gateway's enforce_token_bucket.
func (c *Client) AllowTokenBucket(ctx context.Context, customerID string, requestsPerMinute int) (bool, error) {
	key := fmt.Sprintf("tokenbucket:%s", customerID)
	now := float64(time.Now().UnixNano()) / 1e9
	capacity := float64(requestsPerMinute)
	refillPerSec := capacity / 60.0

	vals, err := c.rdb.HMGet(ctx, key, "tokens", "updated_at").Result()
	if err != nil {
		return false, err
	}

	tokens := capacity
	updatedAt := now
	if vals[0] != nil {
		fmt.Sscanf(vals[0].(string), "%g", &tokens)
	}
	if vals[1] != nil {
		fmt.Sscanf(vals[1].(string), "%g", &updatedAt)
	}

	elapsed := now - updatedAt
	if elapsed < 0 {
		elapsed = 0
	}
	tokens = tokens + elapsed*refillPerSec
	if tokens > capacity {
		tokens = capacity
	}

	allowed := tokens >= 1.0
	if allowed {
		tokens -= 1.0
	}

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "tokens", tokens, "updated_at", now)
	pipe.Expire(ctx, key, 120*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return allowed, err
	}
	return allowed, nil
}
