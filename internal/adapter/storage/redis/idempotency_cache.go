package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"htlc-escrow/internal/core/domain"

	goredis "github.com/redis/go-redis/v9"
)

const idempotencyPrefix = "escrow:idempotency:"

// IdempotencyCache implements ports.IdempotencyCache using Redis. Entries are
// JSON-encoded logs so cache hits can be checked against the request
// fingerprint like durable ones.
type IdempotencyCache struct {
	client *goredis.Client
}

// NewIdempotencyCache creates a new Redis-backed idempotency cache.
func NewIdempotencyCache(client *goredis.Client) *IdempotencyCache {
	return &IdempotencyCache{client: client}
}

// Get returns nil, nil if the key does not exist.
func (c *IdempotencyCache) Get(ctx context.Context, key string) (*domain.IdempotencyLog, error) {
	raw, err := c.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis idempotency get: %w", err)
	}
	var log domain.IdempotencyLog
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("decode cached idempotency log %q: %w", key, err)
	}
	return &log, nil
}

// Set stores log under log.Key with ttl.
func (c *IdempotencyCache) Set(ctx context.Context, log *domain.IdempotencyLog, ttl time.Duration) error {
	raw, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("encode idempotency log: %w", err)
	}
	if err := c.client.Set(ctx, idempotencyPrefix+log.Key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis idempotency set: %w", err)
	}
	return nil
}
