// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package idempotency

import (
	"context"
	"encoding/json"
	"time"

	backend "github.com/redis/go-redis/v9"

	halodeskerr "github.com/halodesk/halodesk/pkg/errors"
)

// Compile-time interface check.
var _ Cache = (*RedisCache)(nil)

const defaultKeyPrefix = "halodesk:idem:"

// RedisCache implements Cache on a shared Redis so that at-most-once holds
// across horizontally scaled instances. Expiry is delegated to Redis TTLs;
// CleanupExpired is a no-op kept for interface symmetry with stores that
// sweep lazily.
type RedisCache struct {
	client *backend.Client
	prefix string
}

// Option configures a RedisCache.
type Option func(*RedisCache)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *RedisCache) {
		c.prefix = prefix
	}
}

// NewRedisCache creates a RedisCache from an existing client.
func NewRedisCache(client *backend.Client, opts ...Option) *RedisCache {
	cache := &RedisCache{
		client: client,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(cache)
	}
	return cache
}

func (c *RedisCache) key(k Key) string {
	return c.prefix + k.String()
}

func (c *RedisCache) Get(ctx context.Context, key Key) (*Record, error) {
	val, err := c.client.Get(ctx, c.key(key)).Result()
	if err == backend.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeIdempotencyBackendFailure,
			"reading idempotency record", halodeskerr.FieldTool(key.ToolName))
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeIdempotencyBackendFailure,
			"unmarshalling idempotency record", halodeskerr.FieldTool(key.ToolName))
	}
	return &rec, nil
}

func (c *RedisCache) Put(ctx context.Context, key Key, rec *Record, ttl time.Duration) error {
	if err := guardAgainstNil(rec); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	stored := *rec
	stored.ExpiresAt = time.Now().Add(ttl)

	data, err := json.Marshal(&stored)
	if err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreInvalidInput, "marshalling idempotency record")
	}

	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeIdempotencyBackendFailure,
			"writing idempotency record", halodeskerr.FieldTool(key.ToolName))
	}
	return nil
}

func (c *RedisCache) CleanupExpired(_ context.Context) (int64, error) {
	// Redis TTLs expire records server-side.
	return 0, nil
}
