// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package idempotency

import (
	"context"
	"log/slog"
	"time"
)

// Compile-time interface check.
var _ Cache = (*FallbackCache)(nil)

// FallbackCache reads and writes through a shared primary backend and
// degrades to a per-instance memory cache when the primary is unreachable.
// Degrading is deliberate fail-open: a support bot that stops answering
// because Redis blipped is worse than one whose duplicate protection is
// temporarily instance-local.
type FallbackCache struct {
	primary  Cache
	fallback *MemoryCache
}

// NewFallbackCache wraps primary with a memory fallback.
func NewFallbackCache(primary Cache) *FallbackCache {
	return &FallbackCache{
		primary:  primary,
		fallback: NewMemoryCache(),
	}
}

func (c *FallbackCache) Get(ctx context.Context, key Key) (*Record, error) {
	rec, err := c.primary.Get(ctx, key)
	if err == nil {
		return rec, nil
	}

	slog.Warn("idempotency backend unreachable, using memory fallback",
		slog.Any("error", err), slog.String("tool", key.ToolName))
	return c.fallback.Get(ctx, key)
}

func (c *FallbackCache) Put(ctx context.Context, key Key, rec *Record, ttl time.Duration) error {
	// Always mirror into the fallback so a backend outage between Put and a
	// retried Get still hits.
	if err := c.fallback.Put(ctx, key, rec, ttl); err != nil {
		return err
	}

	if err := c.primary.Put(ctx, key, rec, ttl); err != nil {
		slog.Warn("idempotency backend write failed, record kept in memory only",
			slog.Any("error", err), slog.String("tool", key.ToolName))
	}
	return nil
}

func (c *FallbackCache) CleanupExpired(ctx context.Context) (int64, error) {
	removed, _ := c.fallback.CleanupExpired(ctx)
	primaryRemoved, err := c.primary.CleanupExpired(ctx)
	if err != nil {
		return removed, nil
	}
	return removed + primaryRemoved, nil
}
