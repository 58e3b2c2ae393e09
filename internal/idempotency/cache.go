// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package idempotency memoizes side-effecting tool calls by message
// identity. A hit short-circuits execution entirely, which is what makes
// tool side effects at-most-once under provider webhook retries. The TTL is
// measured in days because providers retry for a long time.
package idempotency

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/halodesk/halodesk/internal/outcome"
	halodeskerr "github.com/halodesk/halodesk/pkg/errors"
)

// DefaultTTL keeps records long enough to absorb provider-level retries.
const DefaultTTL = 7 * 24 * time.Hour

// Key identifies one logical, at-most-once tool invocation.
type Key struct {
	BusinessID string
	Channel    string
	MessageID  string
	ToolName   string
}

// String renders the key for storage. The separator is not expected in any
// component; keys are engine-assigned, not user-controlled.
func (k Key) String() string {
	return strings.Join([]string{k.BusinessID, k.Channel, k.MessageID, k.ToolName}, "|")
}

// Record is the memoized outcome of a tool call.
type Record struct {
	Success   bool            `json:"success"`
	Result    *outcome.Result `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Cache is the idempotency store contract. Get returns (nil, nil) on miss.
type Cache interface {
	Get(ctx context.Context, key Key) (*Record, error)
	Put(ctx context.Context, key Key, rec *Record, ttl time.Duration) error
	CleanupExpired(ctx context.Context) (int64, error)
}

// Compile-time interface check.
var _ Cache = (*MemoryCache)(nil)

// MemoryCache is the in-process Cache used for tests and as the degraded
// fallback when the shared backend is unreachable. It is per-instance, so
// under horizontal scaling it only defends against same-instance retries;
// that is still strictly better than re-executing side effects.
type MemoryCache struct {
	mu      sync.Mutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (c *MemoryCache) SetNowFunc(fn func() time.Time) {
	c.mu.Lock()
	c.now = fn
	c.mu.Unlock()
}

func (c *MemoryCache) Get(_ context.Context, key Key) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[key.String()]
	if !ok {
		return nil, nil
	}
	if rec.ExpiresAt.Before(c.now()) {
		delete(c.records, key.String())
		return nil, nil
	}
	return rec, nil
}

func (c *MemoryCache) Put(_ context.Context, key Key, rec *Record, ttl time.Duration) error {
	if err := guardAgainstNil(rec); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *rec
	stored.ExpiresAt = c.now().Add(ttl)
	c.records[key.String()] = &stored
	return nil
}

func (c *MemoryCache) CleanupExpired(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed int64
	for k, rec := range c.records {
		if rec.ExpiresAt.Before(now) {
			delete(c.records, k)
			removed++
		}
	}
	return removed, nil
}

// guardAgainstNil returns a typed error for nil records so backends fail
// loudly instead of caching garbage.
func guardAgainstNil(rec *Record) error {
	if rec == nil {
		return halodeskerr.New(halodeskerr.CodeStoreInvalidInput, "idempotency record must not be nil")
	}
	return nil
}
