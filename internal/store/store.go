// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package store defines the persistence contracts of the turn engine and
// the in-memory implementations used for tests and degraded operation.
// Durable implementations live in the sqlite subpackage.
package store

import (
	"context"
	"time"
)

// StateStore persists per-session conversation state. UpdateState performs
// a compare-and-swap on State.Version: the write is refused with
// CodeStoreStateUpdateConflict when a concurrent turn got there first, and
// Version is incremented on success.
type StateStore interface {
	GetState(ctx context.Context, sessionKey string) (*State, error)
	CreateState(ctx context.Context, state *State) error
	UpdateState(ctx context.Context, state *State) error
	Close() error
}

// DraftLockStore enforces at-most-one draft generation per DraftKey across
// instances. Acquire uses insert-or-read semantics: the unique key
// constraint decides the winner, and the loser reads the existing row to
// report why. An IN_PROGRESS lock older than staleAfter is considered
// abandoned and may be taken over by exactly one caller.
type DraftLockStore interface {
	Acquire(ctx context.Context, key DraftKey, requestHash string, staleAfter, expiry time.Duration) (*DraftAcquire, error)
	Complete(ctx context.Context, lockID, resultID string) error
	Fail(ctx context.Context, lockID, reason string) error
	CleanupExpired(ctx context.Context) (int64, error)
	Close() error
}

// AuditStore is an append-only log of engine events.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	Close() error
}
