// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	halodeskerr "github.com/halodesk/halodesk/pkg/errors"
)

// Compile-time interface checks.
var (
	_ StateStore     = (*MemoryStateStore)(nil)
	_ DraftLockStore = (*MemoryDraftLockStore)(nil)
	_ AuditStore     = (*MemoryAuditStore)(nil)
)

// MemoryStateStore is an in-memory StateStore for tests and single-node
// development. It honors the same CAS semantics as the SQLite store.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]*State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]*State)}
}

func (s *MemoryStateStore) GetState(_ context.Context, sessionKey string) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[sessionKey]
	if !ok {
		return nil, halodeskerr.New(halodeskerr.CodeStoreStateGetNotFound,
			"session state not found", halodeskerr.FieldSessionKey(sessionKey))
	}
	return cloneState(state), nil
}

func (s *MemoryStateStore) CreateState(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[state.SessionKey]; ok {
		return halodeskerr.New(halodeskerr.CodeStoreStateUpdateConflict,
			"session state already exists", halodeskerr.FieldSessionKey(state.SessionKey))
	}
	s.states[state.SessionKey] = cloneState(state)
	return nil
}

func (s *MemoryStateStore) UpdateState(_ context.Context, state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.states[state.SessionKey]
	if !ok {
		return halodeskerr.New(halodeskerr.CodeStoreStateGetNotFound,
			"session state not found", halodeskerr.FieldSessionKey(state.SessionKey))
	}
	if current.Version != state.Version {
		return halodeskerr.New(halodeskerr.CodeStoreStateUpdateConflict,
			"session state version conflict", halodeskerr.FieldSessionKey(state.SessionKey))
	}

	next := cloneState(state)
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	s.states[state.SessionKey] = next
	state.Version = next.Version
	return nil
}

func (s *MemoryStateStore) Close() error { return nil }

func cloneState(in *State) *State {
	out := *in
	if in.Slots != nil {
		out.Slots = make(map[string]string, len(in.Slots))
		for k, v := range in.Slots {
			out.Slots[k] = v
		}
	}
	if in.Anchor != nil {
		anchor := *in.Anchor
		out.Anchor = &anchor
	}
	out.Callback.MissingFields = append([]string(nil), in.Callback.MissingFields...)
	out.Chatter.Recent = append([]ChatterSeen(nil), in.Chatter.Recent...)
	return &out
}

// MemoryDraftLockStore is an in-memory DraftLockStore with the same
// insert-or-read acquire semantics as the SQLite store.
type MemoryDraftLockStore struct {
	mu    sync.Mutex
	locks map[DraftKey]*DraftLock
	now   func() time.Time
}

func NewMemoryDraftLockStore() *MemoryDraftLockStore {
	return &MemoryDraftLockStore{
		locks: make(map[DraftKey]*DraftLock),
		now:   time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (s *MemoryDraftLockStore) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	s.now = fn
	s.mu.Unlock()
}

func (s *MemoryDraftLockStore) Acquire(_ context.Context, key DraftKey, requestHash string, staleAfter, expiry time.Duration) (*DraftAcquire, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	existing, ok := s.locks[key]
	if ok {
		switch existing.Status {
		case DraftLockCompleted:
			return &DraftAcquire{Reason: DraftReasonAlreadyExists, ExistingID: existing.ResultID}, nil
		case DraftLockInProgress:
			// A crashed worker must not wedge the key: a stale in-progress
			// lock is taken over by exactly one caller.
			if now.Sub(existing.StartedAt) < staleAfter {
				return &DraftAcquire{Reason: DraftReasonInProgress}, nil
			}
		case DraftLockFailed:
			// Failed generations may be retried.
		}
	}

	lock := &DraftLock{
		ID:          uuid.New().String(),
		Key:         key,
		Status:      DraftLockInProgress,
		RequestHash: requestHash,
		StartedAt:   now,
		ExpiresAt:   now.Add(expiry),
	}
	s.locks[key] = lock
	return &DraftAcquire{Acquired: true, LockID: lock.ID}, nil
}

func (s *MemoryDraftLockStore) Complete(_ context.Context, lockID, resultID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := s.findLocked(lockID)
	if lock == nil {
		return halodeskerr.New(halodeskerr.CodeStoreStateGetNotFound, "draft lock not found",
			halodeskerr.Field("lock_id", lockID))
	}
	lock.Status = DraftLockCompleted
	lock.ResultID = resultID
	return nil
}

func (s *MemoryDraftLockStore) Fail(_ context.Context, lockID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock := s.findLocked(lockID)
	if lock == nil {
		return halodeskerr.New(halodeskerr.CodeStoreStateGetNotFound, "draft lock not found",
			halodeskerr.Field("lock_id", lockID))
	}
	lock.Status = DraftLockFailed
	lock.FailReason = reason
	return nil
}

func (s *MemoryDraftLockStore) CleanupExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var removed int64
	for key, lock := range s.locks {
		if lock.ExpiresAt.Before(now) {
			delete(s.locks, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryDraftLockStore) Close() error { return nil }

func (s *MemoryDraftLockStore) findLocked(lockID string) *DraftLock {
	for _, lock := range s.locks {
		if lock.ID == lockID {
			return lock
		}
	}
	return nil
}

// MemoryAuditStore keeps audit entries in memory for tests.
type MemoryAuditStore struct {
	mu      sync.Mutex
	entries []*AuditEntry
}

func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

func (s *MemoryAuditStore) Append(_ context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a snapshot of appended entries.
func (s *MemoryAuditStore) Entries() []*AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*AuditEntry(nil), s.entries...)
}

func (s *MemoryAuditStore) Close() error { return nil }
