// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package session

import (
	"context"

	"github.com/halodesk/halodesk/internal/store"
	halodeskerr "github.com/halodesk/halodesk/pkg/errors"
)

// Manager provides high-level operations on session state, delegating
// persistence to a store.StateStore.
type Manager struct {
	ss store.StateStore
}

// NewManager returns a Manager backed by the given StateStore.
func NewManager(ss store.StateStore) *Manager {
	return &Manager{ss: ss}
}

// LoadOrCreate returns the session's state, creating an empty record on the
// first turn of a session.
func (m *Manager) LoadOrCreate(ctx context.Context, sessionKey, businessID, channel string) (*store.State, error) {
	state, err := m.ss.GetState(ctx, sessionKey)
	if err == nil {
		return state, nil
	}
	if !halodeskerr.IsNotFound(err) {
		return nil, err
	}

	state = store.NewState(sessionKey, businessID, channel)
	if createErr := m.ss.CreateState(ctx, state); createErr != nil {
		// A concurrent first turn may have created it; re-read once.
		if halodeskerr.IsConflict(createErr) {
			return m.ss.GetState(ctx, sessionKey)
		}
		return nil, createErr
	}
	return state, nil
}

// Save writes the state back under the compare-and-swap contract. A
// conflict error means another turn won; the caller decides whether to
// re-derive or drop its write.
func (m *Manager) Save(ctx context.Context, state *store.State) error {
	return m.ss.UpdateState(ctx, state)
}

// Reload returns the freshest persisted state for conflict recovery.
func (m *Manager) Reload(ctx context.Context, sessionKey string) (*store.State, error) {
	return m.ss.GetState(ctx, sessionKey)
}
