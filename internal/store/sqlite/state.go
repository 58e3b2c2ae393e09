// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

// Package sqlite provides the durable store implementations backed by
// SQLite: versioned session state, the draft generation lock, and the
// audit log.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/halodesk/halodesk/internal/store"
	halodeskerr "github.com/halodesk/halodesk/pkg/errors"
)

// Compile-time interface check.
var _ store.StateStore = (*StateStore)(nil)

// StateStore implements store.StateStore backed by SQLite.
type StateStore struct {
	db *sql.DB
}

// NewStateStore opens (or creates) a SQLite database at dbPath and
// initialises the session_states table.
func NewStateStore(dbPath string) (*StateStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrateState(db); err != nil {
		db.Close()
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "migrating session states")
	}

	return &StateStore{db: db}, nil
}

func openDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "opening sqlite db")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "pinging sqlite db")
	}

	return db, nil
}

func migrateState(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS session_states (
	session_key   TEXT PRIMARY KEY,
	business_id   TEXT NOT NULL,
	channel       TEXT NOT NULL DEFAULT '',
	active_flow   TEXT NOT NULL DEFAULT '',
	flow_status   TEXT NOT NULL DEFAULT 'idle',
	verification  TEXT NOT NULL DEFAULT '{}',
	anchor        TEXT NOT NULL DEFAULT '',
	last_not_found TEXT NOT NULL DEFAULT '',
	slots         TEXT NOT NULL DEFAULT '{}',
	callback      TEXT NOT NULL DEFAULT '{}',
	chatter       TEXT NOT NULL DEFAULT '{}',
	version       INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_states_business ON session_states(business_id);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *StateStore) Close() error {
	return s.db.Close()
}

func (s *StateStore) CreateState(ctx context.Context, state *store.State) error {
	verification, anchor, slots, callback, chatter, err := marshalStateBlobs(state)
	if err != nil {
		return err
	}

	const q = `INSERT INTO session_states
(session_key, business_id, channel, active_flow, flow_status, verification, anchor, last_not_found, slots, callback, chatter, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		state.SessionKey,
		state.BusinessID,
		state.Channel,
		state.ActiveFlow,
		string(state.FlowStatus),
		verification,
		anchor,
		state.LastNotFound,
		slots,
		callback,
		chatter,
		state.Version,
		formatTime(state.CreatedAt),
		formatTime(state.UpdatedAt),
	)
	if err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure,
			"creating session state", halodeskerr.FieldSessionKey(state.SessionKey))
	}
	return nil
}

func (s *StateStore) GetState(ctx context.Context, sessionKey string) (*store.State, error) {
	const q = `SELECT session_key, business_id, channel, active_flow, flow_status, verification, anchor, last_not_found, slots, callback, chatter, version, created_at, updated_at
FROM session_states WHERE session_key = ?`

	var state store.State
	var flowStatus, verification, anchor, slots, callback, chatter string
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx, q, sessionKey).Scan(
		&state.SessionKey,
		&state.BusinessID,
		&state.Channel,
		&state.ActiveFlow,
		&flowStatus,
		&verification,
		&anchor,
		&state.LastNotFound,
		&slots,
		&callback,
		&chatter,
		&state.Version,
		&createdAt,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, halodeskerr.New(halodeskerr.CodeStoreStateGetNotFound,
			"session state not found", halodeskerr.FieldSessionKey(sessionKey))
	}
	if err != nil {
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure,
			"getting session state", halodeskerr.FieldSessionKey(sessionKey))
	}

	state.FlowStatus = store.FlowStatus(flowStatus)
	state.CreatedAt = parseTime(createdAt)
	state.UpdatedAt = parseTime(updatedAt)

	if err := unmarshalStateBlobs(&state, verification, anchor, slots, callback, chatter); err != nil {
		return nil, err
	}
	return &state, nil
}

// UpdateState writes the state back with a compare-and-swap on version.
// A zero-row update means a concurrent turn won the race; the caller must
// re-derive from freshly loaded state rather than overwrite.
func (s *StateStore) UpdateState(ctx context.Context, state *store.State) error {
	verification, anchor, slots, callback, chatter, err := marshalStateBlobs(state)
	if err != nil {
		return err
	}

	const q = `UPDATE session_states SET
active_flow = ?, flow_status = ?, verification = ?, anchor = ?, last_not_found = ?,
slots = ?, callback = ?, chatter = ?, version = version + 1, updated_at = ?
WHERE session_key = ? AND version = ?`

	result, err := s.db.ExecContext(ctx, q,
		state.ActiveFlow,
		string(state.FlowStatus),
		verification,
		anchor,
		state.LastNotFound,
		slots,
		callback,
		chatter,
		formatTime(time.Now()),
		state.SessionKey,
		state.Version,
	)
	if err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure,
			"updating session state", halodeskerr.FieldSessionKey(state.SessionKey))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure,
			"checking rows affected", halodeskerr.FieldSessionKey(state.SessionKey))
	}
	if rows == 0 {
		return halodeskerr.New(halodeskerr.CodeStoreStateUpdateConflict,
			"session state version conflict", halodeskerr.FieldSessionKey(state.SessionKey))
	}

	state.Version++
	return nil
}

func marshalStateBlobs(state *store.State) (verification, anchor, slots, callback, chatter string, err error) {
	v, err := json.Marshal(state.Verification)
	if err != nil {
		return "", "", "", "", "", halodeskerr.Wrap(err, halodeskerr.CodeStoreInvalidInput, "marshalling verification")
	}

	var a []byte
	if state.Anchor != nil {
		a, err = json.Marshal(state.Anchor)
		if err != nil {
			return "", "", "", "", "", halodeskerr.Wrap(err, halodeskerr.CodeStoreInvalidInput, "marshalling anchor")
		}
	}

	sl, err := json.Marshal(state.Slots)
	if err != nil {
		return "", "", "", "", "", halodeskerr.Wrap(err, halodeskerr.CodeStoreInvalidInput, "marshalling slots")
	}
	cb, err := json.Marshal(state.Callback)
	if err != nil {
		return "", "", "", "", "", halodeskerr.Wrap(err, halodeskerr.CodeStoreInvalidInput, "marshalling callback")
	}
	ch, err := json.Marshal(state.Chatter)
	if err != nil {
		return "", "", "", "", "", halodeskerr.Wrap(err, halodeskerr.CodeStoreInvalidInput, "marshalling chatter")
	}

	return string(v), string(a), string(sl), string(cb), string(ch), nil
}

func unmarshalStateBlobs(state *store.State, verification, anchor, slots, callback, chatter string) error {
	if err := json.Unmarshal([]byte(verification), &state.Verification); err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "unmarshalling verification")
	}
	if anchor != "" {
		state.Anchor = &store.Anchor{}
		if err := json.Unmarshal([]byte(anchor), state.Anchor); err != nil {
			return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "unmarshalling anchor")
		}
	}
	if err := json.Unmarshal([]byte(slots), &state.Slots); err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "unmarshalling slots")
	}
	if err := json.Unmarshal([]byte(callback), &state.Callback); err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "unmarshalling callback")
	}
	if err := json.Unmarshal([]byte(chatter), &state.Chatter); err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "unmarshalling chatter")
	}
	return nil
}

// formatTime serialises a time for storage, using UTC RFC3339Nano.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
