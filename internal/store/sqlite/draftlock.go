// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/halodesk/halodesk/internal/store"
	halodeskerr "github.com/halodesk/halodesk/pkg/errors"
)

// Compile-time interface check.
var _ store.DraftLockStore = (*DraftLockStore)(nil)

// DraftLockStore implements store.DraftLockStore backed by SQLite. The
// unique index on (business_id, thread_id, source_message_id) is the
// arbiter: concurrent acquires race on the insert and exactly one wins.
type DraftLockStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewDraftLockStore opens (or creates) a SQLite database at dbPath and
// initialises the draft_locks table.
func NewDraftLockStore(dbPath string) (*DraftLockStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrateDraftLocks(db); err != nil {
		db.Close()
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "migrating draft locks")
	}

	return &DraftLockStore{db: db, now: time.Now}, nil
}

func migrateDraftLocks(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS draft_locks (
	id                TEXT PRIMARY KEY,
	business_id       TEXT NOT NULL,
	thread_id         TEXT NOT NULL,
	source_message_id TEXT NOT NULL,
	status            TEXT NOT NULL,
	request_hash      TEXT NOT NULL DEFAULT '',
	result_id         TEXT NOT NULL DEFAULT '',
	fail_reason       TEXT NOT NULL DEFAULT '',
	started_at        TEXT NOT NULL,
	expires_at        TEXT NOT NULL,
	UNIQUE(business_id, thread_id, source_message_id)
);

CREATE INDEX IF NOT EXISTS idx_draft_locks_expires ON draft_locks(expires_at);
`
	_, err := db.Exec(ddl)
	return err
}

// SetNowFunc overrides the time source (for testing).
func (s *DraftLockStore) SetNowFunc(fn func() time.Time) {
	s.now = fn
}

// Close closes the underlying database connection.
func (s *DraftLockStore) Close() error {
	return s.db.Close()
}

// Acquire attempts insert-or-read. The losing caller of the insert race
// reads the existing row to report GENERATION_IN_PROGRESS or
// DRAFT_ALREADY_EXISTS; stale IN_PROGRESS and FAILED rows are taken over by
// a conditional update so a crashed worker cannot wedge the key.
func (s *DraftLockStore) Acquire(ctx context.Context, key store.DraftKey, requestHash string, staleAfter, expiry time.Duration) (*store.DraftAcquire, error) {
	now := s.now().UTC()
	lockID := uuid.New().String()

	const insert = `INSERT INTO draft_locks
(id, business_id, thread_id, source_message_id, status, request_hash, started_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, insert,
		lockID,
		key.BusinessID,
		key.ThreadID,
		key.SourceMessageID,
		string(store.DraftLockInProgress),
		requestHash,
		formatTime(now),
		formatTime(now.Add(expiry)),
	)
	if err == nil {
		return &store.DraftAcquire{Acquired: true, LockID: lockID}, nil
	}

	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeDraftAcquireFailure, "inserting draft lock",
			halodeskerr.FieldBusinessID(key.BusinessID),
			halodeskerr.Field("thread_id", key.ThreadID),
		)
	}

	// Lost the insert race (or a prior attempt exists). Read the row.
	const read = `SELECT id, status, result_id, started_at FROM draft_locks
WHERE business_id = ? AND thread_id = ? AND source_message_id = ?`

	var existingID, status, resultID, startedAt string
	err = s.db.QueryRowContext(ctx, read, key.BusinessID, key.ThreadID, key.SourceMessageID).
		Scan(&existingID, &status, &resultID, &startedAt)
	if err != nil {
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeDraftAcquireFailure, "reading existing draft lock")
	}

	switch store.DraftLockStatus(status) {
	case store.DraftLockCompleted:
		return &store.DraftAcquire{Reason: store.DraftReasonAlreadyExists, ExistingID: resultID}, nil

	case store.DraftLockInProgress:
		if now.Sub(parseTime(startedAt)) < staleAfter {
			return &store.DraftAcquire{Reason: store.DraftReasonInProgress}, nil
		}
		// Abandoned lock: race the takeover. The status and started_at
		// predicates guarantee exactly one caller wins.
		return s.takeover(ctx, key, lockID, requestHash, store.DraftLockInProgress, startedAt, now, expiry)

	case store.DraftLockFailed:
		return s.takeover(ctx, key, lockID, requestHash, store.DraftLockFailed, startedAt, now, expiry)
	}

	return nil, halodeskerr.Errorf(halodeskerr.CodeDraftAcquireFailure, "draft lock in unknown status %q", status)
}

func (s *DraftLockStore) takeover(ctx context.Context, key store.DraftKey, lockID, requestHash string, fromStatus store.DraftLockStatus, startedAt string, now time.Time, expiry time.Duration) (*store.DraftAcquire, error) {
	const q = `UPDATE draft_locks SET
id = ?, status = ?, request_hash = ?, result_id = '', fail_reason = '', started_at = ?, expires_at = ?
WHERE business_id = ? AND thread_id = ? AND source_message_id = ? AND status = ? AND started_at = ?`

	result, err := s.db.ExecContext(ctx, q,
		lockID,
		string(store.DraftLockInProgress),
		requestHash,
		formatTime(now),
		formatTime(now.Add(expiry)),
		key.BusinessID,
		key.ThreadID,
		key.SourceMessageID,
		string(fromStatus),
		startedAt,
	)
	if err != nil {
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeDraftAcquireFailure, "taking over draft lock")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeDraftAcquireFailure, "checking takeover rows")
	}
	if rows == 0 {
		// Another caller took it over first.
		return &store.DraftAcquire{Reason: store.DraftReasonInProgress}, nil
	}
	return &store.DraftAcquire{Acquired: true, LockID: lockID}, nil
}

func (s *DraftLockStore) Complete(ctx context.Context, lockID, resultID string) error {
	return s.transition(ctx, lockID, store.DraftLockCompleted, resultID, "")
}

func (s *DraftLockStore) Fail(ctx context.Context, lockID, reason string) error {
	return s.transition(ctx, lockID, store.DraftLockFailed, "", reason)
}

func (s *DraftLockStore) transition(ctx context.Context, lockID string, status store.DraftLockStatus, resultID, failReason string) error {
	const q = `UPDATE draft_locks SET status = ?, result_id = ?, fail_reason = ? WHERE id = ?`

	result, err := s.db.ExecContext(ctx, q, string(status), resultID, failReason, lockID)
	if err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "updating draft lock",
			halodeskerr.Field("lock_id", lockID))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "checking rows affected",
			halodeskerr.Field("lock_id", lockID))
	}
	if rows == 0 {
		// The lock was taken over while this worker was generating. Its
		// result is discarded; the takeover owner's result wins.
		return halodeskerr.New(halodeskerr.CodeStoreStateGetNotFound, "draft lock no longer held",
			halodeskerr.Field("lock_id", lockID))
	}
	return nil
}

func (s *DraftLockStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM draft_locks WHERE expires_at < ?`, formatTime(s.now().UTC()))
	if err != nil {
		return 0, halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "cleaning up draft locks")
	}
	return result.RowsAffected()
}
