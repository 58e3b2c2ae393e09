// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/halodesk/halodesk/internal/store"
	halodeskerr "github.com/halodesk/halodesk/pkg/errors"
)

// Compile-time interface check.
var _ store.AuditStore = (*AuditStore)(nil)

// AuditStore implements store.AuditStore backed by SQLite.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore opens (or creates) a SQLite database at dbPath and
// initialises the audit_log table.
func NewAuditStore(dbPath string) (*AuditStore, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	if err := migrateAudit(db); err != nil {
		db.Close()
		return nil, halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "migrating audit log")
	}

	return &AuditStore{db: db}, nil
}

func migrateAudit(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	timestamp   TEXT NOT NULL,
	action      TEXT NOT NULL,
	business_id TEXT NOT NULL DEFAULT '',
	session_key TEXT NOT NULL DEFAULT '',
	tool        TEXT NOT NULL DEFAULT '',
	details     TEXT NOT NULL DEFAULT '{}',
	result      TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_log_session ON audit_log(session_key, timestamp);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

func (s *AuditStore) Append(ctx context.Context, entry *store.AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreInvalidInput, "marshalling audit details")
	}

	const q = `INSERT INTO audit_log (id, timestamp, action, business_id, session_key, tool, details, result)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, q,
		entry.ID,
		formatTime(entry.Timestamp),
		entry.Action,
		entry.BusinessID,
		entry.SessionKey,
		entry.Tool,
		string(details),
		entry.Result,
	)
	if err != nil {
		return halodeskerr.Wrap(err, halodeskerr.CodeStoreDatabaseFailure, "appending audit entry")
	}
	return nil
}
