package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ledger (
  seq          INTEGER PRIMARY KEY AUTOINCREMENT,
  id           TEXT NOT NULL UNIQUE,
  command_id   TEXT NOT NULL,
  command_text TEXT NOT NULL,
  fingerprint  TEXT NOT NULL DEFAULT '',
  status       TEXT NOT NULL,
  rationale    TEXT NOT NULL,
  timestamp    TEXT NOT NULL,
  latency_ms   INTEGER NOT NULL DEFAULT 0,
  signed_by    TEXT NOT NULL,
  signature    TEXT NOT NULL,
  proof        TEXT NOT NULL,
  prev_proof   TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS dispatch_queue (
  id            TEXT PRIMARY KEY,
  command_id    TEXT NOT NULL,
  command_type  TEXT NOT NULL,
  command_json  JSON NOT NULL,
  status        TEXT NOT NULL,
  attempt       INTEGER NOT NULL DEFAULT 1,
  max_attempts  INTEGER NOT NULL DEFAULT 3,
  submitted_by  TEXT NOT NULL,
  created_at    TEXT NOT NULL,
  started_at    TEXT,
  completed_at  TEXT,
  next_retry_at TEXT,
  last_error    TEXT
);`,
		`CREATE TABLE IF NOT EXISTS approvals (
  entry_id     TEXT PRIMARY KEY,
  command_id   TEXT NOT NULL,
  command_json JSON NOT NULL,
  fingerprint  TEXT NOT NULL,
  status       TEXT NOT NULL,
  requested_at TEXT NOT NULL,
  expires_at   TEXT NOT NULL,
  decided_at   TEXT,
  decided_by   TEXT
);`,
		`CREATE TABLE IF NOT EXISTS approval_tokens (
  token       TEXT PRIMARY KEY,
  fingerprint TEXT NOT NULL,
  issued_by   TEXT NOT NULL,
  issued_at   TEXT NOT NULL,
  expires_at  TEXT NOT NULL,
  used_at     TEXT
);`,
		`CREATE TABLE IF NOT EXISTS kill_switch_log (
  seq        INTEGER PRIMARY KEY AUTOINCREMENT,
  engaged    INTEGER NOT NULL,
  changed_by TEXT NOT NULL,
  changed_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS ledger_command_id_idx ON ledger(command_id);`,
		`CREATE INDEX IF NOT EXISTS ledger_status_timestamp_idx ON ledger(status, timestamp);`,
		`CREATE INDEX IF NOT EXISTS ledger_fingerprint_idx ON ledger(fingerprint, timestamp);`,
		`CREATE INDEX IF NOT EXISTS dispatch_queue_type_status_idx ON dispatch_queue(command_type, status, created_at);`,
		`CREATE INDEX IF NOT EXISTS approvals_status_expires_idx ON approvals(status, expires_at);`,
		`CREATE INDEX IF NOT EXISTS approval_tokens_fingerprint_idx ON approval_tokens(fingerprint, expires_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
