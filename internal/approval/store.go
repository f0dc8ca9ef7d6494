// Package approval tracks commands parked for human sign-off.
//
// A pending approval is keyed by the ledger entry that recorded the
// PENDING decision. It resolves exactly once: approved, denied,
// cancelled, or expired by the sweeper.
package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/command"
)

// Resolution states for a parked command.
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusDenied    = "denied"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// DefaultTimeout is how long an approval waits before the sweeper
// expires it.
const DefaultTimeout = 24 * time.Hour

var (
	ErrNotFound   = errors.New("approval not found")
	ErrNotPending = errors.New("approval already resolved")
)

// Request is one command awaiting a decision.
type Request struct {
	EntryID     string
	CommandID   string
	Command     command.Command
	Fingerprint string
	Status      string
	RequestedAt time.Time
	ExpiresAt   time.Time
	DecidedAt   time.Time
	DecidedBy   string
}

// Store persists approval requests in the shared SQLite database.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

func NewStore(db *sql.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{db: db, timeout: timeout}
}

// Create parks cmd under the ledger entry that recorded its PENDING
// decision.
func (s *Store) Create(ctx context.Context, entryID string, cmd command.Command) (Request, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return Request{}, fmt.Errorf("encode command: %w", err)
	}

	now := time.Now().UTC()
	req := Request{
		EntryID:     entryID,
		CommandID:   cmd.ID,
		Command:     cmd,
		Fingerprint: cmd.Fingerprint(),
		Status:      StatusPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(s.timeout),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (entry_id, command_id, command_json, fingerprint, status, requested_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.EntryID, req.CommandID, string(payload), req.Fingerprint, req.Status,
		req.RequestedAt.Format(time.RFC3339Nano), req.ExpiresAt.Format(time.RFC3339Nano))
	if err != nil {
		return Request{}, fmt.Errorf("insert approval: %w", err)
	}
	return req, nil
}

// Resolve moves a pending request to the given terminal status. It
// returns ErrNotPending if the request was already decided, so races
// between an operator and the sweeper settle on exactly one outcome.
func (s *Store) Resolve(ctx context.Context, entryID, status, decidedBy string) (Request, error) {
	switch status {
	case StatusApproved, StatusDenied, StatusCancelled, StatusExpired:
	default:
		return Request{}, fmt.Errorf("invalid resolution %q", status)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals SET status = ?, decided_at = ?, decided_by = ?
		WHERE entry_id = ? AND status = ?`,
		status, now.Format(time.RFC3339Nano), decidedBy, entryID, StatusPending)
	if err != nil {
		return Request{}, fmt.Errorf("resolve approval: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Request{}, err
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, entryID); getErr != nil {
			return Request{}, getErr
		}
		return Request{}, ErrNotPending
	}
	return s.Get(ctx, entryID)
}

// Get returns the request parked under entryID.
func (s *Store) Get(ctx context.Context, entryID string) (Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT entry_id, command_id, command_json, fingerprint, status, requested_at, expires_at,
		       COALESCE(decided_at, ''), COALESCE(decided_by, '')
		FROM approvals WHERE entry_id = ?`, entryID)
	return scanRequest(row)
}

// Pending lists unresolved requests oldest first.
func (s *Store) Pending(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, command_id, command_json, fingerprint, status, requested_at, expires_at,
		       COALESCE(decided_at, ''), COALESCE(decided_by, '')
		FROM approvals WHERE status = ? ORDER BY requested_at`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Due lists pending requests whose deadline has passed as of now.
func (s *Store) Due(ctx context.Context, now time.Time) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entry_id, command_id, command_json, fingerprint, status, requested_at, expires_at,
		       COALESCE(decided_at, ''), COALESCE(decided_by, '')
		FROM approvals WHERE status = ? AND expires_at <= ? ORDER BY expires_at`,
		StatusPending, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var req Request
	var commandJSON, requestedAt, expiresAt, decidedAt string
	err := row.Scan(&req.EntryID, &req.CommandID, &commandJSON, &req.Fingerprint,
		&req.Status, &requestedAt, &expiresAt, &decidedAt, &req.DecidedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, err
	}
	if err := json.Unmarshal([]byte(commandJSON), &req.Command); err != nil {
		return Request{}, fmt.Errorf("decode command: %w", err)
	}
	req.RequestedAt, _ = time.Parse(time.RFC3339Nano, requestedAt)
	req.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
	if decidedAt != "" {
		req.DecidedAt, _ = time.Parse(time.RFC3339Nano, decidedAt)
	}
	return req, nil
}
