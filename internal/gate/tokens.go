package gate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL is the freshness window for override tokens.
const DefaultTokenTTL = 15 * time.Minute

// TokenStore issues and consumes single-use approval override tokens bound
// to a command fingerprint.
type TokenStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewTokenStore creates a TokenStore. A non-positive ttl uses the default.
func NewTokenStore(db *sql.DB, ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{db: db, ttl: ttl}
}

// Issue mints a token for the fingerprint, valid for the store's TTL.
func (s *TokenStore) Issue(ctx context.Context, fingerprint, issuedBy string) (string, time.Time, error) {
	if fingerprint == "" {
		return "", time.Time{}, fmt.Errorf("fingerprint is empty")
	}
	if issuedBy == "" {
		return "", time.Time{}, fmt.Errorf("issuedBy is empty")
	}

	token := uuid.NewString()
	now := time.Now().UTC()
	expires := now.Add(s.ttl)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO approval_tokens(token, fingerprint, issued_by, issued_at, expires_at)
VALUES(?, ?, ?, ?, ?);
`, token, fingerprint, issuedBy, now.Format(time.RFC3339Nano), expires.Format(time.RFC3339Nano))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue approval token: %w", err)
	}
	return token, expires, nil
}

// Consume atomically spends one unexpired, unused token for the fingerprint.
// Returns false when no valid token exists. Tokens are never reusable.
func (s *TokenStore) Consume(ctx context.Context, fingerprint string) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
UPDATE approval_tokens
SET used_at = ?
WHERE token = (
  SELECT token FROM approval_tokens
  WHERE fingerprint = ? AND used_at IS NULL AND expires_at > ?
  ORDER BY issued_at ASC
  LIMIT 1
);
`, now, fingerprint, now)
	if err != nil {
		return false, fmt.Errorf("consume approval token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume approval token: %w", err)
	}
	return n == 1, nil
}

// Prune deletes tokens that expired before cutoff. Housekeeping only; expiry
// is already enforced at consumption.
func (s *TokenStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM approval_tokens WHERE expires_at < ?;", cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune approval tokens: %w", err)
	}
	return res.RowsAffected()
}
