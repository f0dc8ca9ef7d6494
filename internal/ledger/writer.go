package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/log"
)

// ErrNotFound marks a missing ledger entry.
var ErrNotFound = errors.New("ledger entry not found")

// Draft is the caller-supplied portion of a new entry. Identity, timestamp,
// signer, and chain linkage are stamped by the Writer.
type Draft struct {
	CommandID   string
	CommandText string
	Fingerprint string
	Status      Status
	Rationale   string
	LatencyMs   int64
}

// Writer is the single authority appending to the chain. Appends are
// linearized by a mutex plus a transaction so prevProof linkage always holds;
// the head only advances after the durable insert commits.
type Writer struct {
	db       *sql.DB
	signer   *Signer
	signedBy string

	mu sync.Mutex
}

// NewWriter creates the ledger writer. signedBy identifies the appending
// component in every entry.
func NewWriter(db *sql.DB, signer *Signer, signedBy string) *Writer {
	if signedBy == "" {
		signedBy = "warden"
	}
	return &Writer{db: db, signer: signer, signedBy: signedBy}
}

// Append computes the proof against the current head, signs it, and stores
// the entry atomically. The returned Entry is durable.
func (w *Writer) Append(ctx context.Context, draft Draft) (Entry, error) {
	if draft.CommandID == "" {
		return Entry{}, fmt.Errorf("draft command id is empty")
	}
	if _, err := ParseStatus(string(draft.Status)); err != nil {
		return Entry{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	prevProof := GenesisProof
	var headSeq int64
	err = tx.QueryRowContext(ctx, "SELECT seq, proof FROM ledger ORDER BY seq DESC LIMIT 1;").Scan(&headSeq, &prevProof)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("read chain head: %w", err)
	}

	entry := Entry{
		ID:          uuid.NewString(),
		CommandID:   draft.CommandID,
		CommandText: draft.CommandText,
		Fingerprint: draft.Fingerprint,
		Status:      draft.Status,
		Rationale:   draft.Rationale,
		Timestamp:   time.Now().UTC(),
		LatencyMs:   draft.LatencyMs,
		SignedBy:    w.signedBy,
		PrevProof:   prevProof,
	}
	entry.Proof = entry.ComputeProof(prevProof)
	entry.Signature, err = w.signer.Sign(entry.Proof)
	if err != nil {
		return Entry{}, err
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO ledger(
  id, command_id, command_text, fingerprint, status, rationale,
  timestamp, latency_ms, signed_by, signature, proof, prev_proof
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		entry.ID, entry.CommandID, entry.CommandText, entry.Fingerprint, string(entry.Status), entry.Rationale,
		entry.Timestamp.Format(time.RFC3339Nano), entry.LatencyMs, entry.SignedBy, entry.Signature, entry.Proof, entry.PrevProof,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("append ledger entry: %w", err)
	}
	if entry.Seq, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("read appended seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit ledger append: %w", err)
	}

	log.WithComponent("ledger").Debug("entry appended",
		"entry_id", entry.ID, "command_id", entry.CommandID, "status", string(entry.Status), "seq", entry.Seq)
	return entry, nil
}

// HasActiveFingerprint reports whether an accepted entry (anything other than
// BLOCKED) with the fingerprint exists at or after since. Used for the
// dedupe window: blocked submissions never suppress a retry.
func (w *Writer) HasActiveFingerprint(ctx context.Context, fingerprint string, since time.Time) (bool, error) {
	if fingerprint == "" {
		return false, nil
	}
	var one int
	err := w.db.QueryRowContext(ctx, `
SELECT 1 FROM ledger
WHERE fingerprint = ? AND timestamp >= ? AND status != ?
LIMIT 1;
`, fingerprint, since.UTC().Format(time.RFC3339Nano), string(StatusBlocked)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check fingerprint: %w", err)
	}
	return true, nil
}

// Head returns the latest entry, or ErrNotFound on an empty chain.
func (w *Writer) Head(ctx context.Context) (Entry, error) {
	return w.scanOne(ctx, "SELECT "+entryColumns+" FROM ledger ORDER BY seq DESC LIMIT 1;")
}

// Get returns the entry with the given id.
func (w *Writer) Get(ctx context.Context, id string) (Entry, error) {
	return w.scanOne(ctx, "SELECT "+entryColumns+" FROM ledger WHERE id = ?;", id)
}

// Filter selects ledger entries for queries. Zero values are ignored.
type Filter struct {
	CommandID    string
	Status       Status
	TextContains string
	Since        time.Time
	Until        time.Time
	Limit        int
}

// Query lists entries matching the filter in append order.
func (w *Writer) Query(ctx context.Context, f Filter) ([]Entry, error) {
	q := "SELECT " + entryColumns + " FROM ledger WHERE 1=1"
	var args []any
	if f.CommandID != "" {
		q += " AND command_id = ?"
		args = append(args, f.CommandID)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.TextContains != "" {
		q += " AND command_text LIKE ?"
		args = append(args, "%"+f.TextContains+"%")
	}
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}
	if !f.Until.IsZero() {
		q += " AND timestamp <= ?"
		args = append(args, f.Until.UTC().Format(time.RFC3339Nano))
	}
	q += " ORDER BY seq ASC"
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := w.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

const entryColumns = "seq, id, command_id, command_text, fingerprint, status, rationale, timestamp, latency_ms, signed_by, signature, proof, prev_proof"

type rowScanner interface {
	Scan(dest ...any) error
}

func (w *Writer) scanOne(ctx context.Context, query string, args ...any) (Entry, error) {
	entry, err := scanEntry(w.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var status, ts string
	if err := row.Scan(
		&e.Seq, &e.ID, &e.CommandID, &e.CommandText, &e.Fingerprint, &status, &e.Rationale,
		&ts, &e.LatencyMs, &e.SignedBy, &e.Signature, &e.Proof, &e.PrevProof,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan ledger entry: %w", err)
	}
	e.Status = Status(status)
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		e.Timestamp = t
	}
	return e, nil
}
