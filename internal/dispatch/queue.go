package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/command"
)

// Status of a queued dispatch job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusBlocked   Status = "blocked"
)

// Job is one queued command awaiting delivery to its executor.
type Job struct {
	ID          string
	CommandID   string
	CommandType string
	Command     command.Command
	Status      Status
	Attempt     int
	MaxAttempts int
	SubmittedBy string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	NextRetryAt *time.Time
	LastError   *string
}

var ErrJobNotFound = errors.New("dispatch job not found")

// Queue is the durable dispatch queue. Ordering is FIFO within a command
// type; each type is drained by a single lane that only ever claims the
// head of the lane, so a job backing off after a transient failure holds
// the lane and younger jobs never overtake it.
type Queue struct {
	db *sql.DB
}

func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue adds an approved command to its type lane.
func (q *Queue) Enqueue(ctx context.Context, cmd command.Command, maxAttempts int) (string, error) {
	if cmd.ID == "" {
		return "", fmt.Errorf("command id is empty")
	}
	if cmd.Type == "" {
		return "", fmt.Errorf("command type is empty")
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}

	id := uuid.NewString()
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = q.db.ExecContext(ctx, `
INSERT INTO dispatch_queue(
  id, command_id, command_type, command_json, status, attempt, max_attempts, submitted_by, created_at
)
VALUES(?, ?, ?, ?, ?, 1, ?, ?, ?);
`, id, cmd.ID, cmd.Type, string(payload), StatusQueued, maxAttempts, cmd.SubmittedBy, now)
	if err != nil {
		return "", fmt.Errorf("enqueue dispatch job: %w", err)
	}
	return id, nil
}

// DequeueForType claims the head of the type's lane (oldest queued job) and
// marks it sending. Returns (nil, nil) when the lane is empty or its head is
// still backing off; younger jobs wait behind a retrying head.
func (q *Queue) DequeueForType(ctx context.Context, commandType string) (*Job, error) {
	now := time.Now().UTC()
	nowS := now.Format(time.RFC3339Nano)

	row := q.db.QueryRowContext(ctx, `
WITH head AS (
  SELECT id, next_retry_at
  FROM dispatch_queue
  WHERE command_type = ? AND status = ?
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE dispatch_queue
SET status = ?, started_at = ?
WHERE id IN (SELECT id FROM head WHERE next_retry_at IS NULL OR next_retry_at <= ?)
RETURNING
  id, command_id, command_type, command_json, status, attempt, max_attempts, submitted_by,
  created_at, started_at, completed_at, next_retry_at, last_error;
`, commandType, StatusQueued, StatusSending, nowS, nowS)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue dispatch job: %w", err)
	}
	return job, nil
}

// Retry requeues a job after a transient send failure with its next attempt
// and backoff deadline.
func (q *Queue) Retry(ctx context.Context, jobID string, lastError string, nextRetryAt time.Time) error {
	res, err := q.db.ExecContext(ctx, `
UPDATE dispatch_queue
SET status = ?, attempt = attempt + 1, next_retry_at = ?, last_error = ?
WHERE id = ? AND status = ?;
`, StatusQueued, nextRetryAt.UTC().Format(time.RFC3339Nano), lastError, jobID, StatusSending)
	if err != nil {
		return fmt.Errorf("retry dispatch job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("retry dispatch job: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Complete marks a job terminal.
func (q *Queue) Complete(ctx context.Context, jobID string, status Status, lastError *string) error {
	if status != StatusDelivered && status != StatusFailed && status != StatusBlocked {
		return fmt.Errorf("invalid terminal status: %q", status)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	res, err := q.db.ExecContext(ctx, `
UPDATE dispatch_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE id = ?;
`, status, now, lastError, jobID)
	if err != nil {
		return fmt.Errorf("complete dispatch job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete dispatch job: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Depth counts jobs still queued or sending.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var depth int
	err := q.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dispatch_queue WHERE status IN (?, ?);", StatusQueued, StatusSending).Scan(&depth)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return depth, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j            Job
		payload      string
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		nextRetryAtS sql.NullString
		lastError    sql.NullString
	)
	err := row.Scan(
		&j.ID, &j.CommandID, &j.CommandType, &payload, &statusS, &j.Attempt, &j.MaxAttempts, &j.SubmittedBy,
		&createdAtS, &startedAtS, &completedAtS, &nextRetryAtS, &lastError,
	)
	if err != nil {
		return nil, err
	}

	j.Status = Status(statusS)
	if err := json.Unmarshal([]byte(payload), &j.Command); err != nil {
		return nil, fmt.Errorf("unmarshal queued command: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAtS); err == nil {
		j.CreatedAt = t
	}
	if startedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAtS.String); err == nil {
			j.StartedAt = &t
		}
	}
	if completedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAtS.String); err == nil {
			j.CompletedAt = &t
		}
	}
	if nextRetryAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, nextRetryAtS.String); err == nil {
			j.NextRetryAt = &t
		}
	}
	if lastError.Valid {
		j.LastError = &lastError.String
	}
	return &j, nil
}
