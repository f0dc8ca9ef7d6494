package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/command"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/killswitch"
	"github.com/wardenhq/warden/internal/ledger"
	"github.com/wardenhq/warden/internal/log"
)

// LedgerAppender is the slice of the ledger writer the dispatcher needs.
type LedgerAppender interface {
	Append(ctx context.Context, draft ledger.Draft) (ledger.Entry, error)
}

// Options tune retry behavior and lane polling.
type Options struct {
	MaxAttempts  int
	BackoffBase  time.Duration
	TickInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 2 * time.Second
	}
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	return o
}

// Dispatcher drains the queue and delivers commands to executors, one lane
// per command type so same-type submission order is preserved.
type Dispatcher struct {
	queue     *Queue
	executors map[string]Executor
	ks        *killswitch.Switch
	ledger    LedgerAppender
	hub       *events.Hub
	opts      Options
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// New creates a Dispatcher. executors maps command type to its worker; types
// without an executor fail terminally at delivery time.
func New(q *Queue, executors map[string]Executor, ks *killswitch.Switch, lw LedgerAppender, hub *events.Hub, opts Options) *Dispatcher {
	return &Dispatcher{
		queue:     q,
		executors: executors,
		ks:        ks,
		ledger:    lw,
		hub:       hub,
		opts:      opts.withDefaults(),
		logger:    log.WithComponent("dispatch"),
	}
}

// Enqueue adds an approved command to the queue under the configured attempt
// ceiling.
func (d *Dispatcher) Enqueue(ctx context.Context, cmd command.Command) (string, error) {
	return d.queue.Enqueue(ctx, cmd, d.opts.MaxAttempts)
}

// Start launches one consumer lane per known command type and blocks until
// ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context, commandTypes []string) error {
	d.logger.Info("dispatch lanes starting", "lanes", len(commandTypes))
	defer d.logger.Info("dispatch lanes stopped")

	for _, typ := range commandTypes {
		d.wg.Add(1)
		go func(commandType string) {
			defer d.wg.Done()
			d.runLane(ctx, commandType)
		}(typ)
	}

	<-ctx.Done()
	d.wg.Wait()
	return ctx.Err()
}

// runLane serially drains one command type.
func (d *Dispatcher) runLane(ctx context.Context, commandType string) {
	ticker := time.NewTicker(d.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				processed, err := d.ProcessOnce(ctx, commandType)
				if err != nil {
					d.logger.Error("dequeue failed", "command_type", commandType, "error", err)
					break
				}
				if !processed {
					break
				}
			}
		}
	}
}

// ProcessOnce claims and delivers at most one job from the type's lane.
// Returns false when nothing was due.
func (d *Dispatcher) ProcessOnce(ctx context.Context, commandType string) (bool, error) {
	job, err := d.queue.DequeueForType(ctx, commandType)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	d.deliver(ctx, job)
	return true, nil
}

// deliver attempts one send and resolves the job: terminal ledger entry on
// success, verdict failure, kill switch, or exhausted retries; requeue with
// backoff on transient failure.
func (d *Dispatcher) deliver(ctx context.Context, job *Job) {
	jobLogger := log.WithCommand(job.CommandID).With("job_id", job.ID, "command_type", job.CommandType, "attempt", job.Attempt)

	// Checked immediately before every send; a toggle mid-flight blocks the
	// next job, not this one.
	if d.ks.Engaged() {
		jobLogger.Warn("dispatch blocked by kill switch")
		d.finish(ctx, job, StatusBlocked, ledger.Draft{
			CommandID:   job.CommandID,
			CommandText: job.Command.Text(),
			Fingerprint: job.Command.Fingerprint(),
			Status:      ledger.StatusBlocked,
			Rationale:   "kill switch active",
		})
		return
	}

	executor, ok := d.executors[job.CommandType]
	if !ok {
		jobLogger.Error("no executor registered")
		d.finish(ctx, job, StatusFailed, ledger.Draft{
			CommandID:   job.CommandID,
			CommandText: job.Command.Text(),
			Fingerprint: job.Command.Fingerprint(),
			Status:      ledger.StatusFailed,
			Rationale:   fmt.Sprintf("no executor registered for %s", job.CommandType),
		})
		return
	}

	start := time.Now()
	verdict, err := executor.Execute(ctx, job.Command)
	latency := time.Since(start).Milliseconds()

	d.publish(job, err)

	if err != nil {
		if job.Attempt >= job.MaxAttempts {
			jobLogger.Error("dispatch exhausted retries", "error", err)
			d.finish(ctx, job, StatusFailed, ledger.Draft{
				CommandID:   job.CommandID,
				CommandText: job.Command.Text(),
				Fingerprint: job.Command.Fingerprint(),
				Status:      ledger.StatusFailed,
				Rationale:   "dispatch exhausted retries: " + err.Error(),
				LatencyMs:   latency,
			})
			return
		}

		backoff := d.opts.BackoffBase << (job.Attempt - 1)
		jobLogger.Warn("transient dispatch failure, will retry", "error", err, "backoff", backoff)
		if rerr := d.queue.Retry(ctx, job.ID, err.Error(), time.Now().UTC().Add(backoff)); rerr != nil {
			d.logger.Error("failed to requeue job", "job_id", job.ID, "error", rerr)
		}
		return
	}

	if !verdict.OK {
		jobLogger.Warn("executor reported failure", "detail", verdict.Detail)
		d.finish(ctx, job, StatusFailed, ledger.Draft{
			CommandID:   job.CommandID,
			CommandText: job.Command.Text(),
			Fingerprint: job.Command.Fingerprint(),
			Status:      ledger.StatusFailed,
			Rationale:   "Execution failed: " + verdict.Detail,
			LatencyMs:   latency,
		})
		return
	}

	rationale := verdict.Detail
	if rationale == "" {
		rationale = "executed successfully"
	}

	draft := ledger.Draft{
		CommandID:   job.CommandID,
		CommandText: job.Command.Text(),
		Fingerprint: job.Command.Fingerprint(),
		Status:      ledger.StatusSuccess,
		Rationale:   rationale,
		LatencyMs:   latency,
	}
	// A revert lands as a REVERTED entry against the original command; the
	// original entry is never touched.
	if job.Command.IsRevert() {
		draft.Status = ledger.StatusReverted
		draft.CommandID = job.Command.RevertTarget()
		draft.Rationale = fmt.Sprintf("reverted by %s: %s", job.Command.ID, job.Command.Params["reason"])
	}

	jobLogger.Info("command executed", "latency_ms", latency)
	d.finish(ctx, job, StatusDelivered, draft)
}

func (d *Dispatcher) finish(ctx context.Context, job *Job, status Status, draft ledger.Draft) {
	var lastError *string
	if status != StatusDelivered {
		s := draft.Rationale
		lastError = &s
	}
	if err := d.queue.Complete(ctx, job.ID, status, lastError); err != nil {
		d.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
	}
	entry, err := d.ledger.Append(ctx, draft)
	if err != nil {
		d.logger.Error("failed to append terminal ledger entry", "job_id", job.ID, "error", err)
		return
	}
	if d.hub != nil {
		d.hub.Publish(events.TypeLedgerAppend, entry)
	}
}

func (d *Dispatcher) publish(job *Job, err error) {
	if d.hub == nil {
		return
	}
	payload := map[string]any{
		"job_id":       job.ID,
		"command_id":   job.CommandID,
		"command_type": job.CommandType,
		"attempt":      job.Attempt,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	d.hub.Publish(events.TypeDispatch, payload)
}
