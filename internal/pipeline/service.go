// Package pipeline orchestrates the command lifecycle: normalize, validate,
// gate, ledger, dispatch. Every outcome is both appended to the ledger and
// returned to the caller; nothing is swallowed.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wardenhq/warden/internal/approval"
	"github.com/wardenhq/warden/internal/command"
	"github.com/wardenhq/warden/internal/dispatch"
	"github.com/wardenhq/warden/internal/events"
	"github.com/wardenhq/warden/internal/gate"
	"github.com/wardenhq/warden/internal/interpret"
	"github.com/wardenhq/warden/internal/killswitch"
	"github.com/wardenhq/warden/internal/ledger"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/schema"
)

// ErrNoInterpreter is returned from Analyze when no interpreter endpoint is
// configured.
var ErrNoInterpreter = errors.New("interpreter not configured")

// Receipt is the caller-visible result of a submission. The ledger entry it
// references is already durable.
type Receipt struct {
	LedgerEntryID string              `json:"ledger_entry_id"`
	CommandID     string              `json:"command_id"`
	Status        ledger.Status       `json:"status"`
	Outcome       gate.Outcome        `json:"outcome,omitempty"`
	Rationale     string              `json:"rationale,omitempty"`
	FieldErrors   []schema.FieldError `json:"field_errors,omitempty"`
}

// Rejected reports whether the submission was turned away before dispatch.
func (r Receipt) Rejected() bool {
	return r.Status == ledger.StatusBlocked
}

// Options carries the tunables the pipeline does not own.
type Options struct {
	DedupeWindow time.Duration
}

// Service wires the pipeline stages together.
type Service struct {
	registry   *schema.Registry
	normalizer *command.Normalizer
	gate       *gate.Gate
	tokens     *gate.TokenStore
	ledger     *ledger.Writer
	verifier   *ledger.Verifier
	approvals  *approval.Store
	dispatcher *dispatch.Dispatcher
	ks         *killswitch.Switch
	interp     *interpret.Client
	hub        *events.Hub
	opts       Options
	logger     *slog.Logger
}

// New creates the pipeline service. interp may be nil when no interpreter is
// configured; Analyze then fails with ErrNoInterpreter.
func New(
	registry *schema.Registry,
	g *gate.Gate,
	tokens *gate.TokenStore,
	lw *ledger.Writer,
	verifier *ledger.Verifier,
	approvals *approval.Store,
	dispatcher *dispatch.Dispatcher,
	ks *killswitch.Switch,
	interp *interpret.Client,
	hub *events.Hub,
	opts Options,
) *Service {
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = 2 * time.Minute
	}
	return &Service{
		registry:   registry,
		normalizer: command.NewNormalizer(registry),
		gate:       g,
		tokens:     tokens,
		ledger:     lw,
		verifier:   verifier,
		approvals:  approvals,
		dispatcher: dispatcher,
		ks:         ks,
		interp:     interp,
		hub:        hub,
		opts:       opts,
		logger:     log.WithComponent("pipeline"),
	}
}

// Submit runs one structured submission through the full pipeline. Every
// path appends a ledger entry; the Receipt reports which one.
func (s *Service) Submit(ctx context.Context, sub command.Submission) (Receipt, error) {
	cmd, cs, err := s.normalizer.Normalize(sub)
	if errors.Is(err, command.ErrUnknownType) {
		return s.blockUnknown(ctx, sub, err)
	}
	if err != nil {
		return Receipt{}, err
	}

	logger := s.logger.With("command_id", cmd.ID, "command_type", cmd.Type)

	dup, err := s.ledger.HasActiveFingerprint(ctx, cmd.Fingerprint(), time.Now().Add(-s.opts.DedupeWindow))
	if err != nil {
		return Receipt{}, fmt.Errorf("dedupe check: %w", err)
	}
	if dup {
		logger.Warn("duplicate submission")
		return s.block(ctx, cmd, "duplicate submission")
	}

	if fieldErrs := cs.Validate(cmd.Params); len(fieldErrs) > 0 {
		logger.Warn("validation failed", "fields", len(fieldErrs))
		receipt, err := s.block(ctx, cmd, schema.FailureText(fieldErrs))
		receipt.FieldErrors = fieldErrs
		return receipt, err
	}

	decision, err := s.gate.Decide(ctx, cmd, cs)
	if err != nil {
		return Receipt{}, fmt.Errorf("gate: %w", err)
	}
	logger.Info("gate decision", "outcome", decision.Outcome, "reason", decision.Reason)

	switch decision.Outcome {
	case gate.OutcomeBlocked:
		receipt, err := s.block(ctx, cmd, decision.Reason)
		receipt.Outcome = decision.Outcome
		return receipt, err

	case gate.OutcomePendingApproval:
		entry, err := s.append(ctx, cmd, ledger.StatusPending, decision.Reason)
		if err != nil {
			return Receipt{}, err
		}
		if _, err := s.approvals.Create(ctx, entry.ID, cmd); err != nil {
			return Receipt{}, fmt.Errorf("park approval: %w", err)
		}
		return receiptFor(entry, decision.Outcome), nil

	case gate.OutcomeAutoExecute:
		entry, err := s.append(ctx, cmd, ledger.StatusPending, decision.Reason)
		if err != nil {
			return Receipt{}, err
		}
		if _, err := s.dispatcher.Enqueue(ctx, cmd); err != nil {
			return Receipt{}, fmt.Errorf("enqueue: %w", err)
		}
		return receiptFor(entry, decision.Outcome), nil
	}
	return Receipt{}, fmt.Errorf("unhandled gate outcome %q", decision.Outcome)
}

// Analyze delegates a free-text description to the external interpreter and
// checks every candidate's type against the registry before returning. The
// caller resubmits each candidate through Submit; analysis never dispatches.
func (s *Service) Analyze(ctx context.Context, description string) (*interpret.Result, error) {
	if s.interp == nil {
		return nil, ErrNoInterpreter
	}
	result, err := s.interp.Analyze(ctx, description)
	if err != nil {
		return nil, err
	}
	if _, err := s.normalizer.NormalizeCandidates(result, ""); err != nil {
		return nil, err
	}
	return result, nil
}

// Approve releases a parked command to dispatch. Valid only while the
// referenced entry is PENDING; the transition is recorded as a new append.
func (s *Service) Approve(ctx context.Context, entryID, decidedBy string) (Receipt, error) {
	req, err := s.approvals.Resolve(ctx, entryID, approval.StatusApproved, decidedBy)
	if err != nil {
		return Receipt{}, err
	}
	s.hub.Publish(events.TypeApproval, req)

	entry, err := s.append(ctx, req.Command, ledger.StatusPending, "approved by "+decidedBy)
	if err != nil {
		return Receipt{}, err
	}
	if _, err := s.dispatcher.Enqueue(ctx, req.Command); err != nil {
		return Receipt{}, fmt.Errorf("enqueue: %w", err)
	}
	return receiptFor(entry, gate.OutcomeAutoExecute), nil
}

// Deny resolves a parked command as denied and blocks it in the ledger.
func (s *Service) Deny(ctx context.Context, entryID, decidedBy string) (Receipt, error) {
	req, err := s.approvals.Resolve(ctx, entryID, approval.StatusDenied, decidedBy)
	if err != nil {
		return Receipt{}, err
	}
	s.hub.Publish(events.TypeApproval, req)
	return s.block(ctx, req.Command, "denied by "+decidedBy)
}

// Cancel withdraws a parked command before timeout.
func (s *Service) Cancel(ctx context.Context, entryID, decidedBy string) (Receipt, error) {
	req, err := s.approvals.Resolve(ctx, entryID, approval.StatusCancelled, decidedBy)
	if err != nil {
		return Receipt{}, err
	}
	s.hub.Publish(events.TypeApproval, req)
	return s.block(ctx, req.Command, "cancelled")
}

// ExpireApproval is the sweeper callback: the parked command timed out.
func (s *Service) ExpireApproval(ctx context.Context, req approval.Request) error {
	s.hub.Publish(events.TypeApproval, req)
	_, err := s.block(ctx, req.Command, "approval timed out")
	return err
}

// IssueToken pre-approves one future submission of exactly this (type,
// params) fingerprint. The token is single use.
func (s *Service) IssueToken(ctx context.Context, sub command.Submission, issuedBy string) (string, time.Time, error) {
	if s.tokens == nil {
		return "", time.Time{}, fmt.Errorf("override tokens not configured")
	}
	cmd, _, err := s.normalizer.Normalize(sub)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.tokens.Issue(ctx, cmd.Fingerprint(), issuedBy)
}

// SetKillSwitch toggles the emergency stop and fans the change out.
func (s *Service) SetKillSwitch(ctx context.Context, engaged bool, changedBy string) (killswitch.State, error) {
	state, err := s.ks.Set(ctx, engaged, changedBy)
	if err != nil {
		return killswitch.State{}, err
	}
	s.hub.Publish(events.TypeKillSwitch, state)
	return state, nil
}

// KillSwitch returns the current switch snapshot.
func (s *Service) KillSwitch() killswitch.State {
	return s.ks.State()
}

// QueryLedger serves read-only ledger queries.
func (s *Service) QueryLedger(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	return s.ledger.Query(ctx, f)
}

// Head returns the current chain head.
func (s *Service) Head(ctx context.Context) (ledger.Entry, error) {
	return s.ledger.Head(ctx)
}

// GetEntry returns one ledger entry by id.
func (s *Service) GetEntry(ctx context.Context, id string) (ledger.Entry, error) {
	return s.ledger.Get(ctx, id)
}

// VerifyLedger walks the chain and reports the first broken link, if any.
func (s *Service) VerifyLedger(ctx context.Context) (ledger.Report, error) {
	return s.verifier.Verify(ctx)
}

// PendingApprovals lists parked commands oldest first.
func (s *Service) PendingApprovals(ctx context.Context) ([]approval.Request, error) {
	return s.approvals.Pending(ctx)
}

// blockUnknown ledgers a submission whose type is absent from the registry.
// No dispatch ever occurs for these.
func (s *Service) blockUnknown(ctx context.Context, sub command.Submission, cause error) (Receipt, error) {
	pseudo := command.Command{
		Type:   strings.ToUpper(strings.TrimSpace(sub.Type)),
		Params: sub.Params,
	}
	entry, err := s.ledger.Append(ctx, ledger.Draft{
		CommandID:   command.NewID(),
		CommandText: pseudo.Text(),
		Status:      ledger.StatusBlocked,
		Rationale:   cause.Error(),
	})
	if err != nil {
		return Receipt{}, err
	}
	s.hub.Publish(events.TypeLedgerAppend, entry)
	return receiptFor(entry, gate.OutcomeBlocked), nil
}

func (s *Service) block(ctx context.Context, cmd command.Command, rationale string) (Receipt, error) {
	entry, err := s.append(ctx, cmd, ledger.StatusBlocked, rationale)
	if err != nil {
		return Receipt{}, err
	}
	return receiptFor(entry, gate.OutcomeBlocked), nil
}

func (s *Service) append(ctx context.Context, cmd command.Command, status ledger.Status, rationale string) (ledger.Entry, error) {
	entry, err := s.ledger.Append(ctx, ledger.Draft{
		CommandID:   cmd.ID,
		CommandText: cmd.Text(),
		Fingerprint: cmd.Fingerprint(),
		Status:      status,
		Rationale:   rationale,
	})
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("ledger append: %w", err)
	}
	s.hub.Publish(events.TypeLedgerAppend, entry)
	return entry, nil
}

func receiptFor(entry ledger.Entry, outcome gate.Outcome) Receipt {
	return Receipt{
		LedgerEntryID: entry.ID,
		CommandID:     entry.CommandID,
		Status:        entry.Status,
		Outcome:       outcome,
		Rationale:     entry.Rationale,
	}
}
