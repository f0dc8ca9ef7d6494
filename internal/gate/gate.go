// Package gate maps (severity, kill-switch state, approval state) to an
// autonomy decision. The decision table is pure apart from token consumption.
package gate

import (
	"context"
	"fmt"

	"github.com/wardenhq/warden/internal/command"
	"github.com/wardenhq/warden/internal/killswitch"
	"github.com/wardenhq/warden/internal/schema"
)

// Outcome is the gate's verdict for a command.
type Outcome string

const (
	OutcomeAutoExecute     Outcome = "AUTO_EXECUTE"
	OutcomePendingApproval Outcome = "PENDING_APPROVAL"
	OutcomeBlocked         Outcome = "BLOCKED"
)

// Decision carries the outcome and a human-readable reason.
type Decision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason"`
}

// Rationale strings for blocked decisions. These land verbatim in ledger
// entries, so they are fixed.
const (
	ReasonKillSwitch    = "kill switch active"
	ReasonPolicyBlocked = "blocked by policy"
)

// Policy configures which severities may execute without approval. The
// default requires approval for anything above low.
type Policy struct {
	AutoExecuteMaxSeverity schema.Severity
}

// DefaultPolicy returns the stock policy: only low severity auto-executes.
func DefaultPolicy() Policy {
	return Policy{AutoExecuteMaxSeverity: schema.SeverityLow}
}

// Gate evaluates the autonomy decision table.
type Gate struct {
	ks     *killswitch.Switch
	tokens *TokenStore
	policy Policy
}

// New creates a Gate. tokens may be nil, in which case override tokens are
// never honored.
func New(ks *killswitch.Switch, tokens *TokenStore, policy Policy) *Gate {
	if policy.AutoExecuteMaxSeverity == "" {
		policy = DefaultPolicy()
	}
	return &Gate{ks: ks, tokens: tokens, policy: policy}
}

// Decide evaluates the table in order: kill switch, policy block, severity,
// override token. A consumed token is single use; when the command later
// fails dispatch the token is not restored.
func (g *Gate) Decide(ctx context.Context, cmd command.Command, cs schema.CommandSchema) (Decision, error) {
	if g.ks.Engaged() {
		return Decision{Outcome: OutcomeBlocked, Reason: ReasonKillSwitch}, nil
	}
	if cs.Blocked {
		return Decision{Outcome: OutcomeBlocked, Reason: ReasonPolicyBlocked}, nil
	}
	if g.policy.AutoExecuteMaxSeverity.AtLeast(cs.Severity) {
		return Decision{Outcome: OutcomeAutoExecute, Reason: fmt.Sprintf("severity %s auto-executes", cs.Severity)}, nil
	}

	if g.tokens != nil {
		consumed, err := g.tokens.Consume(ctx, cmd.Fingerprint())
		if err != nil {
			return Decision{}, fmt.Errorf("consume approval token: %w", err)
		}
		if consumed {
			return Decision{Outcome: OutcomeAutoExecute, Reason: "pre-approved by override token"}, nil
		}
	}
	return Decision{
		Outcome: OutcomePendingApproval,
		Reason:  fmt.Sprintf("severity %s requires approval", cs.Severity),
	}, nil
}
