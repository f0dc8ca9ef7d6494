package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wardenhq/warden/internal/interpret"
	"github.com/wardenhq/warden/internal/schema"
)

// ErrUnknownType marks a submission whose type is absent from the registry.
var ErrUnknownType = errors.New("unknown command type")

// Submission is a raw structured submission, from a form or an API caller.
type Submission struct {
	Type        string            `json:"type"`
	Params      map[string]string `json:"params"`
	SubmittedBy string            `json:"submitted_by,omitempty"`
}

// Normalizer turns raw submissions into candidate Commands, rejecting
// unknown types before anything reaches the ledger or the gate.
type Normalizer struct {
	registry *schema.Registry
}

// NewNormalizer creates a Normalizer over the given registry.
func NewNormalizer(registry *schema.Registry) *Normalizer {
	return &Normalizer{registry: registry}
}

// Normalize converts a structured submission into a Command. The type is
// trimmed and uppercased; unknown types fail with ErrUnknownType.
func (n *Normalizer) Normalize(sub Submission) (Command, schema.CommandSchema, error) {
	typ := strings.ToUpper(strings.TrimSpace(sub.Type))
	if typ == "" {
		return Command{}, schema.CommandSchema{}, fmt.Errorf("%w: empty type", ErrUnknownType)
	}
	cs, ok := n.registry.Lookup(typ)
	if !ok {
		return Command{}, schema.CommandSchema{}, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	submittedBy := strings.TrimSpace(sub.SubmittedBy)
	if submittedBy == "" {
		submittedBy = "operator"
	}
	return newCommand(typ, sub.Params, submittedBy), cs, nil
}

// NormalizeCandidates converts interpreter output into Commands. If the
// interpreter produced no commands, or any candidate's type is unknown, the
// whole batch fails with the interpreter's reason surfaced verbatim; no
// partial commands proceed.
func (n *Normalizer) NormalizeCandidates(result *interpret.Result, submittedBy string) ([]Command, error) {
	if result == nil || len(result.Commands) == 0 {
		reason := "interpreter produced no commands"
		if result != nil && result.Reason != "" {
			reason = result.Reason
		}
		return nil, fmt.Errorf("normalize candidates: %s", reason)
	}

	commands := make([]Command, 0, len(result.Commands))
	for _, cand := range result.Commands {
		cmd, _, err := n.Normalize(Submission{
			Type:        cand.CommandType,
			Params:      cand.Params,
			SubmittedBy: submittedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("candidate %q: %w", cand.CommandType, err)
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}
