// Package command defines the validated Command record and the normalizer
// that turns raw submissions into candidates.
package command

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

// Command is a normalized command submission. Created once at normalization;
// never mutated after validation.
type Command struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Params      map[string]string `json:"params"`
	SubmittedBy string            `json:"submitted_by"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Fingerprint returns the BLAKE3 digest of the canonical (type, params)
// rendering. Used for dedupe and approval-token matching; submitter and
// timestamp are deliberately excluded.
func (c Command) Fingerprint() string {
	sum := blake3.Sum256([]byte(c.canonical()))
	return hex.EncodeToString(sum[:])
}

// Text renders the command as a human-readable "TYPE k=v k=v" line for
// ledger entries.
func (c Command) Text() string {
	return c.canonical()
}

func (c Command) canonical() string {
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(c.Type)
	for _, k := range keys {
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(c.Params[k])
	}
	return b.String()
}

// newCommand stamps identity and submission metadata onto a raw (type, params)
// pair. Params are copied so later pipeline stages own an immutable record.
func newCommand(commandType string, params map[string]string, submittedBy string) Command {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return Command{
		ID:          uuid.NewString(),
		Type:        strings.ToUpper(strings.TrimSpace(commandType)),
		Params:      copied,
		SubmittedBy: submittedBy,
		SubmittedAt: time.Now().UTC(),
	}
}

// NewID returns a fresh command id. Used when a rejected submission never
// produced a Command but still needs a ledger identity.
func NewID() string {
	return uuid.NewString()
}

// IsRevert reports whether the command reverses a previously executed action.
func (c Command) IsRevert() bool {
	return c.Type == "REVERT_ACTION"
}

// RevertTarget returns the ledger command id a REVERT_ACTION references.
func (c Command) RevertTarget() string {
	return c.Params["action_id"]
}

func (c Command) String() string {
	return fmt.Sprintf("%s (%s)", c.Text(), c.ID)
}
