package api

import (
	"time"

	"github.com/wardenhq/warden/internal/killswitch"
)

// SubmitRequest is the JSON body for POST /command.
type SubmitRequest struct {
	Type        string            `json:"type"`
	Params      map[string]string `json:"params"`
	SubmittedBy string            `json:"submitted_by,omitempty"`
}

// AnalyzeRequest is the JSON body for POST /analyze.
type AnalyzeRequest struct {
	Description string `json:"description"`
}

// ApprovalRequest is the JSON body for POST /approval.
type ApprovalRequest struct {
	LedgerEntryID string `json:"ledger_entry_id"`
	Decision      string `json:"decision"` // approve, deny, cancel
	DecidedBy     string `json:"decided_by,omitempty"`
}

// TokenRequest is the JSON body for POST /approval/token.
type TokenRequest struct {
	Type     string            `json:"type"`
	Params   map[string]string `json:"params"`
	IssuedBy string            `json:"issued_by,omitempty"`
}

// TokenResponse is returned on successful token issue.
type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// KillSwitchRequest is the JSON body for PUT /kill_switch.
type KillSwitchRequest struct {
	On        bool   `json:"on"`
	ChangedBy string `json:"changed_by,omitempty"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string           `json:"status"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	QueueDepth    int              `json:"queue_depth"`
	ChainHeadSeq  int64            `json:"chain_head_seq"`
	KillSwitch    killswitch.State `json:"kill_switch"`
}
