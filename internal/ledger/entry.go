// Package ledger implements the append-only, hash-chained audit ledger.
// Every command lifecycle event is recorded as an Entry whose proof binds it
// to its predecessor; the chain is verifiable from genesis and never edited.
package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Status is the machine-checkable outcome of a ledger entry. It is always
// one of these five values, never free text.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusBlocked  Status = "BLOCKED"
	StatusReverted Status = "REVERTED"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending, nil
	case StatusSuccess:
		return StatusSuccess, nil
	case StatusFailed:
		return StatusFailed, nil
	case StatusBlocked:
		return StatusBlocked, nil
	case StatusReverted:
		return StatusReverted, nil
	default:
		return "", fmt.Errorf("unknown ledger status %q", s)
	}
}

// GenesisProof anchors the first entry of every chain.
const GenesisProof = "warden-genesis"

// Entry is one immutable ledger record.
type Entry struct {
	Seq         int64     `json:"seq"`
	ID          string    `json:"id"`
	CommandID   string    `json:"command_id"`
	CommandText string    `json:"command_text"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Status      Status    `json:"status"`
	Rationale   string    `json:"rationale"`
	Timestamp   time.Time `json:"timestamp"`
	LatencyMs   int64     `json:"latency_ms"`
	SignedBy    string    `json:"signed_by"`
	Signature   string    `json:"signature"`
	Proof       string    `json:"proof"`
	PrevProof   string    `json:"prev_proof"`
}

// canonical renders the signed fields in a fixed order. Proof recomputation
// must reproduce the stored value from exactly these fields.
func (e Entry) canonical() string {
	return strings.Join([]string{
		e.ID,
		e.CommandID,
		e.CommandText,
		e.Fingerprint,
		string(e.Status),
		e.Rationale,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("%d", e.LatencyMs),
		e.SignedBy,
	}, "\n")
}

// ComputeProof derives the chain digest for the entry given its predecessor's
// proof (or GenesisProof for the first entry).
func (e Entry) ComputeProof(prevProof string) string {
	sum := blake3.Sum256([]byte(e.canonical() + "\n" + prevProof))
	return hex.EncodeToString(sum[:])
}

// Signer produces keyed-BLAKE3 signatures over entry proofs.
type Signer struct {
	key [32]byte
}

// NewSigner derives a signing key from the configured secret.
func NewSigner(secret string) *Signer {
	return &Signer{key: blake3.Sum256([]byte("warden-ledger-signing\n" + secret))}
}

// Sign returns the hex MAC over a proof.
func (s *Signer) Sign(proof string) (string, error) {
	h, err := blake3.NewKeyed(s.key[:])
	if err != nil {
		return "", fmt.Errorf("init keyed hasher: %w", err)
	}
	if _, err := h.Write([]byte(proof)); err != nil {
		return "", fmt.Errorf("sign proof: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify checks a proof signature.
func (s *Signer) Verify(proof, signature string) bool {
	want, err := s.Sign(proof)
	if err != nil {
		return false
	}
	return want == signature
}
