package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrChainBroken is the security-class finding: the stored chain does not
// reproduce under recomputation. It is never repaired automatically.
var ErrChainBroken = errors.New("ledger chain integrity broken")

// BrokenLink pinpoints the first entry where verification failed.
type BrokenLink struct {
	Seq      int64  `json:"seq"`
	EntryID  string `json:"entry_id"`
	Field    string `json:"field"` // "proof", "prev_proof", or "signature"
	Expected string `json:"expected"`
	Found    string `json:"found"`
}

// Report is the outcome of a verification walk.
type Report struct {
	Intact    bool        `json:"intact"`
	Entries   int         `json:"entries"`
	HeadProof string      `json:"head_proof,omitempty"`
	Broken    *BrokenLink `json:"broken,omitempty"`
}

// Verifier re-walks the chain read-only. It may run concurrently with
// appends; entries appended mid-walk are simply not covered by that run.
type Verifier struct {
	db     *sql.DB
	signer *Signer
}

// NewVerifier creates a Verifier sharing the writer's signing key.
func NewVerifier(db *sql.DB, signer *Signer) *Verifier {
	return &Verifier{db: db, signer: signer}
}

// Verify walks from genesis recomputing every proof and signature.
func (v *Verifier) Verify(ctx context.Context) (Report, error) {
	return v.VerifyFrom(ctx, 0, GenesisProof)
}

// VerifyFrom walks from a checkpoint: all entries with seq > afterSeq,
// expecting the first one to link back to checkpointProof.
func (v *Verifier) VerifyFrom(ctx context.Context, afterSeq int64, checkpointProof string) (Report, error) {
	rows, err := v.db.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM ledger WHERE seq > ? ORDER BY seq ASC;", afterSeq)
	if err != nil {
		return Report{}, fmt.Errorf("read ledger for verification: %w", err)
	}
	defer func() { _ = rows.Close() }()

	report := Report{Intact: true}
	prevProof := checkpointProof
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return Report{}, err
		}
		report.Entries++

		if entry.PrevProof != prevProof {
			report.Intact = false
			report.Broken = &BrokenLink{
				Seq: entry.Seq, EntryID: entry.ID, Field: "prev_proof",
				Expected: prevProof, Found: entry.PrevProof,
			}
			return report, nil
		}
		if recomputed := entry.ComputeProof(prevProof); recomputed != entry.Proof {
			report.Intact = false
			report.Broken = &BrokenLink{
				Seq: entry.Seq, EntryID: entry.ID, Field: "proof",
				Expected: recomputed, Found: entry.Proof,
			}
			return report, nil
		}
		if !v.signer.Verify(entry.Proof, entry.Signature) {
			report.Intact = false
			report.Broken = &BrokenLink{
				Seq: entry.Seq, EntryID: entry.ID, Field: "signature",
				Found: entry.Signature,
			}
			return report, nil
		}
		prevProof = entry.Proof
	}
	if err := rows.Err(); err != nil {
		return Report{}, err
	}
	report.HeadProof = prevProof
	return report, nil
}

// Err converts a non-intact report into ErrChainBroken with location detail.
func (r Report) Err() error {
	if r.Intact {
		return nil
	}
	b := r.Broken
	return fmt.Errorf("%w: %s mismatch at seq %d (entry %s)", ErrChainBroken, b.Field, b.Seq, b.EntryID)
}
