package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wardenhq/warden/internal/approval"
	"github.com/wardenhq/warden/internal/command"
	"github.com/wardenhq/warden/internal/interpret"
	"github.com/wardenhq/warden/internal/ledger"
	"github.com/wardenhq/warden/internal/pipeline"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth(r.Context())
	if err != nil {
		s.logger.Error("failed to compute queue depth", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to compute queue depth")
		return
	}

	var headSeq int64
	if head, err := s.svc.Head(r.Context()); err == nil {
		headSeq = head.Seq
	} else if !errors.Is(err, ledger.ErrNotFound) {
		s.logger.Error("failed to read chain head", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read chain head")
		return
	}

	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:    depth,
		ChainHeadSeq:  headSeq,
		KillSwitch:    s.svc.KillSwitch(),
	})
}

// handleSubmit handles POST /command. Rejections are still ledgered; the
// status code distinguishes caller errors from policy outcomes.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	receipt, err := s.svc.Submit(r.Context(), command.Submission{
		Type:        req.Type,
		Params:      req.Params,
		SubmittedBy: req.SubmittedBy,
	})
	if err != nil {
		s.logger.Error("submit failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	s.writeJSON(w, submitStatusCode(receipt), receipt)
}

// submitStatusCode maps a receipt to an HTTP status. Unknown types and
// validation failures are caller errors; duplicates conflict; everything
// else, including policy and kill-switch blocks, is an accepted outcome.
func submitStatusCode(receipt pipeline.Receipt) int {
	if !receipt.Rejected() {
		return http.StatusOK
	}
	switch {
	case strings.HasPrefix(receipt.Rationale, "unknown command type"),
		len(receipt.FieldErrors) > 0:
		return http.StatusBadRequest
	case receipt.Rationale == "duplicate submission":
		return http.StatusConflict
	default:
		return http.StatusOK
	}
}

// handleAnalyze handles POST /analyze. Candidates are returned to the
// caller, who resubmits them through POST /command; analysis never
// dispatches anything.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		s.writeError(w, http.StatusBadRequest, "description is required")
		return
	}

	result, err := s.svc.Analyze(r.Context(), req.Description)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, result)
	case errors.Is(err, pipeline.ErrNoInterpreter):
		s.writeError(w, http.StatusServiceUnavailable, "interpreter not configured")
	case errors.Is(err, interpret.ErrUnavailable):
		s.writeError(w, http.StatusBadGateway, "interpreter unavailable")
	default:
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	}
}

// handleApproval handles POST /approval.
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.LedgerEntryID == "" {
		s.writeError(w, http.StatusBadRequest, "ledger_entry_id is required")
		return
	}
	decidedBy := req.DecidedBy
	if decidedBy == "" {
		decidedBy = "operator"
	}

	var receipt pipeline.Receipt
	var err error
	switch req.Decision {
	case "approve":
		receipt, err = s.svc.Approve(r.Context(), req.LedgerEntryID, decidedBy)
	case "deny":
		receipt, err = s.svc.Deny(r.Context(), req.LedgerEntryID, decidedBy)
	case "cancel":
		receipt, err = s.svc.Cancel(r.Context(), req.LedgerEntryID, decidedBy)
	default:
		s.writeError(w, http.StatusBadRequest, "decision must be approve, deny, or cancel")
		return
	}

	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, receipt)
	case errors.Is(err, approval.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "no approval for that ledger entry")
	case errors.Is(err, approval.ErrNotPending):
		s.writeError(w, http.StatusConflict, "approval already resolved")
	default:
		s.logger.Error("approval decision failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "approval decision failed")
	}
}

// handleApprovalToken handles POST /approval/token.
func (s *Server) handleApprovalToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	issuedBy := req.IssuedBy
	if issuedBy == "" {
		issuedBy = "operator"
	}

	token, expires, err := s.svc.IssueToken(r.Context(), command.Submission{
		Type:   req.Type,
		Params: req.Params,
	}, issuedBy)
	if err != nil {
		if errors.Is(err, command.ErrUnknownType) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("token issue failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	s.writeJSON(w, http.StatusOK, TokenResponse{Token: token, ExpiresAt: expires})
}

// handleListApprovals handles GET /approvals.
func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.svc.PendingApprovals(r.Context())
	if err != nil {
		s.logger.Error("list approvals failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "list approvals failed")
		return
	}
	if pending == nil {
		pending = []approval.Request{}
	}
	s.writeJSON(w, http.StatusOK, pending)
}

// handleLedgerQuery handles GET /ledger with optional status, command_id,
// type, since, until, and limit filters.
func (s *Server) handleLedgerQuery(w http.ResponseWriter, r *http.Request) {
	f := ledger.Filter{
		CommandID:    r.URL.Query().Get("command_id"),
		TextContains: r.URL.Query().Get("type"),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := ledger.ParseStatus(strings.ToUpper(v))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Status = status
	}
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		f.Since = t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "until must be RFC3339")
			return
		}
		f.Until = t
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	entries, err := s.svc.QueryLedger(r.Context(), f)
	if err != nil {
		s.logger.Error("ledger query failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "ledger query failed")
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	s.writeJSON(w, http.StatusOK, entries)
}

// handleLedgerGet handles GET /ledger/{entryID}.
func (s *Server) handleLedgerGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.GetEntry(r.Context(), chi.URLParam(r, "entryID"))
	if errors.Is(err, ledger.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "ledger entry not found")
		return
	}
	if err != nil {
		s.logger.Error("ledger get failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "ledger get failed")
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

// handleLedgerVerify handles GET /ledger/verify. A broken chain is reported
// with 409; it is never repaired.
func (s *Server) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.VerifyLedger(r.Context())
	if err != nil {
		s.logger.Error("ledger verify failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "ledger verify failed")
		return
	}
	status := http.StatusOK
	if !report.Intact {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, report)
}

// handleKillSwitch handles PUT /kill_switch.
func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	changedBy := req.ChangedBy
	if changedBy == "" {
		changedBy = "api"
	}

	state, err := s.svc.SetKillSwitch(r.Context(), req.On, changedBy)
	if err != nil {
		s.logger.Error("kill switch toggle failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "kill switch toggle failed")
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}
