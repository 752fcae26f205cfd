package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/approval"
	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

// pendingProposal is the flattened summary the approval UI renders per
// queue row. Fields derived from stored payloads are omitted when the
// payload does not parse; a malformed proposal still shows up.
type pendingProposal struct {
	ProposalID    string    `json:"proposal_id"`
	CorrelationID string    `json:"correlation_id"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	Symbol        string    `json:"symbol,omitempty"`
	Side          string    `json:"side,omitempty"`
	Quantity      float64   `json:"quantity,omitempty"`
	GrossNotional *float64  `json:"gross_notional,omitempty"`
	RiskDecision  string    `json:"risk_decision,omitempty"`
	RiskReason    string    `json:"risk_reason,omitempty"`
}

type pendingProposalsResponse struct {
	Proposals []pendingProposal `json:"proposals"`
	Count     int               `json:"count"`
}

// handlePendingProposals serves GET /api/v1/approval/pending.
func (s *Server) handlePendingProposals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteBadRequest(w, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}

	proposals := s.approvals.Store().ListPending(limit)
	summaries := make([]pendingProposal, 0, len(proposals))
	for _, p := range proposals {
		summaries = append(summaries, summarizeProposal(p))
	}
	writeJSON(w, http.StatusOK, pendingProposalsResponse{Proposals: summaries, Count: len(summaries)})
}

type approvalActionRequest struct {
	ProposalID string `json:"proposal_id"`
	Reason     string `json:"reason,omitempty"`
}

type approvalActionResponse struct {
	ProposalID    string `json:"proposal_id"`
	State         string `json:"state"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// handleRequestApproval serves POST /api/v1/approval/request. The service
// routes the proposal to auto-grant or the human queue; the response
// reports which way it went.
func (s *Server) handleRequestApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeApprovalAction(w, r)
	if !ok {
		return
	}

	updated, token, err := s.approvals.RequestApproval(r.Context(), req.ProposalID,
		s.flags, s.killSwitch.IsEnabled(), s.policy, s.clock().UTC())
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	message := fmt.Sprintf("Approval requested for proposal %s", updated.ProposalID)
	if token != nil {
		message = "Auto-approved: " + updated.ApprovalReason
	}
	writeJSON(w, http.StatusOK, approvalActionResponse{
		ProposalID:    updated.ProposalID,
		State:         string(updated.State),
		Message:       message,
		CorrelationID: audit.CorrelationID(r.Context()),
	})
}

type grantApprovalResponse struct {
	ProposalID    string    `json:"proposal_id"`
	Token         string    `json:"token"`
	ExpiresAt     time.Time `json:"expires_at"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id"`
}

// handleGrantApproval serves POST /api/v1/approval/grant.
func (s *Server) handleGrantApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeApprovalAction(w, r)
	if !ok {
		return
	}

	updated, token, err := s.approvals.GrantApproval(r.Context(), req.ProposalID, req.Reason, s.clock().UTC())
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, grantApprovalResponse{
		ProposalID:    updated.ProposalID,
		Token:         token.TokenID,
		ExpiresAt:     token.ExpiresAt,
		Message:       fmt.Sprintf("Approval granted. Token expires at %s", token.ExpiresAt.Format(time.RFC3339)),
		CorrelationID: audit.CorrelationID(r.Context()),
	})
}

// handleDenyApproval serves POST /api/v1/approval/deny. The reason is
// mandatory; an unexplained denial is rejected.
func (s *Server) handleDenyApproval(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeApprovalAction(w, r)
	if !ok {
		return
	}

	updated, err := s.approvals.DenyApproval(r.Context(), req.ProposalID, req.Reason, s.clock().UTC())
	if err != nil {
		writeApprovalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, approvalActionResponse{
		ProposalID:    updated.ProposalID,
		State:         string(updated.State),
		Message:       "Approval denied: " + req.Reason,
		CorrelationID: audit.CorrelationID(r.Context()),
	})
}

// decodeApprovalAction parses the shared request body of the three
// approval mutations. It writes the error response itself on failure.
func (s *Server) decodeApprovalAction(w http.ResponseWriter, r *http.Request) (approvalActionRequest, bool) {
	var req approvalActionRequest
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return req, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return req, false
	}
	if strings.TrimSpace(req.ProposalID) == "" {
		WriteBadRequest(w, "proposal_id is required")
		return req, false
	}
	return req, true
}

// writeApprovalError maps service errors to status codes: unknown
// proposals are 404, wrong-state transitions 409, missing denial reasons
// 400, anything else 500.
func writeApprovalError(w http.ResponseWriter, err error) {
	var stateErr *approval.StateError
	switch {
	case errors.Is(err, approval.ErrProposalNotFound):
		WriteNotFound(w, err.Error())
	case errors.As(err, &stateErr):
		WriteConflict(w, stateErr.Error())
	case errors.Is(err, approval.ErrReasonRequired):
		WriteBadRequest(w, err.Error())
	default:
		WriteInternal(w, err)
	}
}

// summarizeProposal projects a stored proposal onto the queue row shape.
func summarizeProposal(p contracts.OrderProposal) pendingProposal {
	row := pendingProposal{
		ProposalID:    p.ProposalID,
		CorrelationID: p.CorrelationID,
		State:         string(p.State),
		CreatedAt:     p.CreatedAt,
	}

	if intent, err := contracts.ParseIntent([]byte(p.IntentJSON)); err == nil {
		row.Symbol = intent.Instrument.Symbol
		row.Side = string(intent.Side)
		row.Quantity = intent.Quantity
	}
	row.GrossNotional = proposalNotional(p.SimulationJSON)

	var risk struct {
		Decision      string   `json:"decision"`
		Reason        string   `json:"reason"`
		ViolatedRules []string `json:"violated_rules"`
	}
	if err := json.Unmarshal([]byte(p.RiskDecisionJSON), &risk); err == nil {
		row.RiskDecision = risk.Decision
		row.RiskReason = risk.Reason
		if row.RiskReason == "" && len(risk.ViolatedRules) > 0 {
			row.RiskReason = strings.Join(risk.ViolatedRules, "; ")
		}
	}
	return row
}

// proposalNotional pulls gross_notional out of the simulation payload.
// The simulation oracle writes decimals as strings; numbers are accepted
// too. Nil means absent or unparseable.
func proposalNotional(simulationJSON string) *float64 {
	var sim struct {
		GrossNotional any `json:"gross_notional"`
	}
	if err := json.Unmarshal([]byte(simulationJSON), &sim); err != nil {
		return nil
	}
	switch v := sim.GrossNotional.(type) {
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil
		}
		return &f
	case float64:
		return &v
	}
	return nil
}
