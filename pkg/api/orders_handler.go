package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/tradegate/pkg/approval"
	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/broker"
	"github.com/Mindburn-Labs/tradegate/pkg/canonicalize"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
	"github.com/Mindburn-Labs/tradegate/pkg/killswitch"
	"github.com/Mindburn-Labs/tradegate/pkg/submission"
)

// proposeRequest carries the order intent together with the oracle
// verdicts the proposer already obtained. Simulation and risk payloads
// are stored verbatim on the proposal; the risk decision routes the
// initial state.
type proposeRequest struct {
	Intent       json.RawMessage `json:"intent"`
	Simulation   json.RawMessage `json:"simulation,omitempty"`
	RiskDecision json.RawMessage `json:"risk_decision,omitempty"`
}

type proposeResponse struct {
	ProposalID    string   `json:"proposal_id"`
	State         string   `json:"state"`
	IntentHash    string   `json:"intent_hash"`
	Warnings      []string `json:"warnings"`
	CorrelationID string   `json:"correlation_id"`
}

// handlePropose serves POST /api/v1/propose. The intent is canonicalized
// before storage so the stored bytes are the token binding material.
func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.killSwitch.IsEnabled() {
		WriteServiceUnavailable(w, "trading is halted: kill switch is active")
		return
	}

	var req proposeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if len(req.Intent) == 0 {
		WriteBadRequest(w, "intent is required")
		return
	}
	if s.flags.StrictValidation {
		if err := contracts.ValidateIntentJSON(req.Intent); err != nil {
			WriteBadRequest(w, err.Error())
			return
		}
	}

	canonical, err := canonicalize.RawJSON(req.Intent)
	if err != nil {
		WriteBadRequest(w, "intent is not canonicalizable JSON: "+err.Error())
		return
	}

	intent, err := contracts.ParseIntent(canonical)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	p, err := s.approvals.NewProposal(r.Context(), string(canonical),
		compactJSON(req.Simulation), compactJSON(req.RiskDecision),
		audit.CorrelationID(r.Context()), s.clock().UTC())
	if err != nil {
		WriteBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, proposeResponse{
		ProposalID:    p.ProposalID,
		State:         string(p.State),
		IntentHash:    p.IntentHash(),
		Warnings:      intentWarnings(intent),
		CorrelationID: p.CorrelationID,
	})
}

// intentWarnings flags risky but legal configurations. Warnings never
// block a proposal.
func intentWarnings(intent contracts.OrderIntent) []string {
	warnings := []string{}
	if intent.OrderType == contracts.OrderTypeMarket {
		warnings = append(warnings, "Market orders have unbounded slippage risk. Consider using LIMIT orders.")
	}
	if c := intent.Constraints; c != nil && c.MaxSlippageBps != nil && *c.MaxSlippageBps > 50 {
		warnings = append(warnings, "High slippage tolerance: "+strconv.Itoa(*c.MaxSlippageBps)+" bps")
	}
	return warnings
}

// compactJSON renders an optional raw payload as a compact string, empty
// when absent or malformed.
func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

type submitOrderRequest struct {
	ProposalID string `json:"proposal_id"`
	TokenID    string `json:"token_id"`
}

type submitOrderResponse struct {
	ProposalID    string `json:"proposal_id"`
	BrokerOrderID string `json:"broker_order_id"`
	State         string `json:"state"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id"`
}

// handleSubmitOrder serves POST /api/v1/orders/submit, the only path that
// reaches the broker. The submitter validates and consumes the approval
// token before dispatch; on success a background poll tracks the order to
// its terminal state.
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if s.submitter == nil {
		WriteServiceUnavailable(w, "order submission is not configured")
		return
	}

	var req submitOrderRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.ProposalID) == "" || strings.TrimSpace(req.TokenID) == "" {
		WriteBadRequest(w, "proposal_id and token_id are required")
		return
	}

	correlationID := audit.CorrelationID(r.Context())
	updated, err := s.submitter.SubmitOrder(r.Context(), req.ProposalID, req.TokenID,
		correlationID, s.clock().UTC())
	if err != nil {
		writeSubmitError(w, err)
		return
	}

	// The poll loop outlives the request; it carries the request's
	// correlation id into the audit trail.
	pollCtx := audit.WithCorrelationID(context.Background(), correlationID)
	go func() {
		if _, err := s.submitter.PollOrderUntilTerminal(pollCtx, updated.BrokerOrderID,
			updated.ProposalID, correlationID); err != nil {
			s.logger.Warn("order polling gave up",
				"broker_order_id", updated.BrokerOrderID,
				"error", err)
		}
	}()

	writeJSON(w, http.StatusOK, submitOrderResponse{
		ProposalID:    updated.ProposalID,
		BrokerOrderID: updated.BrokerOrderID,
		State:         string(updated.State),
		Message:       "Order submitted. Broker order ID: " + updated.BrokerOrderID,
		CorrelationID: correlationID,
	})
}

// writeSubmitError maps submission failures onto the error surface:
// token problems and guard refusals are client-correctable, broker
// failures are upstream errors.
func writeSubmitError(w http.ResponseWriter, err error) {
	var stateErr *approval.StateError
	switch {
	case errors.Is(err, approval.ErrProposalNotFound):
		WriteNotFound(w, err.Error())
	case errors.As(err, &stateErr):
		WriteConflict(w, stateErr.Error())
	case errors.Is(err, submission.ErrTokenInvalid),
		errors.Is(err, approval.ErrTokenNotFound),
		errors.Is(err, approval.ErrTokenExpired),
		errors.Is(err, approval.ErrTokenConsumed):
		WriteError(w, http.StatusBadRequest, "invalid_token", err.Error())
	case errors.Is(err, broker.ErrNotConnected), errors.Is(err, killswitch.ErrActive):
		WriteServiceUnavailable(w, err.Error())
	default:
		WriteBadGateway(w, "submission_failed", err.Error())
	}
}

// handleMarketVolatility serves GET /api/v1/market/volatility.
func (s *Server) handleMarketVolatility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.volatility == nil {
		WriteServiceUnavailable(w, "volatility service is not configured")
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		WriteBadRequest(w, "symbol is required")
		return
	}
	lookback := 30
	if raw := r.URL.Query().Get("lookback_days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 2 {
			WriteBadRequest(w, "invalid lookback_days "+strconv.Quote(raw))
			return
		}
		lookback = n
	}

	data, err := s.volatility.GetVolatility(r.Context(), symbol, lookback)
	if err != nil {
		WriteBadGateway(w, "volatility_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, data)
}
