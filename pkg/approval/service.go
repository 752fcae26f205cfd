// Package approval implements the approval half of the two-phase commit: a
// bounded proposal store, single-use approval tokens, the service that
// routes risk-approved proposals to auto-grant or a human queue, and the
// policy evaluator behind auto-grant.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
	"github.com/Mindburn-Labs/tradegate/pkg/flags"
)

// ErrReasonRequired rejects denials that carry no reason. Every denial is
// audited, and an unexplained denial is useless in review.
var ErrReasonRequired = errors.New("denial reason is required")

// StateError reports an operation applied to a proposal in the wrong
// lifecycle state.
type StateError struct {
	ProposalID string
	State      contracts.OrderState
	Want       contracts.OrderState
}

func (e *StateError) Error() string {
	return fmt.Sprintf("proposal %s is in state %s, want %s", e.ProposalID, e.State, e.Want)
}

// Service drives approvals. It decides whether a risk-approved proposal can
// skip the human, mints single-use tokens, and records every decision in
// the audit trail. The store owns all locking; the service holds no state
// of its own beyond its collaborators.
type Service struct {
	store    *Store
	recorder audit.Recorder
	logger   *slog.Logger

	navSource  func() (float64, bool)
	manualOnly bool
}

// NewService creates an approval service. recorder may be nil, in which
// case decisions are not audited (tests only).
func NewService(store *Store, recorder audit.Recorder) *Service {
	return &Service{
		store:    store,
		recorder: recorder,
		logger:   slog.Default().With("component", "approval"),
	}
}

// WithNAVSource supplies the latest portfolio NAV for the
// max_position_pct policy check. fn reports whether a NAV is available;
// without one the position size check fails safe.
func (s *Service) WithNAVSource(fn func() (float64, bool)) *Service {
	s.navSource = fn
	return s
}

// WithManualOnly forces every approval through the human queue, used when
// live mode is configured with require_manual_approval.
func (s *Service) WithManualOnly(on bool) *Service {
	s.manualOnly = on
	return s
}

// Store exposes the underlying proposal store.
func (s *Service) Store() *Store {
	return s.store
}

// NewProposal assembles a proposal from the oracle payloads and stores it.
// The risk decision routes the initial state: decision "APPROVE" lands in
// RISK_APPROVED, anything else in RISK_REJECTED. The intent payload must
// parse and validate; a correlation ID is generated when absent.
func (s *Service) NewProposal(ctx context.Context, intentJSON, simulationJSON, riskDecisionJSON, correlationID string, now time.Time) (contracts.OrderProposal, error) {
	if _, err := contracts.ParseIntent([]byte(intentJSON)); err != nil {
		return contracts.OrderProposal{}, fmt.Errorf("invalid intent: %w", err)
	}

	state := contracts.StateRiskRejected
	var risk struct {
		Decision string `json:"decision"`
	}
	if err := json.Unmarshal([]byte(riskDecisionJSON), &risk); err == nil && strings.EqualFold(risk.Decision, "APPROVE") {
		state = contracts.StateRiskApproved
	}

	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	p := contracts.OrderProposal{
		ProposalID:       uuid.New().String(),
		CorrelationID:    correlationID,
		IntentJSON:       intentJSON,
		SimulationJSON:   simulationJSON,
		RiskDecisionJSON: riskDecisionJSON,
		State:            state,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.store.Put(p)

	s.record(ctx, audit.EventOrderProposed, p, map[string]any{
		"intent_hash":   p.IntentHash(),
		"risk_decision": risk.Decision,
	})
	return p, nil
}

// RequestApproval moves a RISK_APPROVED proposal to its approval route.
// When the proposal qualifies for auto-approval a token is minted and the
// proposal lands in APPROVAL_GRANTED; otherwise it parks in
// APPROVAL_REQUESTED for a human and the returned token is nil. The
// decisive reason is stored on the proposal either way.
func (s *Service) RequestApproval(ctx context.Context, proposalID string, fl flags.Flags, killSwitchActive bool, checker *PolicyChecker, now time.Time) (contracts.OrderProposal, *contracts.ApprovalToken, error) {
	p, err := s.store.Get(proposalID)
	if err != nil {
		return contracts.OrderProposal{}, nil, err
	}
	if p.State != contracts.StateRiskApproved {
		return contracts.OrderProposal{}, nil, &StateError{ProposalID: proposalID, State: p.State, Want: contracts.StateRiskApproved}
	}

	granted, reason := s.evaluateAutoApproval(p, fl, killSwitchActive, checker, now)

	if granted {
		token := s.mintToken(p, now)

		updated := p.WithState(contracts.StateApprovalGranted, now)
		updated.ApprovalTokenID = token.TokenID
		updated.ApprovalReason = reason
		if err := s.store.Grant(updated, token); err != nil {
			return contracts.OrderProposal{}, nil, err
		}
		s.record(ctx, audit.EventApprovalGranted, updated, map[string]any{
			"auto_approved": true,
			"reason":        reason,
			"token_id":      token.TokenID,
		})
		return updated, &token, nil
	}

	updated := p.WithState(contracts.StateApprovalRequested, now)
	updated.ApprovalReason = reason
	if err := s.store.Update(updated); err != nil {
		return contracts.OrderProposal{}, nil, err
	}
	s.record(ctx, audit.EventApprovalRequested, updated, map[string]any{
		"auto_approved": false,
		"reason":        reason,
	})
	return updated, nil, nil
}

// evaluateAutoApproval applies the auto-grant conditions in order and
// returns the decision with its decisive reason. Parse failures never
// block the order; they route it to a human.
func (s *Service) evaluateAutoApproval(p contracts.OrderProposal, fl flags.Flags, killSwitchActive bool, checker *PolicyChecker, now time.Time) (bool, string) {
	if s.manualOnly {
		return false, "Manual approval required for live trading"
	}
	if !fl.AutoApproval {
		return false, "Manual approval required"
	}
	if killSwitchActive {
		return false, "Kill switch active"
	}

	intent, err := contracts.ParseIntent([]byte(p.IntentJSON))
	if err != nil {
		return false, fmt.Sprintf("Parse error: %v", err)
	}
	notional, err := GrossNotional(p.SimulationJSON)
	if err != nil {
		return false, fmt.Sprintf("Parse error: %v", err)
	}

	if notional > fl.AutoApprovalMaxNotional {
		return false, fmt.Sprintf("Notional $%.2f exceeds threshold $%.2f", notional, fl.AutoApprovalMaxNotional)
	}

	if checker == nil {
		return true, "Auto-approved (below threshold)"
	}

	var nav *float64
	if s.navSource != nil {
		if v, ok := s.navSource(); ok && v > 0 {
			nav = &v
		}
	}
	passed, reasons := checker.CheckAll(PolicyInput{
		Symbol:       intent.Instrument.Symbol,
		SecType:      intent.Instrument.Type,
		Side:         intent.Side,
		OrderType:    intent.OrderType,
		Notional:     notional,
		Now:          now,
		PortfolioNAV: nav,
	})
	if !passed {
		return false, "Policy check failed: " + strings.Join(reasons, "; ")
	}
	return true, "Auto-approved (below threshold, policy passed)"
}

// GrantApproval records a human grant: requires APPROVAL_REQUESTED, mints a
// fresh single-use token, and transitions to APPROVAL_GRANTED.
func (s *Service) GrantApproval(ctx context.Context, proposalID, reason string, now time.Time) (contracts.OrderProposal, contracts.ApprovalToken, error) {
	p, err := s.store.Get(proposalID)
	if err != nil {
		return contracts.OrderProposal{}, contracts.ApprovalToken{}, err
	}
	if p.State != contracts.StateApprovalRequested {
		return contracts.OrderProposal{}, contracts.ApprovalToken{}, &StateError{ProposalID: proposalID, State: p.State, Want: contracts.StateApprovalRequested}
	}

	token := s.mintToken(p, now)

	updated := p.WithState(contracts.StateApprovalGranted, now)
	updated.ApprovalTokenID = token.TokenID
	if reason != "" {
		updated.ApprovalReason = reason
	}
	if err := s.store.Grant(updated, token); err != nil {
		return contracts.OrderProposal{}, contracts.ApprovalToken{}, err
	}
	s.record(ctx, audit.EventApprovalGranted, updated, map[string]any{
		"auto_approved": false,
		"reason":        reason,
		"token_id":      token.TokenID,
	})
	return updated, token, nil
}

// DenyApproval records a human denial. The reason is mandatory and the
// proposal must be in APPROVAL_REQUESTED. APPROVAL_DENIED is terminal.
func (s *Service) DenyApproval(ctx context.Context, proposalID, reason string, now time.Time) (contracts.OrderProposal, error) {
	if strings.TrimSpace(reason) == "" {
		return contracts.OrderProposal{}, ErrReasonRequired
	}
	p, err := s.store.Get(proposalID)
	if err != nil {
		return contracts.OrderProposal{}, err
	}
	if p.State != contracts.StateApprovalRequested {
		return contracts.OrderProposal{}, &StateError{ProposalID: proposalID, State: p.State, Want: contracts.StateApprovalRequested}
	}

	updated := p.WithState(contracts.StateApprovalDenied, now)
	updated.ApprovalReason = reason
	if err := s.store.Update(updated); err != nil {
		return contracts.OrderProposal{}, err
	}
	s.record(ctx, audit.EventApprovalDenied, updated, map[string]any{
		"reason": reason,
	})
	return updated, nil
}

// ValidateToken reports whether the token exists, is unused, is unexpired
// at now, and is bound to the expected intent hash. It never mutates the
// token; callers that pass validation still race on ConsumeToken.
func (s *Service) ValidateToken(tokenID, expectedIntentHash string, now time.Time) bool {
	t, err := s.store.GetToken(tokenID)
	if err != nil {
		return false
	}
	if !t.IsValid(now) {
		return false
	}
	return t.IntentHash == expectedIntentHash
}

// ConsumeToken marks the token used. The store makes the test-and-set
// atomic; this is the commit point of the two-phase flow.
func (s *Service) ConsumeToken(tokenID string, now time.Time) (contracts.ApprovalToken, error) {
	return s.store.ConsumeToken(tokenID, now)
}

// mintToken issues a token bound to the proposal's current intent hash.
func (s *Service) mintToken(p contracts.OrderProposal, now time.Time) contracts.ApprovalToken {
	return contracts.ApprovalToken{
		TokenID:    uuid.New().String(),
		ProposalID: p.ProposalID,
		IntentHash: p.IntentHash(),
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.store.TokenTTL()),
	}
}

func (s *Service) record(ctx context.Context, eventType audit.EventType, p contracts.OrderProposal, data map[string]any) {
	if s.recorder == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["proposal_id"] = p.ProposalID
	data["state"] = string(p.State)
	if _, err := s.recorder.Record(ctx, eventType, p.CorrelationID, data, nil); err != nil {
		s.logger.Error("audit record failed",
			"event_type", string(eventType),
			"proposal_id", p.ProposalID,
			"error", err)
	}
}

// GrossNotional extracts gross_notional from a simulation payload. The
// simulation oracle serializes decimals as strings; plain numbers are
// accepted too. A missing key means zero.
func GrossNotional(simulationJSON string) (float64, error) {
	if strings.TrimSpace(simulationJSON) == "" {
		return 0, errors.New("simulation payload is empty")
	}
	var sim map[string]any
	if err := json.Unmarshal([]byte(simulationJSON), &sim); err != nil {
		return 0, err
	}
	raw, ok := sim["gross_notional"]
	if !ok {
		return 0, nil
	}
	switch v := raw.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("gross_notional has unexpected type %T", raw)
	}
}
