package contracts

import (
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/canonicalize"
)

// OrderState is a position in the two-phase commit lifecycle.
type OrderState string

const (
	StateProposed          OrderState = "PROPOSED"
	StateSimulated         OrderState = "SIMULATED"
	StateRiskApproved      OrderState = "RISK_APPROVED"
	StateRiskRejected      OrderState = "RISK_REJECTED"
	StateApprovalRequested OrderState = "APPROVAL_REQUESTED"
	StateApprovalGranted   OrderState = "APPROVAL_GRANTED"
	StateApprovalDenied    OrderState = "APPROVAL_DENIED"
	StateSubmitted         OrderState = "SUBMITTED"
	StateFilled            OrderState = "FILLED"
	StateCancelled         OrderState = "CANCELLED"
	StateRejected          OrderState = "REJECTED"
)

// Terminal reports whether the state is absorbing.
func (s OrderState) Terminal() bool {
	switch s {
	case StateRiskRejected, StateApprovalDenied, StateFilled, StateCancelled, StateRejected:
		return true
	}
	return false
}

// successors is the legal transition graph. Terminal states have no entry.
var successors = map[OrderState][]OrderState{
	StateProposed:          {StateSimulated},
	StateSimulated:         {StateRiskApproved, StateRiskRejected},
	StateRiskApproved:      {StateApprovalRequested, StateApprovalGranted},
	StateApprovalRequested: {StateApprovalGranted, StateApprovalDenied},
	StateApprovalGranted:   {StateSubmitted},
	StateSubmitted:         {StateFilled, StateCancelled, StateRejected},
}

// CanTransition reports whether s → next is a legal edge.
func (s OrderState) CanTransition(next OrderState) bool {
	for _, allowed := range successors[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// OrderProposal tracks one order through the approval pipeline. Proposals are
// immutable values: every transition goes through WithState, which returns a
// fresh copy, and the store swaps the record under its lock.
type OrderProposal struct {
	ProposalID    string `json:"proposal_id"`
	CorrelationID string `json:"correlation_id"`

	// Oracle payloads, kept as raw JSON strings. IntentJSON is the RFC 8785
	// canonical serialization and is the token binding material.
	IntentJSON       string `json:"intent_json"`
	SimulationJSON   string `json:"simulation_json,omitempty"`
	RiskDecisionJSON string `json:"risk_decision_json,omitempty"`

	State OrderState `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ApprovalTokenID string `json:"approval_token_id,omitempty"`
	ApprovalReason  string `json:"approval_reason,omitempty"`
	BrokerOrderID   string `json:"broker_order_id,omitempty"`
}

// IntentHash is the anti-tamper binding: the SHA-256 digest of the stored
// intent bytes, in "sha256:<hex>" form. Derived, never stored.
func (p OrderProposal) IntentHash() string {
	return canonicalize.Digest([]byte(p.IntentJSON))
}

// WithState returns a copy in the new state with updated_at set to now.
// Callers must have checked CanTransition; WithState does not re-verify.
func (p OrderProposal) WithState(state OrderState, now time.Time) OrderProposal {
	p.State = state
	p.UpdatedAt = now
	return p
}
