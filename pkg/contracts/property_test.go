//go:build property
// +build property

// Package contracts_test contains property-based tests for the order
// lifecycle graph and the intent hash binding.
package contracts_test

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

var allStates = []contracts.OrderState{
	contracts.StateProposed,
	contracts.StateSimulated,
	contracts.StateRiskApproved,
	contracts.StateRiskRejected,
	contracts.StateApprovalRequested,
	contracts.StateApprovalGranted,
	contracts.StateApprovalDenied,
	contracts.StateSubmitted,
	contracts.StateFilled,
	contracts.StateCancelled,
	contracts.StateRejected,
}

// TestTerminalStatesAreAbsorbing verifies terminal states have no exits.
// Property: Terminal(s) implies CanTransition(s, t) == false for every t.
func TestTerminalStatesAreAbsorbing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("no edge leaves a terminal state", prop.ForAll(
		func(fromIdx, toIdx int) bool {
			from := allStates[fromIdx%len(allStates)]
			to := allStates[toIdx%len(allStates)]
			if !from.Terminal() {
				return true
			}
			return !from.CanTransition(to)
		},
		gen.IntRange(0, 1000),
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}

// TestRandomWalksEndTerminalOrStuck verifies every legal walk through the
// lifecycle halts. Property: following random legal edges from PROPOSED
// either reaches a terminal state or a state with no successors, within the
// graph's depth.
func TestRandomWalksEndTerminalOrStuck(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("legal walks halt", prop.ForAll(
		func(choices []int) bool {
			state := contracts.StateProposed
			// 11 states, so any legal walk is shorter than 11 edges.
			for step := 0; step < len(allStates); step++ {
				var successors []contracts.OrderState
				for _, next := range allStates {
					if state.CanTransition(next) {
						successors = append(successors, next)
					}
				}
				if len(successors) == 0 {
					return state.Terminal()
				}
				pick := 0
				if len(choices) > 0 {
					pick = choices[step%len(choices)] % len(successors)
				}
				state = successors[pick]
			}
			return false
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

// TestWithStatePreservesIdentity verifies transitions never touch identity
// fields. Property: WithState changes only State and UpdatedAt.
func TestWithStatePreservesIdentity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	created := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

	properties.Property("only state and updated_at change", prop.ForAll(
		func(id, corr, intent string, stateIdx, offsetSec int) bool {
			p := contracts.OrderProposal{
				ProposalID:    id,
				CorrelationID: corr,
				IntentJSON:    intent,
				State:         contracts.StateProposed,
				CreatedAt:     created,
				UpdatedAt:     created,
			}
			next := allStates[stateIdx%len(allStates)]
			at := created.Add(time.Duration(offsetSec) * time.Second)

			moved := p.WithState(next, at)
			return moved.ProposalID == p.ProposalID &&
				moved.CorrelationID == p.CorrelationID &&
				moved.IntentJSON == p.IntentJSON &&
				moved.CreatedAt.Equal(p.CreatedAt) &&
				moved.State == next &&
				moved.UpdatedAt.Equal(at) &&
				moved.IntentHash() == p.IntentHash()
		},
		gen.Identifier(),
		gen.Identifier(),
		gen.AlphaString(),
		gen.IntRange(0, 1000),
		gen.IntRange(1, 3600),
	))

	properties.TestingRun(t)
}
