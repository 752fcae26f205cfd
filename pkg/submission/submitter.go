// Package submission owns the commit side of the two-phase flow: it burns
// the approval token, hands the order to the broker, and polls it to a
// terminal state. The token is consumed before broker I/O, so a retried
// submission can never reach the venue twice.
package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/approval"
	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/broker"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
	"github.com/Mindburn-Labs/tradegate/pkg/stats"
)

const (
	// DefaultMaxPolls bounds the status poll loop.
	DefaultMaxPolls = 60

	// DefaultPollInterval is the wait between status polls.
	DefaultPollInterval = time.Second
)

// ErrTokenInvalid rejects a submission whose token failed validation before
// the commit point. The message surfaces verbatim in the audit trail.
var ErrTokenInvalid = errors.New("Invalid or expired token")

// Guard vetoes a submission before the token is consumed. A guard refusal
// leaves the token intact so the operator can retry once the condition
// clears.
type Guard func() error

// OrderGuard vetoes a specific order before the token is consumed. It
// sees the proposal and its parsed intent, so per-order limits (the live
// trading guardrails) can refuse without burning the token.
type OrderGuard func(p contracts.OrderProposal, intent contracts.OrderIntent) error

// OutcomeFunc observes one submission attempt. result is "submitted",
// "refused", or "failed"; latency is the broker round trip and zero when
// the order never reached the venue.
type OutcomeFunc func(symbol, result string, latency time.Duration)

// Submitter executes approved proposals against the broker.
type Submitter struct {
	approvals *approval.Service
	venue     broker.Broker
	recorder  audit.Recorder
	collector *stats.Collector
	logger    *slog.Logger

	guards       []Guard
	orderGuards  []OrderGuard
	maxPolls     int
	pollInterval time.Duration
	clock        func() time.Time
	onOutcome    OutcomeFunc
	onFill       func(symbol string)
}

// NewSubmitter wires the submitter. recorder and collector may be nil
// (tests only).
func NewSubmitter(approvals *approval.Service, venue broker.Broker, recorder audit.Recorder, collector *stats.Collector) *Submitter {
	return &Submitter{
		approvals:    approvals,
		venue:        venue,
		recorder:     recorder,
		collector:    collector,
		logger:       slog.Default().With("component", "submission"),
		maxPolls:     DefaultMaxPolls,
		pollInterval: DefaultPollInterval,
		clock:        time.Now,
	}
}

// WithGuards appends pre-commit guards, checked in order.
func (s *Submitter) WithGuards(guards ...Guard) *Submitter {
	s.guards = append(s.guards, guards...)
	return s
}

// WithOrderGuards appends per-order pre-commit guards, checked in order
// after the plain guards.
func (s *Submitter) WithOrderGuards(guards ...OrderGuard) *Submitter {
	s.orderGuards = append(s.orderGuards, guards...)
	return s
}

// WithPolling overrides the poll budget and interval.
func (s *Submitter) WithPolling(maxPolls int, interval time.Duration) *Submitter {
	s.maxPolls = maxPolls
	s.pollInterval = interval
	return s
}

// WithClock overrides the time source for testing.
func (s *Submitter) WithClock(clock func() time.Time) *Submitter {
	s.clock = clock
	return s
}

// WithOnOutcome sets a callback invoked after every submission attempt.
func (s *Submitter) WithOnOutcome(fn OutcomeFunc) *Submitter {
	s.onOutcome = fn
	return s
}

// WithOnFill sets a callback invoked when an order reaches a fill.
func (s *Submitter) WithOnFill(fn func(symbol string)) *Submitter {
	s.onFill = fn
	return s
}

// SubmitOrder takes an APPROVAL_GRANTED proposal to the broker.
//
// Ordering is deliberate. Guards (kill switch, read-only mode, live
// guardrails, connectivity) run first and must not burn the token; token
// validation follows, still without mutation; ConsumeToken is the commit
// point and precedes broker I/O. A broker failure after consume leaves the
// token burned and the proposal in APPROVAL_GRANTED: resubmission needs a
// fresh approval, never a replay.
func (s *Submitter) SubmitOrder(ctx context.Context, proposalID, tokenID, correlationID string, now time.Time) (contracts.OrderProposal, error) {
	p, err := s.approvals.Store().Get(proposalID)
	if err != nil {
		return contracts.OrderProposal{}, err
	}
	if correlationID == "" {
		correlationID = p.CorrelationID
	}

	if p.State != contracts.StateApprovalGranted {
		return contracts.OrderProposal{}, &approval.StateError{
			ProposalID: proposalID,
			State:      p.State,
			Want:       contracts.StateApprovalGranted,
		}
	}

	intent, err := contracts.ParseIntent([]byte(p.IntentJSON))
	if err != nil {
		s.fail(ctx, correlationID, proposalID, tokenID, "Malformed intent: "+err.Error())
		s.outcome("", "refused", 0)
		return contracts.OrderProposal{}, fmt.Errorf("invalid intent: %w", err)
	}
	symbol := intent.Instrument.Symbol

	if !s.venue.IsConnected() {
		s.fail(ctx, correlationID, proposalID, tokenID, broker.ErrNotConnected.Error())
		s.outcome(symbol, "refused", 0)
		return contracts.OrderProposal{}, broker.ErrNotConnected
	}
	for _, guard := range s.guards {
		if err := guard(); err != nil {
			s.fail(ctx, correlationID, proposalID, tokenID, err.Error())
			s.outcome(symbol, "refused", 0)
			return contracts.OrderProposal{}, err
		}
	}
	for _, guard := range s.orderGuards {
		if err := guard(p, intent); err != nil {
			s.fail(ctx, correlationID, proposalID, tokenID, err.Error())
			s.outcome(symbol, "refused", 0)
			return contracts.OrderProposal{}, err
		}
	}

	if !s.approvals.ValidateToken(tokenID, p.IntentHash(), now) {
		s.fail(ctx, correlationID, proposalID, tokenID, ErrTokenInvalid.Error())
		s.outcome(symbol, "refused", 0)
		return contracts.OrderProposal{}, ErrTokenInvalid
	}

	// Commit point.
	if _, err := s.approvals.ConsumeToken(tokenID, now); err != nil {
		s.fail(ctx, correlationID, proposalID, tokenID, "Token consume failed: "+err.Error())
		s.outcome(symbol, "refused", 0)
		return contracts.OrderProposal{}, fmt.Errorf("consume token: %w", err)
	}

	start := s.clock()
	res, err := s.venue.SubmitOrder(ctx, intent, tokenID)
	latency := s.clock().Sub(start)
	if err != nil {
		s.fail(ctx, correlationID, proposalID, tokenID, "Broker submission failed: "+err.Error())
		s.outcome(symbol, "failed", latency)
		return contracts.OrderProposal{}, fmt.Errorf("submit order: %w", err)
	}
	s.outcome(symbol, "submitted", latency)

	updated := p.WithState(contracts.StateSubmitted, now)
	updated.BrokerOrderID = res.BrokerOrderID
	if err := s.approvals.Store().Update(updated); err != nil {
		// The order is live at the broker; surface the split-brain instead
		// of pretending either way.
		s.logger.Error("order submitted but proposal update failed",
			"proposal_id", proposalID,
			"broker_order_id", res.BrokerOrderID,
			"error", err)
		return updated, fmt.Errorf("order %s submitted but proposal update failed: %w", res.BrokerOrderID, err)
	}

	s.record(ctx, audit.EventOrderSubmitted, correlationID, map[string]any{
		"proposal_id":     proposalID,
		"token_id":        tokenID,
		"broker_order_id": res.BrokerOrderID,
		"status":          string(res.Status),
		"symbol":          intent.Instrument.Symbol,
		"side":            string(intent.Side),
		"quantity":        intent.Quantity,
	})
	if s.collector != nil {
		s.collector.RecordOrderSubmitted(proposalID, res.BrokerOrderID)
	}
	s.logger.Info("order submitted",
		"proposal_id", proposalID,
		"broker_order_id", res.BrokerOrderID,
		"symbol", intent.Instrument.Symbol)
	return updated, nil
}

// PollOrderUntilTerminal polls the broker until the order reaches a
// terminal status or the poll budget runs out. Transient poll errors are
// audited and retried; they do not consume extra budget beyond their slot.
func (s *Submitter) PollOrderUntilTerminal(ctx context.Context, brokerOrderID, proposalID, correlationID string) (*contracts.OrderStatusInfo, error) {
	for attempt := 1; attempt <= s.maxPolls; attempt++ {
		info, err := s.venue.GetOrderStatus(ctx, brokerOrderID)
		switch {
		case err != nil:
			s.record(ctx, audit.EventOrderPollingError, correlationID, map[string]any{
				"proposal_id":     proposalID,
				"broker_order_id": brokerOrderID,
				"attempt":         attempt,
				"error":           err.Error(),
			})
			s.logger.Warn("order status poll failed",
				"broker_order_id", brokerOrderID,
				"attempt", attempt,
				"error", err)
		case info.Status.Terminal():
			s.settle(ctx, info, proposalID, correlationID, attempt)
			return info, nil
		}

		if attempt == s.maxPolls {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
	return nil, fmt.Errorf("Order polling timed out after %d attempts", s.maxPolls)
}

// settle records the terminal outcome: proposal state, audit event, and
// statistics.
func (s *Submitter) settle(ctx context.Context, info *contracts.OrderStatusInfo, proposalID, correlationID string, attempts int) {
	now := s.clock().UTC()

	state, eventType := terminalOutcome(info.Status)
	var symbol string
	if p, err := s.approvals.Store().Get(proposalID); err != nil {
		s.logger.Warn("terminal order has no proposal",
			"proposal_id", proposalID,
			"broker_order_id", info.BrokerOrderID)
	} else {
		if intent, perr := contracts.ParseIntent([]byte(p.IntentJSON)); perr == nil {
			symbol = intent.Instrument.Symbol
		}
		if p.State.CanTransition(state) {
			if err := s.approvals.Store().Update(p.WithState(state, now)); err != nil {
				s.logger.Error("failed to record terminal state",
					"proposal_id", proposalID,
					"state", string(state),
					"error", err)
			}
		}
	}
	if info.Status == contracts.OrderStatusFilled && s.onFill != nil {
		s.onFill(symbol)
	}

	data := map[string]any{
		"proposal_id":     proposalID,
		"broker_order_id": info.BrokerOrderID,
		"status":          string(info.Status),
		"raw_status":      info.RawStatus,
		"attempts":        attempts,
	}
	if info.FilledQuantity > 0 {
		data["filled_quantity"] = info.FilledQuantity
	}
	if info.AverageFillPrice != nil {
		data["average_fill_price"] = *info.AverageFillPrice
	}
	s.record(ctx, eventType, correlationID, data)

	if s.collector == nil {
		return
	}
	switch info.Status {
	case contracts.OrderStatusFilled:
		price := 0.0
		if info.AverageFillPrice != nil {
			price = *info.AverageFillPrice
		}
		s.collector.RecordOrderFilled(proposalID, price, nil)
	case contracts.OrderStatusCancelled:
		s.collector.RecordOrderCancelled(proposalID)
	case contracts.OrderStatusRejected:
		s.collector.RecordOrderRejected(proposalID, info.RawStatus)
	}
}

// terminalOutcome maps a terminal broker status to the proposal state and
// audit event it produces.
func terminalOutcome(status contracts.OrderStatus) (contracts.OrderState, audit.EventType) {
	switch status {
	case contracts.OrderStatusCancelled:
		return contracts.StateCancelled, audit.EventOrderCancelled
	case contracts.OrderStatusRejected:
		return contracts.StateRejected, audit.EventOrderRejected
	default:
		return contracts.StateFilled, audit.EventOrderFilled
	}
}

func (s *Submitter) outcome(symbol, result string, latency time.Duration) {
	if s.onOutcome != nil {
		s.onOutcome(symbol, result, latency)
	}
}

func (s *Submitter) fail(ctx context.Context, correlationID, proposalID, tokenID, reason string) {
	s.logger.Warn("order submission refused",
		"proposal_id", proposalID,
		"reason", reason)
	s.record(ctx, audit.EventOrderSubmissionFailed, correlationID, map[string]any{
		"proposal_id": proposalID,
		"token_id":    tokenID,
		"reason":      reason,
	})
}

func (s *Submitter) record(ctx context.Context, eventType audit.EventType, correlationID string, data map[string]any) {
	if s.recorder == nil {
		return
	}
	if correlationID == "" {
		correlationID = audit.CorrelationID(ctx)
	}
	if _, err := s.recorder.Record(ctx, eventType, correlationID, data, nil); err != nil {
		s.logger.Error("audit record failed",
			"event_type", string(eventType),
			"error", err)
	}
}
