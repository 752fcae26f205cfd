// Package reconcile compares the gateway's view of open orders, positions,
// and cash against what the broker reports. Every difference is graded so
// the loop can route the severe ones to alerting and an untracked broker
// order blocks the move to live trading.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/broker"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

// DiscrepancyType classifies what kind of difference was found.
type DiscrepancyType string

const (
	MissingOrder     DiscrepancyType = "missing_order"     // in system, not at broker
	UnknownOrder     DiscrepancyType = "unknown_order"     // at broker, not in system
	PositionMismatch DiscrepancyType = "position_mismatch" // quantity differs
	CashMismatch     DiscrepancyType = "cash_mismatch"     // balance differs
	MissingPosition  DiscrepancyType = "missing_position"  // in system, not at broker
	UnknownPosition  DiscrepancyType = "unknown_position"  // at broker, not in system
)

// Severity grades a discrepancy.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Discrepancy is a single reconciliation finding.
type Discrepancy struct {
	Type          DiscrepancyType `json:"type"`
	Severity      Severity        `json:"severity"`
	Description   string          `json:"description"`
	InternalValue any             `json:"internal_value,omitempty"`
	BrokerValue   any             `json:"broker_value,omitempty"`
	Difference    *float64        `json:"difference,omitempty"`
	Symbol        string          `json:"symbol,omitempty"`
	OrderID       string          `json:"order_id,omitempty"`
	DetectedAt    time.Time       `json:"detected_at"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Timestamp              time.Time     `json:"timestamp"`
	IsReconciled           bool          `json:"is_reconciled"`
	Discrepancies          []Discrepancy `json:"discrepancies"`
	InternalOrdersCount    int           `json:"internal_orders_count"`
	BrokerOrdersCount      int           `json:"broker_orders_count"`
	InternalPositionsCount int           `json:"internal_positions_count"`
	BrokerPositionsCount   int           `json:"broker_positions_count"`
	InternalCash           float64       `json:"internal_cash"`
	BrokerCash             float64       `json:"broker_cash"`
	DurationMS             float64       `json:"duration_ms"`
}

// HasCritical reports whether any finding is critical.
func (r *Report) HasCritical() bool {
	for _, d := range r.Discrepancies {
		if d.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Count returns the number of findings.
func (r *Report) Count() int {
	return len(r.Discrepancies)
}

// InternalOrder is the gateway's record of a working order, the shape the
// reconciler diffs against broker open orders.
type InternalOrder struct {
	OrderID  string  `json:"order_id"`
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
}

const (
	// DefaultCashTolerance absorbs sub-cent rounding.
	DefaultCashTolerance = 0.01
	// DefaultPositionTolerance demands exact quantity matches.
	DefaultPositionTolerance = 0.0
)

// Reconciler diffs internal state against one broker account.
type Reconciler struct {
	clock  func() time.Time
	logger *slog.Logger
	venue  broker.Broker

	cashTolerance     float64
	positionTolerance float64
}

// NewReconciler creates a reconciler with the default tolerances.
func NewReconciler(venue broker.Broker) *Reconciler {
	return &Reconciler{
		clock:             time.Now,
		logger:            slog.Default().With("component", "reconcile"),
		venue:             venue,
		cashTolerance:     DefaultCashTolerance,
		positionTolerance: DefaultPositionTolerance,
	}
}

// WithTolerances overrides the cash and position tolerances.
func (r *Reconciler) WithTolerances(cash, position float64) *Reconciler {
	r.cashTolerance = cash
	r.positionTolerance = position
	return r
}

// WithClock overrides the time source for testing.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Reconcile fetches the broker's open orders and portfolio for accountID
// and diffs them against the supplied internal state. A broker fetch
// failure is itself a critical finding: reconciliation cannot vouch for a
// state it cannot see.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string, internalOrders []InternalOrder, internalPositions map[string]float64, internalCash float64, now time.Time) *Report {
	start := r.clock()

	brokerOrders, err := r.venue.GetOpenOrders(ctx, accountID)
	var portfolio *contracts.Portfolio
	if err == nil {
		portfolio, err = r.venue.GetPortfolio(ctx, accountID)
	}
	if err != nil {
		r.logger.Error("failed to fetch broker state", "account_id", accountID, "error", err)
		return &Report{
			Timestamp:    now,
			IsReconciled: false,
			Discrepancies: []Discrepancy{{
				Type:        CashMismatch,
				Severity:    SeverityCritical,
				Description: fmt.Sprintf("Cannot fetch broker state: %v", err),
				DetectedAt:  now,
			}},
			InternalOrdersCount:    len(internalOrders),
			InternalPositionsCount: len(internalPositions),
			InternalCash:           internalCash,
			DurationMS:             elapsedMS(start, r.clock()),
		}
	}

	brokerPositions := make(map[string]float64, len(portfolio.Positions))
	for _, p := range portfolio.Positions {
		brokerPositions[p.Instrument.Symbol] = p.Quantity
	}
	brokerCash := cashTotal(portfolio.Cash)

	var discrepancies []Discrepancy
	discrepancies = append(discrepancies, r.reconcileOrders(internalOrders, brokerOrders, now)...)
	discrepancies = append(discrepancies, r.reconcilePositions(internalPositions, brokerPositions, now)...)
	if d := r.reconcileCash(internalCash, brokerCash, now); d != nil {
		discrepancies = append(discrepancies, *d)
	}

	return &Report{
		Timestamp:              now,
		IsReconciled:           len(discrepancies) == 0,
		Discrepancies:          discrepancies,
		InternalOrdersCount:    len(internalOrders),
		BrokerOrdersCount:      len(brokerOrders),
		InternalPositionsCount: len(internalPositions),
		BrokerPositionsCount:   len(brokerPositions),
		InternalCash:           internalCash,
		BrokerCash:             brokerCash,
		DurationMS:             elapsedMS(start, r.clock()),
	}
}

func (r *Reconciler) reconcileOrders(internal []InternalOrder, brokerOrders []contracts.OpenOrder, now time.Time) []Discrepancy {
	internalByID := make(map[string]InternalOrder, len(internal))
	for _, o := range internal {
		internalByID[o.OrderID] = o
	}
	brokerByID := make(map[string]contracts.OpenOrder, len(brokerOrders))
	for _, o := range brokerOrders {
		brokerByID[o.OrderID] = o
	}

	var out []Discrepancy
	for _, id := range sortedKeys(internalByID) {
		if _, ok := brokerByID[id]; ok {
			continue
		}
		o := internalByID[id]
		out = append(out, Discrepancy{
			Type:          MissingOrder,
			Severity:      SeverityHigh,
			Description:   fmt.Sprintf("Order %s in system but not in broker", id),
			InternalValue: o,
			Symbol:        o.Symbol,
			OrderID:       id,
			DetectedAt:    now,
		})
	}
	for _, id := range sortedKeys(brokerByID) {
		if _, ok := internalByID[id]; ok {
			continue
		}
		o := brokerByID[id]
		out = append(out, Discrepancy{
			Type:        UnknownOrder,
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("Order %s in broker but not in system (untracked order!)", id),
			BrokerValue: o,
			Symbol:      o.Instrument.Symbol,
			OrderID:     id,
			DetectedAt:  now,
		})
	}
	return out
}

func (r *Reconciler) reconcilePositions(internal, brokerPositions map[string]float64, now time.Time) []Discrepancy {
	symbols := make(map[string]struct{}, len(internal)+len(brokerPositions))
	for s := range internal {
		symbols[s] = struct{}{}
	}
	for s := range brokerPositions {
		symbols[s] = struct{}{}
	}

	var out []Discrepancy
	for _, symbol := range sortedKeys(symbols) {
		internalQty := internal[symbol]
		brokerQty := brokerPositions[symbol]
		diff := math.Abs(internalQty - brokerQty)
		if diff <= r.positionTolerance {
			continue
		}

		var severity Severity
		switch {
		case diff > 100:
			severity = SeverityCritical
		case diff > 10:
			severity = SeverityHigh
		case diff > 1:
			severity = SeverityMedium
		default:
			severity = SeverityLow
		}

		var kind DiscrepancyType
		var desc string
		switch {
		case internalQty == 0:
			kind = UnknownPosition
			desc = fmt.Sprintf("Position %s in broker (%g) but not in system", symbol, brokerQty)
		case brokerQty == 0:
			kind = MissingPosition
			desc = fmt.Sprintf("Position %s in system (%g) but not in broker", symbol, internalQty)
		default:
			kind = PositionMismatch
			desc = fmt.Sprintf("Position %s mismatch: system=%g, broker=%g", symbol, internalQty, brokerQty)
		}

		d := diff
		out = append(out, Discrepancy{
			Type:          kind,
			Severity:      severity,
			Description:   desc,
			InternalValue: internalQty,
			BrokerValue:   brokerQty,
			Difference:    &d,
			Symbol:        symbol,
			DetectedAt:    now,
		})
	}
	return out
}

func (r *Reconciler) reconcileCash(internalCash, brokerCash float64, now time.Time) *Discrepancy {
	diff := math.Abs(internalCash - brokerCash)
	if diff <= r.cashTolerance {
		return nil
	}

	var severity Severity
	switch {
	case diff > 10000:
		severity = SeverityCritical
	case diff > 1000:
		severity = SeverityHigh
	case diff > 100:
		severity = SeverityMedium
	default:
		severity = SeverityLow
	}

	return &Discrepancy{
		Type:          CashMismatch,
		Severity:      severity,
		Description:   fmt.Sprintf("Cash mismatch: system=$%.2f, broker=$%.2f (diff=$%.2f)", internalCash, brokerCash, diff),
		InternalValue: internalCash,
		BrokerValue:   brokerCash,
		Difference:    &diff,
		DetectedAt:    now,
	}
}

// cashTotal reduces a multi-currency balance to the USD figure the books
// track. Accounts without a USD line fall back to the sum of all lines.
func cashTotal(balances []contracts.Cash) float64 {
	var sum float64
	for _, c := range balances {
		if c.Currency == "USD" {
			return c.Total
		}
		sum += c.Total
	}
	return sum
}

func sortedKeys[V any](m map[string]V) []string {
	keys := slices.Collect(maps.Keys(m))
	slices.Sort(keys)
	return keys
}

func elapsedMS(start, end time.Time) float64 {
	return end.Sub(start).Seconds() * 1000
}
