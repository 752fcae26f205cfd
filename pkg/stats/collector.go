// Package stats tracks order outcomes, fill aggregates, and reconciliation
// history through the paper phase, and evaluates the checklist that gates
// the move to live trading.
package stats

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

// RejectionReason buckets rejections for the summary breakdown.
type RejectionReason string

const (
	RejectRiskNotional       RejectionReason = "risk_notional"
	RejectRiskPositionWeight RejectionReason = "risk_position_weight"
	RejectRiskSectorWeight   RejectionReason = "risk_sector_weight"
	RejectRiskSlippage       RejectionReason = "risk_slippage"
	RejectRiskHours          RejectionReason = "risk_hours"
	RejectRiskLiquidity      RejectionReason = "risk_liquidity"
	RejectRiskDailyTrades    RejectionReason = "risk_daily_trades"
	RejectRiskDailyLoss      RejectionReason = "risk_daily_loss"
	RejectSimulationFailed   RejectionReason = "simulation_failed"
	RejectHumanDenied        RejectionReason = "human_denied"
	RejectBrokerRejected     RejectionReason = "broker_rejected"
	RejectUnknown            RejectionReason = "unknown"
)

// OrderRecord tracks one order through its lifecycle with the timestamps
// needed for latency and accuracy metrics.
type OrderRecord struct {
	OrderID    string  `json:"order_id"`
	ProposalID string  `json:"proposal_id,omitempty"`
	Symbol     string  `json:"symbol,omitempty"`
	Side       string  `json:"side,omitempty"`
	Quantity   float64 `json:"quantity,omitempty"`

	ProposedAt          *time.Time `json:"proposed_at,omitempty"`
	SimulatedAt         *time.Time `json:"simulated_at,omitempty"`
	RiskEvaluatedAt     *time.Time `json:"risk_evaluated_at,omitempty"`
	ApprovalRequestedAt *time.Time `json:"approval_requested_at,omitempty"`
	ApprovalDecidedAt   *time.Time `json:"approval_decided_at,omitempty"`
	SubmittedAt         *time.Time `json:"submitted_at,omitempty"`
	FilledAt            *time.Time `json:"filled_at,omitempty"`

	Status           contracts.OrderState `json:"status"`
	RejectionReason  RejectionReason      `json:"rejection_reason,omitempty"`
	RejectionDetails string               `json:"rejection_details,omitempty"`

	BrokerOrderID  string   `json:"broker_order_id,omitempty"`
	FillPrice      *float64 `json:"fill_price,omitempty"`
	SimulatedPrice *float64 `json:"simulated_price,omitempty"`
	RealizedPnL    *float64 `json:"realized_pnl,omitempty"`
}

// LatencySeconds is the submission-to-fill time, nil until both stamps exist.
func (r OrderRecord) LatencySeconds() *float64 {
	if r.SubmittedAt == nil || r.FilledAt == nil {
		return nil
	}
	s := r.FilledAt.Sub(*r.SubmittedAt).Seconds()
	return &s
}

// SimulatorAccuracy compares the simulated price against the actual fill,
// 1.0 meaning a perfect prediction. Nil when either price is missing.
func (r OrderRecord) SimulatorAccuracy() *float64 {
	if r.SimulatedPrice == nil || r.FillPrice == nil || *r.SimulatedPrice <= 0 {
		return nil
	}
	acc := 1.0 - (abs(*r.FillPrice-*r.SimulatedPrice) / *r.SimulatedPrice)
	if acc < 0 {
		acc = 0
	}
	return &acc
}

// Successful reports whether the order filled.
func (r OrderRecord) Successful() bool {
	return r.Status == contracts.StateFilled
}

// Rejected reports whether the order was refused at any stage.
func (r OrderRecord) Rejected() bool {
	switch r.Status {
	case contracts.StateRiskRejected, contracts.StateApprovalDenied, contracts.StateRejected:
		return true
	}
	return false
}

// ReconciliationRecord is one reconciliation run outcome.
type ReconciliationRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	Reconciled    bool      `json:"is_reconciled"`
	Discrepancies int       `json:"discrepancy_count"`
	HasCritical   bool      `json:"has_critical_discrepancies"`
	DurationMS    float64   `json:"duration_ms"`
}

// DayAggregate accumulates fill outcomes per calendar day (UTC).
type DayAggregate struct {
	Fills       int     `json:"fills"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Checklist holds the thresholds gating the paper-to-live transition.
type Checklist struct {
	MinOrdersSimulated    int
	MinOrdersSubmitted    int
	MaxUnintendedOrders   int
	MaxRejectRate         float64
	MinReconciliationDays int
}

// DefaultChecklist returns the production gate: 200 simulated, 50 submitted,
// zero unintended orders, reject rate under 20%, 30 clean reconcile days.
func DefaultChecklist() Checklist {
	return Checklist{
		MinOrdersSimulated:    200,
		MinOrdersSubmitted:    50,
		MaxUnintendedOrders:   0,
		MaxRejectRate:         0.20,
		MinReconciliationDays: 30,
	}
}

// Collector accumulates trading statistics in memory with optional JSON
// persistence. All record methods are safe for concurrent use.
type Collector struct {
	mu     sync.Mutex
	clock  func() time.Time
	logger *slog.Logger
	path   string

	orders     map[string]*OrderRecord
	recons     []ReconciliationRecord
	days       map[string]*DayAggregate
	unintended []string

	checklist Checklist
}

// NewCollector creates an in-memory collector with the default checklist.
func NewCollector() *Collector {
	return &Collector{
		clock:     time.Now,
		logger:    slog.Default().With("component", "stats"),
		orders:    make(map[string]*OrderRecord),
		days:      make(map[string]*DayAggregate),
		checklist: DefaultChecklist(),
	}
}

// WithClock overrides the time source for testing.
func (c *Collector) WithClock(clock func() time.Time) *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
	return c
}

// WithChecklist overrides the pre-live thresholds.
func (c *Collector) WithChecklist(cl Checklist) *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checklist = cl
	return c
}

// WithStorage enables JSON persistence at path and loads prior state if the
// file exists. A corrupted file starts fresh.
func (c *Collector) WithStorage(path string) *Collector {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.path = path
	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var snap persistedState
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("discarding corrupted statistics file", "path", path, "error", err)
		return c
	}
	if snap.Orders != nil {
		c.orders = snap.Orders
	}
	c.recons = snap.Reconciliations
	if snap.Days != nil {
		c.days = snap.Days
	}
	c.unintended = snap.Unintended
	return c
}

type persistedState struct {
	Orders          map[string]*OrderRecord  `json:"orders"`
	Reconciliations []ReconciliationRecord   `json:"reconciliations"`
	Days            map[string]*DayAggregate `json:"days"`
	Unintended      []string                 `json:"unintended_orders"`
}

// saveLocked persists under the caller's lock. Failures are logged and
// tolerated; the in-memory state stays authoritative.
func (c *Collector) saveLocked() {
	if c.path == "" {
		return
	}
	data, err := json.MarshalIndent(persistedState{
		Orders:          c.orders,
		Reconciliations: c.recons,
		Days:            c.days,
		Unintended:      c.unintended,
	}, "", "  ")
	if err != nil {
		c.logger.Warn("failed to serialize statistics", "error", err)
		return
	}
	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		c.logger.Warn("failed to save statistics", "path", c.path, "error", err)
	}
}

func (c *Collector) get(orderID string) *OrderRecord {
	r, ok := c.orders[orderID]
	if !ok {
		r = &OrderRecord{OrderID: orderID, Status: contracts.StateProposed}
		c.orders[orderID] = r
	}
	return r
}

// RecordOrderProposed opens tracking for an order.
func (c *Collector) RecordOrderProposed(orderID, symbol, side string, quantity float64, proposalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.get(orderID)
	r.ProposalID = proposalID
	r.Symbol = symbol
	r.Side = side
	r.Quantity = quantity
	now := c.clock().UTC()
	r.ProposedAt = &now
	r.Status = contracts.StateProposed
	c.saveLocked()
}

// RecordOrderSimulated stamps the simulation step. simulatedPrice feeds the
// accuracy metric and may be nil.
func (c *Collector) RecordOrderSimulated(orderID string, simulatedPrice *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.orders[orderID]
	if !ok {
		return
	}
	now := c.clock().UTC()
	r.SimulatedAt = &now
	r.Status = contracts.StateSimulated
	if simulatedPrice != nil {
		r.SimulatedPrice = simulatedPrice
	}
	c.saveLocked()
}

// RecordRiskEvaluated stamps the risk gate outcome.
func (c *Collector) RecordRiskEvaluated(orderID string, approved bool, reason RejectionReason, details string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.orders[orderID]
	if !ok {
		return
	}
	now := c.clock().UTC()
	r.RiskEvaluatedAt = &now
	if approved {
		r.Status = contracts.StateRiskApproved
	} else {
		r.Status = contracts.StateRiskRejected
		r.RejectionReason = reason
		r.RejectionDetails = details
	}
	c.saveLocked()
}

// RecordApprovalRequested stamps routing to the human queue.
func (c *Collector) RecordApprovalRequested(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.orders[orderID]
	if !ok {
		return
	}
	now := c.clock().UTC()
	r.ApprovalRequestedAt = &now
	r.Status = contracts.StateApprovalRequested
	c.saveLocked()
}

// RecordApprovalDecided stamps the grant or denial.
func (c *Collector) RecordApprovalDecided(orderID string, approved bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.orders[orderID]
	if !ok {
		return
	}
	now := c.clock().UTC()
	r.ApprovalDecidedAt = &now
	if approved {
		r.Status = contracts.StateApprovalGranted
	} else {
		r.Status = contracts.StateApprovalDenied
		r.RejectionReason = RejectHumanDenied
		r.RejectionDetails = reason
	}
	c.saveLocked()
}

// RecordOrderSubmitted stamps broker acceptance.
func (c *Collector) RecordOrderSubmitted(orderID, brokerOrderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.get(orderID)
	now := c.clock().UTC()
	r.SubmittedAt = &now
	r.BrokerOrderID = brokerOrderID
	r.Status = contracts.StateSubmitted
	c.saveLocked()
}

// RecordOrderFilled stamps a fill and folds it into the day aggregates.
// realizedPnL is nil when the caller has no cost basis (buys, partial data).
func (c *Collector) RecordOrderFilled(orderID string, fillPrice float64, realizedPnL *float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.get(orderID)
	now := c.clock().UTC()
	r.FilledAt = &now
	r.FillPrice = &fillPrice
	r.RealizedPnL = realizedPnL
	r.Status = contracts.StateFilled

	agg := c.dayLocked(now)
	agg.Fills++
	if realizedPnL != nil {
		agg.RealizedPnL += *realizedPnL
		switch {
		case *realizedPnL > 0:
			agg.Wins++
		case *realizedPnL < 0:
			agg.Losses++
		}
	}
	c.saveLocked()
}

// RecordOrderRejected stamps a broker rejection.
func (c *Collector) RecordOrderRejected(orderID, details string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.get(orderID)
	r.Status = contracts.StateRejected
	r.RejectionReason = RejectBrokerRejected
	r.RejectionDetails = details
	c.saveLocked()
}

// RecordOrderCancelled stamps a cancellation.
func (c *Collector) RecordOrderCancelled(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.get(orderID)
	r.Status = contracts.StateCancelled
	c.saveLocked()
}

// RecordReconciliation appends one reconciliation outcome.
func (c *Collector) RecordReconciliation(reconciled bool, discrepancies int, hasCritical bool, durationMS float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recons = append(c.recons, ReconciliationRecord{
		Timestamp:     c.clock().UTC(),
		Reconciled:    reconciled,
		Discrepancies: discrepancies,
		HasCritical:   hasCritical,
		DurationMS:    durationMS,
	})
	c.saveLocked()
}

// RecordUnintendedOrder registers an order seen at the broker that the
// gateway never tracked. Any entry here blocks the live transition.
func (c *Collector) RecordUnintendedOrder(orderID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range c.unintended {
		if id == orderID {
			return
		}
	}
	c.unintended = append(c.unintended, orderID)
	c.saveLocked()
}

// RecordDailyRealizedPnL sets the day's realized P&L from a portfolio
// snapshot. Snapshots are authoritative: fill increments drift between
// snapshots and the next snapshot corrects them.
func (c *Collector) RecordDailyRealizedPnL(now time.Time, realized float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dayLocked(now).RealizedPnL = realized
	c.saveLocked()
}

// DailyPnL returns the realized P&L recorded for the given day.
func (c *Collector) DailyPnL(day time.Time) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if agg, ok := c.days[dayKey(day)]; ok {
		return agg.RealizedPnL
	}
	return 0
}

func (c *Collector) dayLocked(now time.Time) *DayAggregate {
	key := dayKey(now)
	agg, ok := c.days[key]
	if !ok {
		agg = &DayAggregate{}
		c.days[key] = agg
	}
	return agg
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Summary is the roll-up of everything tracked so far.
type Summary struct {
	TotalOrders      int     `json:"total_orders"`
	SuccessfulOrders int     `json:"successful_orders"`
	RejectedOrders   int     `json:"rejected_orders"`
	SuccessRate      float64 `json:"success_rate"`
	RejectRate       float64 `json:"reject_rate"`

	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	TotalRealizedPnL float64 `json:"total_realized_pnl"`

	AvgLatencySeconds    *float64 `json:"avg_latency_seconds"`
	AvgSimulatorAccuracy *float64 `json:"avg_simulator_accuracy"`

	RejectionBreakdown map[string]int     `json:"rejection_breakdown"`
	DailyPnL           map[string]float64 `json:"daily_pnl"`

	TotalReconciliations      int     `json:"total_reconciliations"`
	SuccessfulReconciliations int     `json:"successful_reconciliations"`
	ReconciliationSuccessRate float64 `json:"reconciliation_success_rate"`

	UnintendedOrders int `json:"unintended_orders"`
}

// Summary computes the current roll-up.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Summary{
		TotalOrders:        len(c.orders),
		RejectionBreakdown: map[string]int{},
		DailyPnL:           map[string]float64{},
		UnintendedOrders:   len(c.unintended),
	}

	s.TotalReconciliations = len(c.recons)
	for _, r := range c.recons {
		if r.Reconciled {
			s.SuccessfulReconciliations++
		}
	}
	if s.TotalReconciliations > 0 {
		s.ReconciliationSuccessRate = float64(s.SuccessfulReconciliations) / float64(s.TotalReconciliations)
	}

	for day, agg := range c.days {
		s.Wins += agg.Wins
		s.Losses += agg.Losses
		s.TotalRealizedPnL += agg.RealizedPnL
		s.DailyPnL[day] = agg.RealizedPnL
	}

	if len(c.orders) == 0 {
		return s
	}

	var latencySum, accuracySum float64
	var latencyN, accuracyN int
	for _, o := range c.orders {
		if o.Successful() {
			s.SuccessfulOrders++
		}
		if o.Rejected() {
			s.RejectedOrders++
		}
		if o.RejectionReason != "" {
			s.RejectionBreakdown[string(o.RejectionReason)]++
		}
		if lat := o.LatencySeconds(); lat != nil {
			latencySum += *lat
			latencyN++
		}
		if acc := o.SimulatorAccuracy(); acc != nil {
			accuracySum += *acc
			accuracyN++
		}
	}
	s.SuccessRate = float64(s.SuccessfulOrders) / float64(s.TotalOrders)
	s.RejectRate = float64(s.RejectedOrders) / float64(s.TotalOrders)
	if latencyN > 0 {
		avg := latencySum / float64(latencyN)
		s.AvgLatencySeconds = &avg
	}
	if accuracyN > 0 {
		avg := accuracySum / float64(accuracyN)
		s.AvgSimulatorAccuracy = &avg
	}
	return s
}

// PreLiveStatus is the result of the paper-to-live checklist.
type PreLiveStatus struct {
	ReadyForLive bool `json:"ready_for_live"`
	ChecksPassed int  `json:"checks_passed"`
	ChecksTotal  int  `json:"checks_total"`

	OrdersSimulatedOK     bool    `json:"orders_simulated_ok"`
	OrdersSimulatedCount  int     `json:"orders_simulated_count"`
	OrdersSubmittedOK     bool    `json:"orders_submitted_ok"`
	OrdersSubmittedCount  int     `json:"orders_submitted_count"`
	UnintendedOrdersOK    bool    `json:"unintended_orders_ok"`
	UnintendedOrdersCount int     `json:"unintended_orders_count"`
	RejectRateOK          bool    `json:"reject_rate_ok"`
	RejectRate            float64 `json:"reject_rate"`
	ReconciliationOK      bool    `json:"reconciliation_ok"`
	ReconciliationDays    int     `json:"reconciliation_days"`

	BlockingIssues  []string `json:"blocking_issues"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}

// PreLive evaluates the checklist against the collected history. The reject
// rate check is a warning; everything else blocks.
func (c *Collector) PreLive() PreLiveStatus {
	summary := c.Summary()

	c.mu.Lock()
	defer c.mu.Unlock()
	cl := c.checklist
	now := c.clock().UTC()

	var simulated, submitted int
	for _, o := range c.orders {
		if o.SimulatedAt != nil {
			simulated++
		}
		if o.SubmittedAt != nil {
			submitted++
		}
	}

	cutoff := now.AddDate(0, 0, -cl.MinReconciliationDays)
	daysCovered := map[string]bool{}
	allReconciled := true
	for _, r := range c.recons {
		if r.Timestamp.Before(cutoff) {
			continue
		}
		daysCovered[dayKey(r.Timestamp)] = true
		if !r.Reconciled {
			allReconciled = false
		}
	}

	status := PreLiveStatus{
		OrdersSimulatedOK:     simulated >= cl.MinOrdersSimulated,
		OrdersSimulatedCount:  simulated,
		OrdersSubmittedOK:     submitted >= cl.MinOrdersSubmitted,
		OrdersSubmittedCount:  submitted,
		UnintendedOrdersOK:    len(c.unintended) <= cl.MaxUnintendedOrders,
		UnintendedOrdersCount: len(c.unintended),
		RejectRateOK:          summary.RejectRate <= cl.MaxRejectRate,
		RejectRate:            summary.RejectRate,
		ReconciliationOK:      len(daysCovered) >= cl.MinReconciliationDays && allReconciled,
		ReconciliationDays:    len(daysCovered),
		BlockingIssues:        []string{},
		Warnings:              []string{},
		Recommendations:       []string{},
	}

	if !status.OrdersSimulatedOK {
		status.BlockingIssues = append(status.BlockingIssues,
			fmt.Sprintf("Insufficient simulated orders: %d/%d", simulated, cl.MinOrdersSimulated))
	}
	if !status.OrdersSubmittedOK {
		status.BlockingIssues = append(status.BlockingIssues,
			fmt.Sprintf("Insufficient submitted orders: %d/%d", submitted, cl.MinOrdersSubmitted))
	}
	if !status.UnintendedOrdersOK {
		status.BlockingIssues = append(status.BlockingIssues,
			fmt.Sprintf("Unintended orders detected: %d (max: %d)", len(c.unintended), cl.MaxUnintendedOrders))
	}
	if !status.RejectRateOK {
		status.Warnings = append(status.Warnings,
			fmt.Sprintf("Reject rate too high: %.1f%% (max: %.1f%%)", summary.RejectRate*100, cl.MaxRejectRate*100))
		status.Recommendations = append(status.Recommendations,
			"Review rejection breakdown and adjust risk rules if needed")
	}
	if !status.ReconciliationOK {
		if len(daysCovered) < cl.MinReconciliationDays {
			status.BlockingIssues = append(status.BlockingIssues,
				fmt.Sprintf("Insufficient reconciliation history: %d days (min: %d)", len(daysCovered), cl.MinReconciliationDays))
		} else {
			status.BlockingIssues = append(status.BlockingIssues,
				fmt.Sprintf("Reconciliation failures detected in last %d days", cl.MinReconciliationDays))
		}
	}
	if summary.AvgSimulatorAccuracy != nil && *summary.AvgSimulatorAccuracy < 0.90 {
		status.Warnings = append(status.Warnings,
			fmt.Sprintf("Simulator accuracy below 90%%: %.1f%%", *summary.AvgSimulatorAccuracy*100))
		status.Recommendations = append(status.Recommendations,
			"Review simulator parameters and market data quality")
	}

	for _, ok := range []bool{
		status.OrdersSimulatedOK,
		status.OrdersSubmittedOK,
		status.UnintendedOrdersOK,
		status.RejectRateOK,
		status.ReconciliationOK,
	} {
		status.ChecksTotal++
		if ok {
			status.ChecksPassed++
		}
	}
	status.ReadyForLive = len(status.BlockingIssues) == 0
	return status
}

// Orders returns a copy of the tracked order records.
func (c *Collector) Orders() []OrderRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]OrderRecord, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, *o)
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
