package stats

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

func steppingClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(step)
		return now
	}
}

func ptr(v float64) *float64 { return &v }

func TestOrderLifecycleMetrics(t *testing.T) {
	start := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	c := NewCollector().WithClock(steppingClock(start, time.Second))

	c.RecordOrderProposed("ord-1", "AAPL", "BUY", 10, "prop-1")
	c.RecordOrderSimulated("ord-1", ptr(100.0))
	c.RecordRiskEvaluated("ord-1", true, "", "")
	c.RecordOrderSubmitted("ord-1", "SIM-000001")
	c.RecordOrderFilled("ord-1", 101.0, nil)

	orders := c.Orders()
	require.Len(t, orders, 1)
	o := orders[0]
	assert.Equal(t, contracts.StateFilled, o.Status)
	assert.True(t, o.Successful())
	assert.False(t, o.Rejected())
	require.NotNil(t, o.LatencySeconds())
	assert.Equal(t, 1.0, *o.LatencySeconds())
	require.NotNil(t, o.SimulatorAccuracy())
	assert.InDelta(t, 0.99, *o.SimulatorAccuracy(), 1e-9)

	s := c.Summary()
	assert.Equal(t, 1, s.TotalOrders)
	assert.Equal(t, 1, s.SuccessfulOrders)
	assert.Equal(t, 1.0, s.SuccessRate)
	assert.Zero(t, s.RejectedOrders)
	require.NotNil(t, s.AvgLatencySeconds)
	assert.Equal(t, 1.0, *s.AvgLatencySeconds)
}

func TestRejectionBreakdown(t *testing.T) {
	c := NewCollector()

	c.RecordOrderProposed("ord-1", "TSLA", "BUY", 500, "prop-1")
	c.RecordOrderSimulated("ord-1", nil)
	c.RecordRiskEvaluated("ord-1", false, RejectRiskNotional, "R1: notional exceeds limit")

	c.RecordOrderProposed("ord-2", "AAPL", "SELL", 5, "prop-2")
	c.RecordOrderSimulated("ord-2", nil)
	c.RecordRiskEvaluated("ord-2", true, "", "")
	c.RecordApprovalRequested("ord-2")
	c.RecordApprovalDecided("ord-2", false, "not today")

	s := c.Summary()
	assert.Equal(t, 2, s.TotalOrders)
	assert.Equal(t, 2, s.RejectedOrders)
	assert.Equal(t, 1.0, s.RejectRate)
	assert.Equal(t, map[string]int{
		"risk_notional": 1,
		"human_denied":  1,
	}, s.RejectionBreakdown)

	orders := c.Orders()
	for _, o := range orders {
		assert.True(t, o.Rejected())
	}
}

func TestDayAggregates(t *testing.T) {
	now := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	c := NewCollector().WithClock(func() time.Time { return now })

	c.RecordOrderFilled("ord-1", 101, ptr(50))
	c.RecordOrderFilled("ord-2", 99, ptr(-20))
	c.RecordOrderFilled("ord-3", 100, nil)

	s := c.Summary()
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 30.0, s.TotalRealizedPnL, 1e-9)
	assert.InDelta(t, 30.0, s.DailyPnL["2024-06-03"], 1e-9)
	assert.InDelta(t, 30.0, c.DailyPnL(now), 1e-9)

	// A portfolio snapshot overrides the fill-derived figure.
	c.RecordDailyRealizedPnL(now, -120)
	assert.InDelta(t, -120.0, c.DailyPnL(now), 1e-9)
	assert.Zero(t, c.DailyPnL(now.AddDate(0, 0, 1)))
}

func TestPreLiveChecklist(t *testing.T) {
	now := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	c := NewCollector().
		WithClock(func() time.Time { return now }).
		WithChecklist(Checklist{
			MinOrdersSimulated:    2,
			MinOrdersSubmitted:    1,
			MaxUnintendedOrders:   0,
			MaxRejectRate:         0.5,
			MinReconciliationDays: 1,
		})

	status := c.PreLive()
	assert.False(t, status.ReadyForLive)
	assert.Contains(t, status.BlockingIssues, "Insufficient simulated orders: 0/2")
	assert.Contains(t, status.BlockingIssues, "Insufficient submitted orders: 0/1")
	assert.Contains(t, status.BlockingIssues, "Insufficient reconciliation history: 0 days (min: 1)")

	for _, id := range []string{"ord-1", "ord-2"} {
		c.RecordOrderProposed(id, "AAPL", "BUY", 1, "")
		c.RecordOrderSimulated(id, nil)
	}
	c.RecordOrderSubmitted("ord-1", "SIM-000001")
	c.RecordOrderFilled("ord-1", 100, nil)
	c.RecordReconciliation(true, 0, false, 12.5)

	status = c.PreLive()
	assert.True(t, status.ReadyForLive)
	assert.Equal(t, 5, status.ChecksPassed)
	assert.Equal(t, 5, status.ChecksTotal)
	assert.Empty(t, status.BlockingIssues)

	// One untracked broker order blocks the transition outright.
	c.RecordUnintendedOrder("ghost-1")
	c.RecordUnintendedOrder("ghost-1")
	status = c.PreLive()
	assert.False(t, status.ReadyForLive)
	assert.Equal(t, 1, status.UnintendedOrdersCount)
	assert.Contains(t, status.BlockingIssues, "Unintended orders detected: 1 (max: 0)")
}

func TestPreLiveRejectRateWarns(t *testing.T) {
	c := NewCollector().WithChecklist(Checklist{MaxRejectRate: 0.20})

	c.RecordOrderProposed("ord-1", "AAPL", "BUY", 1, "")
	c.RecordOrderSimulated("ord-1", nil)
	c.RecordRiskEvaluated("ord-1", false, RejectRiskHours, "outside trading hours")

	status := c.PreLive()
	assert.True(t, status.ReadyForLive)
	assert.False(t, status.RejectRateOK)
	assert.Contains(t, status.Warnings, "Reject rate too high: 100.0% (max: 20.0%)")
	assert.Contains(t, status.Recommendations, "Review rejection breakdown and adjust risk rules if needed")
}

func TestFailedReconciliationBlocks(t *testing.T) {
	now := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	c := NewCollector().
		WithClock(func() time.Time { return now }).
		WithChecklist(Checklist{MinReconciliationDays: 1})

	c.RecordReconciliation(false, 3, true, 20)

	status := c.PreLive()
	assert.False(t, status.ReadyForLive)
	assert.Contains(t, status.BlockingIssues, "Reconciliation failures detected in last 1 days")

	s := c.Summary()
	assert.Equal(t, 1, s.TotalReconciliations)
	assert.Zero(t, s.SuccessfulReconciliations)
	assert.Zero(t, s.ReconciliationSuccessRate)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.json")

	c := NewCollector().WithStorage(path)
	c.RecordOrderProposed("ord-1", "SPY", "BUY", 10, "prop-1")
	c.RecordOrderSubmitted("ord-1", "SIM-000001")
	c.RecordOrderFilled("ord-1", 460, ptr(75))
	c.RecordUnintendedOrder("ghost-1")
	c.RecordReconciliation(true, 0, false, 8)

	reloaded := NewCollector().WithStorage(path)
	s := reloaded.Summary()
	assert.Equal(t, 1, s.TotalOrders)
	assert.Equal(t, 1, s.SuccessfulOrders)
	assert.Equal(t, 1, s.UnintendedOrders)
	assert.Equal(t, 1, s.TotalReconciliations)
	assert.InDelta(t, 75.0, s.TotalRealizedPnL, 1e-9)

	orders := reloaded.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "SIM-000001", orders[0].BrokerOrderID)
}
