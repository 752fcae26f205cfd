package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/alerting"
	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/stats"
)

// Snapshot is the gateway-side state a reconciliation run diffs against
// the broker.
type Snapshot struct {
	Orders    []InternalOrder
	Positions map[string]float64
	Cash      float64
}

// SnapshotFunc supplies the internal state for one run.
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

// Loop runs reconciliation on an interval and fans the findings out: a
// summary and every discrepancy go to the audit trail, findings of high or
// critical severity go to alerting, and run outcomes feed the statistics
// that gate live trading.
type Loop struct {
	clock  func() time.Time
	logger *slog.Logger

	reconciler *Reconciler
	source     SnapshotFunc
	accountID  string
	interval   time.Duration

	recorder  audit.Recorder
	alerter   *alerting.Alerter
	collector *stats.Collector
	onReport  func(*Report)
}

// NewLoop wires a loop around reconciler. Runs pull internal state from
// source and reconcile accountID every interval (default daily).
func NewLoop(reconciler *Reconciler, source SnapshotFunc, accountID string, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Loop{
		clock:      time.Now,
		logger:     slog.Default().With("component", "reconcile"),
		reconciler: reconciler,
		source:     source,
		accountID:  accountID,
		interval:   interval,
	}
}

// WithRecorder attaches the audit trail.
func (l *Loop) WithRecorder(recorder audit.Recorder) *Loop {
	l.recorder = recorder
	return l
}

// WithAlerter routes severe findings to alerting.
func (l *Loop) WithAlerter(alerter *alerting.Alerter) *Loop {
	l.alerter = alerter
	return l
}

// WithStats records run outcomes into the statistics collector.
func (l *Loop) WithStats(collector *stats.Collector) *Loop {
	l.collector = collector
	return l
}

// WithClock overrides the time source for testing.
func (l *Loop) WithClock(clock func() time.Time) *Loop {
	l.clock = clock
	return l
}

// WithOnReport registers a callback invoked with every completed report.
func (l *Loop) WithOnReport(fn func(*Report)) *Loop {
	l.onReport = fn
	return l
}

// AccountID returns the broker account this loop reconciles.
func (l *Loop) AccountID() string {
	return l.accountID
}

// Run reconciles on every tick until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	l.logger.Info("reconciliation loop started", "account_id", l.accountID, "interval", l.interval)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reconciliation loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := l.RunOnce(ctx); err != nil {
				l.logger.Error("reconciliation run failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single reconciliation pass and routes the findings.
func (l *Loop) RunOnce(ctx context.Context) (*Report, error) {
	now := l.clock().UTC()

	snap, err := l.source(ctx)
	if err != nil {
		l.logger.Error("internal snapshot failed", "error", err)
		if l.collector != nil {
			l.collector.RecordReconciliation(false, 0, true, 0)
		}
		return nil, err
	}

	report := l.reconciler.Reconcile(ctx, l.accountID, snap.Orders, snap.Positions, snap.Cash, now)
	l.logger.Info("reconciliation completed",
		"account_id", l.accountID,
		"is_reconciled", report.IsReconciled,
		"discrepancies", report.Count(),
		"duration_ms", report.DurationMS,
	)

	l.record(ctx, report)
	l.alert(ctx, report)
	if l.collector != nil {
		l.collector.RecordReconciliation(report.IsReconciled, report.Count(), report.HasCritical(), report.DurationMS)
		for _, d := range report.Discrepancies {
			if d.Type == UnknownOrder {
				l.collector.RecordUnintendedOrder(d.OrderID)
			}
		}
	}
	l.recordDailyPnL(ctx, now)
	if l.onReport != nil {
		l.onReport(report)
	}

	return report, nil
}

func (l *Loop) record(ctx context.Context, report *Report) {
	if l.recorder == nil {
		return
	}
	correlationID := audit.CorrelationID(ctx)
	_, _ = l.recorder.Record(ctx, audit.EventReconciliationCompleted, correlationID, map[string]any{
		"account_id":                 l.accountID,
		"is_reconciled":              report.IsReconciled,
		"discrepancy_count":          report.Count(),
		"has_critical_discrepancies": report.HasCritical(),
		"duration_ms":                report.DurationMS,
	}, nil)

	for _, d := range report.Discrepancies {
		_, _ = l.recorder.Record(ctx, audit.EventDiscrepancyFound, correlationID, map[string]any{
			"type":        string(d.Type),
			"severity":    string(d.Severity),
			"description": d.Description,
			"symbol":      d.Symbol,
			"order_id":    d.OrderID,
		}, nil)
	}
}

// alert aggregates the run's high and critical findings into one alert,
// so a bad run does not burn the rate limit on its own first finding.
func (l *Loop) alert(ctx context.Context, report *Report) {
	if l.alerter == nil {
		return
	}
	var severe []Discrepancy
	for _, d := range report.Discrepancies {
		if d.Severity.AtLeast(SeverityHigh) {
			severe = append(severe, d)
		}
	}
	if len(severe) == 0 {
		return
	}

	sev := alerting.SeverityError
	if report.HasCritical() {
		sev = alerting.SeverityCritical
	}
	descriptions := make([]string, len(severe))
	for i, d := range severe {
		descriptions[i] = d.Description
	}
	l.alerter.Send(ctx, "reconciliation_discrepancy", sev,
		fmt.Sprintf("Reconciliation found %d severe discrepancies", len(severe)),
		map[string]any{
			"account_id":   l.accountID,
			"count":        len(severe),
			"descriptions": descriptions,
		})
}

// recordDailyPnL snapshots the broker's realized P&L for the day. The
// snapshot overwrites fill-derived aggregates, so any drift between fills
// and the broker's books self-corrects once per cycle.
func (l *Loop) recordDailyPnL(ctx context.Context, now time.Time) {
	if l.collector == nil {
		return
	}
	portfolio, err := l.reconciler.venue.GetPortfolio(ctx, l.accountID)
	if err != nil {
		l.logger.Warn("daily pnl snapshot skipped", "error", err)
		return
	}
	var realized float64
	for _, p := range portfolio.Positions {
		realized += p.RealizedPnL
	}
	l.collector.RecordDailyRealizedPnL(now, realized)

	if l.alerter != nil && realized < 0 && -realized > l.alerter.LossThreshold() {
		l.alerter.DailyLoss(ctx, realized, l.alerter.LossThreshold())
	}
}
