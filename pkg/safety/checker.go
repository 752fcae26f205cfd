// Package safety validates system readiness before live trading is
// enabled. Seven checks cover test coverage, audit backups, alerting,
// reconciliation, the kill switch, feature flags, and statistics. A
// report is ready for live only when no blocker-level check fails.
package safety

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/alerting"
	"github.com/Mindburn-Labs/tradegate/pkg/flags"
	"github.com/Mindburn-Labs/tradegate/pkg/killswitch"
	"github.com/Mindburn-Labs/tradegate/pkg/reconcile"
	"github.com/Mindburn-Labs/tradegate/pkg/stats"
)

// Status is the outcome of one check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
)

// Severity ranks how much a failed check matters. A failing BLOCKER
// keeps the system out of live mode.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
	SeverityBlocker  Severity = "BLOCKER"
)

// minTestFiles is the file count under which coverage is flagged thin.
const minTestFiles = 10

// CheckResult is the outcome of a single safety check.
type CheckResult struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Report is the aggregate verdict over all checks.
type Report struct {
	ReadyForLive    bool          `json:"ready_for_live"`
	ChecksPassed    int           `json:"checks_passed"`
	ChecksTotal     int           `json:"checks_total"`
	Checks          []CheckResult `json:"checks"`
	BlockingIssues  []string      `json:"blocking_issues"`
	Warnings        []string      `json:"warnings"`
	Recommendations []string      `json:"recommendations"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Checker runs the pre-live checks against whatever subsystems it has
// been wired with. Missing wiring is itself a finding, not a panic.
type Checker struct {
	clock  func() time.Time
	logger *slog.Logger

	root       string
	backupDir  string
	alertCfg   alerting.Config
	reconciler *reconcile.Loop
	killSwitch *killswitch.Switch
	flags      *flags.Flags
	collector  *stats.Collector
}

// NewChecker creates a checker scanning the current directory for tests.
// Wire subsystems with the With builders before running checks.
func NewChecker() *Checker {
	return &Checker{
		clock:  time.Now,
		logger: slog.Default().With("component", "safety"),
		root:   ".",
	}
}

// WithRoot sets the directory scanned for test files.
func (c *Checker) WithRoot(root string) *Checker {
	c.root = root
	return c
}

// WithBackupDir sets the audit backup directory to probe.
func (c *Checker) WithBackupDir(dir string) *Checker {
	c.backupDir = dir
	return c
}

// WithAlerting provides the alerting configuration to inspect.
func (c *Checker) WithAlerting(cfg alerting.Config) *Checker {
	c.alertCfg = cfg
	return c
}

// WithReconciler marks the reconciliation loop as initialized.
func (c *Checker) WithReconciler(loop *reconcile.Loop) *Checker {
	c.reconciler = loop
	return c
}

// WithKillSwitch provides the kill switch to probe.
func (c *Checker) WithKillSwitch(ks *killswitch.Switch) *Checker {
	c.killSwitch = ks
	return c
}

// WithFlags provides the resolved feature flags.
func (c *Checker) WithFlags(f flags.Flags) *Checker {
	c.flags = &f
	return c
}

// WithStats provides the statistics collector to probe.
func (c *Checker) WithStats(collector *stats.Collector) *Checker {
	c.collector = collector
	return c
}

// WithClock overrides the time source for testing.
func (c *Checker) WithClock(clock func() time.Time) *Checker {
	c.clock = clock
	return c
}

// RunAllChecks executes every check and aggregates the verdict.
// ready_for_live is true exactly when no blocker-level check failed.
func (c *Checker) RunAllChecks() *Report {
	checks := []CheckResult{
		c.CheckTestCoverage(),
		c.CheckAuditBackup(),
		c.CheckAlerting(),
		c.CheckReconciliation(),
		c.CheckKillSwitch(),
		c.CheckFeatureFlags(),
		c.CheckStatistics(),
	}

	report := &Report{
		Checks:      checks,
		ChecksTotal: len(checks),
		Timestamp:   c.clock().UTC(),
	}
	for _, check := range checks {
		switch check.Status {
		case StatusPass:
			report.ChecksPassed++
		case StatusFail:
			issue := fmt.Sprintf("%s: %s", check.Name, check.Message)
			if check.Severity == SeverityBlocker {
				report.BlockingIssues = append(report.BlockingIssues, issue)
			} else {
				report.Warnings = append(report.Warnings, issue)
			}
		case StatusWarn:
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", check.Name, check.Message))
			if rec, ok := check.Details["recommendation"].(string); ok {
				report.Recommendations = append(report.Recommendations, rec)
			}
		}
	}
	if report.ChecksPassed < report.ChecksTotal && len(report.Recommendations) == 0 {
		report.Recommendations = append(report.Recommendations,
			"Review failed checks and address issues before enabling live trading")
	}
	report.ReadyForLive = len(report.BlockingIssues) == 0

	c.logger.Info("safety checks completed",
		"ready_for_live", report.ReadyForLive,
		"passed", report.ChecksPassed,
		"total", report.ChecksTotal,
		"blocking_issues", len(report.BlockingIssues),
	)
	return report
}

// CheckTestCoverage counts test files under the project root.
func (c *Checker) CheckTestCoverage() CheckResult {
	if _, err := os.Stat(c.root); err != nil {
		return c.result("Test Coverage", StatusFail, SeverityBlocker,
			"Project root not found", map[string]any{"path": c.root})
	}

	count := 0
	_ = filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name != "." && (strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), "_test.go") {
			count++
		}
		return nil
	})

	switch {
	case count == 0:
		return c.result("Test Coverage", StatusFail, SeverityBlocker,
			"No test files found", map[string]any{"test_files": count})
	case count < minTestFiles:
		return c.result("Test Coverage", StatusWarn, SeverityWarning,
			fmt.Sprintf("Low test coverage: only %d test files", count),
			map[string]any{
				"test_files":     count,
				"recommendation": "Add more comprehensive test coverage",
			})
	default:
		return c.result("Test Coverage", StatusPass, SeverityInfo,
			fmt.Sprintf("Test coverage adequate: %d test files found", count),
			map[string]any{"test_files": count})
	}
}

// CheckAuditBackup verifies the backup directory exists and is writable.
func (c *Checker) CheckAuditBackup() CheckResult {
	if c.backupDir == "" {
		return c.result("Audit Backup", StatusFail, SeverityCritical,
			"Audit backup not configured", map[string]any{})
	}
	if err := os.MkdirAll(c.backupDir, 0o755); err != nil {
		return c.result("Audit Backup", StatusFail, SeverityBlocker,
			"Cannot write to backup directory - permission denied",
			map[string]any{"backup_dir": c.backupDir})
	}
	probe := filepath.Join(c.backupDir, ".write_test")
	if err := os.WriteFile(probe, []byte("test"), 0o644); err != nil {
		return c.result("Audit Backup", StatusFail, SeverityBlocker,
			"Cannot write to backup directory - permission denied",
			map[string]any{"backup_dir": c.backupDir})
	}
	_ = os.Remove(probe)
	return c.result("Audit Backup", StatusPass, SeverityInfo,
		"Audit backup system operational",
		map[string]any{"backup_dir": c.backupDir})
}

// CheckAlerting verifies at least one alert channel is configured.
func (c *Checker) CheckAlerting() CheckResult {
	smtpConfigured := c.alertCfg.SMTPHost != ""
	webhookConfigured := c.alertCfg.WebhookURL != ""
	if !smtpConfigured && !webhookConfigured {
		return c.result("Alerting System", StatusWarn, SeverityWarning,
			"Alerting not configured (no SMTP or webhook)",
			map[string]any{
				"smtp_configured":    false,
				"webhook_configured": false,
				"recommendation":     "Configure SMTP_HOST or WEBHOOK_URL",
			})
	}
	return c.result("Alerting System", StatusPass, SeverityInfo,
		"Alerting system configured",
		map[string]any{
			"smtp_configured":    smtpConfigured,
			"webhook_configured": webhookConfigured,
		})
}

// CheckReconciliation verifies the reconciliation loop is wired. An
// unwired loop is only a warning because checks can legitimately run
// before startup finishes.
func (c *Checker) CheckReconciliation() CheckResult {
	if c.reconciler == nil {
		return c.result("Reconciliation System", StatusWarn, SeverityWarning,
			"Reconciliation system not initialized (will be initialized on app startup)",
			map[string]any{
				"recommendation": "This is normal if checks run before app startup",
			})
	}
	return c.result("Reconciliation System", StatusPass, SeverityInfo,
		"Reconciliation system initialized", map[string]any{})
}

// CheckKillSwitch verifies the kill switch responds and reports its
// state. An active switch is a warning, a missing one is a blocker.
func (c *Checker) CheckKillSwitch() CheckResult {
	if c.killSwitch == nil {
		return c.result("Kill Switch", StatusFail, SeverityBlocker,
			"Kill switch not wired", map[string]any{})
	}
	if c.killSwitch.IsEnabled() {
		return c.result("Kill Switch", StatusWarn, SeverityWarning,
			"Kill switch is ACTIVE - trading disabled",
			map[string]any{
				"is_active":      true,
				"recommendation": "Deactivate kill switch before enabling live trading",
			})
	}
	return c.result("Kill Switch", StatusPass, SeverityInfo,
		"Kill switch functional and inactive",
		map[string]any{"is_active": false})
}

// CheckFeatureFlags verifies flags resolved and reports live mode.
func (c *Checker) CheckFeatureFlags() CheckResult {
	if c.flags == nil {
		return c.result("Feature Flags", StatusFail, SeverityCritical,
			"Feature flags not loaded", map[string]any{})
	}
	return c.result("Feature Flags", StatusPass, SeverityInfo,
		fmt.Sprintf("Feature flags operational (live_trading_mode: %t)", c.flags.LiveTradingMode),
		map[string]any{"live_trading_mode": c.flags.LiveTradingMode})
}

// CheckStatistics verifies the collector answers a summary query.
func (c *Checker) CheckStatistics() CheckResult {
	if c.collector == nil {
		return c.result("Statistics Collection", StatusFail, SeverityCritical,
			"Statistics collector not wired", map[string]any{})
	}
	summary := c.collector.Summary()
	return c.result("Statistics Collection", StatusPass, SeverityInfo,
		"Statistics collection operational",
		map[string]any{
			"total_orders":          summary.TotalOrders,
			"total_reconciliations": summary.TotalReconciliations,
		})
}

func (c *Checker) result(name string, status Status, severity Severity, message string, details map[string]any) CheckResult {
	return CheckResult{
		Name:      name,
		Status:    status,
		Severity:  severity,
		Message:   message,
		Details:   details,
		Timestamp: c.clock().UTC(),
	}
}
