package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/approval"
	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/config"
	"github.com/Mindburn-Labs/tradegate/pkg/flags"
	"github.com/Mindburn-Labs/tradegate/pkg/killswitch"
	"github.com/Mindburn-Labs/tradegate/pkg/reconcile"
	"github.com/Mindburn-Labs/tradegate/pkg/safety"
	"github.com/Mindburn-Labs/tradegate/pkg/stats"
)

// runSafetyCmd runs the pre-live safety checks offline and prints the
// report. Exit code 2 means the system is not ready for live trading.
func runSafetyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("safety", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output the report as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(os.Getenv("TRADEGATE_CONFIG"))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 2
	}

	checker := safety.NewChecker().
		WithBackupDir(cfg.Audit.BackupDir).
		WithAlerting(cfg.Alerting.AlerterConfig()).
		WithKillSwitch(killswitch.New(os.Getenv("KILL_SWITCH_STATE_FILE"))).
		WithFlags(flags.Load(os.Getenv("TRADEGATE_FLAGS_FILE"))).
		WithStats(stats.NewCollector().WithStorage(statsPath()))
	report := checker.RunAllChecks()

	if *jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		printSafetyReport(stdout, report)
	}
	if !report.ReadyForLive {
		return 2
	}
	return 0
}

func printSafetyReport(w io.Writer, report *safety.Report) {
	fmt.Fprintf(w, "\n%sSafety Report%s  (%d/%d checks passed)\n\n",
		ColorBold+ColorBlue, ColorReset, report.ChecksPassed, report.ChecksTotal)
	for _, c := range report.Checks {
		color := ColorGreen
		if c.Status == safety.StatusFail {
			color = ColorRed
		} else if c.Status == safety.StatusWarn {
			color = ColorYellow
		}
		fmt.Fprintf(w, "  %s%-4s%s %-22s %s\n", color, c.Status, ColorReset, c.Name, c.Message)
	}
	fmt.Fprintln(w, "")
	if report.ReadyForLive {
		fmt.Fprintf(w, "%sREADY FOR LIVE%s\n", ColorBold+ColorGreen, ColorReset)
	} else {
		fmt.Fprintf(w, "%sNOT READY FOR LIVE%s\n", ColorBold+ColorRed, ColorReset)
		for _, issue := range report.BlockingIssues {
			fmt.Fprintf(w, "  - %s\n", issue)
		}
	}
}

// runKillSwitchCmd operates the persisted emergency halt from the CLI:
// activate --reason, deactivate, status.
func runKillSwitchCmd(args []string, stdout, stderr io.Writer) int {
	ks := killswitch.New(os.Getenv("KILL_SWITCH_STATE_FILE"))

	switch args[0] {
	case "activate":
		cmd := flag.NewFlagSet("killswitch activate", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		reason := cmd.String("reason", "", "Why trading is being halted")
		by := cmd.String("by", "cli", "Who is activating the halt")
		if err := cmd.Parse(args[1:]); err != nil {
			return 2
		}
		state := ks.Activate(*by, *reason)
		fmt.Fprintf(stdout, "%sKILL SWITCH ACTIVATED%s - trading is halted: %s\n",
			ColorBold+ColorRed, ColorReset, state.Reason)
		return 0

	case "deactivate":
		cmd := flag.NewFlagSet("killswitch deactivate", flag.ContinueOnError)
		cmd.SetOutput(stderr)
		by := cmd.String("by", "cli", "Who is releasing the halt")
		if err := cmd.Parse(args[1:]); err != nil {
			return 2
		}
		if _, err := ks.Deactivate(*by); err != nil {
			fmt.Fprintf(stderr, "Deactivation failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "%sKill switch deactivated%s - trading may resume\n",
			ColorBold+ColorGreen, ColorReset)
		return 0

	case "status":
		state := ks.GetState()
		data, _ := json.MarshalIndent(state, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return 0

	default:
		fmt.Fprintf(stderr, "Unknown killswitch subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, "Usage: tradegate killswitch <activate|deactivate|status>")
		return 2
	}
}

// runReconcileCmd performs a one-shot reconciliation against the broker.
// The CLI has no view of the server's in-memory proposals, so the internal
// book is primed from the broker portfolio itself: positions and cash
// reconcile trivially and every open order at the broker surfaces as
// untracked. Exit code 1 means discrepancies were found.
func runReconcileCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	account := cmd.String("account", "", "Broker account to reconcile (default: configured account)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(os.Getenv("TRADEGATE_CONFIG"))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 2
	}
	acct := *account
	if acct == "" {
		acct = accountID()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	venue, err := buildVenue(cfg, flags.Load(os.Getenv("TRADEGATE_FLAGS_FILE")),
		killswitch.New(os.Getenv("KILL_SWITCH_STATE_FILE")), nil)
	if err != nil {
		fmt.Fprintf(stderr, "Broker selection failed: %v\n", err)
		return 2
	}
	if err := venue.Connect(ctx); err != nil {
		fmt.Fprintf(stderr, "Broker connect failed: %v\n", err)
		return 2
	}
	defer func() { _ = venue.Disconnect(context.Background()) }()

	ledger := newGatewayLedger(approval.NewStore(), venue, acct)
	if err := ledger.Prime(ctx); err != nil {
		fmt.Fprintf(stderr, "Portfolio fetch failed: %v\n", err)
		return 2
	}
	snap, err := ledger.Snapshot(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Snapshot failed: %v\n", err)
		return 2
	}

	report := reconcile.NewReconciler(venue).
		Reconcile(ctx, acct, snap.Orders, snap.Positions, snap.Cash, time.Now().UTC())
	data, _ := json.MarshalIndent(report, "", "  ")
	fmt.Fprintln(stdout, string(data))

	if !report.IsReconciled {
		return 1
	}
	return 0
}

// runBackupCmd snapshots the audit database now. Backups apply to Lite
// Mode only; Postgres deployments back up at the database layer.
func runBackupCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("backup", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if os.Getenv("DATABASE_URL") != "" {
		fmt.Fprintln(stderr, "Backups apply to Lite Mode (SQLite) only; use pg_dump for Postgres.")
		return 2
	}

	cfg, err := config.Load(os.Getenv("TRADEGATE_CONFIG"))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 2
	}

	ctx := context.Background()
	store, db, _, err := openAuditStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open audit store: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	bm, err := audit.NewBackupManager(db, audit.BackupConfig{
		BackupDir:     cfg.Audit.BackupDir,
		RetentionDays: cfg.Audit.RetentionDays,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to init backup manager: %v\n", err)
		return 2
	}
	remote, err := audit.NewRemoteFromEnv(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to configure remote backups: %v\n", err)
		return 2
	}
	if remote != nil {
		bm = bm.WithRemote(remote)
	}

	path, err := bm.CreateBackup(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Backup failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Backup created: %s\n", path)
	if deleted, err := bm.CleanupOldBackups(); err != nil {
		fmt.Fprintf(stderr, "Retention sweep failed: %v\n", err)
	} else if deleted > 0 {
		fmt.Fprintf(stdout, "Rotated %d expired backups\n", deleted)
	}
	return 0
}

// runVerifyAuditCmd verifies the audit trail hash chain end to end.
func runVerifyAuditCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-audit", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(os.Getenv("TRADEGATE_CONFIG"))
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 2
	}

	ctx := context.Background()
	store, _, _, err := openAuditStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open audit store: %v\n", err)
		return 2
	}
	defer func() { _ = store.Close() }()

	if err := store.VerifyChain(ctx); err != nil {
		fmt.Fprintf(stderr, "%sAudit chain verification FAILED%s: %v\n",
			ColorBold+ColorRed, ColorReset, err)
		return 1
	}
	if st, err := store.Stats(ctx); err == nil {
		fmt.Fprintf(stdout, "%sAudit chain verified%s (%d events)\n",
			ColorBold+ColorGreen, ColorReset, st.TotalEvents)
	} else {
		fmt.Fprintf(stdout, "%sAudit chain verified%s\n", ColorBold+ColorGreen, ColorReset)
	}
	return 0
}

// runHealthCmd probes a running server's /health endpoint.
func runHealthCmd(out, errOut io.Writer) int {
	base := os.Getenv("TRADEGATE_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	resp, err := http.Get(base + "/health")
	if err != nil {
		fmt.Fprintf(errOut, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(errOut, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}
	body, _ := io.ReadAll(resp.Body)
	fmt.Fprintln(out, string(body))
	return 0
}
