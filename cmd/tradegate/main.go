package main

import (
	"fmt"
	"io"
	"os"
)

// Dispatcher
func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// startServer is a variable to allow mocking in tests
var startServer = runServer

// Run is the entrypoint for testing
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		// Default to server
		startServer()
		return 0
	}

	switch args[1] {
	case "server", "serve":
		startServer()
		return 0
	case "safety":
		return runSafetyCmd(args[2:], stdout, stderr)
	case "killswitch", "kill-switch":
		if len(args) < 3 {
			fmt.Fprintln(stderr, "Usage: tradegate killswitch <activate|deactivate|status>")
			return 2
		}
		return runKillSwitchCmd(args[2:], stdout, stderr)
	case "reconcile":
		return runReconcileCmd(args[2:], stdout, stderr)
	case "backup":
		return runBackupCmd(args[2:], stdout, stderr)
	case "verify-audit":
		return runVerifyAuditCmd(args[2:], stdout, stderr)
	case "health":
		return runHealthCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		if args[1][0] == '-' {
			startServer()
			return 0
		}
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

// ANSI Colors
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
)

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "%stradegate%s — two-phase order approval gateway\n", ColorBold+ColorBlue, ColorReset)
	fmt.Fprintln(w, "")
	printSection(w, "Usage")
	fmt.Fprintln(w, "  tradegate [command] [options]")
	fmt.Fprintln(w, "")
	printSection(w, "Commands")
	printCommand(w, "server", "Run the HTTP API, reconciliation loop and broker supervision (default)")
	printCommand(w, "safety", "Run the pre-live safety checks and print the report")
	printCommand(w, "killswitch", "activate|deactivate|status — operate the emergency trading halt")
	printCommand(w, "reconcile", "One-shot reconciliation against the broker (--account)")
	printCommand(w, "backup", "Snapshot the audit database now")
	printCommand(w, "verify-audit", "Verify the audit trail hash chain")
	printCommand(w, "health", "Probe a running server's /health endpoint")
	printCommand(w, "help", "Show this help")
	fmt.Fprintln(w, "")
	printSection(w, "Environment")
	fmt.Fprintln(w, "  TRADEGATE_CONFIG        Path to the YAML configuration file")
	fmt.Fprintln(w, "  TRADEGATE_FLAGS_FILE    Path to the feature flags JSON file")
	fmt.Fprintln(w, "  TRADEGATE_POLICY_FILE   Path to the auto-approval policy file")
	fmt.Fprintln(w, "  DATABASE_URL            Postgres audit store (default: SQLite)")
	fmt.Fprintln(w, "  KILL_SWITCH_ENABLED     Force the kill switch active")
	fmt.Fprintln(w, "")
}

func printSection(w io.Writer, title string) {
	fmt.Fprintf(w, "%s%s:%s\n", ColorBold+ColorCyan, title, ColorReset)
}

func printCommand(w io.Writer, name, desc string) {
	fmt.Fprintf(w, "  %s%-12s%s %s\n", ColorGreen, name, ColorReset, desc)
}
