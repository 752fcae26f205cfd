package main

import (
	"bytes"
	"strings"
	"testing"
)

// swapServer replaces the server entrypoint for the duration of a test so
// dispatcher tests never bind a port.
func swapServer(t *testing.T) *int {
	t.Helper()
	calls := 0
	orig := startServer
	startServer = func() { calls++ }
	t.Cleanup(func() { startServer = orig })
	return &calls
}

func TestRunDefaultsToServer(t *testing.T) {
	calls := swapServer(t)
	var out, errOut bytes.Buffer

	if code := Run([]string{"tradegate"}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if *calls != 1 {
		t.Errorf("server started %d times, want 1", *calls)
	}
}

func TestRunServerCommand(t *testing.T) {
	calls := swapServer(t)
	var out, errOut bytes.Buffer

	for _, cmd := range []string{"server", "serve"} {
		if code := Run([]string{"tradegate", cmd}, &out, &errOut); code != 0 {
			t.Fatalf("%s: exit code = %d, want 0", cmd, code)
		}
	}
	if *calls != 2 {
		t.Errorf("server started %d times, want 2", *calls)
	}
}

func TestRunLeadingFlagFallsThroughToServer(t *testing.T) {
	calls := swapServer(t)
	var out, errOut bytes.Buffer

	if code := Run([]string{"tradegate", "--some-flag"}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	if *calls != 1 {
		t.Errorf("server started %d times, want 1", *calls)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	calls := swapServer(t)
	var out, errOut bytes.Buffer

	if code := Run([]string{"tradegate", "frobnicate"}, &out, &errOut); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if *calls != 0 {
		t.Errorf("server should not start on unknown command")
	}
	if !strings.Contains(errOut.String(), "Unknown command: frobnicate") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestRunHelp(t *testing.T) {
	swapServer(t)
	var out, errOut bytes.Buffer

	if code := Run([]string{"tradegate", "help"}, &out, &errOut); code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
	for _, want := range []string{"tradegate", "killswitch", "reconcile", "verify-audit"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("usage output missing %q", want)
		}
	}
}

func TestRunKillSwitchRequiresSubcommand(t *testing.T) {
	swapServer(t)
	var out, errOut bytes.Buffer

	if code := Run([]string{"tradegate", "killswitch"}, &out, &errOut); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if !strings.Contains(errOut.String(), "activate|deactivate|status") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestKillSwitchCommandLifecycle(t *testing.T) {
	swapServer(t)
	t.Setenv("KILL_SWITCH_STATE_FILE", t.TempDir()+"/ks_state")
	var out, errOut bytes.Buffer

	if code := Run([]string{"tradegate", "killswitch", "activate", "--reason", "drill"}, &out, &errOut); code != 0 {
		t.Fatalf("activate: exit code = %d, stderr=%s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "drill") {
		t.Errorf("activate output = %q", out.String())
	}

	out.Reset()
	if code := Run([]string{"tradegate", "killswitch", "status"}, &out, &errOut); code != 0 {
		t.Fatalf("status: exit code = %d", code)
	}
	if !strings.Contains(out.String(), `"enabled": true`) {
		t.Errorf("status output = %q", out.String())
	}

	out.Reset()
	if code := Run([]string{"tradegate", "killswitch", "deactivate"}, &out, &errOut); code != 0 {
		t.Fatalf("deactivate: exit code = %d, stderr=%s", code, errOut.String())
	}
}
