package flags

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "feature_flags.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	f := Defaults()
	if f.LiveTradingMode || f.AutoApproval || f.NewRiskRules {
		t.Error("trading and risk flags must default off")
	}
	if !f.StrictValidation || !f.EnableDashboard {
		t.Error("strict_validation and enable_dashboard must default on")
	}
	if f.AutoApprovalMaxNotional != 1000.0 {
		t.Errorf("auto_approval_max_notional = %v, want 1000", f.AutoApprovalMaxNotional)
	}
}

func TestConfigFilePartialKeysKeepDefaults(t *testing.T) {
	path := writeConfig(t, `{"auto_approval": true, "auto_approval_max_notional": 2500}`)
	f := FromConfigFile(path)
	if !f.AutoApproval {
		t.Error("auto_approval should come from file")
	}
	if f.AutoApprovalMaxNotional != 2500 {
		t.Errorf("auto_approval_max_notional = %v, want 2500", f.AutoApprovalMaxNotional)
	}
	if !f.StrictValidation {
		t.Error("absent keys must keep defaults")
	}
}

func TestMissingOrCorruptFileYieldsDefaults(t *testing.T) {
	f := FromConfigFile(filepath.Join(t.TempDir(), "nope.json"))
	if f != Defaults() {
		t.Errorf("missing file should yield defaults, got %+v", f)
	}

	path := writeConfig(t, `{broken`)
	f = FromConfigFile(path)
	if f != Defaults() {
		t.Errorf("corrupt file should yield defaults, got %+v", f)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"live_trading_mode": false, "auto_approval_max_notional": 500}`)
	t.Setenv("LIVE_TRADING_MODE", "true")
	t.Setenv("AUTO_APPROVAL_MAX_NOTIONAL", "750.5")

	f := Load(path)
	if !f.LiveTradingMode {
		t.Error("env var should override the file")
	}
	if f.AutoApprovalMaxNotional != 750.5 {
		t.Errorf("auto_approval_max_notional = %v, want 750.5", f.AutoApprovalMaxNotional)
	}
}

func TestEnvOnlyAppliesWhenSet(t *testing.T) {
	path := writeConfig(t, `{"strict_validation": false}`)
	f := Load(path)
	if f.StrictValidation {
		t.Error("file value should survive when env var is unset")
	}
}

func TestUnparseableEnvFloatKeepsPrior(t *testing.T) {
	path := writeConfig(t, `{"auto_approval_max_notional": 500}`)
	t.Setenv("AUTO_APPROVAL_MAX_NOTIONAL", "not-a-number")
	f := Load(path)
	if f.AutoApprovalMaxNotional != 500 {
		t.Errorf("auto_approval_max_notional = %v, want 500", f.AutoApprovalMaxNotional)
	}
}

func TestBoolParsingVariants(t *testing.T) {
	for _, v := range []string{"true", "1", "yes", "on", "TRUE", "Yes"} {
		if !parseBool(v) {
			t.Errorf("parseBool(%q) = false, want true", v)
		}
	}
	for _, v := range []string{"false", "0", "no", "off", "garbage", ""} {
		if parseBool(v) {
			t.Errorf("parseBool(%q) = true, want false", v)
		}
	}
}
