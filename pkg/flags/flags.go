// Package flags provides runtime feature flags layered from defaults, an
// optional JSON config file, and environment variable overrides.
package flags

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
)

// DefaultConfigPath is the flags file consulted when none is configured.
const DefaultConfigPath = "feature_flags.json"

// Flags holds the gateway feature toggles. Values are resolved once at
// startup; components receive the struct by value.
type Flags struct {
	// LiveTradingMode routes orders to the real broker instead of the
	// simulator.
	LiveTradingMode bool `json:"live_trading_mode"`

	// AutoApproval lets the risk gate approve orders below
	// AutoApprovalMaxNotional without a human in the loop.
	AutoApproval            bool    `json:"auto_approval"`
	AutoApprovalMaxNotional float64 `json:"auto_approval_max_notional"`

	// NewRiskRules enables the experimental policy rule set.
	NewRiskRules bool `json:"new_risk_rules"`

	// StrictValidation rejects intents that carry unknown fields.
	StrictValidation bool `json:"strict_validation"`

	EnableDashboard bool `json:"enable_dashboard"`
}

// Defaults returns the built-in flag values.
func Defaults() Flags {
	return Flags{
		AutoApprovalMaxNotional: 1000.0,
		StrictValidation:        true,
		EnableDashboard:         true,
	}
}

// FromConfigFile loads flags from a JSON file. Missing keys keep their
// defaults; a missing or unreadable file yields the defaults.
func FromConfigFile(path string) Flags {
	flags := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return flags
	}
	if err := json.Unmarshal(data, &flags); err != nil {
		return Defaults()
	}
	return flags
}

// Load resolves flags with priority env vars > config file > defaults.
// An environment variable only overrides when it is set.
func Load(configPath string) Flags {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	flags := FromConfigFile(configPath)

	if v, ok := os.LookupEnv("LIVE_TRADING_MODE"); ok {
		flags.LiveTradingMode = parseBool(v)
	}
	if v, ok := os.LookupEnv("AUTO_APPROVAL"); ok {
		flags.AutoApproval = parseBool(v)
	}
	if v, ok := os.LookupEnv("AUTO_APPROVAL_MAX_NOTIONAL"); ok {
		flags.AutoApprovalMaxNotional = parseFloat(v, flags.AutoApprovalMaxNotional)
	}
	if v, ok := os.LookupEnv("NEW_RISK_RULES"); ok {
		flags.NewRiskRules = parseBool(v)
	}
	if v, ok := os.LookupEnv("STRICT_VALIDATION"); ok {
		flags.StrictValidation = parseBool(v)
	}
	if v, ok := os.LookupEnv("ENABLE_DASHBOARD"); ok {
		flags.EnableDashboard = parseBool(v)
	}
	return flags
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	}
	return false
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return f
}
