package main

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tradegate/pkg/config"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
	"github.com/Mindburn-Labs/tradegate/pkg/flags"
	"github.com/Mindburn-Labs/tradegate/pkg/killswitch"
)

func guardLiveConfig() config.LiveConfig {
	return config.LiveConfig{
		MaxOrderSize:     100,
		MaxOrderValueUSD: decimal.NewFromInt(10000),
		SymbolWhitelist:  config.DefaultWhitelist(),
	}
}

func guardFlags(liveOn bool) flags.Flags {
	fl := flags.Defaults()
	fl.LiveTradingMode = liveOn
	return fl
}

func guardOrder(symbol string, qty float64, notional string, limitPrice *float64) (contracts.OrderProposal, contracts.OrderIntent) {
	intent := contracts.OrderIntent{
		AccountID:  "LIVE123",
		Instrument: contracts.Instrument{Type: contracts.SecTypeStock, Symbol: symbol, Currency: "USD"},
		Side:       contracts.SideBuy,
		Quantity:   qty,
		OrderType:  contracts.OrderTypeMarket,
		LimitPrice: limitPrice,
	}
	if limitPrice != nil {
		intent.OrderType = contracts.OrderTypeLimit
	}
	p := contracts.OrderProposal{ProposalID: "p-live", State: contracts.StateApprovalGranted}
	if notional != "" {
		p.SimulationJSON = `{"gross_notional":"` + notional + `"}`
	}
	return p, intent
}

func TestLiveOrderGuardPassesCompliantOrder(t *testing.T) {
	guard := liveOrderGuard(guardLiveConfig(), guardFlags(true))
	p, intent := guardOrder("AAPL", 10, "1900.00", nil)
	assert.NoError(t, guard(p, intent))
}

func TestLiveOrderGuardRefusesWhenLiveModeOff(t *testing.T) {
	guard := liveOrderGuard(guardLiveConfig(), guardFlags(false))
	p, intent := guardOrder("AAPL", 10, "1900.00", nil)
	assert.EqualError(t, guard(p, intent), "Live trading is not enabled")
}

func TestLiveOrderGuardEnforcesWhitelist(t *testing.T) {
	guard := liveOrderGuard(guardLiveConfig(), guardFlags(true))
	p, intent := guardOrder("GME", 10, "1900.00", nil)
	assert.EqualError(t, guard(p, intent), "Symbol GME not in live trading whitelist")
}

func TestLiveOrderGuardEnforcesOrderSize(t *testing.T) {
	guard := liveOrderGuard(guardLiveConfig(), guardFlags(true))
	p, intent := guardOrder("AAPL", 500, "9000.00", nil)
	err := guard(p, intent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Order size 500 exceeds limit 100")
}

func TestLiveOrderGuardEnforcesOrderValue(t *testing.T) {
	guard := liveOrderGuard(guardLiveConfig(), guardFlags(true))
	p, intent := guardOrder("AAPL", 90, "17100.00", nil)
	err := guard(p, intent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit $10000")
}

// Without a simulation the notional falls back to quantity times limit
// price; a market order with neither is refused outright.
func TestLiveOrderGuardNotionalFallback(t *testing.T) {
	guard := liveOrderGuard(guardLiveConfig(), guardFlags(true))

	limit := 190.0
	p, intent := guardOrder("AAPL", 10, "", &limit)
	assert.NoError(t, guard(p, intent))

	p2, intent2 := guardOrder("AAPL", 10, "", nil)
	err := guard(p2, intent2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notional unavailable")
}

func TestBuildVenueLiveRefusedWhenSafetyChecksFail(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("STATS_FILE", filepath.Join(tmp, "stats.json"))

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Connection.Mode = config.ModeLive
	cfg.Live.RequireSafetyChecks = true
	cfg.Audit.BackupDir = "" // deterministic blocking issue

	ks := killswitch.New(filepath.Join(tmp, "kill_switch_state.json"))

	_, err = buildVenue(cfg, guardFlags(true), ks, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "safety checks failed")
	assert.Contains(t, err.Error(), "Audit backup not configured")
}

func TestBuildVenueLiveRefusedWhenFlagOff(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Connection.Mode = config.ModeLive

	ks := killswitch.New(filepath.Join(t.TempDir(), "kill_switch_state.json"))

	_, err = buildVenue(cfg, guardFlags(false), ks, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "live_trading_mode flag is off")
}
