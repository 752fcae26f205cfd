package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tradegate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreComplete(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", cfg.ConfigVersion)
	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "127.0.0.1", cfg.Connection.Host)
	assert.Equal(t, PaperPort, cfg.Connection.Port)
	assert.Equal(t, ModePaper, cfg.Connection.Mode)
	assert.Equal(t, 1, cfg.Connection.ClientID)
	assert.Equal(t, 10, cfg.Connection.ConnectTimeout)
	assert.Equal(t, 60, cfg.Connection.ReadTimeout)
	assert.True(t, cfg.Connection.ReconnectEnabled)
	assert.Equal(t, 5, cfg.Connection.ReconnectMaxRetries)
	assert.Equal(t, 2.0, cfg.Connection.ReconnectDelayBase)
	assert.False(t, cfg.Connection.ReadonlyMode)

	assert.Equal(t, 100, cfg.Live.MaxOrderSize)
	assert.True(t, cfg.Live.MaxOrderValueUSD.Equal(decimal.NewFromInt(10000)))
	assert.ElementsMatch(t, []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "SPY", "QQQ", "IWM", "DIA"},
		cfg.Live.SymbolWhitelist)
	assert.Nil(t, cfg.Live.DailyLossLimitUSD)
	assert.True(t, cfg.Live.RequireSafetyChecks)
	assert.True(t, cfg.Live.RequireManualApproval)

	assert.Equal(t, 587, cfg.Alerting.SMTPPort)
	assert.Equal(t, 300, cfg.Alerting.RateLimitSeconds)
	assert.Equal(t, 5000.0, cfg.Alerting.DailyLossThreshold)

	assert.Equal(t, "data/audit.db", cfg.Audit.DBPath)
	assert.Equal(t, "data/audit_backups", cfg.Audit.BackupDir)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)
}

func TestLivePortDerivedFromMode(t *testing.T) {
	path := writeConfig(t, `
config_version: "1.0.0"
connection:
  mode: live
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, LivePort, cfg.Connection.Port)
	assert.True(t, cfg.Connection.IsLive())
	assert.False(t, cfg.Connection.IsPaper())
}

func TestExplicitPortBeatsModeDerivation(t *testing.T) {
	path := writeConfig(t, `
config_version: "1.0.0"
connection:
  mode: live
  port: 4002
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4002, cfg.Connection.Port)
}

func TestYAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
config_version: "1.2.3"
server:
  listen_addr: ":9000"
connection:
  host: gateway.internal
  client_id: 7
  reconnect_enabled: false
live:
  max_order_size: 25
  max_order_value_usd: 2500.50
  symbol_whitelist: [aapl, " spy "]
  daily_loss_limit_usd: 1500
alerting:
  webhook_url: https://hooks.example.com/tradegate
  rate_limit_seconds: 60
audit:
  retention_days: 7
  remote_bucket: tradegate-audit
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.ListenAddr)
	assert.Equal(t, "gateway.internal", cfg.Connection.Host)
	assert.Equal(t, 7, cfg.Connection.ClientID)
	assert.False(t, cfg.Connection.ReconnectEnabled)
	assert.Equal(t, 25, cfg.Live.MaxOrderSize)
	assert.True(t, cfg.Live.MaxOrderValueUSD.Equal(decimal.RequireFromString("2500.50")))
	assert.Equal(t, []string{"AAPL", "SPY"}, cfg.Live.SymbolWhitelist)
	require.NotNil(t, cfg.Live.DailyLossLimitUSD)
	assert.True(t, cfg.Live.DailyLossLimitUSD.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, "https://hooks.example.com/tradegate", cfg.Alerting.WebhookURL)
	assert.Equal(t, 60, cfg.Alerting.RateLimitSeconds)
	assert.Equal(t, 7, cfg.Audit.RetentionDays)
	assert.Equal(t, "tradegate-audit", cfg.Audit.RemoteBucket)
}

func TestEnvBeatsFile(t *testing.T) {
	path := writeConfig(t, `
config_version: "1.0.0"
connection:
  host: from-file.internal
  mode: paper
live:
  max_order_size: 50
`)
	t.Setenv("BROKER_HOST", "from-env.internal")
	t.Setenv("BROKER_MODE", "live")
	t.Setenv("BROKER_READONLY_MODE", "yes")
	t.Setenv("LIVE_MAX_ORDER_SIZE", "10")
	t.Setenv("LIVE_SYMBOL_WHITELIST", "nvda, amd")
	t.Setenv("LIVE_DAILY_LOSS_LIMIT_USD", "750.25")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("EMAIL_RECIPIENTS", "a@example.com, b@example.com")
	t.Setenv("WEBHOOK_AUTH_TOKEN", "tok-1")
	t.Setenv("ALERT_RATE_LIMIT", "120")
	t.Setenv("AUDIT_DB_PATH", "/var/lib/tradegate/audit.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env.internal", cfg.Connection.Host)
	assert.Equal(t, ModeLive, cfg.Connection.Mode)
	assert.Equal(t, LivePort, cfg.Connection.Port)
	assert.True(t, cfg.Connection.ReadonlyMode)
	assert.Equal(t, 10, cfg.Live.MaxOrderSize)
	assert.Equal(t, []string{"NVDA", "AMD"}, cfg.Live.SymbolWhitelist)
	require.NotNil(t, cfg.Live.DailyLossLimitUSD)
	assert.True(t, cfg.Live.DailyLossLimitUSD.Equal(decimal.RequireFromString("750.25")))
	assert.Equal(t, "smtp.example.com", cfg.Alerting.SMTPHost)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Alerting.EmailRecipients)
	assert.Equal(t, "Bearer tok-1", cfg.Alerting.WebhookHeaders["Authorization"])
	assert.Equal(t, 120, cfg.Alerting.RateLimitSeconds)
	assert.Equal(t, "/var/lib/tradegate/audit.db", cfg.Audit.DBPath)
}

func TestVersionGate(t *testing.T) {
	path := writeConfig(t, `config_version: "2.0.0"`)
	_, err := Load(path)
	require.EqualError(t, err, `config_version "2.0.0" outside supported range ">= 1.0.0, < 2.0.0"`)

	path = writeConfig(t, `config_version: "not-a-version"`)
	_, err = Load(path)
	require.ErrorContains(t, err, `invalid config_version "not-a-version"`)

	path = writeConfig(t, `config_version: "1.9.0"`)
	_, err = Load(path)
	require.NoError(t, err)
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad mode", func(c *Config) { c.Connection.Mode = "demo" }, "connection.mode"},
		{"client id high", func(c *Config) { c.Connection.ClientID = 33 }, "connection.client_id"},
		{"client id low", func(c *Config) { c.Connection.ClientID = 0 }, "connection.client_id"},
		{"connect timeout", func(c *Config) { c.Connection.ConnectTimeout = 0 }, "connection.connect_timeout"},
		{"read timeout", func(c *Config) { c.Connection.ReadTimeout = 5 }, "connection.read_timeout"},
		{"retries", func(c *Config) { c.Connection.ReconnectMaxRetries = 21 }, "connection.reconnect_max_retries"},
		{"delay base", func(c *Config) { c.Connection.ReconnectDelayBase = 0.1 }, "connection.reconnect_delay_base"},
		{"order size", func(c *Config) { c.Live.MaxOrderSize = 0 }, "live.max_order_size"},
		{"order value", func(c *Config) { c.Live.MaxOrderValueUSD = decimal.Zero }, "live.max_order_value_usd"},
		{"listen addr", func(c *Config) { c.Server.ListenAddr = "" }, "server.listen_addr"},
		{"retention", func(c *Config) { c.Audit.RetentionDays = 0 }, "audit.retention_days"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConnectionStringRendering(t *testing.T) {
	conn := Defaults().Connection
	conn.Port = PaperPort
	assert.Equal(t, "127.0.0.1:7497 [PAPER]", conn.ConnectionString())

	conn.Mode = ModeLive
	conn.Port = LivePort
	conn.ReadonlyMode = true
	assert.Equal(t, "127.0.0.1:7496 [LIVE] (READ-ONLY)", conn.ConnectionString())
	assert.False(t, conn.CanWrite())
}

func TestManagerConfigMapping(t *testing.T) {
	conn := Defaults().Connection
	conn.ConnectTimeout = 15
	conn.ReconnectMaxRetries = 3
	conn.ReconnectDelayBase = 1.5
	conn.ReconnectEnabled = false

	mc := conn.ManagerConfig()
	assert.Equal(t, 15*time.Second, mc.ConnectTimeout)
	assert.False(t, mc.ReconnectEnabled)
	assert.Equal(t, 3, mc.ReconnectMaxRetries)
	assert.Equal(t, 1.5, mc.ReconnectDelayBase)
}

func TestAlerterConfigMapping(t *testing.T) {
	ac := AlertingConfig{
		SMTPHost:           "smtp.example.com",
		SMTPPort:           587,
		SMTPFrom:           "tradegate@example.com",
		EmailRecipients:    []string{"ops@example.com"},
		WebhookURL:         "https://hooks.example.com/t",
		WebhookHeaders:     map[string]string{"Authorization": "Bearer x"},
		RateLimitSeconds:   90,
		DailyLossThreshold: 2500,
	}
	out := ac.AlerterConfig()
	assert.Equal(t, "smtp.example.com", out.SMTPHost)
	assert.Equal(t, 90*time.Second, out.RateLimit)
	assert.Equal(t, 2500.0, out.DailyLossThreshold)
	assert.Equal(t, "Bearer x", out.WebhookHeaders["Authorization"])
}

func TestLiveGuardrails(t *testing.T) {
	live := Defaults().Live

	ok, reason := live.CanSubmitLiveOrder(false, "AAPL", 10, decimal.NewFromInt(1000))
	assert.False(t, ok)
	assert.Equal(t, "Live trading is not enabled", reason)

	ok, reason = live.CanSubmitLiveOrder(true, "GME", 10, decimal.NewFromInt(1000))
	assert.False(t, ok)
	assert.Equal(t, "Symbol GME not in live trading whitelist", reason)

	ok, reason = live.CanSubmitLiveOrder(true, "aapl", 101, decimal.NewFromInt(1000))
	assert.False(t, ok)
	assert.Equal(t, "Order size 101 exceeds limit 100", reason)

	ok, reason = live.CanSubmitLiveOrder(true, "AAPL", 100, decimal.NewFromInt(10001))
	assert.False(t, ok)
	assert.Equal(t, "Order value $10001 exceeds limit $10000", reason)

	ok, reason = live.CanSubmitLiveOrder(true, "AAPL", 100, decimal.NewFromInt(10000))
	assert.True(t, ok)
	assert.Equal(t, "Order passes live trading validation", reason)

	assert.False(t, live.ValidateOrderSize(0))
	assert.False(t, live.ValidateOrderValue(decimal.Zero))
	assert.True(t, live.ValidateSymbol("spy"))
}
