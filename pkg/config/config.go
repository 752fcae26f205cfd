// Package config loads the gateway configuration from a YAML file with
// environment variable overrides. The file carries a config_version that
// is checked against the loader's supported range before anything else
// is trusted.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/tradegate/pkg/alerting"
	"github.com/Mindburn-Labs/tradegate/pkg/connection"
)

// Mode selects the trading environment.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Broker ports by convention: paper first.
const (
	PaperPort = 7497
	LivePort  = 7496
)

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
}

// ConnectionConfig covers the broker session. Timeouts are in seconds.
type ConnectionConfig struct {
	Host                string  `yaml:"host"`
	Port                int     `yaml:"port"`
	ClientID            int     `yaml:"client_id"`
	Mode                Mode    `yaml:"mode"`
	ConnectTimeout      int     `yaml:"connect_timeout"`
	ReadTimeout         int     `yaml:"read_timeout"`
	ReconnectEnabled    bool    `yaml:"reconnect_enabled"`
	ReconnectMaxRetries int     `yaml:"reconnect_max_retries"`
	ReconnectDelayBase  float64 `yaml:"reconnect_delay_base"`
	ReadonlyMode        bool    `yaml:"readonly_mode"`
}

// IsPaper reports whether the session targets the paper environment.
func (c ConnectionConfig) IsPaper() bool { return c.Mode == ModePaper }

// IsLive reports whether the session targets the live environment.
func (c ConnectionConfig) IsLive() bool { return c.Mode == ModeLive }

// CanWrite reports whether order submissions are allowed.
func (c ConnectionConfig) CanWrite() bool { return !c.ReadonlyMode }

// ConnectionString renders the target for logs.
func (c ConnectionConfig) ConnectionString() string {
	mode := "PAPER"
	if c.IsLive() {
		mode = "LIVE"
	}
	s := fmt.Sprintf("%s:%d [%s]", c.Host, c.Port, mode)
	if c.ReadonlyMode {
		s += " (READ-ONLY)"
	}
	return s
}

// ManagerConfig maps the session settings onto the connection manager.
func (c ConnectionConfig) ManagerConfig() connection.Config {
	return connection.Config{
		ConnectTimeout:      time.Duration(c.ConnectTimeout) * time.Second,
		ReconnectEnabled:    c.ReconnectEnabled,
		ReconnectMaxRetries: c.ReconnectMaxRetries,
		ReconnectDelayBase:  c.ReconnectDelayBase,
	}
}

// LiveConfig bounds what live mode may submit. The whitelist is stored
// uppercase; Load normalizes it.
type LiveConfig struct {
	MaxOrderSize          int              `yaml:"max_order_size"`
	MaxOrderValueUSD      decimal.Decimal  `yaml:"max_order_value_usd"`
	SymbolWhitelist       []string         `yaml:"symbol_whitelist"`
	DailyLossLimitUSD     *decimal.Decimal `yaml:"daily_loss_limit_usd"`
	RequireSafetyChecks   bool             `yaml:"require_safety_checks"`
	RequireManualApproval bool             `yaml:"require_manual_approval"`
}

// ValidateSymbol reports whether symbol may trade live.
func (c LiveConfig) ValidateSymbol(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	for _, s := range c.SymbolWhitelist {
		if s == symbol {
			return true
		}
	}
	return false
}

// ValidateOrderSize reports whether quantity is within the live limit.
func (c LiveConfig) ValidateOrderSize(quantity int) bool {
	return quantity > 0 && quantity <= c.MaxOrderSize
}

// ValidateOrderValue reports whether the notional is within the live limit.
func (c LiveConfig) ValidateOrderValue(valueUSD decimal.Decimal) bool {
	return valueUSD.IsPositive() && valueUSD.LessThanOrEqual(c.MaxOrderValueUSD)
}

// CanSubmitLiveOrder runs every live guardrail and explains the verdict.
// enabled is the live_trading_mode feature flag.
func (c LiveConfig) CanSubmitLiveOrder(enabled bool, symbol string, quantity int, valueUSD decimal.Decimal) (bool, string) {
	if !enabled {
		return false, "Live trading is not enabled"
	}
	if !c.ValidateSymbol(symbol) {
		return false, fmt.Sprintf("Symbol %s not in live trading whitelist", symbol)
	}
	if !c.ValidateOrderSize(quantity) {
		return false, fmt.Sprintf("Order size %d exceeds limit %d", quantity, c.MaxOrderSize)
	}
	if !c.ValidateOrderValue(valueUSD) {
		return false, fmt.Sprintf("Order value $%s exceeds limit $%s", valueUSD, c.MaxOrderValueUSD)
	}
	return true, "Order passes live trading validation"
}

// AlertingConfig covers email and webhook delivery plus the alert rate
// limit. Secrets normally arrive via environment, not the YAML file.
type AlertingConfig struct {
	SMTPHost           string            `yaml:"smtp_host"`
	SMTPPort           int               `yaml:"smtp_port"`
	SMTPUser           string            `yaml:"smtp_user"`
	SMTPPassword       string            `yaml:"smtp_password"`
	SMTPFrom           string            `yaml:"smtp_from"`
	EmailRecipients    []string          `yaml:"email_recipients"`
	WebhookURL         string            `yaml:"webhook_url"`
	WebhookHeaders     map[string]string `yaml:"webhook_headers"`
	RateLimitSeconds   int               `yaml:"rate_limit_seconds"`
	DailyLossThreshold float64           `yaml:"daily_loss_threshold"`
}

// AlerterConfig maps onto the alerting package's configuration.
func (c AlertingConfig) AlerterConfig() alerting.Config {
	return alerting.Config{
		SMTPHost:           c.SMTPHost,
		SMTPPort:           c.SMTPPort,
		SMTPUser:           c.SMTPUser,
		SMTPPassword:       c.SMTPPassword,
		SMTPFrom:           c.SMTPFrom,
		EmailRecipients:    c.EmailRecipients,
		WebhookURL:         c.WebhookURL,
		WebhookHeaders:     c.WebhookHeaders,
		RateLimit:          time.Duration(c.RateLimitSeconds) * time.Second,
		DailyLossThreshold: c.DailyLossThreshold,
	}
}

// AuditConfig covers the audit store and its backups.
type AuditConfig struct {
	DBPath        string `yaml:"db_path"`
	BackupDir     string `yaml:"backup_dir"`
	RetentionDays int    `yaml:"retention_days"`
	RemoteBucket  string `yaml:"remote_bucket"`
}

// Config is the full gateway configuration tree.
type Config struct {
	ConfigVersion string           `yaml:"config_version"`
	Server        ServerConfig     `yaml:"server"`
	Connection    ConnectionConfig `yaml:"connection"`
	Live          LiveConfig       `yaml:"live"`
	Alerting      AlertingConfig   `yaml:"alerting"`
	Audit         AuditConfig      `yaml:"audit"`
}

// DefaultWhitelist is the initial set of symbols cleared for live
// trading: large caps and index ETFs only.
func DefaultWhitelist() []string {
	return []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "SPY", "QQQ", "IWM", "DIA"}
}

// Defaults returns the built-in configuration. Connection.Port zero
// means "derive from mode" and is resolved by Load.
func Defaults() Config {
	return Config{
		ConfigVersion: "1.0.0",
		Server: ServerConfig{
			ListenAddr: ":8080",
			LogLevel:   "INFO",
		},
		Connection: ConnectionConfig{
			Host:                "127.0.0.1",
			ClientID:            1,
			Mode:                ModePaper,
			ConnectTimeout:      10,
			ReadTimeout:         60,
			ReconnectEnabled:    true,
			ReconnectMaxRetries: 5,
			ReconnectDelayBase:  2.0,
		},
		Live: LiveConfig{
			MaxOrderSize:          100,
			MaxOrderValueUSD:      decimal.NewFromInt(10000),
			SymbolWhitelist:       DefaultWhitelist(),
			RequireSafetyChecks:   true,
			RequireManualApproval: true,
		},
		Alerting: AlertingConfig{
			SMTPPort:           587,
			RateLimitSeconds:   300,
			DailyLossThreshold: 5000,
		},
		Audit: AuditConfig{
			DBPath:        "data/audit.db",
			BackupDir:     "data/audit_backups",
			RetentionDays: 30,
		},
	}
}

// Validate rejects out-of-range settings before they reach a live
// session. The first violation wins.
func (c *Config) Validate() error {
	conn := c.Connection
	if conn.Mode != ModePaper && conn.Mode != ModeLive {
		return fmt.Errorf("connection.mode must be %q or %q, got %q", ModePaper, ModeLive, conn.Mode)
	}
	if conn.ClientID < 1 || conn.ClientID > 32 {
		return fmt.Errorf("connection.client_id must be in [1, 32], got %d", conn.ClientID)
	}
	if conn.ConnectTimeout < 1 || conn.ConnectTimeout > 60 {
		return fmt.Errorf("connection.connect_timeout must be in [1, 60] seconds, got %d", conn.ConnectTimeout)
	}
	if conn.ReadTimeout < 10 || conn.ReadTimeout > 300 {
		return fmt.Errorf("connection.read_timeout must be in [10, 300] seconds, got %d", conn.ReadTimeout)
	}
	if conn.ReconnectMaxRetries < 0 || conn.ReconnectMaxRetries > 20 {
		return fmt.Errorf("connection.reconnect_max_retries must be in [0, 20], got %d", conn.ReconnectMaxRetries)
	}
	if conn.ReconnectDelayBase < 0.5 || conn.ReconnectDelayBase > 10 {
		return fmt.Errorf("connection.reconnect_delay_base must be in [0.5, 10], got %g", conn.ReconnectDelayBase)
	}
	if c.Live.MaxOrderSize <= 0 {
		return fmt.Errorf("live.max_order_size must be positive, got %d", c.Live.MaxOrderSize)
	}
	if !c.Live.MaxOrderValueUSD.IsPositive() {
		return fmt.Errorf("live.max_order_value_usd must be positive, got %s", c.Live.MaxOrderValueUSD)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr must not be empty")
	}
	if c.Audit.RetentionDays < 1 {
		return fmt.Errorf("audit.retention_days must be positive, got %d", c.Audit.RetentionDays)
	}
	return nil
}
