package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// SupportedVersions is the config_version range this loader accepts.
// Bump the upper bound only together with a migration path.
const SupportedVersions = ">= 1.0.0, < 2.0.0"

// Load resolves the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then environment overrides. The file's
// config_version must fall inside SupportedVersions.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := checkVersion(cfg.ConfigVersion); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func checkVersion(version string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid config_version %q: %w", version, err)
	}
	constraint, err := semver.NewConstraint(SupportedVersions)
	if err != nil {
		return fmt.Errorf("invalid version constraint: %w", err)
	}
	if !constraint.Check(v) {
		return fmt.Errorf("config_version %q outside supported range %q", version, SupportedVersions)
	}
	return nil
}

// applyEnv layers environment variables over the file values. A variable
// only overrides when set; malformed numbers keep the prior value.
func applyEnv(cfg *Config) {
	setString(&cfg.Server.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.Server.LogLevel, "LOG_LEVEL")

	setString(&cfg.Connection.Host, "BROKER_HOST")
	setInt(&cfg.Connection.Port, "BROKER_PORT")
	setInt(&cfg.Connection.ClientID, "BROKER_CLIENT_ID")
	if v, ok := os.LookupEnv("BROKER_MODE"); ok {
		cfg.Connection.Mode = Mode(strings.ToLower(strings.TrimSpace(v)))
	}
	setInt(&cfg.Connection.ConnectTimeout, "BROKER_CONNECT_TIMEOUT")
	setInt(&cfg.Connection.ReadTimeout, "BROKER_READ_TIMEOUT")
	setBool(&cfg.Connection.ReconnectEnabled, "BROKER_RECONNECT_ENABLED")
	setInt(&cfg.Connection.ReconnectMaxRetries, "BROKER_RECONNECT_MAX_RETRIES")
	setFloat(&cfg.Connection.ReconnectDelayBase, "BROKER_RECONNECT_DELAY_BASE")
	setBool(&cfg.Connection.ReadonlyMode, "BROKER_READONLY_MODE")

	setInt(&cfg.Live.MaxOrderSize, "LIVE_MAX_ORDER_SIZE")
	setDecimal(&cfg.Live.MaxOrderValueUSD, "LIVE_MAX_ORDER_VALUE_USD")
	if v, ok := os.LookupEnv("LIVE_SYMBOL_WHITELIST"); ok && strings.TrimSpace(v) != "" {
		cfg.Live.SymbolWhitelist = splitList(v)
	}
	if v, ok := os.LookupEnv("LIVE_DAILY_LOSS_LIMIT_USD"); ok {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			cfg.Live.DailyLossLimitUSD = &d
		}
	}
	setBool(&cfg.Live.RequireSafetyChecks, "LIVE_REQUIRE_SAFETY_CHECKS")
	setBool(&cfg.Live.RequireManualApproval, "LIVE_REQUIRE_MANUAL_APPROVAL")

	setString(&cfg.Alerting.SMTPHost, "SMTP_HOST")
	setInt(&cfg.Alerting.SMTPPort, "SMTP_PORT")
	setString(&cfg.Alerting.SMTPUser, "SMTP_USER")
	setString(&cfg.Alerting.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.Alerting.SMTPFrom, "SMTP_FROM")
	if v, ok := os.LookupEnv("EMAIL_RECIPIENTS"); ok {
		cfg.Alerting.EmailRecipients = splitList(v)
	}
	setString(&cfg.Alerting.WebhookURL, "WEBHOOK_URL")
	if v, ok := os.LookupEnv("WEBHOOK_AUTH_TOKEN"); ok && v != "" {
		if cfg.Alerting.WebhookHeaders == nil {
			cfg.Alerting.WebhookHeaders = make(map[string]string)
		}
		cfg.Alerting.WebhookHeaders["Authorization"] = "Bearer " + v
	}
	setInt(&cfg.Alerting.RateLimitSeconds, "ALERT_RATE_LIMIT")
	setFloat(&cfg.Alerting.DailyLossThreshold, "DAILY_LOSS_THRESHOLD")

	setString(&cfg.Audit.DBPath, "AUDIT_DB_PATH")
	setString(&cfg.Audit.BackupDir, "AUDIT_BACKUP_DIR")
	setInt(&cfg.Audit.RetentionDays, "AUDIT_RETENTION_DAYS")
	setString(&cfg.Audit.RemoteBucket, "AUDIT_REMOTE_BUCKET")
}

// normalize uppercases the whitelist and derives the broker port from
// the mode when none was given. An explicit port always wins.
func normalize(cfg *Config) {
	for i, s := range cfg.Live.SymbolWhitelist {
		cfg.Live.SymbolWhitelist[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	if cfg.Connection.Port == 0 {
		if cfg.Connection.Mode == ModeLive {
			cfg.Connection.Port = LivePort
		} else {
			cfg.Connection.Port = PaperPort
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			*dst = true
		default:
			*dst = false
		}
	}
}

func setDecimal(dst *decimal.Decimal, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}
