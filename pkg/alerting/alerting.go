// Package alerting pushes operational alerts over email and webhooks with
// a per-type rate limit so a flapping component cannot spam the channels.
// Kill-switch activations always go out.
package alerting

import (
	"context"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Severity is an alert severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is the payload delivered to every channel.
type Alert struct {
	Type      string         `json:"alert_type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Config holds channel endpoints and thresholds.
type Config struct {
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	SMTPFrom        string
	EmailRecipients []string

	WebhookURL     string
	WebhookHeaders map[string]string

	// RateLimit is the minimum gap between alerts of the same type.
	RateLimit time.Duration

	// DailyLossThreshold triggers an alert when the day's realized loss
	// exceeds this many dollars.
	DailyLossThreshold float64
}

// ConfigFromEnv reads the alerting environment variables, falling back to
// port 587, a 5 minute rate limit, and a $5000 loss threshold.
func ConfigFromEnv() Config {
	cfg := Config{
		SMTPPort:           587,
		RateLimit:          5 * time.Minute,
		DailyLossThreshold: 5000,
	}
	if v, ok := os.LookupEnv("SMTP_HOST"); ok {
		cfg.SMTPHost = v
	}
	if v, ok := os.LookupEnv("SMTP_PORT"); ok {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SMTPPort = p
		}
	}
	if v, ok := os.LookupEnv("SMTP_USER"); ok {
		cfg.SMTPUser = v
	}
	if v, ok := os.LookupEnv("SMTP_PASSWORD"); ok {
		cfg.SMTPPassword = v
	}
	if v, ok := os.LookupEnv("SMTP_FROM"); ok {
		cfg.SMTPFrom = v
	}
	if v, ok := os.LookupEnv("EMAIL_RECIPIENTS"); ok {
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				cfg.EmailRecipients = append(cfg.EmailRecipients, r)
			}
		}
	}
	if v, ok := os.LookupEnv("WEBHOOK_URL"); ok {
		cfg.WebhookURL = v
	}
	if v, ok := os.LookupEnv("WEBHOOK_AUTH_TOKEN"); ok && v != "" {
		cfg.WebhookHeaders = map[string]string{"Authorization": "Bearer " + v}
	}
	if v, ok := os.LookupEnv("ALERT_RATE_LIMIT"); ok {
		if s, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit = time.Duration(s) * time.Second
		}
	}
	if v, ok := os.LookupEnv("DAILY_LOSS_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DailyLossThreshold = f
		}
	}
	return cfg
}

// Alerter fans alerts out to its channels. Send returns true when at least
// one channel accepted the alert.
type Alerter struct {
	clock    func() time.Time
	logger   *slog.Logger
	cfg      Config
	gate     Gate
	channels []Channel
	onSend   func(Alert, bool)

	// printer renders dollar amounts with thousands separators.
	printer *message.Printer
}

// NewAlerter builds an alerter with the channels cfg enables and a local
// rate-limit gate.
func NewAlerter(cfg Config) *Alerter {
	a := &Alerter{
		clock:   time.Now,
		logger:  slog.Default().With("component", "alerting"),
		cfg:     cfg,
		gate:    NewLocalGate(cfg.RateLimit),
		printer: message.NewPrinter(language.English),
	}
	if cfg.SMTPHost != "" && len(cfg.EmailRecipients) > 0 {
		a.channels = append(a.channels, NewEmailChannel(cfg))
	}
	if cfg.WebhookURL != "" {
		a.channels = append(a.channels, NewWebhookChannel(cfg.WebhookURL, cfg.WebhookHeaders))
	}
	return a
}

// WithGate swaps the rate-limit gate, e.g. for a Redis-backed one.
func (a *Alerter) WithGate(gate Gate) *Alerter {
	a.gate = gate
	return a
}

// WithChannels replaces the configured channels.
func (a *Alerter) WithChannels(channels ...Channel) *Alerter {
	a.channels = channels
	return a
}

// WithClock overrides the time source for testing.
func (a *Alerter) WithClock(clock func() time.Time) *Alerter {
	a.clock = clock
	return a
}

// WithOnSend registers a callback invoked for every alert that passes the
// rate gate, with the delivery outcome. Suppressed alerts never reach it.
func (a *Alerter) WithOnSend(fn func(Alert, bool)) *Alerter {
	a.onSend = fn
	return a
}

// LossThreshold returns the configured daily loss threshold in dollars.
func (a *Alerter) LossThreshold() float64 {
	return a.cfg.DailyLossThreshold
}

// Send delivers an alert through every channel, subject to the per-type
// rate limit. It reports whether any channel accepted it.
func (a *Alerter) Send(ctx context.Context, alertType string, severity Severity, msg string, details map[string]any) bool {
	return a.send(ctx, alertType, severity, msg, details, false)
}

func (a *Alerter) send(ctx context.Context, alertType string, severity Severity, msg string, details map[string]any, bypass bool) bool {
	if !bypass && !a.gate.Allow(ctx, alertType) {
		a.logger.Debug("alert rate limited", "alert_type", alertType)
		return false
	}
	if details == nil {
		details = map[string]any{}
	}
	alert := Alert{
		Type:      alertType,
		Severity:  severity,
		Message:   msg,
		Details:   details,
		Timestamp: a.clock().UTC(),
	}

	delivered := false
	for _, ch := range a.channels {
		if err := ch.Deliver(ctx, alert); err != nil {
			a.logger.Warn("alert delivery failed", "channel", ch.Name(), "alert_type", alertType, "error", err)
			continue
		}
		delivered = true
	}
	if !delivered {
		a.logger.Debug("alert not delivered", "alert_type", alertType, "channels", len(a.channels))
	}
	if a.onSend != nil {
		a.onSend(alert, delivered)
	}
	return delivered
}

// BrokerDisconnect fires when the venue connection drops.
func (a *Alerter) BrokerDisconnect(ctx context.Context, errMsg string) bool {
	return a.Send(ctx, "broker_disconnect", SeverityCritical,
		"Broker connection lost - trading operations may be impacted",
		map[string]any{"error": errMsg})
}

// OrderRejection fires when the policy engine rejects a proposal.
func (a *Alerter) OrderRejection(ctx context.Context, proposalID, reason string, violatedRules []string) bool {
	return a.Send(ctx, "order_rejection", SeverityWarning,
		"Order proposal "+proposalID+" rejected by risk engine",
		map[string]any{
			"proposal_id":    proposalID,
			"reason":         reason,
			"violated_rules": violatedRules,
		})
}

// DailyLoss fires when the day's realized PnL breaches the loss threshold.
func (a *Alerter) DailyLoss(ctx context.Context, dailyPnL, threshold float64) bool {
	msg := a.printer.Sprintf("Daily loss threshold breached: $%.2f (threshold: -$%.2f)", dailyPnL, threshold)
	return a.Send(ctx, "daily_loss_threshold", SeverityError, msg, map[string]any{
		"daily_pnl":     dailyPnL,
		"threshold":     threshold,
		"breach_amount": math.Abs(dailyPnL) - threshold,
	})
}

// KillSwitchActivated always goes out, ignoring the rate limit.
func (a *Alerter) KillSwitchActivated(ctx context.Context, reason, activatedBy string) bool {
	return a.send(ctx, "kill_switch_activated", SeverityCritical,
		"KILL SWITCH ACTIVATED - All trading operations halted",
		map[string]any{
			"reason":       reason,
			"activated_by": activatedBy,
			"timestamp":    a.clock().UTC(),
		}, true)
}
