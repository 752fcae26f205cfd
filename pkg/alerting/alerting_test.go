package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alertNow = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

// captureChannel records delivered alerts, optionally failing every call.
type captureChannel struct {
	alerts []Alert
	err    error
}

func (c *captureChannel) Name() string { return "capture" }

func (c *captureChannel) Deliver(_ context.Context, a Alert) error {
	if c.err != nil {
		return c.err
	}
	c.alerts = append(c.alerts, a)
	return nil
}

func newTestAlerter(channels ...Channel) (*Alerter, *LocalGate) {
	gate := NewLocalGate(5 * time.Minute).WithClock(func() time.Time { return alertNow })
	a := NewAlerter(Config{RateLimit: 5 * time.Minute, DailyLossThreshold: 5000}).
		WithGate(gate).
		WithChannels(channels...).
		WithClock(func() time.Time { return alertNow })
	return a, gate
}

func TestSendBuildsAlert(t *testing.T) {
	ch := &captureChannel{}
	a, _ := newTestAlerter(ch)

	ok := a.Send(context.Background(), "test_alert", SeverityWarning, "something odd", map[string]any{"key": "value"})
	require.True(t, ok)
	require.Len(t, ch.alerts, 1)

	got := ch.alerts[0]
	assert.Equal(t, "test_alert", got.Type)
	assert.Equal(t, SeverityWarning, got.Severity)
	assert.Equal(t, "something odd", got.Message)
	assert.Equal(t, "value", got.Details["key"])
	assert.Equal(t, alertNow, got.Timestamp)
}

func TestSendRateLimitsPerType(t *testing.T) {
	ch := &captureChannel{}
	a, _ := newTestAlerter(ch)
	ctx := context.Background()

	assert.True(t, a.Send(ctx, "broker_disconnect", SeverityCritical, "down", nil))
	assert.False(t, a.Send(ctx, "broker_disconnect", SeverityCritical, "still down", nil))
	// A different type has its own window.
	assert.True(t, a.Send(ctx, "order_rejection", SeverityWarning, "rejected", nil))
	assert.Len(t, ch.alerts, 2)
}

func TestKillSwitchBypassesRateLimit(t *testing.T) {
	ch := &captureChannel{}
	a, _ := newTestAlerter(ch)
	ctx := context.Background()

	assert.True(t, a.KillSwitchActivated(ctx, "manual halt", "ops"))
	assert.True(t, a.KillSwitchActivated(ctx, "manual halt again", "ops"))
	require.Len(t, ch.alerts, 2)

	got := ch.alerts[0]
	assert.Equal(t, "kill_switch_activated", got.Type)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Equal(t, "KILL SWITCH ACTIVATED - All trading operations halted", got.Message)
	assert.Equal(t, "manual halt", got.Details["reason"])
	assert.Equal(t, "ops", got.Details["activated_by"])
}

func TestBrokerDisconnectAlert(t *testing.T) {
	ch := &captureChannel{}
	a, _ := newTestAlerter(ch)

	require.True(t, a.BrokerDisconnect(context.Background(), "read timeout"))
	got := ch.alerts[0]
	assert.Equal(t, "broker_disconnect", got.Type)
	assert.Equal(t, SeverityCritical, got.Severity)
	assert.Equal(t, "Broker connection lost - trading operations may be impacted", got.Message)
	assert.Equal(t, "read timeout", got.Details["error"])
}

func TestOrderRejectionAlert(t *testing.T) {
	ch := &captureChannel{}
	a, _ := newTestAlerter(ch)

	require.True(t, a.OrderRejection(context.Background(), "prop-1", "notional too large", []string{"max_notional"}))
	got := ch.alerts[0]
	assert.Equal(t, "order_rejection", got.Type)
	assert.Equal(t, SeverityWarning, got.Severity)
	assert.Equal(t, "Order proposal prop-1 rejected by risk engine", got.Message)
	assert.Equal(t, []string{"max_notional"}, got.Details["violated_rules"])
}

func TestDailyLossMessageFormatting(t *testing.T) {
	ch := &captureChannel{}
	a, _ := newTestAlerter(ch)

	require.True(t, a.DailyLoss(context.Background(), -6000, 5000))
	got := ch.alerts[0]
	assert.Equal(t, "daily_loss_threshold", got.Type)
	assert.Equal(t, SeverityError, got.Severity)
	assert.Equal(t, "Daily loss threshold breached: $-6,000.00 (threshold: -$5,000.00)", got.Message)
	assert.Equal(t, 1000.0, got.Details["breach_amount"])
}

func TestDeliveryFallsThroughFailedChannels(t *testing.T) {
	dead := &captureChannel{err: errors.New("smtp refused")}
	live := &captureChannel{}
	a, _ := newTestAlerter(dead, live)

	assert.True(t, a.Send(context.Background(), "test_alert", SeverityInfo, "hello", nil))
	assert.Len(t, live.alerts, 1)
}

func TestSendFailsWhenNoChannelAccepts(t *testing.T) {
	dead := &captureChannel{err: errors.New("smtp refused")}
	a, _ := newTestAlerter(dead)
	assert.False(t, a.Send(context.Background(), "test_alert", SeverityInfo, "hello", nil))

	empty, _ := newTestAlerter()
	assert.False(t, empty.Send(context.Background(), "test_alert", SeverityInfo, "hello", nil))
}

func TestOnSendSeesOutcomeButNotSuppression(t *testing.T) {
	type sent struct {
		alert     Alert
		delivered bool
	}
	var calls []sent

	dead := &captureChannel{err: errors.New("smtp refused")}
	a, _ := newTestAlerter(dead)
	a.WithOnSend(func(al Alert, delivered bool) {
		calls = append(calls, sent{al, delivered})
	})
	ctx := context.Background()

	assert.False(t, a.Send(ctx, "broker_disconnect", SeverityCritical, "down", nil))
	// Rate limited: the callback must not fire.
	assert.False(t, a.Send(ctx, "broker_disconnect", SeverityCritical, "still down", nil))
	require.Len(t, calls, 1)
	assert.Equal(t, "broker_disconnect", calls[0].alert.Type)
	assert.False(t, calls[0].delivered)

	live := &captureChannel{}
	a.WithChannels(live)
	assert.True(t, a.Send(ctx, "order_rejection", SeverityWarning, "rejected", nil))
	require.Len(t, calls, 2)
	assert.True(t, calls[1].delivered)
}

func TestWebhookChannelDelivers(t *testing.T) {
	var gotBody Alert
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, map[string]string{"Authorization": "Bearer tok-1"})
	err := ch.Deliver(context.Background(), Alert{
		Type:      "broker_disconnect",
		Severity:  SeverityCritical,
		Message:   "down",
		Details:   map[string]any{"error": "timeout"},
		Timestamp: alertNow,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Equal(t, "broker_disconnect", gotBody.Type)
	assert.Equal(t, SeverityCritical, gotBody.Severity)
}

func TestWebhookChannelRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, nil)
	err := ch.Deliver(context.Background(), Alert{Type: "test_alert"})
	require.EqualError(t, err, "webhook returned 500")
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SMTP_HOST", "mail.example.com")
	t.Setenv("SMTP_PORT", "2525")
	t.Setenv("SMTP_USER", "alerts")
	t.Setenv("SMTP_PASSWORD", "hunter2")
	t.Setenv("SMTP_FROM", "alerts@example.com")
	t.Setenv("EMAIL_RECIPIENTS", "ops@example.com, oncall@example.com ,")
	t.Setenv("WEBHOOK_URL", "https://hooks.example.com/alerts")
	t.Setenv("WEBHOOK_AUTH_TOKEN", "tok-2")
	t.Setenv("ALERT_RATE_LIMIT", "60")
	t.Setenv("DAILY_LOSS_THRESHOLD", "2500")

	cfg := ConfigFromEnv()
	assert.Equal(t, "mail.example.com", cfg.SMTPHost)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.Equal(t, "alerts", cfg.SMTPUser)
	assert.Equal(t, "alerts@example.com", cfg.SMTPFrom)
	assert.Equal(t, []string{"ops@example.com", "oncall@example.com"}, cfg.EmailRecipients)
	assert.Equal(t, "https://hooks.example.com/alerts", cfg.WebhookURL)
	assert.Equal(t, "Bearer tok-2", cfg.WebhookHeaders["Authorization"])
	assert.Equal(t, time.Minute, cfg.RateLimit)
	assert.Equal(t, 2500.0, cfg.DailyLossThreshold)
}

func TestNewAlerterWiresChannelsFromConfig(t *testing.T) {
	a := NewAlerter(Config{
		SMTPHost:        "mail.example.com",
		SMTPPort:        587,
		EmailRecipients: []string{"ops@example.com"},
		WebhookURL:      "https://hooks.example.com/alerts",
		RateLimit:       time.Minute,
	})
	require.Len(t, a.channels, 2)
	assert.Equal(t, "email", a.channels[0].Name())
	assert.Equal(t, "webhook", a.channels[1].Name())
}
