package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Channel delivers one alert over one transport. Delivery failures are
// per-channel: the alerter tries every channel and succeeds if any lands.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, a Alert) error
}

// EmailChannel sends alerts over SMTP with STARTTLS and optional auth.
type EmailChannel struct {
	host       string
	port       int
	user       string
	password   string
	from       string
	recipients []string
}

// NewEmailChannel builds the channel from the SMTP section of cfg.
func NewEmailChannel(cfg Config) *EmailChannel {
	return &EmailChannel{
		host:       cfg.SMTPHost,
		port:       cfg.SMTPPort,
		user:       cfg.SMTPUser,
		password:   cfg.SMTPPassword,
		from:       cfg.SMTPFrom,
		recipients: cfg.EmailRecipients,
	}
}

func (c *EmailChannel) Name() string { return "email" }

func (c *EmailChannel) Deliver(_ context.Context, a Alert) error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	var auth smtp.Auth
	if c.user != "" && c.password != "" {
		auth = smtp.PlainAuth("", c.user, c.password, c.host)
	}
	return smtp.SendMail(addr, auth, c.from, c.recipients, c.message(a))
}

func (c *EmailChannel) message(a Alert) []byte {
	details, _ := json.MarshalIndent(a.Details, "", "  ")

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", c.from)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(c.recipients, ", "))
	fmt.Fprintf(&b, "Subject: [%s] Tradegate Alert: %s\n", strings.ToUpper(string(a.Severity)), a.Type)
	b.WriteString("MIME-Version: 1.0\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\n")
	b.WriteString("\n")
	b.WriteString("Tradegate Alert\n\n")
	fmt.Fprintf(&b, "Alert Type: %s\n", a.Type)
	fmt.Fprintf(&b, "Severity: %s\n", a.Severity)
	fmt.Fprintf(&b, "Time: %s\n\n", a.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Message:\n%s\n\n", a.Message)
	fmt.Fprintf(&b, "Details:\n%s\n", details)
	return []byte(b.String())
}

// WebhookChannel POSTs the alert as JSON to a single URL.
type WebhookChannel struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel builds the channel. The 5 second timeout keeps a dead
// webhook from stalling the caller.
func NewWebhookChannel(url string, headers map[string]string) *WebhookChannel {
	return &WebhookChannel{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

func (c *WebhookChannel) Deliver(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
