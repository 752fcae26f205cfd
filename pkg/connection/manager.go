package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/broker"
)

// State is the connection lifecycle position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
	StateCircuitOpen  State = "circuit_open"
)

// ErrCircuitOpen surfaces verbatim in API responses.
var ErrCircuitOpen = errors.New("Circuit breaker OPEN - too many connection failures")

// Config holds the transport lifecycle knobs. It is a plain struct rather
// than a slice of the main config tree so this package stays importable
// from anywhere.
type Config struct {
	ConnectTimeout      time.Duration
	ReconnectEnabled    bool
	ReconnectMaxRetries int
	ReconnectDelayBase  float64
}

// DefaultConfig returns the stock retry policy: 10s dial timeout and up to
// five reconnect attempts with delays of 2^n seconds.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:      10 * time.Second,
		ReconnectEnabled:    true,
		ReconnectMaxRetries: 5,
		ReconnectDelayBase:  2.0,
	}
}

// Status is a point-in-time snapshot of the manager.
type Status struct {
	State                  State        `json:"state"`
	Connected              bool         `json:"connected"`
	RetryCount             int          `json:"retry_count"`
	LastConnectTime        *time.Time   `json:"last_connect_time,omitempty"`
	LastError              string       `json:"last_error,omitempty"`
	CircuitBreakerState    BreakerState `json:"circuit_breaker_state"`
	CircuitBreakerFailures int          `json:"circuit_breaker_failures"`
}

// Health is the result of a round-trip probe against the venue.
type Health struct {
	Healthy    bool       `json:"healthy"`
	Connected  bool       `json:"connected"`
	LatencyMS  float64    `json:"latency_ms,omitempty"`
	ServerTime *time.Time `json:"server_time,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Manager supervises one venue transport: it dials with a timeout, retries
// with exponential backoff while the circuit breaker allows, and tracks the
// lifecycle state the API reports. The venue dial happens outside the lock.
type Manager struct {
	mu     sync.Mutex
	clock  func() time.Time
	logger *slog.Logger

	venue    broker.Broker
	recorder audit.Recorder
	breaker  *Breaker
	cfg      Config

	state       State
	retryCount  int
	lastConnect *time.Time
	lastError   string
}

// NewManager creates a disconnected manager around venue.
func NewManager(venue broker.Broker, cfg Config) *Manager {
	return &Manager{
		clock:   time.Now,
		logger:  slog.Default().With("component", "connection"),
		venue:   venue,
		breaker: NewBreaker(),
		cfg:     cfg,
		state:   StateDisconnected,
	}
}

// WithRecorder attaches an audit recorder for reconnect events.
func (m *Manager) WithRecorder(recorder audit.Recorder) *Manager {
	m.recorder = recorder
	return m
}

// WithBreaker replaces the default circuit breaker.
func (m *Manager) WithBreaker(b *Breaker) *Manager {
	m.breaker = b
	return m
}

// WithClock overrides the time source for testing.
func (m *Manager) WithClock(clock func() time.Time) *Manager {
	m.clock = clock
	return m
}

// Breaker exposes the circuit breaker, mainly for status surfaces.
func (m *Manager) Breaker() *Breaker {
	return m.breaker
}

// Connect dials the venue, retrying with delays of delay_base^n seconds up
// to the configured retry cap. It returns ErrCircuitOpen without touching
// the transport when the breaker blocks, and the last dial error once
// retries are exhausted.
func (m *Manager) Connect(ctx context.Context) error {
	if m.IsConnected() {
		m.logger.Info("already connected")
		return nil
	}

	for {
		if !m.breaker.CanAttempt() {
			m.setState(StateCircuitOpen)
			return ErrCircuitOpen
		}

		m.setState(StateConnecting)
		m.logger.Info("connecting to broker", "timeout", m.cfg.ConnectTimeout)

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		err := m.venue.Connect(dialCtx)
		cancel()

		if err == nil {
			m.connected()
			return nil
		}
		m.failed(err)

		retry, delay := m.nextRetry(ctx)
		if !retry {
			return fmt.Errorf("failed to connect to broker: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Disconnect closes the transport. A no-op when already disconnected.
func (m *Manager) Disconnect(ctx context.Context) error {
	if !m.IsConnected() {
		return nil
	}
	m.logger.Info("disconnecting from broker")
	err := m.venue.Disconnect(ctx)
	m.setState(StateDisconnected)
	return err
}

// Reconnect forces a fresh connection cycle with the retry budget reset.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.logger.Info("forcing reconnect")
	if err := m.Disconnect(ctx); err != nil {
		m.logger.Warn("disconnect before reconnect failed", "error", err)
	}
	m.mu.Lock()
	m.retryCount = 0
	m.mu.Unlock()
	return m.Connect(ctx)
}

// IsConnected requires both a live transport and a CONNECTED state, so a
// half-finished connect never reads as up.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	return m.venue.IsConnected() && state == StateConnected
}

// Status snapshots the manager and its breaker.
func (m *Manager) Status() Status {
	connected := m.IsConnected()
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:                  m.state,
		Connected:              connected,
		RetryCount:             m.retryCount,
		LastConnectTime:        m.lastConnect,
		LastError:              m.lastError,
		CircuitBreakerState:    m.breaker.State(),
		CircuitBreakerFailures: m.breaker.Failures(),
	}
}

// HealthCheck probes the venue with a cheap account read and reports the
// round-trip latency in milliseconds.
func (m *Manager) HealthCheck(ctx context.Context) Health {
	if !m.IsConnected() {
		return Health{Healthy: false, Connected: false, Error: "Not connected to broker"}
	}

	start := m.clock()
	if _, err := m.venue.GetAccounts(ctx); err != nil {
		m.logger.Error("health check failed", "error", err)
		return Health{Healthy: false, Connected: m.IsConnected(), Error: err.Error()}
	}
	latency := math.Round(m.clock().Sub(start).Seconds()*1000*100) / 100
	now := m.clock()
	return Health{Healthy: true, Connected: true, LatencyMS: latency, ServerTime: &now}
}

// OnTransportDisconnected is the hook for venue-side disconnect events.
func (m *Manager) OnTransportDisconnected() {
	m.logger.Warn("transport disconnected")
	m.setState(StateDisconnected)
}

// OnTransportError is the hook for venue-side error events. It records the
// error for status reporting without changing the lifecycle state.
func (m *Manager) OnTransportError(code int, message string) {
	m.logger.Error("transport error", "code", code, "message", message)
	m.mu.Lock()
	m.lastError = fmt.Sprintf("[%d] %s", code, message)
	m.mu.Unlock()
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) connected() {
	now := m.clock()
	m.mu.Lock()
	m.state = StateConnected
	m.lastConnect = &now
	m.retryCount = 0
	m.mu.Unlock()
	m.breaker.RecordSuccess()
	m.logger.Info("connected to broker")
}

func (m *Manager) failed(err error) {
	m.mu.Lock()
	m.state = StateFailed
	m.lastError = err.Error()
	retries := m.retryCount
	m.mu.Unlock()
	m.breaker.RecordFailure()
	m.logger.Error("connection failed", "error", err, "retry_count", retries)
}

// nextRetry decides whether another attempt is allowed and, if so, bumps
// the retry counter and returns the backoff delay.
func (m *Manager) nextRetry(ctx context.Context) (bool, time.Duration) {
	m.mu.Lock()
	if !m.cfg.ReconnectEnabled || m.retryCount >= m.cfg.ReconnectMaxRetries {
		m.mu.Unlock()
		return false, 0
	}
	m.retryCount++
	attempt := m.retryCount
	m.state = StateReconnecting
	m.mu.Unlock()

	delay := time.Duration(math.Pow(m.cfg.ReconnectDelayBase, float64(attempt)) * float64(time.Second))
	m.logger.Info("retrying connection",
		"retry", attempt,
		"max_retries", m.cfg.ReconnectMaxRetries,
		"delay_seconds", delay.Seconds(),
	)
	if m.recorder != nil {
		_, _ = m.recorder.Record(ctx, audit.EventBrokerReconnecting, audit.CorrelationID(ctx), map[string]any{
			"retry":         attempt,
			"max_retries":   m.cfg.ReconnectMaxRetries,
			"delay_seconds": delay.Seconds(),
		}, nil)
	}
	return true, delay
}
