package connection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/broker/sim"
)

// fastRetries keeps backoff delays sub-millisecond so retry tests run hot.
func fastRetries(maxRetries int) Config {
	return Config{
		ConnectTimeout:      time.Second,
		ReconnectEnabled:    true,
		ReconnectMaxRetries: maxRetries,
		ReconnectDelayBase:  0.001,
	}
}

func TestConnectSucceeds(t *testing.T) {
	venue := sim.New("")
	m := NewManager(venue, DefaultConfig()).
		WithClock(func() time.Time { return connNow })

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsConnected())

	st := m.Status()
	assert.Equal(t, StateConnected, st.State)
	assert.True(t, st.Connected)
	assert.Equal(t, 0, st.RetryCount)
	require.NotNil(t, st.LastConnectTime)
	assert.Equal(t, connNow, *st.LastConnectTime)
	assert.Equal(t, BreakerClosed, st.CircuitBreakerState)

	// A second call is a no-op.
	require.NoError(t, m.Connect(context.Background()))
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	trail := audit.NewMemoryStore().WithClock(func() time.Time { return connNow })
	venue := sim.New("")
	venue.FailConnects(2)

	m := NewManager(venue, fastRetries(5)).
		WithRecorder(trail).
		WithClock(func() time.Time { return connNow })

	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsConnected())
	assert.Equal(t, 0, m.Status().RetryCount, "retry budget resets on success")

	events := trail.Events()
	require.Len(t, events, 2)
	for i, ev := range events {
		assert.Equal(t, audit.EventBrokerReconnecting, ev.EventType)
		assert.Equal(t, i+1, ev.Data["retry"])
		assert.Equal(t, 5, ev.Data["max_retries"])
	}
}

func TestConnectExhaustsRetries(t *testing.T) {
	venue := sim.New("")
	venue.FailConnects(10)

	m := NewManager(venue, fastRetries(2)).
		WithClock(func() time.Time { return connNow })

	err := m.Connect(context.Background())
	require.EqualError(t, err, "failed to connect to broker: connection refused")
	assert.False(t, m.IsConnected())

	st := m.Status()
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, 2, st.RetryCount)
	assert.Equal(t, "connection refused", st.LastError)
	// Three dials under the default threshold of five leave it closed.
	assert.Equal(t, BreakerClosed, st.CircuitBreakerState)
	assert.Equal(t, 3, st.CircuitBreakerFailures)
}

func TestConnectBlockedByOpenBreaker(t *testing.T) {
	now := connNow
	clock := func() time.Time { return now }

	venue := sim.New("")
	b := NewBreaker().WithThresholds(2, time.Minute, 1).WithClock(clock)
	b.RecordFailure()
	b.RecordFailure()
	require.Equal(t, BreakerOpen, b.State())

	m := NewManager(venue, fastRetries(5)).WithBreaker(b).WithClock(clock)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateCircuitOpen, m.Status().State)
	assert.False(t, venue.IsConnected(), "open breaker must not touch the transport")

	// Past the recovery timeout the probe is admitted and the sim accepts.
	now = now.Add(2 * time.Minute)
	require.NoError(t, m.Connect(context.Background()))
	assert.True(t, m.IsConnected())
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerOpensMidRetryLoop(t *testing.T) {
	now := connNow
	clock := func() time.Time { return now }

	venue := sim.New("")
	venue.FailConnects(3)
	b := NewBreaker().WithThresholds(2, time.Minute, 1).WithClock(clock)

	m := NewManager(venue, fastRetries(5)).WithBreaker(b).WithClock(clock)

	// The second dial failure trips the breaker, so the loop aborts before
	// spending the rest of the retry budget.
	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, StateCircuitOpen, m.Status().State)
	assert.Equal(t, BreakerOpen, b.State())
}

func TestReconnectCycle(t *testing.T) {
	venue := sim.New("")
	m := NewManager(venue, DefaultConfig()).
		WithClock(func() time.Time { return connNow })

	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, m.Reconnect(context.Background()))
	assert.True(t, m.IsConnected())
	assert.Equal(t, StateConnected, m.Status().State)
}

func TestHealthCheck(t *testing.T) {
	venue := sim.New("")
	m := NewManager(venue, DefaultConfig()).
		WithClock(func() time.Time { return connNow })

	h := m.HealthCheck(context.Background())
	assert.False(t, h.Healthy)
	assert.False(t, h.Connected)
	assert.Equal(t, "Not connected to broker", h.Error)

	require.NoError(t, m.Connect(context.Background()))
	h = m.HealthCheck(context.Background())
	assert.True(t, h.Healthy)
	assert.True(t, h.Connected)
	assert.Empty(t, h.Error)
	require.NotNil(t, h.ServerTime)
	assert.Equal(t, connNow, *h.ServerTime)
}

func TestTransportHooks(t *testing.T) {
	venue := sim.New("")
	m := NewManager(venue, DefaultConfig()).
		WithClock(func() time.Time { return connNow })
	require.NoError(t, m.Connect(context.Background()))

	m.OnTransportError(1100, "Connectivity between IB and TWS has been lost")
	assert.Equal(t, "[1100] Connectivity between IB and TWS has been lost", m.Status().LastError)
	assert.True(t, m.IsConnected(), "errors alone do not drop the connection")

	m.OnTransportDisconnected()
	assert.Equal(t, StateDisconnected, m.Status().State)
	assert.False(t, m.IsConnected())
}
