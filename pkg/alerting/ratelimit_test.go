package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalGateWindow(t *testing.T) {
	now := alertNow
	g := NewLocalGate(5 * time.Minute).WithClock(func() time.Time { return now })
	ctx := context.Background()

	assert.True(t, g.Allow(ctx, "broker_disconnect"))
	assert.False(t, g.Allow(ctx, "broker_disconnect"))
	// Independent window per type.
	assert.True(t, g.Allow(ctx, "order_rejection"))

	now = now.Add(5*time.Minute + time.Second)
	assert.True(t, g.Allow(ctx, "broker_disconnect"))
	assert.False(t, g.Allow(ctx, "broker_disconnect"))
}

func TestRedisGateFailsOpen(t *testing.T) {
	// Nothing listens on this port, so every check errors and the gate
	// must allow rather than swallow alerts.
	g := NewRedisGate("localhost:1", "", 0, time.Minute)
	assert.True(t, g.Allow(context.Background(), "broker_disconnect"))
	assert.True(t, g.Allow(context.Background(), "broker_disconnect"))
}

// TestRedisGateIntegration requires a running Redis and skips otherwise.
func TestRedisGateIntegration(t *testing.T) {
	g := NewRedisGate("localhost:6379", "", 0, 200*time.Millisecond)
	ctx := context.Background()
	if err := g.client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	g.client.Del(ctx, g.prefix+"integration_alert")
	assert.True(t, g.Allow(ctx, "integration_alert"))
	assert.False(t, g.Allow(ctx, "integration_alert"))

	time.Sleep(250 * time.Millisecond)
	assert.True(t, g.Allow(ctx, "integration_alert"))
}
