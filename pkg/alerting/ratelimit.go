package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Gate decides whether an alert type may fire right now. The alerter
// consults it once per send; kill-switch alerts bypass it entirely.
type Gate interface {
	Allow(ctx context.Context, alertType string) bool
}

// LocalGate admits one alert per type per window, in process.
type LocalGate struct {
	mu       sync.Mutex
	clock    func() time.Time
	window   time.Duration
	limiters map[string]*rate.Limiter
}

// NewLocalGate creates a gate with the given window per alert type.
func NewLocalGate(window time.Duration) *LocalGate {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &LocalGate{
		clock:    time.Now,
		window:   window,
		limiters: make(map[string]*rate.Limiter),
	}
}

// WithClock overrides the time source for testing.
func (g *LocalGate) WithClock(clock func() time.Time) *LocalGate {
	g.clock = clock
	return g
}

func (g *LocalGate) Allow(_ context.Context, alertType string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	lim, ok := g.limiters[alertType]
	if !ok {
		lim = rate.NewLimiter(rate.Every(g.window), 1)
		g.limiters[alertType] = lim
	}
	return lim.AllowN(g.clock(), 1)
}

// RedisGate admits one alert per type per window across processes, using
// SET NX with a TTL so limits expire without cleanup.
type RedisGate struct {
	client *redis.Client
	window time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisGate connects to Redis at addr and gates with the given window.
func NewRedisGate(addr, password string, db int, window time.Duration) *RedisGate {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &RedisGate{
		client: rdb,
		window: window,
		prefix: "tradegate:alert:",
		logger: slog.Default().With("component", "alerting"),
	}
}

// Allow is fail-open: a Redis outage must not suppress alerts.
func (g *RedisGate) Allow(ctx context.Context, alertType string) bool {
	ok, err := g.client.SetNX(ctx, g.prefix+alertType, 1, g.window).Result()
	if err != nil {
		g.logger.Warn("alert rate limit check failed, allowing", "error", err)
		return true
	}
	return ok
}
