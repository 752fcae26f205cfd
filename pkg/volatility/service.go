package volatility

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a primary estimate stays cached. Fallback
// estimates get half of it.
const DefaultCacheTTL = time.Hour

type cachedData struct {
	data     *Data
	cachedAt time.Time
	ttl      time.Duration
}

// CacheStats reports cache effectiveness and provider usage.
type CacheStats struct {
	Hits             int64   `json:"cache_hits"`
	Misses           int64   `json:"cache_misses"`
	HitRatePct       float64 `json:"hit_rate_pct"`
	CachedSymbols    int     `json:"cached_symbols"`
	PrimarySuccesses int64   `json:"primary_successes"`
	FallbackUses     int64   `json:"fallback_uses"`
}

// Service caches volatility estimates and degrades to a fallback
// provider when the primary fails. The cache is keyed by symbol.
type Service struct {
	mu     sync.Mutex
	clock  func() time.Time
	logger *slog.Logger

	primary  Provider
	fallback Provider
	ttl      time.Duration

	cache            map[string]cachedData
	hits             int64
	misses           int64
	primarySuccesses int64
	fallbackUses     int64
}

var _ Provider = (*Service)(nil)

// NewService creates a service over the primary provider.
func NewService(primary Provider) *Service {
	return &Service{
		clock:   time.Now,
		logger:  slog.Default().With("component", "volatility"),
		primary: primary,
		ttl:     DefaultCacheTTL,
		cache:   make(map[string]cachedData),
	}
}

// WithFallback sets the provider used when the primary fails.
func (s *Service) WithFallback(p Provider) *Service {
	s.fallback = p
	return s
}

// WithCacheTTL overrides the primary cache TTL.
func (s *Service) WithCacheTTL(ttl time.Duration) *Service {
	s.ttl = ttl
	return s
}

// WithClock overrides the time source for testing.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

// GetVolatility returns a cached estimate when fresh, otherwise asks the
// primary and then the fallback provider.
func (s *Service) GetVolatility(ctx context.Context, symbol string, lookbackDays int) (*Data, error) {
	s.mu.Lock()
	if entry, ok := s.cache[symbol]; ok {
		if s.clock().Sub(entry.cachedAt) <= entry.ttl {
			s.hits++
			s.mu.Unlock()
			return entry.data, nil
		}
		delete(s.cache, symbol)
	}
	s.misses++
	s.mu.Unlock()

	data, err := s.primary.GetVolatility(ctx, symbol, lookbackDays)
	if err == nil {
		s.store(symbol, data, s.ttl, &s.primarySuccesses)
		return data, nil
	}
	s.logger.Warn("primary volatility provider failed",
		"symbol", symbol,
		"error", err,
	)

	if s.fallback != nil {
		fb, ferr := s.fallback.GetVolatility(ctx, symbol, lookbackDays)
		if ferr == nil {
			// Fallback data is weaker, cache it for half as long.
			s.store(symbol, fb, s.ttl/2, &s.fallbackUses)
			return fb, nil
		}
		s.logger.Warn("fallback volatility provider failed",
			"symbol", symbol,
			"error", ferr,
		)
	}
	return nil, err
}

// GetMarketVolatility asks the primary, then the fallback. Uncached.
func (s *Service) GetMarketVolatility(ctx context.Context) (float64, error) {
	vol, err := s.primary.GetMarketVolatility(ctx)
	if err == nil {
		return vol, nil
	}
	if s.fallback != nil {
		if fb, ferr := s.fallback.GetMarketVolatility(ctx); ferr == nil {
			return fb, nil
		}
	}
	return 0, err
}

// ClearCache drops all cached estimates. Counters survive.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]cachedData)
}

// Stats snapshots cache and provider counters.
func (s *Service) Stats() CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := CacheStats{
		Hits:             s.hits,
		Misses:           s.misses,
		CachedSymbols:    len(s.cache),
		PrimarySuccesses: s.primarySuccesses,
		FallbackUses:     s.fallbackUses,
	}
	if total := s.hits + s.misses; total > 0 {
		stats.HitRatePct = math.Round(float64(s.hits)/float64(total)*100*100) / 100
	}
	return stats
}

func (s *Service) store(symbol string, data *Data, ttl time.Duration, counter *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*counter++
	s.cache[symbol] = cachedData{data: data, cachedAt: s.clock(), ttl: ttl}
}
