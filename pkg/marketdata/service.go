package marketdata

import (
	"context"
	"log/slog"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

// Provider supplies quotes and historical bars. Broker venues satisfy it.
type Provider interface {
	GetMarketSnapshot(ctx context.Context, symbol string) (*contracts.MarketSnapshot, error)
	GetMarketBars(ctx context.Context, q contracts.BarQuery) ([]contracts.Bar, error)
}

// Service fronts a provider with the cache. Reads fall through to the
// provider on a miss and the result is cached for the next caller.
// Service implements Provider itself, so it drops in anywhere a raw
// venue would.
type Service struct {
	provider Provider
	cache    *Cache
	logger   *slog.Logger
}

var _ Provider = (*Service)(nil)

// NewService wraps provider with a default cache.
func NewService(provider Provider) *Service {
	return &Service{
		provider: provider,
		cache:    NewCache(),
		logger:   slog.Default().With("component", "marketdata"),
	}
}

// WithCache replaces the cache, mainly for tests that pin the clock.
func (s *Service) WithCache(cache *Cache) *Service {
	s.cache = cache
	return s
}

// GetMarketSnapshot returns a quote for symbol, serving from cache when fresh.
func (s *Service) GetMarketSnapshot(ctx context.Context, symbol string) (*contracts.MarketSnapshot, error) {
	if snap, ok := s.cache.Snapshot(symbol); ok {
		return snap, nil
	}
	snap, err := s.provider.GetMarketSnapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.cache.PutSnapshot(symbol, snap)
	return snap, nil
}

// GetMarketBars returns a bar window, serving from cache when fresh.
func (s *Service) GetMarketBars(ctx context.Context, q contracts.BarQuery) ([]contracts.Bar, error) {
	if bars, ok := s.cache.Bars(q); ok {
		return bars, nil
	}
	bars, err := s.provider.GetMarketBars(ctx, q)
	if err != nil {
		return nil, err
	}
	s.cache.PutBars(q, bars)
	return bars, nil
}

// ClearCache drops all cached entries.
func (s *Service) ClearCache() {
	s.cache.Clear()
	s.logger.Info("market data cache cleared")
}

// CacheStats reports cache size and hit rates.
func (s *Service) CacheStats() Stats {
	return s.cache.Stats()
}
