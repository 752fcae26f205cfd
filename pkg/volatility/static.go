package volatility

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultStaticVolatility covers symbols without a pinned value.
	DefaultStaticVolatility = 0.20
	// DefaultMarketVolatility is a VIX/100 equivalent.
	DefaultMarketVolatility = 0.15
)

// Static serves fixed volatility values. It backs tests and acts as the
// fallback provider when the historical feed is unavailable.
type Static struct {
	mu        sync.Mutex
	clock     func() time.Time
	bySymbol  map[string]float64
	fallback  float64
	marketVol float64
}

var _ Provider = (*Static)(nil)

// NewStatic creates a provider with the default volatilities.
func NewStatic() *Static {
	return &Static{
		clock:     time.Now,
		bySymbol:  make(map[string]float64),
		fallback:  DefaultStaticVolatility,
		marketVol: DefaultMarketVolatility,
	}
}

// WithVolatility pins the volatility for one symbol.
func (s *Static) WithVolatility(symbol string, vol float64) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySymbol[symbol] = vol
	return s
}

// WithDefault overrides the volatility for unpinned symbols.
func (s *Static) WithDefault(vol float64) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = vol
	return s
}

// WithMarketVolatility overrides the market-wide figure.
func (s *Static) WithMarketVolatility(vol float64) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marketVol = vol
	return s
}

// WithClock overrides the time source for testing.
func (s *Static) WithClock(clock func() time.Time) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	return s
}

// GetVolatility returns the pinned or default volatility for symbol.
func (s *Static) GetVolatility(_ context.Context, symbol string, lookbackDays int) (*Data, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	vol, ok := s.bySymbol[symbol]
	if !ok {
		vol = s.fallback
	}
	market := s.marketVol
	return &Data{
		Symbol:             symbol,
		Timestamp:          s.clock().UTC(),
		RealizedVolatility: &vol,
		MarketVolatility:   &market,
		LookbackDays:       lookbackDays,
		Source:             "static",
	}, nil
}

// GetMarketVolatility returns the fixed market-wide figure.
func (s *Static) GetMarketVolatility(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.marketVol, nil
}
