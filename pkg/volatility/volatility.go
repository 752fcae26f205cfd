// Package volatility estimates annualized volatility for instruments.
//
// The historical provider derives realized volatility from daily closes.
// The service layers a TTL cache and a fallback provider on top, so risk
// sizing keeps working when the market data feed is down.
package volatility

import (
	"context"
	"errors"
)

// ErrInsufficientData means too little price history to estimate from.
var ErrInsufficientData = errors.New("insufficient history to estimate volatility")

// Provider supplies volatility estimates from some data source.
type Provider interface {
	// GetVolatility returns annualized volatility data for a symbol.
	GetVolatility(ctx context.Context, symbol string, lookbackDays int) (*Data, error)
	// GetMarketVolatility returns a broad-market annualized volatility.
	GetMarketVolatility(ctx context.Context) (float64, error)
}

// EffectiveVolatility picks the best available estimate: realized first,
// then implied, then beta-adjusted market volatility.
func (d *Data) EffectiveVolatility() *float64 {
	if d.RealizedVolatility != nil {
		return d.RealizedVolatility
	}
	if d.ImpliedVolatility != nil {
		return d.ImpliedVolatility
	}
	if d.Beta != nil && d.MarketVolatility != nil {
		v := *d.Beta * *d.MarketVolatility
		return &v
	}
	return nil
}
