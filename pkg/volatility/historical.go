package volatility

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

const (
	// DefaultLookbackDays is the window for realized volatility.
	DefaultLookbackDays = 30
	// DefaultAnnualizationFactor is trading days per year.
	DefaultAnnualizationFactor = 252
	// lookbackBuffer pads the bar request for holidays and halts.
	lookbackBuffer = 5
)

// Data carries volatility metrics for one instrument. All figures are
// annualized fractions, 0.25 means 25%.
type Data struct {
	Symbol             string    `json:"symbol"`
	Timestamp          time.Time `json:"timestamp"`
	RealizedVolatility *float64  `json:"realized_volatility,omitempty"`
	ImpliedVolatility  *float64  `json:"implied_volatility,omitempty"`
	Beta               *float64  `json:"beta,omitempty"`
	MarketVolatility   *float64  `json:"market_volatility,omitempty"`
	LookbackDays       int       `json:"lookback_days,omitempty"`
	Source             string    `json:"source,omitempty"`
}

// BarSource fetches historical bars. Broker venues and the market data
// service both satisfy it.
type BarSource interface {
	GetMarketBars(ctx context.Context, q contracts.BarQuery) ([]contracts.Bar, error)
}

// Historical computes realized volatility from daily closes: log returns,
// sample standard deviation, annualized by sqrt of trading days.
type Historical struct {
	clock         func() time.Time
	source        BarSource
	annualization float64
}

var _ Provider = (*Historical)(nil)

// NewHistorical creates a provider backed by source.
func NewHistorical(source BarSource) *Historical {
	return &Historical{
		clock:         time.Now,
		source:        source,
		annualization: DefaultAnnualizationFactor,
	}
}

// WithAnnualization overrides the trading-days-per-year factor.
func (h *Historical) WithAnnualization(days float64) *Historical {
	h.annualization = days
	return h
}

// WithClock overrides the time source for testing.
func (h *Historical) WithClock(clock func() time.Time) *Historical {
	h.clock = clock
	return h
}

// GetVolatility computes realized volatility for symbol over lookbackDays
// daily closes. Returns ErrInsufficientData when fewer than two usable
// returns exist.
func (h *Historical) GetVolatility(ctx context.Context, symbol string, lookbackDays int) (*Data, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}
	end := h.clock().UTC()
	start := end.AddDate(0, 0, -(lookbackDays + lookbackBuffer))
	bars, err := h.source.GetMarketBars(ctx, contracts.BarQuery{
		Instrument: symbol,
		Timeframe:  contracts.Timeframe1Day,
		Start:      &start,
		End:        &end,
		Limit:      lookbackDays + lookbackBuffer,
		RTHOnly:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch bars for %s: %w", symbol, err)
	}

	returns := logReturns(bars)
	if len(returns) < 2 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrInsufficientData)
	}

	vol := sampleStdDev(returns) * math.Sqrt(h.annualization)
	return &Data{
		Symbol:             symbol,
		Timestamp:          h.clock().UTC(),
		RealizedVolatility: &vol,
		LookbackDays:       len(returns),
		Source:             "historical",
	}, nil
}

// GetMarketVolatility approximates broad-market volatility with SPY's
// realized volatility.
func (h *Historical) GetMarketVolatility(ctx context.Context) (float64, error) {
	data, err := h.GetVolatility(ctx, "SPY", DefaultLookbackDays)
	if err != nil {
		return 0, err
	}
	return *data.RealizedVolatility, nil
}

// logReturns skips pairs with non-positive closes, so a bad print does
// not poison the estimate.
func logReturns(bars []contracts.Bar) []float64 {
	if len(bars) < 2 {
		return nil
	}
	out := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev, curr := bars[i-1].Close, bars[i].Close
		if prev > 0 && curr > 0 {
			out = append(out, math.Log(curr/prev))
		}
	}
	return out
}

func sampleStdDev(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs) - 1)
	return math.Sqrt(variance)
}
