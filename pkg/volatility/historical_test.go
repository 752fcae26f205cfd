package volatility

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

var volNow = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)

type stubBars struct {
	bars      []contracts.Bar
	err       error
	lastQuery contracts.BarQuery
	calls     int
}

func (s *stubBars) GetMarketBars(_ context.Context, q contracts.BarQuery) ([]contracts.Bar, error) {
	s.lastQuery = q
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.bars, nil
}

func barsFromCloses(closes ...float64) []contracts.Bar {
	bars := make([]contracts.Bar, 0, len(closes))
	for i, c := range closes {
		bars = append(bars, contracts.Bar{
			Instrument: "TEST",
			Timestamp:  volNow.AddDate(0, 0, i-len(closes)),
			Timeframe:  contracts.Timeframe1Day,
			Open:       c,
			High:       c,
			Low:        c,
			Close:      c,
			Volume:     1000,
		})
	}
	return bars
}

func TestRealizedVolatilityFromCloses(t *testing.T) {
	// Closes 100, 102, 101, 103: three log returns, sample stddev
	// ~0.017066, annualized by sqrt(252) to ~0.2709.
	source := &stubBars{bars: barsFromCloses(100, 102, 101, 103)}
	h := NewHistorical(source).WithClock(func() time.Time { return volNow })

	data, err := h.GetVolatility(context.Background(), "TEST", 30)
	require.NoError(t, err)
	require.NotNil(t, data.RealizedVolatility)
	assert.InDelta(t, 0.2709, *data.RealizedVolatility, 0.0005)
	assert.Equal(t, "TEST", data.Symbol)
	assert.Equal(t, 3, data.LookbackDays)
	assert.Equal(t, "historical", data.Source)
	assert.Equal(t, volNow, data.Timestamp)
	assert.Nil(t, data.ImpliedVolatility)
}

func TestFlatClosesGiveZeroVolatility(t *testing.T) {
	source := &stubBars{bars: barsFromCloses(100, 100, 100)}
	h := NewHistorical(source).WithClock(func() time.Time { return volNow })

	data, err := h.GetVolatility(context.Background(), "TEST", 30)
	require.NoError(t, err)
	assert.Zero(t, *data.RealizedVolatility)
	assert.Equal(t, 2, data.LookbackDays)
}

func TestInsufficientHistory(t *testing.T) {
	for name, closes := range map[string][]float64{
		"no bars":    {},
		"one bar":    {100},
		"one return": {100, 102},
	} {
		t.Run(name, func(t *testing.T) {
			source := &stubBars{bars: barsFromCloses(closes...)}
			h := NewHistorical(source).WithClock(func() time.Time { return volNow })

			_, err := h.GetVolatility(context.Background(), "TEST", 30)
			require.ErrorIs(t, err, ErrInsufficientData)
		})
	}
}

func TestBadPrintsAreSkipped(t *testing.T) {
	// The zero close drops both adjacent returns, leaving exactly two.
	source := &stubBars{bars: barsFromCloses(100, 101, 0, 103, 104)}
	h := NewHistorical(source).WithClock(func() time.Time { return volNow })

	data, err := h.GetVolatility(context.Background(), "TEST", 30)
	require.NoError(t, err)
	assert.Equal(t, 2, data.LookbackDays)

	// When skipping leaves fewer than two returns the estimate fails.
	source.bars = barsFromCloses(100, 0, 102)
	_, err = h.GetVolatility(context.Background(), "TEST", 30)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestBarQueryShape(t *testing.T) {
	source := &stubBars{bars: barsFromCloses(100, 102, 101, 103)}
	h := NewHistorical(source).WithClock(func() time.Time { return volNow })

	_, err := h.GetVolatility(context.Background(), "AAPL", 30)
	require.NoError(t, err)

	q := source.lastQuery
	assert.Equal(t, "AAPL", q.Instrument)
	assert.Equal(t, contracts.Timeframe1Day, q.Timeframe)
	assert.True(t, q.RTHOnly)
	assert.Equal(t, 35, q.Limit)
	require.NotNil(t, q.Start)
	require.NotNil(t, q.End)
	assert.Equal(t, volNow, *q.End)
	assert.Equal(t, volNow.AddDate(0, 0, -35), *q.Start)
}

func TestLookbackDefaultsWhenUnset(t *testing.T) {
	source := &stubBars{bars: barsFromCloses(100, 102, 101, 103)}
	h := NewHistorical(source).WithClock(func() time.Time { return volNow })

	_, err := h.GetVolatility(context.Background(), "AAPL", 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultLookbackDays+lookbackBuffer, source.lastQuery.Limit)
}

func TestFetchErrorPropagates(t *testing.T) {
	source := &stubBars{err: errors.New("feed down")}
	h := NewHistorical(source).WithClock(func() time.Time { return volNow })

	_, err := h.GetVolatility(context.Background(), "XYZ", 30)
	require.EqualError(t, err, "fetch bars for XYZ: feed down")
}

func TestMarketVolatilityDerivedFromSPY(t *testing.T) {
	source := &stubBars{bars: barsFromCloses(100, 102, 101, 103)}
	h := NewHistorical(source).WithClock(func() time.Time { return volNow })

	vol, err := h.GetMarketVolatility(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.2709, vol, 0.0005)
	assert.Equal(t, "SPY", source.lastQuery.Instrument)
}
