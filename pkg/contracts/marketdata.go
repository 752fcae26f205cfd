package contracts

import "time"

// Timeframe is a bar aggregation period.
type Timeframe string

const (
	Timeframe1Min   Timeframe = "1m"
	Timeframe5Min   Timeframe = "5m"
	Timeframe15Min  Timeframe = "15m"
	Timeframe30Min  Timeframe = "30m"
	Timeframe1Hour  Timeframe = "1h"
	Timeframe4Hour  Timeframe = "4h"
	Timeframe1Day   Timeframe = "1d"
	Timeframe1Week  Timeframe = "1w"
	Timeframe1Month Timeframe = "1M"
)

// Valid reports whether the timeframe is one of the supported periods.
func (t Timeframe) Valid() bool {
	switch t {
	case Timeframe1Min, Timeframe5Min, Timeframe15Min, Timeframe30Min,
		Timeframe1Hour, Timeframe4Hour, Timeframe1Day, Timeframe1Week, Timeframe1Month:
		return true
	}
	return false
}

// Duration returns the bar period length. Weeks are 7 days and months
// 30 days, close enough for window arithmetic.
func (t Timeframe) Duration() time.Duration {
	switch t {
	case Timeframe1Min:
		return time.Minute
	case Timeframe5Min:
		return 5 * time.Minute
	case Timeframe15Min:
		return 15 * time.Minute
	case Timeframe30Min:
		return 30 * time.Minute
	case Timeframe1Hour:
		return time.Hour
	case Timeframe4Hour:
		return 4 * time.Hour
	case Timeframe1Day:
		return 24 * time.Hour
	case Timeframe1Week:
		return 7 * 24 * time.Hour
	case Timeframe1Month:
		return 30 * 24 * time.Hour
	}
	return 0
}

// MarketSnapshot is a real-time quote for an instrument.
type MarketSnapshot struct {
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"`
	Bid        *float64  `json:"bid,omitempty"`
	Ask        *float64  `json:"ask,omitempty"`
	Last       *float64  `json:"last,omitempty"`
	Volume     *int64    `json:"volume,omitempty"`
	Mid        *float64  `json:"mid,omitempty"`
	BidSize    *int64    `json:"bid_size,omitempty"`
	AskSize    *int64    `json:"ask_size,omitempty"`
	High       *float64  `json:"high,omitempty"`
	Low        *float64  `json:"low,omitempty"`
	OpenPrice  *float64  `json:"open_price,omitempty"`
	PrevClose  *float64  `json:"prev_close,omitempty"`
}

// WithMid fills the mid-price from bid/ask when absent.
func (s MarketSnapshot) WithMid() MarketSnapshot {
	if s.Mid == nil && s.Bid != nil && s.Ask != nil {
		mid := (*s.Bid + *s.Ask) / 2
		s.Mid = &mid
	}
	return s
}

// Bar is one OHLCV period.
type Bar struct {
	Instrument string    `json:"instrument"`
	Timestamp  time.Time `json:"timestamp"` // start of period, UTC
	Timeframe  Timeframe `json:"timeframe"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	VWAP       *float64  `json:"vwap,omitempty"`
	TradeCount *int64    `json:"trade_count,omitempty"`
}

// BarQuery selects a window of historical bars. Start and End are
// optional; a zero Limit means the venue default.
type BarQuery struct {
	Instrument string     `json:"instrument"`
	Timeframe  Timeframe  `json:"timeframe"`
	Start      *time.Time `json:"start,omitempty"`
	End        *time.Time `json:"end,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	RTHOnly    bool       `json:"rth_only"` // regular trading hours only
}
