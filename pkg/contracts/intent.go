// Package contracts defines the shared data model of the trading control
// plane: order intents, proposals with their lifecycle state machine,
// single-use approval tokens, and the broker-facing value types.
//
// Everything here is a plain value. Mutation happens by constructing a new
// value (see OrderProposal.WithState); the stores own all locking.
package contracts

import (
	"fmt"
	"strings"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType identifies the execution instruction.
type OrderType string

const (
	OrderTypeMarket    OrderType = "MKT"
	OrderTypeLimit     OrderType = "LMT"
	OrderTypeStop      OrderType = "STP"
	OrderTypeStopLimit OrderType = "STP_LMT"
	OrderTypeTrail     OrderType = "TRAIL"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFGTD TimeInForce = "GTD"
	TIFFOK TimeInForce = "FOK"
)

// OrderConstraints carries optional per-order risk limits.
type OrderConstraints struct {
	MaxSlippageBps         *int     `json:"max_slippage_bps,omitempty"`
	MaxNotional            *float64 `json:"max_notional,omitempty"`
	MinLiquidity           *int     `json:"min_liquidity,omitempty"`
	ExecutionWindowMinutes *int     `json:"execution_window_minutes,omitempty"`
}

// OrderIntent is the canonical order proposal format. An intent is validated
// once at the boundary, serialized canonically (RFC 8785), and from then on
// referenced only through its hash.
type OrderIntent struct {
	AccountID   string            `json:"account_id"`
	Instrument  Instrument        `json:"instrument"`
	Side        OrderSide         `json:"side"`
	Quantity    float64           `json:"quantity"`
	OrderType   OrderType         `json:"order_type"`
	LimitPrice  *float64          `json:"limit_price,omitempty"`
	StopPrice   *float64          `json:"stop_price,omitempty"`
	TimeInForce TimeInForce       `json:"time_in_force"`
	Reason      string            `json:"reason"`
	StrategyTag string            `json:"strategy_tag"`
	Constraints *OrderConstraints `json:"constraints,omitempty"`
}

// Validate enforces the structural rules every intent must satisfy before it
// enters the pipeline.
func (i OrderIntent) Validate() error {
	if strings.TrimSpace(i.AccountID) == "" {
		return fmt.Errorf("account_id must be non-empty")
	}
	if i.Instrument.Symbol == "" {
		return fmt.Errorf("instrument symbol must be non-empty")
	}
	switch i.Side {
	case SideBuy, SideSell:
	default:
		return fmt.Errorf("invalid side %q", i.Side)
	}
	if i.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	switch i.OrderType {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit, OrderTypeTrail:
	default:
		return fmt.Errorf("invalid order_type %q", i.OrderType)
	}
	if i.OrderType == OrderTypeLimit || i.OrderType == OrderTypeStopLimit {
		if i.LimitPrice == nil {
			return fmt.Errorf("limit_price is required for %s orders", i.OrderType)
		}
	}
	if i.OrderType == OrderTypeStop || i.OrderType == OrderTypeStopLimit {
		if i.StopPrice == nil {
			return fmt.Errorf("stop_price is required for %s orders", i.OrderType)
		}
	}
	if i.LimitPrice != nil && *i.LimitPrice <= 0 {
		return fmt.Errorf("limit_price must be positive")
	}
	if i.StopPrice != nil && *i.StopPrice <= 0 {
		return fmt.Errorf("stop_price must be positive")
	}
	if len(strings.Fields(i.Reason)) < 3 {
		return fmt.Errorf("reason must be descriptive (at least 3 words)")
	}
	if strings.TrimSpace(i.StrategyTag) == "" {
		return fmt.Errorf("strategy_tag must be non-empty")
	}
	return nil
}
