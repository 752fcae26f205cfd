package contracts

import (
	"strings"
	"time"
)

// OrderStatus is the internal view of a broker order's lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected:
		return true
	}
	return false
}

// MapBrokerStatus normalizes venue status wording to the internal order
// status. Unknown wording maps to PENDING so the poll loop keeps watching
// instead of guessing.
func MapBrokerStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "filled", "completed":
		return OrderStatusFilled
	case "cancelled":
		return OrderStatusCancelled
	case "rejected", "error":
		return OrderStatusRejected
	case "submitted", "presubmitted":
		return OrderStatusSubmitted
	default:
		return OrderStatusPending
	}
}

// Account describes a brokerage account.
type Account struct {
	AccountID   string    `json:"account_id"`
	AccountType string    `json:"account_type"` // PAPER or LIVE
	Status      string    `json:"status"`
	Currency    string    `json:"currency"`
	Timestamp   time.Time `json:"timestamp"`
}

// Position is one holding in a portfolio.
type Position struct {
	Instrument    Instrument `json:"instrument"`
	Quantity      float64    `json:"quantity"`
	AverageCost   float64    `json:"average_cost"`
	MarketValue   float64    `json:"market_value"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	RealizedPnL   float64    `json:"realized_pnl"`
	Timestamp     time.Time  `json:"timestamp"`
}

// Cash is a per-currency cash balance.
type Cash struct {
	Currency  string    `json:"currency"`
	Available float64   `json:"available"`
	Total     float64   `json:"total"`
	Timestamp time.Time `json:"timestamp"`
}

// Portfolio is a point-in-time account snapshot.
type Portfolio struct {
	AccountID  string     `json:"account_id"`
	Positions  []Position `json:"positions"`
	Cash       []Cash     `json:"cash"`
	TotalValue float64    `json:"total_value"`
	Timestamp  time.Time  `json:"timestamp"`
}

// OpenOrder is a working order as reported by the broker.
type OpenOrder struct {
	OrderID          string      `json:"order_id"`
	BrokerOrderID    string      `json:"broker_order_id,omitempty"`
	AccountID        string      `json:"account_id"`
	Instrument       Instrument  `json:"instrument"`
	Side             OrderSide   `json:"side"`
	Quantity         float64     `json:"quantity"`
	OrderType        OrderType   `json:"order_type"`
	LimitPrice       *float64    `json:"limit_price,omitempty"`
	StopPrice        *float64    `json:"stop_price,omitempty"`
	TimeInForce      TimeInForce `json:"time_in_force"`
	Status           OrderStatus `json:"status"`
	FilledQuantity   float64     `json:"filled_quantity"`
	AverageFillPrice *float64    `json:"average_fill_price,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// SubmitResult is what the broker returns from a successful submission.
type SubmitResult struct {
	BrokerOrderID string      `json:"broker_order_id"`
	Status        OrderStatus `json:"status"`
	SubmittedAt   time.Time   `json:"submitted_at"`
}

// OrderStatusInfo is one poll of a broker order.
type OrderStatusInfo struct {
	BrokerOrderID    string      `json:"broker_order_id"`
	Status           OrderStatus `json:"status"`
	RawStatus        string      `json:"raw_status"` // venue wording, pre-mapping
	FilledQuantity   float64     `json:"filled_quantity"`
	AverageFillPrice *float64    `json:"average_fill_price,omitempty"`
	Timestamp        time.Time   `json:"timestamp"`
}
