// Package broker defines the venue adapter surface and the plumbing
// shared by every implementation: the selection factory, the read-only
// submit guard, and the audit decorator. Venue specifics live in the
// sim and alpaca subpackages.
package broker

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

// These messages surface verbatim in audit events and API responses.
var (
	ErrNotConnected = errors.New("Not connected")
	ErrReadOnly     = errors.New("Cannot submit orders in read-only mode")
)

// Broker is the venue adapter. SubmitOrder carries the approval token id
// so the venue boundary stays inside the two-phase commit: the token is
// consumed by the caller immediately before this call.
type Broker interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool

	GetAccounts(ctx context.Context) ([]contracts.Account, error)
	GetPortfolio(ctx context.Context, accountID string) (*contracts.Portfolio, error)
	GetOpenOrders(ctx context.Context, accountID string) ([]contracts.OpenOrder, error)

	GetMarketSnapshot(ctx context.Context, symbol string) (*contracts.MarketSnapshot, error)
	GetMarketBars(ctx context.Context, q contracts.BarQuery) ([]contracts.Bar, error)

	SubmitOrder(ctx context.Context, intent contracts.OrderIntent, tokenID string) (*contracts.SubmitResult, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (*contracts.OrderStatusInfo, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error

	SearchInstruments(ctx context.Context, query string, filters contracts.InstrumentFilters, limit int) ([]contracts.Instrument, error)
	ResolveInstrument(ctx context.Context, symbol string, filters contracts.InstrumentFilters, conID int64) (*contracts.Instrument, error)
	GetContractByID(ctx context.Context, conID int64) (*contracts.Instrument, error)
}
