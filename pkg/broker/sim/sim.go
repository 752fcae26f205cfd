// Package sim is a deterministic in-memory venue used for paper mode and
// throughout the test suite. It serves a fixed mock portfolio, a static
// instrument catalog, synthetic bars, and instant order acknowledgement.
// Failure injection knobs exercise the unhappy paths without a live
// connection.
package sim

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
	"github.com/Mindburn-Labs/tradegate/pkg/instruments"
)

// DefaultAccountID is the paper account the venue is seeded with.
const DefaultAccountID = "DU123456"

// DefaultBarCount is returned when a bar query has no limit.
const DefaultBarCount = 100

const defaultPrice = 100.00

// venueOrder tracks one submitted order, its raw venue wording, and how
// often it was polled.
type venueOrder struct {
	open  contracts.OpenOrder
	raw   string
	polls int
}

// Venue implements the broker interface against in-memory state.
type Venue struct {
	mu        sync.Mutex
	clock     func() time.Time
	accountID string
	connected bool

	positions []contracts.Position
	cash      []contracts.Cash
	orders    map[string]*venueOrder
	extra     []contracts.OpenOrder
	orderSeq  int

	quotes  map[string]float64
	catalog []contracts.Instrument

	resolver *instruments.Resolver

	// Failure injection.
	connectFailures int
	submitErr       error
	statusErr       error
	statusErrLeft   int
	fillAfterPolls  int
	finalRaw        string
}

// New seeds a venue with the stock mock portfolio: 100 SPY, 50 AAPL and
// 50k USD cash.
func New(accountID string) *Venue {
	if accountID == "" {
		accountID = DefaultAccountID
	}
	v := &Venue{
		clock:     time.Now,
		accountID: accountID,
		positions: mockPositions(),
		cash:      mockCash(),
		orders:    make(map[string]*venueOrder),
		quotes:    mockQuotes(),
		catalog:   mockCatalog(),
		finalRaw:  "Filled",
	}
	v.resolver = instruments.NewResolver(v)
	return v
}

// WithClock replaces the time source. Tests use this for determinism.
func (v *Venue) WithClock(clock func() time.Time) *Venue {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clock = clock
	return v
}

// FailConnects makes the next n Connect calls fail.
func (v *Venue) FailConnects(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connectFailures = n
}

// FailSubmit makes SubmitOrder return err until cleared with nil.
func (v *Venue) FailSubmit(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.submitErr = err
}

// FailStatus makes the next n GetOrderStatus calls return err.
func (v *Venue) FailStatus(err error, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.statusErr = err
	v.statusErrLeft = n
}

// FillAfterPolls delays the terminal status until an order has been
// polled n times. Zero means the first poll reports it.
func (v *Venue) FillAfterPolls(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fillAfterPolls = n
}

// SetFinalStatus changes the raw wording submitted orders settle at,
// e.g. "Cancelled" or "Rejected". Default is "Filled".
func (v *Venue) SetFinalStatus(raw string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.finalRaw = raw
}

// SetQuote overrides the price for a symbol.
func (v *Venue) SetQuote(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.quotes[strings.ToUpper(symbol)] = price
}

// SetPositions replaces the held positions.
func (v *Venue) SetPositions(positions []contracts.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions = append([]contracts.Position(nil), positions...)
}

// SetCash replaces the cash balances.
func (v *Venue) SetCash(cash []contracts.Cash) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cash = append([]contracts.Cash(nil), cash...)
}

// AddOpenOrder plants an order the venue reports but the gateway never
// tracked. Reconciliation tests use this for the untracked-order path.
func (v *Venue) AddOpenOrder(o contracts.OpenOrder) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.extra = append(v.extra, o)
}

func (v *Venue) Connect(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.connectFailures > 0 {
		v.connectFailures--
		return fmt.Errorf("connection refused")
	}
	v.connected = true
	return nil
}

func (v *Venue) Disconnect(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.connected = false
	return nil
}

func (v *Venue) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

func (v *Venue) GetAccounts(_ context.Context) ([]contracts.Account, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return []contracts.Account{{
		AccountID:   v.accountID,
		AccountType: "PAPER",
		Status:      "ACTIVE",
		Currency:    "USD",
		Timestamp:   v.clock().UTC(),
	}}, nil
}

func (v *Venue) GetPortfolio(_ context.Context, accountID string) (*contracts.Portfolio, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if accountID != v.accountID {
		return nil, fmt.Errorf("invalid account_id: %s", accountID)
	}
	now := v.clock().UTC()
	positions := append([]contracts.Position(nil), v.positions...)
	cash := append([]contracts.Cash(nil), v.cash...)
	var total float64
	for i := range positions {
		positions[i].Timestamp = now
		total += positions[i].MarketValue
	}
	for i := range cash {
		cash[i].Timestamp = now
		total += cash[i].Total
	}
	return &contracts.Portfolio{
		AccountID:  accountID,
		Positions:  positions,
		Cash:       cash,
		TotalValue: total,
		Timestamp:  now,
	}, nil
}

func (v *Venue) GetOpenOrders(_ context.Context, accountID string) ([]contracts.OpenOrder, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if accountID != v.accountID {
		return nil, fmt.Errorf("invalid account_id: %s", accountID)
	}
	var out []contracts.OpenOrder
	for _, o := range v.orders {
		if !o.open.Status.Terminal() {
			out = append(out, o.open)
		}
	}
	out = append(out, v.extra...)
	return out, nil
}

func (v *Venue) GetMarketSnapshot(_ context.Context, symbol string) (*contracts.MarketSnapshot, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	base := v.priceLocked(symbol)
	bid := base * 0.9995
	ask := base * 1.0005
	last := base
	closePx := base * 0.998
	var volume int64 = 1_000_000
	snap := contracts.MarketSnapshot{
		Instrument: strings.ToUpper(symbol),
		Bid:        &bid,
		Ask:        &ask,
		Last:       &last,
		PrevClose:  &closePx,
		Volume:     &volume,
		Timestamp:  v.clock().UTC(),
	}
	snap = snap.WithMid()
	return &snap, nil
}

func (v *Venue) GetMarketBars(_ context.Context, q contracts.BarQuery) ([]contracts.Bar, error) {
	if strings.TrimSpace(q.Instrument) == "" {
		return nil, fmt.Errorf("instrument is required")
	}
	if !q.Timeframe.Valid() {
		return nil, fmt.Errorf("invalid timeframe: %q", q.Timeframe)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	step := q.Timeframe.Duration()
	end := v.clock().UTC().Truncate(step)
	if q.End != nil {
		end = q.End.UTC().Truncate(step)
	}
	n := q.Limit
	if n <= 0 {
		n = DefaultBarCount
	}
	if q.Start != nil {
		if span := int(end.Sub(*q.Start) / step); span < n {
			n = span
		}
		if n <= 0 {
			return []contracts.Bar{}, nil
		}
	}

	symbol := strings.ToUpper(q.Instrument)
	base := v.priceLocked(symbol)
	phase := float64(symbolSeed(symbol) % 628) / 100

	// A slow sine walk around the base price: deterministic, and the
	// closes differ enough that realized volatility is non-zero.
	bars := make([]contracts.Bar, 0, n)
	prev := base * (1 + 0.01*math.Sin(phase))
	for k := 0; k < n; k++ {
		closePx := base * (1 + 0.01*math.Sin(phase+float64(k+1)/2.5))
		high := math.Max(prev, closePx) * 1.001
		low := math.Min(prev, closePx) * 0.999
		bars = append(bars, contracts.Bar{
			Instrument: symbol,
			Timestamp:  end.Add(-time.Duration(n-k) * step),
			Timeframe:  q.Timeframe,
			Open:       prev,
			High:       high,
			Low:        low,
			Close:      closePx,
			Volume:     1_000_000,
		})
		prev = closePx
	}
	return bars, nil
}

func (v *Venue) SubmitOrder(_ context.Context, intent contracts.OrderIntent, _ string) (*contracts.SubmitResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return nil, fmt.Errorf("venue not connected")
	}
	if v.submitErr != nil {
		return nil, v.submitErr
	}
	switch intent.OrderType {
	case contracts.OrderTypeMarket:
	case contracts.OrderTypeLimit:
		if intent.LimitPrice == nil {
			return nil, fmt.Errorf("limit price required for limit orders")
		}
	default:
		return nil, fmt.Errorf("unsupported order type: %s", intent.OrderType)
	}

	v.orderSeq++
	id := fmt.Sprintf("SIM-%06d", v.orderSeq)
	now := v.clock().UTC()
	v.orders[id] = &venueOrder{raw: "Submitted", open: contracts.OpenOrder{
		OrderID:       id,
		BrokerOrderID: id,
		AccountID:     intent.AccountID,
		Instrument:    intent.Instrument,
		Side:          intent.Side,
		Quantity:      intent.Quantity,
		OrderType:     intent.OrderType,
		LimitPrice:    intent.LimitPrice,
		StopPrice:     intent.StopPrice,
		TimeInForce:   intent.TimeInForce,
		Status:        contracts.OrderStatusSubmitted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
	return &contracts.SubmitResult{
		BrokerOrderID: id,
		Status:        contracts.OrderStatusSubmitted,
		SubmittedAt:   now,
	}, nil
}

func (v *Venue) GetOrderStatus(_ context.Context, brokerOrderID string) (*contracts.OrderStatusInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.statusErrLeft > 0 {
		v.statusErrLeft--
		return nil, v.statusErr
	}
	o, ok := v.orders[brokerOrderID]
	if !ok {
		return nil, fmt.Errorf("unknown order: %s", brokerOrderID)
	}

	now := v.clock().UTC()
	if !o.open.Status.Terminal() {
		o.polls++
		if o.polls > v.fillAfterPolls {
			v.settleLocked(o, now)
		}
	}
	info := &contracts.OrderStatusInfo{
		BrokerOrderID:    brokerOrderID,
		Status:           o.open.Status,
		RawStatus:        o.raw,
		FilledQuantity:   o.open.FilledQuantity,
		AverageFillPrice: o.open.AverageFillPrice,
		Timestamp:        now,
	}
	return info, nil
}

// settleLocked moves an order to its configured terminal status. Fills
// execute the whole quantity at the current quote.
func (v *Venue) settleLocked(o *venueOrder, now time.Time) {
	raw := v.finalRaw
	status := contracts.MapBrokerStatus(raw)
	if !status.Terminal() {
		raw = "Filled"
		status = contracts.OrderStatusFilled
	}
	o.raw = raw
	o.open.Status = status
	o.open.UpdatedAt = now
	if status == contracts.OrderStatusFilled {
		px := v.priceLocked(o.open.Instrument.Symbol)
		o.open.FilledQuantity = o.open.Quantity
		o.open.AverageFillPrice = &px
	}
}

func (v *Venue) CancelOrder(_ context.Context, brokerOrderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("unknown order: %s", brokerOrderID)
	}
	if o.open.Status.Terminal() {
		return fmt.Errorf("order %s is already %s", brokerOrderID, o.open.Status)
	}
	o.raw = "Cancelled"
	o.open.Status = contracts.OrderStatusCancelled
	o.open.UpdatedAt = v.clock().UTC()
	return nil
}

func (v *Venue) SearchInstruments(_ context.Context, query string, filters contracts.InstrumentFilters, limit int) ([]contracts.Instrument, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	q := strings.ToUpper(strings.TrimSpace(query))
	var out []contracts.Instrument
	for _, inst := range v.catalog {
		if !filters.Matches(inst) {
			continue
		}
		if q == "" ||
			strings.HasPrefix(strings.ToUpper(inst.Symbol), q) ||
			strings.Contains(strings.ToUpper(inst.Description), q) {
			out = append(out, inst)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (v *Venue) ResolveInstrument(ctx context.Context, symbol string, filters contracts.InstrumentFilters, conID int64) (*contracts.Instrument, error) {
	res, err := v.resolver.Resolve(ctx, instruments.ResolveRequest{
		Symbol:  symbol,
		Filters: filters,
		ConID:   conID,
	})
	if err != nil {
		return nil, err
	}
	inst := res.Instrument
	return &inst, nil
}

func (v *Venue) GetContractByID(_ context.Context, conID int64) (*contracts.Instrument, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, inst := range v.catalog {
		if inst.ConID == conID {
			c := inst
			return &c, nil
		}
	}
	return nil, nil
}

func (v *Venue) priceLocked(symbol string) float64 {
	if px, ok := v.quotes[strings.ToUpper(symbol)]; ok {
		return px
	}
	return defaultPrice
}

func symbolSeed(symbol string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return h.Sum32()
}

func mockPositions() []contracts.Position {
	return []contracts.Position{
		{
			Instrument: contracts.Instrument{
				Type: contracts.SecTypeETF, Symbol: "SPY", ConID: 756733,
				Exchange: "ARCA", Currency: "USD", Description: "SPDR S&P 500 ETF TRUST",
			},
			Quantity:      100,
			AverageCost:   450.00,
			MarketValue:   46000.00,
			UnrealizedPnL: 1000.00,
		},
		{
			Instrument: contracts.Instrument{
				Type: contracts.SecTypeStock, Symbol: "AAPL", ConID: 265598,
				Exchange: "NASDAQ", Currency: "USD", Description: "APPLE INC",
			},
			Quantity:      50,
			AverageCost:   180.00,
			MarketValue:   9500.00,
			UnrealizedPnL: 500.00,
			RealizedPnL:   250.00,
		},
	}
}

func mockCash() []contracts.Cash {
	return []contracts.Cash{
		{Currency: "USD", Available: 50000.00, Total: 50000.00},
	}
}

func mockQuotes() map[string]float64 {
	return map[string]float64{
		"SPY":   460.00,
		"AAPL":  190.00,
		"MSFT":  380.00,
		"GOOGL": 140.00,
		"TSLA":  250.00,
		"AMZN":  180.00,
		"QQQ":   390.00,
		"IWM":   200.00,
		"DIA":   385.00,
	}
}

func mockCatalog() []contracts.Instrument {
	return []contracts.Instrument{
		{Type: contracts.SecTypeETF, Symbol: "SPY", ConID: 756733, Exchange: "ARCA", Currency: "USD", Description: "SPDR S&P 500 ETF TRUST"},
		{Type: contracts.SecTypeStock, Symbol: "AAPL", ConID: 265598, Exchange: "NASDAQ", Currency: "USD", Description: "APPLE INC"},
		{Type: contracts.SecTypeStock, Symbol: "MSFT", ConID: 272093, Exchange: "NASDAQ", Currency: "USD", Description: "MICROSOFT CORP"},
		{Type: contracts.SecTypeStock, Symbol: "GOOGL", ConID: 208813720, Exchange: "NASDAQ", Currency: "USD", Description: "ALPHABET INC CLASS A"},
		{Type: contracts.SecTypeStock, Symbol: "AMZN", ConID: 3691937, Exchange: "NASDAQ", Currency: "USD", Description: "AMAZON.COM INC"},
		{Type: contracts.SecTypeStock, Symbol: "TSLA", ConID: 76792991, Exchange: "NASDAQ", Currency: "USD", Description: "TESLA INC"},
		{Type: contracts.SecTypeETF, Symbol: "QQQ", ConID: 320227571, Exchange: "NASDAQ", Currency: "USD", Description: "INVESCO QQQ TRUST SERIES 1"},
		{Type: contracts.SecTypeETF, Symbol: "IWM", ConID: 9579970, Exchange: "ARCA", Currency: "USD", Description: "ISHARES RUSSELL 2000 ETF"},
		{Type: contracts.SecTypeETF, Symbol: "DIA", ConID: 37018770, Exchange: "ARCA", Currency: "USD", Description: "SPDR DOW JONES INDUSTRIAL AVERAGE ETF TRUST"},
	}
}
