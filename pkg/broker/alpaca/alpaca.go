// Package alpaca adapts the Alpaca trading API to the venue interface.
// Trading goes through the REST client, quotes and bars through the
// market data client. Alpaca has no numeric contract ids, so conId
// lookups resolve nothing here.
package alpaca

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
	"github.com/Mindburn-Labs/tradegate/pkg/instruments"
)

// assetCacheTTL bounds how long the tradable-asset list is reused for
// instrument search before refetching.
const assetCacheTTL = time.Hour

// Config carries the API credentials and endpoints. Empty fields fall
// back to the SDK's APCA_* environment variables.
type Config struct {
	APIKey    string `yaml:"api_key" json:"api_key"`
	APISecret string `yaml:"api_secret" json:"api_secret"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	Paper     bool   `yaml:"paper" json:"paper"`
}

// Venue is the Alpaca-backed broker adapter.
type Venue struct {
	trade *alpaca.Client
	md    *marketdata.Client
	cfg   Config
	clock func() time.Time

	mu            sync.Mutex
	connected     bool
	accountNumber string
	assets        []alpaca.Asset
	assetsLoaded  time.Time

	resolver *instruments.Resolver
}

// New builds the adapter. No network traffic happens until Connect.
func New(cfg Config) *Venue {
	v := &Venue{
		trade: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			BaseURL:   cfg.BaseURL,
		}),
		md: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
		}),
		cfg:   cfg,
		clock: time.Now,
	}
	v.resolver = instruments.NewResolver(v)
	return v
}

// WithClock replaces the time source.
func (v *Venue) WithClock(clock func() time.Time) *Venue {
	v.clock = clock
	return v
}

// Connect probes the account endpoint and caches the account number.
func (v *Venue) Connect(_ context.Context) error {
	acct, err := v.trade.GetAccount()
	if err != nil {
		return fmt.Errorf("alpaca connect: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accountNumber = acct.AccountNumber
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
	acct, err := v.trade.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	accountType := "LIVE"
	if v.cfg.Paper {
		accountType = "PAPER"
	}
	return []contracts.Account{{
		AccountID:   acct.AccountNumber,
		AccountType: accountType,
		Status:      strings.ToUpper(string(acct.Status)),
		Currency:    acct.Currency,
		Timestamp:   v.clock().UTC(),
	}}, nil
}

func (v *Venue) GetPortfolio(_ context.Context, accountID string) (*contracts.Portfolio, error) {
	acct, err := v.trade.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	if accountID != "" && accountID != acct.AccountNumber {
		return nil, fmt.Errorf("invalid account_id: %s", accountID)
	}
	alpacaPositions, err := v.trade.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}

	now := v.clock().UTC()
	positions := make([]contracts.Position, 0, len(alpacaPositions))
	for _, p := range alpacaPositions {
		positions = append(positions, contracts.Position{
			Instrument: contracts.Instrument{
				Type:     contracts.SecTypeStock,
				Symbol:   p.Symbol,
				Exchange: p.Exchange,
				Currency: "USD",
			},
			Quantity:      p.Qty.InexactFloat64(),
			AverageCost:   p.AvgEntryPrice.InexactFloat64(),
			MarketValue:   derefDecimal(p.MarketValue),
			UnrealizedPnL: derefDecimal(p.UnrealizedPL),
			Timestamp:     now,
		})
	}
	return &contracts.Portfolio{
		AccountID: acct.AccountNumber,
		Positions: positions,
		Cash: []contracts.Cash{{
			Currency:  acct.Currency,
			Available: acct.Cash.InexactFloat64(),
			Total:     acct.Cash.InexactFloat64(),
			Timestamp: now,
		}},
		TotalValue: acct.PortfolioValue.InexactFloat64(),
		Timestamp:  now,
	}, nil
}

func (v *Venue) GetOpenOrders(_ context.Context, accountID string) ([]contracts.OpenOrder, error) {
	orders, err := v.trade.GetOrders(alpaca.GetOrdersRequest{Status: "open", Limit: 500})
	if err != nil {
		return nil, fmt.Errorf("get orders: %w", err)
	}
	out := make([]contracts.OpenOrder, 0, len(orders))
	for i := range orders {
		out = append(out, mapOrder(&orders[i], accountID))
	}
	return out, nil
}

func (v *Venue) GetMarketSnapshot(_ context.Context, symbol string) (*contracts.MarketSnapshot, error) {
	if strings.TrimSpace(symbol) == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	symbol = strings.ToUpper(symbol)
	snap, err := v.md.GetSnapshot(symbol, marketdata.GetSnapshotRequest{})
	if err != nil {
		return nil, fmt.Errorf("get snapshot for %s: %w", symbol, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("no market data for %s", symbol)
	}

	out := contracts.MarketSnapshot{Instrument: symbol, Timestamp: v.clock().UTC()}
	if q := snap.LatestQuote; q != nil {
		bid, ask := q.BidPrice, q.AskPrice
		bidSize, askSize := int64(q.BidSize), int64(q.AskSize)
		out.Bid, out.Ask = &bid, &ask
		out.BidSize, out.AskSize = &bidSize, &askSize
	}
	if t := snap.LatestTrade; t != nil {
		last := t.Price
		out.Last = &last
	}
	if d := snap.DailyBar; d != nil {
		high, low, open := d.High, d.Low, d.Open
		volume := int64(d.Volume)
		out.High, out.Low, out.OpenPrice = &high, &low, &open
		out.Volume = &volume
	}
	if p := snap.PrevDailyBar; p != nil {
		prevClose := p.Close
		out.PrevClose = &prevClose
	}
	out = out.WithMid()
	return &out, nil
}

func (v *Venue) GetMarketBars(_ context.Context, q contracts.BarQuery) ([]contracts.Bar, error) {
	if strings.TrimSpace(q.Instrument) == "" {
		return nil, fmt.Errorf("instrument is required")
	}
	tf, err := alpacaTimeframe(q.Timeframe)
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(q.Instrument)

	req := marketdata.GetBarsRequest{TimeFrame: tf}
	if q.Start != nil {
		req.Start = q.Start.UTC()
	}
	if q.End != nil {
		req.End = q.End.UTC()
	}
	if q.Limit > 0 {
		req.TotalLimit = q.Limit
	}
	raw, err := v.md.GetBars(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("get bars for %s: %w", symbol, err)
	}

	bars := make([]contracts.Bar, 0, len(raw))
	for _, b := range raw {
		if q.RTHOnly && !regularHours(b.Timestamp, q.Timeframe) {
			continue
		}
		vwap := b.VWAP
		tradeCount := int64(b.TradeCount)
		bars = append(bars, contracts.Bar{
			Instrument: symbol,
			Timestamp:  b.Timestamp.UTC(),
			Timeframe:  q.Timeframe,
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     int64(b.Volume),
			VWAP:       &vwap,
			TradeCount: &tradeCount,
		})
	}
	if q.Limit > 0 && len(bars) > q.Limit {
		bars = bars[len(bars)-q.Limit:]
	}
	return bars, nil
}

// SubmitOrder places the order with the approval token id as the client
// order id, so the venue's own record links back to the audit trail and
// a duplicated request is rejected venue-side.
func (v *Venue) SubmitOrder(_ context.Context, intent contracts.OrderIntent, tokenID string) (*contracts.SubmitResult, error) {
	req, err := placeOrderRequest(intent, tokenID)
	if err != nil {
		return nil, err
	}
	order, err := v.trade.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	return &contracts.SubmitResult{
		BrokerOrderID: order.ID,
		Status:        mapStatus(order.Status),
		SubmittedAt:   order.SubmittedAt.UTC(),
	}, nil
}

func (v *Venue) GetOrderStatus(_ context.Context, brokerOrderID string) (*contracts.OrderStatusInfo, error) {
	order, err := v.trade.GetOrder(brokerOrderID)
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", brokerOrderID, err)
	}
	return &contracts.OrderStatusInfo{
		BrokerOrderID:    order.ID,
		Status:           mapStatus(order.Status),
		RawStatus:        order.Status,
		FilledQuantity:   order.FilledQty.InexactFloat64(),
		AverageFillPrice: decimalPtr(order.FilledAvgPrice),
		Timestamp:        order.UpdatedAt.UTC(),
	}, nil
}

func (v *Venue) CancelOrder(_ context.Context, brokerOrderID string) error {
	if err := v.trade.CancelOrder(brokerOrderID); err != nil {
		return fmt.Errorf("cancel order %s: %w", brokerOrderID, err)
	}
	return nil
}

func (v *Venue) SearchInstruments(_ context.Context, query string, filters contracts.InstrumentFilters, limit int) ([]contracts.Instrument, error) {
	assets, err := v.tradableAssets()
	if err != nil {
		return nil, err
	}
	q := strings.ToUpper(strings.TrimSpace(query))
	var out []contracts.Instrument
	for _, a := range assets {
		inst := contracts.Instrument{
			Type:        contracts.SecTypeStock,
			Symbol:      a.Symbol,
			Exchange:    a.Exchange,
			Currency:    "USD",
			Description: a.Name,
		}
		if !filters.Matches(inst) {
			continue
		}
		if q == "" ||
			strings.HasPrefix(strings.ToUpper(a.Symbol), q) ||
			strings.Contains(strings.ToUpper(a.Name), q) {
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

// GetContractByID always misses: Alpaca identifies assets by UUID, not
// numeric contract id.
func (v *Venue) GetContractByID(context.Context, int64) (*contracts.Instrument, error) {
	return nil, nil
}

func (v *Venue) tradableAssets() ([]alpaca.Asset, error) {
	v.mu.Lock()
	if v.assets != nil && v.clock().Sub(v.assetsLoaded) < assetCacheTTL {
		cached := v.assets
		v.mu.Unlock()
		return cached, nil
	}
	v.mu.Unlock()

	assets, err := v.trade.GetAssets(alpaca.GetAssetsRequest{
		Status:     "active",
		AssetClass: "us_equity",
	})
	if err != nil {
		return nil, fmt.Errorf("get assets: %w", err)
	}
	tradable := assets[:0]
	for _, a := range assets {
		if a.Tradable {
			tradable = append(tradable, a)
		}
	}

	v.mu.Lock()
	v.assets = tradable
	v.assetsLoaded = v.clock()
	v.mu.Unlock()
	return tradable, nil
}

func placeOrderRequest(intent contracts.OrderIntent, tokenID string) (alpaca.PlaceOrderRequest, error) {
	qty := decimal.NewFromFloat(intent.Quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:        intent.Instrument.Symbol,
		Qty:           &qty,
		ClientOrderID: tokenID,
	}

	switch intent.Side {
	case contracts.SideBuy:
		req.Side = alpaca.Buy
	case contracts.SideSell:
		req.Side = alpaca.Sell
	default:
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("unsupported side: %s", intent.Side)
	}

	switch intent.OrderType {
	case contracts.OrderTypeMarket:
		req.Type = alpaca.Market
	case contracts.OrderTypeLimit:
		if intent.LimitPrice == nil {
			return alpaca.PlaceOrderRequest{}, fmt.Errorf("limit price required for limit orders")
		}
		req.Type = alpaca.Limit
		lp := decimal.NewFromFloat(*intent.LimitPrice)
		req.LimitPrice = &lp
	case contracts.OrderTypeStop:
		if intent.StopPrice == nil {
			return alpaca.PlaceOrderRequest{}, fmt.Errorf("stop price required for stop orders")
		}
		req.Type = alpaca.Stop
		sp := decimal.NewFromFloat(*intent.StopPrice)
		req.StopPrice = &sp
	case contracts.OrderTypeStopLimit:
		if intent.LimitPrice == nil || intent.StopPrice == nil {
			return alpaca.PlaceOrderRequest{}, fmt.Errorf("limit and stop prices required for stop-limit orders")
		}
		req.Type = alpaca.StopLimit
		lp := decimal.NewFromFloat(*intent.LimitPrice)
		sp := decimal.NewFromFloat(*intent.StopPrice)
		req.LimitPrice = &lp
		req.StopPrice = &sp
	default:
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("unsupported order type: %s", intent.OrderType)
	}

	switch intent.TimeInForce {
	case contracts.TIFDay, "":
		req.TimeInForce = alpaca.Day
	case contracts.TIFGTC:
		req.TimeInForce = alpaca.GTC
	case contracts.TIFIOC:
		req.TimeInForce = alpaca.IOC
	case contracts.TIFFOK:
		req.TimeInForce = alpaca.FOK
	default:
		return alpaca.PlaceOrderRequest{}, fmt.Errorf("unsupported time in force: %s", intent.TimeInForce)
	}
	return req, nil
}

// mapStatus funnels Alpaca status wording into the shared vocabulary
// before the generic mapping runs. Alpaca spells cancellation with a
// single l and has several working states that all mean "submitted".
func mapStatus(raw string) contracts.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "new", "accepted", "pending_new", "partially_filled":
		return contracts.OrderStatusSubmitted
	case "canceled", "pending_cancel", "expired", "replaced", "done_for_day":
		return contracts.OrderStatusCancelled
	}
	return contracts.MapBrokerStatus(raw)
}

func mapOrder(o *alpaca.Order, accountID string) contracts.OpenOrder {
	open := contracts.OpenOrder{
		OrderID:          o.ClientOrderID,
		BrokerOrderID:    o.ID,
		AccountID:        accountID,
		Instrument:       contracts.Instrument{Type: contracts.SecTypeStock, Symbol: o.Symbol, Currency: "USD"},
		Side:             contracts.OrderSide(strings.ToUpper(string(o.Side))),
		OrderType:        mapOrderType(string(o.Type)),
		LimitPrice:       decimalPtr(o.LimitPrice),
		StopPrice:        decimalPtr(o.StopPrice),
		TimeInForce:      contracts.TimeInForce(strings.ToUpper(string(o.TimeInForce))),
		Status:           mapStatus(o.Status),
		FilledQuantity:   o.FilledQty.InexactFloat64(),
		AverageFillPrice: decimalPtr(o.FilledAvgPrice),
		CreatedAt:        o.CreatedAt.UTC(),
		UpdatedAt:        o.UpdatedAt.UTC(),
	}
	if o.ClientOrderID == "" {
		open.OrderID = o.ID
	}
	if o.Qty != nil {
		open.Quantity = o.Qty.InexactFloat64()
	}
	return open
}

func mapOrderType(raw string) contracts.OrderType {
	switch strings.ToLower(raw) {
	case "market":
		return contracts.OrderTypeMarket
	case "limit":
		return contracts.OrderTypeLimit
	case "stop":
		return contracts.OrderTypeStop
	case "stop_limit":
		return contracts.OrderTypeStopLimit
	case "trailing_stop":
		return contracts.OrderTypeTrail
	}
	return contracts.OrderType(strings.ToUpper(raw))
}

func alpacaTimeframe(t contracts.Timeframe) (marketdata.TimeFrame, error) {
	switch t {
	case contracts.Timeframe1Min:
		return marketdata.OneMin, nil
	case contracts.Timeframe5Min:
		return marketdata.NewTimeFrame(5, marketdata.Min), nil
	case contracts.Timeframe15Min:
		return marketdata.NewTimeFrame(15, marketdata.Min), nil
	case contracts.Timeframe30Min:
		return marketdata.NewTimeFrame(30, marketdata.Min), nil
	case contracts.Timeframe1Hour:
		return marketdata.OneHour, nil
	case contracts.Timeframe4Hour:
		return marketdata.NewTimeFrame(4, marketdata.Hour), nil
	case contracts.Timeframe1Day:
		return marketdata.OneDay, nil
	case contracts.Timeframe1Week:
		return marketdata.NewTimeFrame(1, marketdata.Week), nil
	case contracts.Timeframe1Month:
		return marketdata.NewTimeFrame(1, marketdata.Month), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe: %q", t)
}

// regularHours reports whether an intraday bar starts inside the NYSE
// session. Daily and coarser bars always pass.
func regularHours(ts time.Time, tf contracts.Timeframe) bool {
	if tf.Duration() >= 24*time.Hour {
		return true
	}
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return true
	}
	local := ts.In(loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

func derefDecimal(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

func decimalPtr(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}
