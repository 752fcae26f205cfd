package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/tradegate/pkg/approval"
	"github.com/Mindburn-Labs/tradegate/pkg/broker"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
	"github.com/Mindburn-Labs/tradegate/pkg/reconcile"
)

// gatewayLedger is the gateway's own view of the account, the "internal"
// side of every reconciliation run. Positions and cash are primed from
// the broker portfolio once at startup; after that only fills the gateway
// itself produced move them, so any other change shows up as a
// discrepancy. Open orders come straight from the proposal store.
type gatewayLedger struct {
	mu sync.Mutex

	store     *approval.Store
	venue     broker.Broker
	accountID string

	primed    bool
	positions map[string]float64
	cash      float64
	nav       float64
	applied   map[string]bool
}

func newGatewayLedger(store *approval.Store, venue broker.Broker, accountID string) *gatewayLedger {
	return &gatewayLedger{
		store:     store,
		venue:     venue,
		accountID: accountID,
		positions: make(map[string]float64),
		applied:   make(map[string]bool),
	}
}

// Prime seeds positions and cash from the current broker portfolio.
// Proposals already terminal at prime time are marked applied so they are
// not double counted later.
func (l *gatewayLedger) Prime(ctx context.Context) error {
	portfolio, err := l.venue.GetPortfolio(ctx, l.accountID)
	if err != nil {
		return fmt.Errorf("prime ledger: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions = make(map[string]float64, len(portfolio.Positions))
	for _, pos := range portfolio.Positions {
		l.positions[pos.Instrument.Symbol] = pos.Quantity
	}
	l.cash = usdCash(portfolio.Cash)
	l.nav = portfolio.TotalValue
	if l.nav == 0 {
		for _, pos := range portfolio.Positions {
			l.nav += pos.MarketValue
		}
		l.nav += l.cash
	}
	for _, p := range l.store.ListByState(contracts.StateFilled) {
		l.applied[p.ProposalID] = true
	}
	l.primed = true
	return nil
}

// NAV reports the account's net asset value as of the last prime, for
// the max_position_pct policy check. A fill only shifts value between
// cash and positions, so the primed figure stays serviceable between
// reconciliation runs.
func (l *gatewayLedger) NAV() (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nav, l.primed
}

// Snapshot assembles the internal state for one reconciliation run. Fills
// that landed since the last snapshot are folded into positions and cash
// exactly once.
func (l *gatewayLedger) Snapshot(_ context.Context) (reconcile.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.primed {
		return reconcile.Snapshot{}, fmt.Errorf("ledger not primed")
	}

	for _, p := range l.store.ListByState(contracts.StateFilled) {
		if l.applied[p.ProposalID] {
			continue
		}
		l.applied[p.ProposalID] = true
		l.applyFillLocked(p)
	}

	var orders []reconcile.InternalOrder
	for _, p := range l.store.ListByState(contracts.StateSubmitted) {
		intent, err := contracts.ParseIntent([]byte(p.IntentJSON))
		if err != nil || p.BrokerOrderID == "" {
			continue
		}
		orders = append(orders, reconcile.InternalOrder{
			OrderID:  p.BrokerOrderID,
			Symbol:   intent.Instrument.Symbol,
			Side:     string(intent.Side),
			Quantity: intent.Quantity,
		})
	}

	positions := make(map[string]float64, len(l.positions))
	for symbol, qty := range l.positions {
		if qty != 0 {
			positions[symbol] = qty
		}
	}
	return reconcile.Snapshot{Orders: orders, Positions: positions, Cash: l.cash}, nil
}

// applyFillLocked moves a filled proposal's quantity and estimated
// notional onto the books. Caller holds the lock.
func (l *gatewayLedger) applyFillLocked(p contracts.OrderProposal) {
	intent, err := contracts.ParseIntent([]byte(p.IntentJSON))
	if err != nil {
		return
	}
	qty := intent.Quantity
	if intent.Side == contracts.SideSell {
		qty = -qty
	}
	l.positions[intent.Instrument.Symbol] += qty
	l.cash -= qty * fillPrice(p, intent)
}

// fillPrice estimates the per-share price of a fill: the simulation
// oracle's notional when present, the limit price otherwise. The cash
// tolerance of the reconciler absorbs the estimation error.
func fillPrice(p contracts.OrderProposal, intent contracts.OrderIntent) float64 {
	if notional, err := approval.GrossNotional(p.SimulationJSON); err == nil && notional > 0 && intent.Quantity > 0 {
		return notional / intent.Quantity
	}
	if intent.LimitPrice != nil {
		return *intent.LimitPrice
	}
	return 0
}

// usdCash reduces a multi-currency balance to the USD line, matching the
// reconciler's reading of broker cash.
func usdCash(balances []contracts.Cash) float64 {
	var sum float64
	for _, c := range balances {
		if c.Currency == "USD" {
			return c.Total
		}
		sum += c.Total
	}
	return sum
}
