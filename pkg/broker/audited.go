package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

// auditedVenue records connection changes and broker state reads in the
// audit trail. Order submission is deliberately not wrapped here: the
// submitter owns those events so the two-phase commit stays a single
// audited sequence.
type auditedVenue struct {
	Broker
	recorder audit.Recorder
	logger   *slog.Logger
}

// Audited wraps a venue with audit logging for traceability.
func Audited(b Broker, recorder audit.Recorder) Broker {
	return &auditedVenue{
		Broker:   b,
		recorder: recorder,
		logger:   slog.Default().With("component", "broker"),
	}
}

func (v *auditedVenue) Connect(ctx context.Context) error {
	if err := v.Broker.Connect(ctx); err != nil {
		return err
	}
	v.emit(ctx, audit.EventBrokerConnected, map[string]any{
		"message": "Broker connection established",
	})
	return nil
}

func (v *auditedVenue) Disconnect(ctx context.Context) error {
	if err := v.Broker.Disconnect(ctx); err != nil {
		return err
	}
	v.emit(ctx, audit.EventBrokerDisconnected, map[string]any{
		"message": "Broker connection closed",
	})
	return nil
}

func (v *auditedVenue) GetAccounts(ctx context.Context) ([]contracts.Account, error) {
	accounts, err := v.Broker.GetAccounts(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.AccountID)
	}
	v.emit(ctx, audit.EventPortfolioSnapshotTaken, map[string]any{
		"operation":     "get_accounts",
		"account_count": len(accounts),
		"account_ids":   ids,
	})
	return accounts, nil
}

func (v *auditedVenue) GetPortfolio(ctx context.Context, accountID string) (*contracts.Portfolio, error) {
	p, err := v.Broker.GetPortfolio(ctx, accountID)
	if err != nil {
		return nil, err
	}
	v.emit(ctx, audit.EventPortfolioSnapshotTaken, map[string]any{
		"operation":      "get_portfolio",
		"account_id":     accountID,
		"position_count": len(p.Positions),
		"total_value":    p.TotalValue,
		"timestamp":      p.Timestamp.Format(time.RFC3339),
	})
	return p, nil
}

func (v *auditedVenue) GetOpenOrders(ctx context.Context, accountID string) ([]contracts.OpenOrder, error) {
	orders, err := v.Broker.GetOpenOrders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.OrderID)
	}
	v.emit(ctx, audit.EventPortfolioSnapshotTaken, map[string]any{
		"operation":   "get_open_orders",
		"account_id":  accountID,
		"order_count": len(orders),
		"order_ids":   ids,
	})
	return orders, nil
}

func (v *auditedVenue) GetMarketSnapshot(ctx context.Context, symbol string) (*contracts.MarketSnapshot, error) {
	snap, err := v.Broker.GetMarketSnapshot(ctx, symbol)
	if err != nil {
		return nil, err
	}
	data := map[string]any{
		"operation": "get_market_snapshot",
		"symbol":    symbol,
		"timestamp": snap.Timestamp.Format(time.RFC3339),
	}
	if snap.Bid != nil {
		data["bid"] = *snap.Bid
	}
	if snap.Ask != nil {
		data["ask"] = *snap.Ask
	}
	if snap.Last != nil {
		data["last"] = *snap.Last
	}
	v.emit(ctx, audit.EventMarketSnapshotTaken, data)
	return snap, nil
}

func (v *auditedVenue) emit(ctx context.Context, et audit.EventType, data map[string]any) {
	if v.recorder == nil {
		return
	}
	if _, err := v.recorder.Record(ctx, et, audit.CorrelationID(ctx), data, nil); err != nil {
		v.logger.Warn("audit record failed", "event_type", string(et), "error", err)
	}
}
