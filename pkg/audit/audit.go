// Package audit implements the append-only event trail for every order that
// moves through the gateway, with hash chaining for tamper evidence.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/canonicalize"
)

var (
	ErrEventNotFound = errors.New("audit event not found")
	ErrChainBroken   = errors.New("audit hash chain is broken")
)

// chainGenesis is the previous_hash of the first entry in an empty store.
const chainGenesis = "genesis"

// EventType categorizes audit events.
type EventType string

const (
	// Order lifecycle events.
	EventOrderProposed         EventType = "OrderProposed"
	EventOrderSimulated        EventType = "OrderSimulated"
	EventRiskGateEvaluated     EventType = "RiskGateEvaluated"
	EventApprovalRequested     EventType = "ApprovalRequested"
	EventApprovalGranted       EventType = "ApprovalGranted"
	EventApprovalDenied        EventType = "ApprovalDenied"
	EventOrderSubmitted        EventType = "OrderSubmitted"
	EventOrderSubmissionFailed EventType = "OrderSubmissionFailed"
	EventOrderPollingError     EventType = "OrderPollingError"
	EventOrderConfirmed        EventType = "OrderConfirmed"
	EventOrderFilled           EventType = "OrderFilled"
	EventOrderCancelled        EventType = "OrderCancelled"
	EventOrderRejected         EventType = "OrderRejected"

	// Broker connection events.
	EventBrokerConnected    EventType = "BrokerConnected"
	EventBrokerDisconnected EventType = "BrokerDisconnected"
	EventBrokerReconnecting EventType = "BrokerReconnecting"

	// Safety and system events.
	EventKillSwitchActivated EventType = "KillSwitchActivated"
	EventKillSwitchReleased  EventType = "KillSwitchReleased"
	EventErrorOccurred       EventType = "ErrorOccurred"

	// Reconciliation events.
	EventReconciliationCompleted EventType = "ReconciliationCompleted"
	EventDiscrepancyFound        EventType = "DiscrepancyFound"

	// Snapshot events.
	EventPortfolioSnapshotTaken EventType = "PortfolioSnapshotTaken"
	EventMarketSnapshotTaken    EventType = "MarketSnapshotTaken"
)

// Event is a single immutable entry in the audit trail. Events are
// append-only and carry full context for reconstructing a decision.
type Event struct {
	EventID       string            `json:"event_id"`
	Sequence      uint64            `json:"sequence"`
	EventType     EventType         `json:"event_type"`
	CorrelationID string            `json:"correlation_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Data          map[string]any    `json:"data,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	PayloadHash   string            `json:"payload_hash"`
	PreviousHash  string            `json:"previous_hash"`
	EntryHash     string            `json:"entry_hash"`
}

// Recorder is the narrow write interface handed to gateway components.
type Recorder interface {
	Record(ctx context.Context, eventType EventType, correlationID string, data map[string]any, metadata map[string]string) (*Event, error)
}

type correlationKey struct{}

// NoCorrelationID is recorded when a caller never attached one, so the
// store's non-empty constraint still holds.
const NoCorrelationID = "no-correlation-id"

// WithCorrelationID returns a context carrying the correlation id for
// downstream recorders.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id carried by ctx, or NoCorrelationID.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return NoCorrelationID
}

// Store is the full audit trail interface: append, query, and verify.
type Store interface {
	Recorder
	Get(ctx context.Context, eventID string) (*Event, error)
	Query(ctx context.Context, filter Filter) ([]*Event, error)
	Stats(ctx context.Context) (*Stats, error)
	VerifyChain(ctx context.Context) error
	Close() error
}

// Filter defines query criteria. Zero fields match everything.
type Filter struct {
	EventTypes    []EventType
	CorrelationID string
	StartTime     *time.Time
	EndTime       *time.Time
	Limit         int
	Offset        int
}

const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// normalizedLimit clamps the filter limit into [1, maxQueryLimit].
func (f Filter) normalizedLimit() int {
	if f.Limit <= 0 {
		return defaultQueryLimit
	}
	if f.Limit > maxQueryLimit {
		return maxQueryLimit
	}
	return f.Limit
}

// Stats summarizes the stored audit trail.
type Stats struct {
	TotalEvents        int64            `json:"total_events"`
	EventTypeCounts    map[string]int64 `json:"event_type_counts"`
	EarliestEvent      *time.Time       `json:"earliest_event,omitempty"`
	LatestEvent        *time.Time       `json:"latest_event,omitempty"`
	CorrelationIDCount int64            `json:"correlation_id_count"`
}

// payloadHash computes the prefixed digest of a serialized data payload.
// The raw JSON is canonicalized directly so verification never depends on a
// round-trip through Go values.
func payloadHash(dataJSON []byte) (string, error) {
	canonical, err := canonicalize.RawJSON(dataJSON)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	return canonicalize.Digest(canonical), nil
}

// entryHash computes the chained hash over the fields that make an event
// immutable. The timestamp is hashed as its stored RFC3339Nano string so
// verification does not depend on time parsing round-trips.
func entryHash(seq uint64, eventType EventType, correlationID, timestamp, payloadHash, previousHash string) (string, error) {
	hashable := struct {
		Sequence      uint64    `json:"sequence"`
		EventType     EventType `json:"event_type"`
		CorrelationID string    `json:"correlation_id"`
		Timestamp     string    `json:"timestamp"`
		PayloadHash   string    `json:"payload_hash"`
		PreviousHash  string    `json:"previous_hash"`
	}{
		Sequence:      seq,
		EventType:     eventType,
		CorrelationID: correlationID,
		Timestamp:     timestamp,
		PayloadHash:   payloadHash,
		PreviousHash:  previousHash,
	}
	data, err := canonicalize.JCS(hashable)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	return canonicalize.Digest(data), nil
}
