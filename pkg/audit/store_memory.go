package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process audit trail with the same chaining semantics
// as the durable backends. Used in tests and as a last-resort fallback when
// no database is available.
type MemoryStore struct {
	mu        sync.RWMutex
	events    []*Event
	eventByID map[string]*Event
	sequence  uint64
	chainHead string

	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		eventByID: make(map[string]*Event),
		chainHead: chainGenesis,
		clock:     time.Now,
	}
}

// WithClock overrides clock for testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Record(_ context.Context, eventType EventType, correlationID string, data map[string]any, metadata map[string]string) (*Event, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, fmt.Errorf("correlation_id cannot be empty")
	}
	if data == nil {
		data = map[string]any{}
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event data: %w", err)
	}
	pHash, err := payloadHash(dataJSON)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.sequence + 1
	now := s.clock().UTC()
	ts := now.Format(time.RFC3339Nano)
	eHash, err := entryHash(seq, eventType, correlationID, ts, pHash, s.chainHead)
	if err != nil {
		return nil, err
	}

	event := &Event{
		EventID:       uuid.New().String(),
		Sequence:      seq,
		EventType:     eventType,
		CorrelationID: correlationID,
		Timestamp:     now,
		Data:          data,
		Metadata:      metadata,
		PayloadHash:   pHash,
		PreviousHash:  s.chainHead,
		EntryHash:     eHash,
	}

	s.sequence = seq
	s.chainHead = eHash
	s.events = append(s.events, event)
	s.eventByID[event.EventID] = event
	return event, nil
}

func (s *MemoryStore) Get(_ context.Context, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.eventByID[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return event, nil
}

func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.normalizedLimit()
	skipped := 0
	results := make([]*Event, 0)
	// Newest first, matching the durable backends.
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if !filter.matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		results = append(results, e)
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func (f Filter) matches(e *Event) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, et := range f.EventTypes {
			if e.EventType == et {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	return true
}

func (s *MemoryStore) Stats(_ context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		TotalEvents:     int64(len(s.events)),
		EventTypeCounts: make(map[string]int64),
	}
	correlations := make(map[string]struct{})
	for _, e := range s.events {
		stats.EventTypeCounts[string(e.EventType)]++
		correlations[e.CorrelationID] = struct{}{}
	}
	stats.CorrelationIDCount = int64(len(correlations))
	if len(s.events) > 0 {
		earliest := s.events[0].Timestamp
		latest := s.events[len(s.events)-1].Timestamp
		stats.EarliestEvent = &earliest
		stats.LatestEvent = &latest
	}
	return stats, nil
}

func (s *MemoryStore) VerifyChain(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expectedPrev := chainGenesis
	for i, e := range s.events {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s", ErrChainBroken, i+1, e.PreviousHash, expectedPrev)
		}
		dataJSON, err := json.Marshal(e.Data)
		if err != nil {
			return fmt.Errorf("%w: entry %d payload marshal failed: %w", ErrChainBroken, i+1, err)
		}
		computedPayload, err := payloadHash(dataJSON)
		if err != nil {
			return fmt.Errorf("%w: entry %d payload hash computation failed: %w", ErrChainBroken, i+1, err)
		}
		if computedPayload != e.PayloadHash {
			return fmt.Errorf("%w: entry %d payload hash mismatch (computed %s, stored %s)", ErrChainBroken, i+1, computedPayload, e.PayloadHash)
		}
		ts := e.Timestamp.UTC().Format(time.RFC3339Nano)
		computed, err := entryHash(e.Sequence, e.EventType, e.CorrelationID, ts, e.PayloadHash, e.PreviousHash)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i+1, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)", ErrChainBroken, i+1, computed, e.EntryHash)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}

// ChainHead returns the hash of the most recent entry.
func (s *MemoryStore) ChainHead() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainHead
}

// Events returns a snapshot of the full trail in append order.
func (s *MemoryStore) Events() []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) Close() error {
	return nil
}
