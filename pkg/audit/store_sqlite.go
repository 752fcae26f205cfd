package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default single-node audit backend (Lite Mode).
// Appends are serialized so the hash chain stays linear.
type SQLiteStore struct {
	db *sql.DB

	mu        sync.Mutex
	sequence  uint64
	chainHead string

	clock func() time.Time
}

// NewSQLiteStore creates the schema if needed and loads the chain head.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{
		db:        db,
		chainHead: chainGenesis,
		clock:     time.Now,
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	if err := s.loadChainState(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides clock for testing.
func (s *SQLiteStore) WithClock(clock func() time.Time) *SQLiteStore {
	s.clock = clock
	return s
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		seq INTEGER NOT NULL UNIQUE,
		event_type TEXT NOT NULL,
		correlation_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		data TEXT NOT NULL,
		metadata TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		entry_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_correlation_id ON audit_events(correlation_id);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_created_at ON audit_events(created_at DESC);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) loadChainState() error {
	row := s.db.QueryRowContext(context.Background(),
		`SELECT seq, entry_hash FROM audit_events ORDER BY seq DESC LIMIT 1`)
	var (
		seq  uint64
		head string
	)
	if err := row.Scan(&seq, &head); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to load audit chain state: %w", err)
	}
	s.sequence = seq
	s.chainHead = head
	return nil
}

func (s *SQLiteStore) Record(ctx context.Context, eventType EventType, correlationID string, data map[string]any, metadata map[string]string) (*Event, error) {
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
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event metadata: %w", err)
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

	query := `INSERT INTO audit_events (
		id, seq, event_type, correlation_id, timestamp, data, metadata, payload_hash, prev_hash, entry_hash, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		event.EventID, event.Sequence, string(event.EventType), event.CorrelationID,
		ts, string(dataJSON), string(metaJSON), event.PayloadHash, event.PreviousHash, event.EntryHash,
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit event: %w", err)
	}

	s.sequence = seq
	s.chainHead = eHash
	return event, nil
}

func (s *SQLiteStore) Get(ctx context.Context, eventID string) (*Event, error) {
	query := `
		SELECT id, seq, event_type, correlation_id, timestamp, data, metadata, payload_hash, prev_hash, entry_hash
		FROM audit_events
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, query, eventID)
	event, err := scanEventRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	return event, nil
}

func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]*Event, error) {
	var (
		conditions []string
		args       []any
	)
	if len(filter.EventTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.EventTypes)), ",")
		conditions = append(conditions, fmt.Sprintf("event_type IN (%s)", placeholders))
		for _, et := range filter.EventTypes {
			args = append(args, string(et))
		}
	}
	if filter.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if filter.StartTime != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.StartTime.UTC().Format(time.RFC3339Nano))
	}
	if filter.EndTime != nil {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, filter.EndTime.UTC().Format(time.RFC3339Nano))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`
		SELECT id, seq, event_type, correlation_id, timestamp, data, metadata, payload_hash, prev_hash, entry_hash
		FROM audit_events
		%s
		ORDER BY seq DESC
		LIMIT ? OFFSET ?
	`, whereClause)
	args = append(args, filter.normalizedLimit(), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []*Event
	for rows.Next() {
		event, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{EventTypeCounts: make(map[string]int64)}

	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`)
	if err := row.Scan(&stats.TotalEvents); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*) FROM audit_events GROUP BY event_type
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			eventType string
			count     int64
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats.EventTypeCounts[eventType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	row = s.db.QueryRowContext(ctx, `
		SELECT MIN(timestamp), MAX(timestamp) FROM audit_events
	`)
	var earliest, latest sql.NullString
	if err := row.Scan(&earliest, &latest); err != nil {
		return nil, err
	}
	if earliest.Valid && earliest.String != "" {
		t := parseTime(earliest.String)
		stats.EarliestEvent = &t
	}
	if latest.Valid && latest.String != "" {
		t := parseTime(latest.String)
		stats.LatestEvent = &t
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT correlation_id) FROM audit_events`)
	if err := row.Scan(&stats.CorrelationIDCount); err != nil {
		return nil, err
	}
	return stats, nil
}

// VerifyChain walks the full trail in sequence order and recomputes every
// hash. Payload hashes are recomputed from the stored JSON text.
func (s *SQLiteStore) VerifyChain(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_type, correlation_id, timestamp, data, payload_hash, prev_hash, entry_hash
		FROM audit_events
		ORDER BY seq ASC
	`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	expectedPrev := chainGenesis
	var expectedSeq uint64
	for rows.Next() {
		var (
			seq                      uint64
			eventType, correlationID string
			timestamp, dataJSON      string
			pHash, prevHash, eHash   string
		)
		if err := rows.Scan(&seq, &eventType, &correlationID, &timestamp, &dataJSON, &pHash, &prevHash, &eHash); err != nil {
			return err
		}
		expectedSeq++
		if seq != expectedSeq {
			return fmt.Errorf("%w: sequence gap, found %d but expected %d", ErrChainBroken, seq, expectedSeq)
		}
		if prevHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s", ErrChainBroken, seq, prevHash, expectedPrev)
		}
		computedPayload, err := payloadHash([]byte(dataJSON))
		if err != nil {
			return fmt.Errorf("%w: entry %d payload hash computation failed: %w", ErrChainBroken, seq, err)
		}
		if computedPayload != pHash {
			return fmt.Errorf("%w: entry %d payload hash mismatch (computed %s, stored %s)", ErrChainBroken, seq, computedPayload, pHash)
		}
		computed, err := entryHash(seq, EventType(eventType), correlationID, timestamp, pHash, prevHash)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, seq, err)
		}
		if computed != eHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)", ErrChainBroken, seq, computed, eHash)
		}
		expectedPrev = eHash
	}
	return rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEventRow(row rowScanner) (*Event, error) {
	var (
		id            string
		seq           uint64
		eventType     string
		correlationID string
		timestamp     string
		dataJSON      sql.NullString
		metaJSON      sql.NullString
		pHash         string
		prevHash      string
		eHash         string
	)
	if err := row.Scan(&id, &seq, &eventType, &correlationID, &timestamp, &dataJSON, &metaJSON, &pHash, &prevHash, &eHash); err != nil {
		return nil, err
	}

	var data map[string]any
	if dataJSON.Valid && dataJSON.String != "" {
		_ = json.Unmarshal([]byte(dataJSON.String), &data)
	}
	var metadata map[string]string
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &metadata)
	}

	return &Event{
		EventID:       id,
		Sequence:      seq,
		EventType:     EventType(eventType),
		CorrelationID: correlationID,
		Timestamp:     parseTime(timestamp),
		Data:          data,
		Metadata:      metadata,
		PayloadHash:   pHash,
		PreviousHash:  prevHash,
		EntryHash:     eHash,
	}, nil
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
