package audit

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStoreInitLoadsChainHead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT seq, entry_hash FROM audit_events ORDER BY seq DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "entry_hash"}).AddRow(5, "sha256:abc"))

	store := NewPostgresStore(db)
	require.NoError(t, store.Init(context.Background()))

	now := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	store.WithClock(func() time.Time { return now })

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(
			sqlmock.AnyArg(), // id
			uint64(6),
			"OrderProposed",
			"corr-1",
			now.Format(time.RFC3339Nano),
			`{"symbol":"AAPL"}`,
			`{}`,
			sqlmock.AnyArg(), // payload_hash
			"sha256:abc",
			sqlmock.AnyArg(), // entry_hash
			now.Format(time.RFC3339Nano),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	event, err := store.Record(context.Background(), EventOrderProposed, "corr-1", map[string]any{"symbol": "AAPL"}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), event.Sequence)
	assert.Equal(t, "sha256:abc", event.PreviousHash)
	assert.True(t, strings.HasPrefix(event.EntryHash, "sha256:"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreInitEmptyDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT seq, entry_hash FROM audit_events ORDER BY seq DESC LIMIT 1")).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "entry_hash"}))

	store := NewPostgresStore(db)
	require.NoError(t, store.Init(context.Background()))

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	event, err := store.Record(context.Background(), EventKillSwitchActivated, "corr-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), event.Sequence)
	assert.Equal(t, "genesis", event.PreviousHash)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueryAppliesFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	ts := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC).Format(time.RFC3339Nano)
	rows := sqlmock.NewRows([]string{
		"id", "seq", "event_type", "correlation_id", "timestamp",
		"data", "metadata", "payload_hash", "prev_hash", "entry_hash",
	}).AddRow(
		"evt-1", 2, "ApprovalGranted", "corr-1", ts,
		`{"token_id":"tok-1"}`, `{}`, "sha256:p", "sha256:x", "sha256:y",
	)

	mock.ExpectQuery("SELECT id, seq, event_type, correlation_id, timestamp, data, metadata, payload_hash, prev_hash, entry_hash").
		WithArgs("ApprovalGranted", "ApprovalDenied", "corr-1", 50, 0).
		WillReturnRows(rows)

	events, err := store.Query(context.Background(), Filter{
		EventTypes:    []EventType{EventApprovalGranted, EventApprovalDenied},
		CorrelationID: "corr-1",
		Limit:         50,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventApprovalGranted, events[0].EventType)
	assert.Equal(t, uint64(2), events[0].Sequence)
	assert.Equal(t, "tok-1", events[0].Data["token_id"])

	assert.NoError(t, mock.ExpectationsWereMet())
}
