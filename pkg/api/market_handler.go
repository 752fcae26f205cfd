package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

// maxBarsLimit caps one bars request. Larger windows must page.
const maxBarsLimit = 5000

// handleMarketSnapshot serves GET /api/v1/market/snapshot. An optional
// fields parameter trims the response to the named quote fields;
// instrument and timestamp are always kept.
func (s *Server) handleMarketSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.market == nil {
		WriteServiceUnavailable(w, "market data is not configured")
		return
	}

	instrument := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("instrument")))
	if instrument == "" {
		WriteBadRequest(w, "instrument is required")
		return
	}

	snap, err := s.market.GetMarketSnapshot(r.Context(), instrument)
	if err != nil {
		WriteBadGateway(w, "snapshot_failed", err.Error())
		return
	}

	if fields := r.URL.Query().Get("fields"); fields != "" {
		writeJSON(w, http.StatusOK, filterSnapshotFields(snap, fields))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type marketBarsResponse struct {
	Instrument string              `json:"instrument"`
	Timeframe  contracts.Timeframe `json:"timeframe"`
	BarCount   int                 `json:"bar_count"`
	Bars       []contracts.Bar     `json:"bars"`
}

// handleMarketBars serves GET /api/v1/market/bars.
func (s *Server) handleMarketBars(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.market == nil {
		WriteServiceUnavailable(w, "market data is not configured")
		return
	}

	query := r.URL.Query()
	instrument := strings.ToUpper(strings.TrimSpace(query.Get("instrument")))
	if instrument == "" {
		WriteBadRequest(w, "instrument is required")
		return
	}
	timeframe := contracts.Timeframe(query.Get("timeframe"))
	if timeframe == "" {
		WriteBadRequest(w, "timeframe is required")
		return
	}
	if !timeframe.Valid() {
		WriteBadRequest(w, fmt.Sprintf("unsupported timeframe %q", string(timeframe)))
		return
	}

	q := contracts.BarQuery{Instrument: instrument, Timeframe: timeframe}

	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteBadRequest(w, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		if n > maxBarsLimit {
			WriteBadRequest(w, fmt.Sprintf("limit %d exceeds maximum %d", n, maxBarsLimit))
			return
		}
		q.Limit = n
	}
	if raw := query.Get("start"); raw != "" {
		t, err := parseTimeParam(raw)
		if err != nil {
			WriteBadRequest(w, fmt.Sprintf("invalid start %q", raw))
			return
		}
		q.Start = &t
	}
	if raw := query.Get("end"); raw != "" {
		t, err := parseTimeParam(raw)
		if err != nil {
			WriteBadRequest(w, fmt.Sprintf("invalid end %q", raw))
			return
		}
		q.End = &t
	}
	if q.Start != nil && q.End != nil && q.Start.After(*q.End) {
		WriteBadRequest(w, "start is after end")
		return
	}
	if raw := query.Get("rth_only"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			WriteBadRequest(w, fmt.Sprintf("invalid rth_only %q", raw))
			return
		}
		q.RTHOnly = b
	}

	bars, err := s.market.GetMarketBars(r.Context(), q)
	if err != nil {
		WriteBadGateway(w, "bars_failed", err.Error())
		return
	}
	if bars == nil {
		bars = []contracts.Bar{}
	}
	writeJSON(w, http.StatusOK, marketBarsResponse{
		Instrument: instrument,
		Timeframe:  timeframe,
		BarCount:   len(bars),
		Bars:       bars,
	})
}

// filterSnapshotFields projects the snapshot onto the requested field
// names. Unknown names are ignored; instrument and timestamp survive any
// filter so responses stay self-describing.
func filterSnapshotFields(snap *contracts.MarketSnapshot, fields string) map[string]any {
	full := map[string]any{}
	raw, _ := json.Marshal(snap)
	_ = json.Unmarshal(raw, &full)

	keep := map[string]bool{"instrument": true, "timestamp": true}
	for _, f := range strings.Split(fields, ",") {
		if f = strings.TrimSpace(strings.ToLower(f)); f != "" {
			keep[f] = true
		}
	}

	out := make(map[string]any, len(keep))
	for k, v := range full {
		if keep[k] {
			out[k] = v
		}
	}
	return out
}

// parseTimeParam accepts RFC 3339 timestamps, naive ISO timestamps
// (interpreted as UTC), and bare dates.
func parseTimeParam(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", raw)
}
