// Package api exposes the gateway's HTTP surface: the approval queue the
// human reviewer works, reconciliation status, market data passthrough,
// kill switch control, and health. Every error response carries the same
// two-field JSON shape so the approval UI has one decoder.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

// apiError is the wire shape of every non-2xx response.
type apiError struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// writeJSON encodes v with the given status. Encode failures after the
// header is written cannot be reported to the client; they are logged.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().With("component", "api").Error("response encode failed", "error", err)
	}
}

// WriteError writes an error response. code is a stable machine-readable
// identifier; reason is the human-readable detail.
func WriteError(w http.ResponseWriter, status int, code, reason string) {
	writeJSON(w, status, apiError{Error: code, Reason: reason})
}

// WriteBadRequest writes a 400 with the given reason.
func WriteBadRequest(w http.ResponseWriter, reason string) {
	WriteError(w, http.StatusBadRequest, "bad_request", reason)
}

// WriteNotFound writes a 404 with the given reason.
func WriteNotFound(w http.ResponseWriter, reason string) {
	WriteError(w, http.StatusNotFound, "not_found", reason)
}

// WriteConflict writes a 409 for operations applied in the wrong state.
func WriteConflict(w http.ResponseWriter, reason string) {
	WriteError(w, http.StatusConflict, "invalid_state", reason)
}

// WriteMethodNotAllowed writes a 405.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "the HTTP method is not supported for this endpoint")
}

// WriteUnauthorized writes a 401.
func WriteUnauthorized(w http.ResponseWriter, reason string) {
	if reason == "" {
		reason = "authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "unauthorized", reason)
}

// WriteTooManyRequests writes a 429 with a Retry-After hint.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded, retry after the specified interval")
}

// WriteServiceUnavailable writes a 503 for a subsystem that is not wired
// or not ready.
func WriteServiceUnavailable(w http.ResponseWriter, reason string) {
	WriteError(w, http.StatusServiceUnavailable, "unavailable", reason)
}

// WriteBadGateway writes a 502 for broker-side failures.
func WriteBadGateway(w http.ResponseWriter, code, reason string) {
	WriteError(w, http.StatusBadGateway, code, reason)
}

// WriteInternal writes a 500. err is logged, never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Default().With("component", "api").Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
}
