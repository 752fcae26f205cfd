package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/killswitch"
)

type killSwitchActionResponse struct {
	Success bool `json:"success"`
	killswitch.State
	Message string `json:"message"`
}

// handleKillSwitchStatus serves GET /api/v1/killswitch/status.
func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	state := s.killSwitch.GetState()
	state.Enabled = s.killSwitch.IsEnabled()
	writeJSON(w, http.StatusOK, state)
}

// handleKillSwitchActivate serves POST /api/v1/killswitch/activate. The
// halt takes effect before the response is written; the alert bypasses
// the rate gate inside the alerter.
func (s *Server) handleKillSwitchActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Reason == "" {
		req.Reason = "Manual activation via API"
	}

	state := s.killSwitch.Activate("api", req.Reason)

	activatedAt := ""
	if state.ActivatedAt != nil {
		activatedAt = state.ActivatedAt.Format(time.RFC3339)
	}
	s.record(r.Context(), audit.EventKillSwitchActivated, map[string]any{
		"reason":       req.Reason,
		"activated_by": "api",
		"activated_at": activatedAt,
	})
	if s.alerter != nil {
		s.alerter.KillSwitchActivated(r.Context(), req.Reason, "api")
	}

	writeJSON(w, http.StatusOK, killSwitchActionResponse{
		Success: true,
		State:   state,
		Message: "Kill switch activated - all trading operations are now blocked",
	})
}

// handleKillSwitchDeactivate serves POST /api/v1/killswitch/deactivate.
// Deactivation is refused while the environment override pins the switch.
func (s *Server) handleKillSwitchDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	state, err := s.killSwitch.Deactivate("api")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "deactivation_blocked", err.Error())
		return
	}

	s.record(r.Context(), audit.EventKillSwitchReleased, map[string]any{
		"deactivated_by": "api",
	})

	writeJSON(w, http.StatusOK, killSwitchActionResponse{
		Success: true,
		State:   state,
		Message: "Kill switch deactivated - trading operations resumed",
	})
}
