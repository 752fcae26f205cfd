package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tradegate/pkg/audit"
)

func TestKillSwitchLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	trail := audit.NewMemoryStore().WithClock(apiClock)
	h.server.WithRecorder(trail)
	h.start(t)

	status, body := h.get(t, "/api/v1/killswitch/status")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, body["enabled"])

	status, body = h.post(t, "/api/v1/killswitch/activate", map[string]string{"reason": "margin breach drill"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, "api", body["activated_by"])
	assert.Equal(t, "2024-06-03T14:30:00Z", body["activated_at"])
	assert.Equal(t, "margin breach drill", body["reason"])
	assert.Equal(t, "Kill switch activated - all trading operations are now blocked", body["message"])

	status, body = h.get(t, "/api/v1/killswitch/status")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, "margin breach drill", body["reason"])

	status, body = h.post(t, "/api/v1/killswitch/deactivate", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, false, body["enabled"])
	assert.Equal(t, "Kill switch deactivated - trading operations resumed", body["message"])

	var types []audit.EventType
	for _, e := range trail.Events() {
		types = append(types, e.EventType)
	}
	assert.Contains(t, types, audit.EventKillSwitchActivated)
	assert.Contains(t, types, audit.EventKillSwitchReleased)

	// An empty body gets the default reason.
	status, body = h.post(t, "/api/v1/killswitch/activate", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Manual activation via API", body["reason"])
}

func TestKillSwitchDeactivateBlockedByEnv(t *testing.T) {
	t.Setenv("KILL_SWITCH_ENABLED", "1")
	h := newHarness(t)
	h.start(t)

	status, body := h.post(t, "/api/v1/killswitch/deactivate", nil)
	require.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "deactivation_blocked", body["error"])
	assert.Contains(t, body["reason"], "KILL_SWITCH_ENABLED")

	status, body = h.get(t, "/api/v1/killswitch/status")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["enabled"])
}
