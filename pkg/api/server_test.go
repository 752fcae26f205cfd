package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/tradegate/pkg/approval"
	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/broker/sim"
	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
	"github.com/Mindburn-Labs/tradegate/pkg/flags"
	"github.com/Mindburn-Labs/tradegate/pkg/killswitch"
	"github.com/Mindburn-Labs/tradegate/pkg/marketdata"
	"github.com/Mindburn-Labs/tradegate/pkg/reconcile"
)

var apiNow = time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC) // a Monday, 10:30 New York

func apiClock() time.Time { return apiNow }

type harness struct {
	server    *Server
	approvals *approval.Service
	ks        *killswitch.Switch
	ts        *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := approval.NewStore().WithClock(apiClock)
	svc := approval.NewService(store, nil)
	ks := killswitch.New(filepath.Join(t.TempDir(), "kill_switch.json")).WithClock(apiClock)
	server := NewServer(svc, ks).WithClock(apiClock)
	return &harness{server: server, approvals: svc, ks: ks}
}

// start boots the test server after the harness has finished wiring.
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.ts = httptest.NewServer(h.server.Handler())
	t.Cleanup(h.ts.Close)
}

func (h *harness) do(t *testing.T, method, path string, headers map[string]string, payload any) (int, map[string]any) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, body)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.ts.Client().Do(req)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp.StatusCode, decoded
}

func (h *harness) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	return h.do(t, http.MethodGet, path, nil, nil)
}

func (h *harness) post(t *testing.T, path string, payload any) (int, map[string]any) {
	t.Helper()
	return h.do(t, http.MethodPost, path, nil, payload)
}

func testIntentJSON(t *testing.T, symbol string) string {
	t.Helper()
	intent := contracts.OrderIntent{
		AccountID:   "DU1234567",
		Instrument:  contracts.Instrument{Type: contracts.SecTypeStock, Symbol: symbol, Currency: "USD"},
		Side:        contracts.SideBuy,
		Quantity:    10,
		OrderType:   contracts.OrderTypeMarket,
		TimeInForce: contracts.TIFDay,
		Reason:      "monthly rebalance into tech",
		StrategyTag: "rebal_monthly_v1",
	}
	raw, err := json.Marshal(intent)
	require.NoError(t, err)
	return string(raw)
}

func seedRiskApproved(t *testing.T, svc *approval.Service, symbol, notional string) contracts.OrderProposal {
	t.Helper()
	sim := `{"gross_notional": "` + notional + `"}`
	risk := `{"decision": "APPROVE", "reason": "all rules passed"}`
	p, err := svc.NewProposal(context.Background(), testIntentJSON(t, symbol), sim, risk, "corr-"+symbol, apiNow)
	require.NoError(t, err)
	require.Equal(t, contracts.StateRiskApproved, p.State)
	return p
}

func seedAwaitingApproval(t *testing.T, svc *approval.Service, symbol, notional string) contracts.OrderProposal {
	t.Helper()
	p := seedRiskApproved(t, svc, symbol, notional)
	updated, token, err := svc.RequestApproval(context.Background(), p.ProposalID, flags.Defaults(), false, nil, apiNow)
	require.NoError(t, err)
	require.Nil(t, token)
	require.Equal(t, contracts.StateApprovalRequested, updated.State)
	return updated
}

type connStub struct{ connected bool }

func (c connStub) IsConnected() bool { return c.connected }

func component(t *testing.T, body map[string]any, name string) map[string]any {
	t.Helper()
	components, ok := body["components"].(map[string]any)
	require.True(t, ok, "components missing")
	c, ok := components[name].(map[string]any)
	require.True(t, ok, "component %s missing", name)
	return c
}

func TestHealthReportsMissingWiring(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	status, body := h.get(t, "/health")
	require.Equal(t, http.StatusOK, status)

	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "2024-06-03T14:30:00Z", body["timestamp"])
	assert.NotEmpty(t, body["correlation_id"])

	assert.Equal(t, "inactive", component(t, body, "kill_switch")["status"])
	assert.Equal(t, "not_configured", component(t, body, "broker")["status"])
	assert.Equal(t, "not_configured", component(t, body, "audit_store")["status"])
	assert.Equal(t, "operational", component(t, body, "approval_service")["status"])
	assert.Equal(t, "not_configured", component(t, body, "market_data")["status"])
	assert.Equal(t, "not_configured", component(t, body, "reconciliation")["status"])
}

func TestHealthVerdictWhenFullyWired(t *testing.T) {
	h := newHarness(t)

	venue := sim.New("").WithClock(apiClock)
	require.NoError(t, venue.Connect(context.Background()))
	loop := reconcile.NewLoop(reconcile.NewReconciler(venue).WithClock(apiClock),
		func(context.Context) (reconcile.Snapshot, error) { return reconcile.Snapshot{}, nil },
		sim.DefaultAccountID, time.Hour).WithClock(apiClock)

	h.server.
		WithRecorder(audit.NewMemoryStore().WithClock(apiClock)).
		WithConnection(connStub{connected: true}).
		WithMarketData(marketdata.NewService(venue)).
		WithReconcile(loop)
	h.start(t)

	status, body := h.get(t, "/health")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "connected", component(t, body, "broker")["status"])
	assert.Equal(t, "connected", component(t, body, "audit_store")["status"])

	// An engaged kill switch degrades the verdict without failing it.
	h.ks.Activate("test", "drill")
	_, body = h.get(t, "/health")
	assert.Equal(t, "degraded", body["status"])
	killSwitch := component(t, body, "kill_switch")
	assert.Equal(t, "active", killSwitch["status"])
	assert.Contains(t, killSwitch["message"], "drill")
}

func TestHealthDegradedWhileDisconnected(t *testing.T) {
	h := newHarness(t)
	h.server.WithConnection(connStub{connected: false})
	h.start(t)

	_, body := h.get(t, "/health")
	assert.Equal(t, "disconnected", component(t, body, "broker")["status"])
	// Broker down plus unwired audit store: worst verdict wins.
	assert.Equal(t, "unhealthy", body["status"])
}

func TestSafetyReportEndpoint(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	status, body := h.get(t, "/api/v1/safety/report")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "unavailable", body["error"])
}

func TestErrorShapeIsUniform(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	status, body := h.do(t, http.MethodDelete, "/health", nil, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, "method_not_allowed", body["error"])
	assert.NotEmpty(t, body["reason"])

	status, body = h.get(t, "/api/v1/approval/request")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, "method_not_allowed", body["error"])
}

func TestOversizedBodyRejected(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	status, body := h.post(t, "/api/v1/approval/request", map[string]string{
		"proposal_id": "p-1",
		"reason":      strings.Repeat("x", 2<<20),
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", body["error"])
}
