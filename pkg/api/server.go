package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/alerting"
	"github.com/Mindburn-Labs/tradegate/pkg/approval"
	"github.com/Mindburn-Labs/tradegate/pkg/audit"
	"github.com/Mindburn-Labs/tradegate/pkg/flags"
	"github.com/Mindburn-Labs/tradegate/pkg/killswitch"
	"github.com/Mindburn-Labs/tradegate/pkg/marketdata"
	"github.com/Mindburn-Labs/tradegate/pkg/reconcile"
	"github.com/Mindburn-Labs/tradegate/pkg/safety"
	"github.com/Mindburn-Labs/tradegate/pkg/submission"
	"github.com/Mindburn-Labs/tradegate/pkg/volatility"
)

// maxBodyBytes caps every request body read.
const maxBodyBytes = 1 << 20 // 1 MiB

// ConnectionStatus is the slice of the connection manager the health
// endpoint needs.
type ConnectionStatus interface {
	IsConnected() bool
}

// Server holds the handler dependencies. The approval service and kill
// switch are mandatory; everything else is wired with the With builders
// and reported as not configured when absent.
type Server struct {
	logger *slog.Logger
	clock  func() time.Time

	approvals  *approval.Service
	killSwitch *killswitch.Switch
	flags      flags.Flags
	policy     *approval.PolicyChecker

	market        *marketdata.Service
	volatility    *volatility.Service
	submitter     *submission.Submitter
	reconcileLoop *reconcile.Loop
	checker       *safety.Checker
	recorder      audit.Recorder
	alerter       *alerting.Alerter
	conn          ConnectionStatus

	authSecret []byte
	limiter    *RateLimiter
}

// NewServer creates a server with default flags, a 10 rps / burst 30
// per-IP rate limit, and auth disabled.
func NewServer(approvals *approval.Service, ks *killswitch.Switch) *Server {
	return &Server{
		logger:     slog.Default().With("component", "api"),
		clock:      time.Now,
		approvals:  approvals,
		killSwitch: ks,
		flags:      flags.Defaults(),
		limiter:    NewRateLimiter(10, 30),
	}
}

// WithFlags sets the feature flags consulted on approval requests.
func (s *Server) WithFlags(fl flags.Flags) *Server {
	s.flags = fl
	return s
}

// WithPolicy sets the auto-approval policy checker.
func (s *Server) WithPolicy(checker *approval.PolicyChecker) *Server {
	s.policy = checker
	return s
}

// WithMarketData enables the market endpoints.
func (s *Server) WithMarketData(svc *marketdata.Service) *Server {
	s.market = svc
	return s
}

// WithVolatility enables the volatility endpoint.
func (s *Server) WithVolatility(svc *volatility.Service) *Server {
	s.volatility = svc
	return s
}

// WithSubmitter enables the order submission endpoint.
func (s *Server) WithSubmitter(sub *submission.Submitter) *Server {
	s.submitter = sub
	return s
}

// WithReconcile enables the reconciliation status endpoint.
func (s *Server) WithReconcile(loop *reconcile.Loop) *Server {
	s.reconcileLoop = loop
	return s
}

// WithSafety enables the safety report endpoint.
func (s *Server) WithSafety(checker *safety.Checker) *Server {
	s.checker = checker
	return s
}

// WithRecorder attaches the audit trail for kill switch events.
func (s *Server) WithRecorder(recorder audit.Recorder) *Server {
	s.recorder = recorder
	return s
}

// WithAlerter attaches alerting for kill switch activations.
func (s *Server) WithAlerter(alerter *alerting.Alerter) *Server {
	s.alerter = alerter
	return s
}

// WithConnection attaches the broker connection for health reporting.
func (s *Server) WithConnection(conn ConnectionStatus) *Server {
	s.conn = conn
	return s
}

// WithAuthSecret enables bearer auth with the given HS256 secret.
func (s *Server) WithAuthSecret(secret []byte) *Server {
	s.authSecret = secret
	return s
}

// WithRateLimit replaces the default per-IP rate limit.
func (s *Server) WithRateLimit(rps float64, burst int) *Server {
	s.limiter = NewRateLimiter(rps, burst)
	return s
}

// WithClock overrides time for testing.
func (s *Server) WithClock(clock func() time.Time) *Server {
	s.clock = clock
	return s
}

// Handler returns the routed handler wrapped in the middleware chain:
// correlation id, request logging, per-IP rate limiting, bearer auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/propose", s.handlePropose)
	mux.HandleFunc("/api/v1/orders/submit", s.handleSubmitOrder)
	mux.HandleFunc("/api/v1/approval/pending", s.handlePendingProposals)
	mux.HandleFunc("/api/v1/approval/request", s.handleRequestApproval)
	mux.HandleFunc("/api/v1/approval/grant", s.handleGrantApproval)
	mux.HandleFunc("/api/v1/approval/deny", s.handleDenyApproval)
	mux.HandleFunc("/api/v1/reconciliation/status", s.handleReconciliationStatus)
	mux.HandleFunc("/api/v1/market/snapshot", s.handleMarketSnapshot)
	mux.HandleFunc("/api/v1/market/bars", s.handleMarketBars)
	mux.HandleFunc("/api/v1/market/volatility", s.handleMarketVolatility)
	mux.HandleFunc("/api/v1/killswitch/activate", s.handleKillSwitchActivate)
	mux.HandleFunc("/api/v1/killswitch/deactivate", s.handleKillSwitchDeactivate)
	mux.HandleFunc("/api/v1/killswitch/status", s.handleKillSwitchStatus)
	mux.HandleFunc("/api/v1/safety/report", s.handleSafetyReport)
	mux.HandleFunc("/health", s.handleHealth)

	var h http.Handler = mux
	h = bearerAuth(s.authSecret)(h)
	h = s.limiter.Middleware(h)
	h = loggingMiddleware(s.logger)(h)
	h = correlationMiddleware(h)
	return h
}

// record appends an audit event with the request's correlation id.
// Failures are logged; the HTTP response is never blocked on audit.
func (s *Server) record(ctx context.Context, eventType audit.EventType, data map[string]any) {
	if s.recorder == nil {
		return
	}
	if _, err := s.recorder.Record(ctx, eventType, audit.CorrelationID(ctx), data, nil); err != nil {
		s.logger.Error("audit record failed", "event_type", string(eventType), "error", err)
	}
}

// handleSafetyReport serves GET /api/v1/safety/report.
func (s *Server) handleSafetyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.checker == nil {
		WriteServiceUnavailable(w, "safety checks are not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.checker.RunAllChecks())
}

type componentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status        string                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	CorrelationID string                     `json:"correlation_id"`
	Components    map[string]componentHealth `json:"components"`
}

// healthRank orders overall statuses; the verdict only ever worsens.
var healthRank = map[string]int{"healthy": 0, "degraded": 1, "unhealthy": 2}

// handleHealth serves GET /health. An active kill switch or a
// disconnected broker degrades the verdict; a missing audit store or
// broker makes it unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}

	resp := healthResponse{
		Status:        "healthy",
		Timestamp:     s.clock().UTC(),
		CorrelationID: audit.CorrelationID(r.Context()),
		Components:    map[string]componentHealth{},
	}
	worsen := func(status string) {
		if healthRank[status] > healthRank[resp.Status] {
			resp.Status = status
		}
	}

	if s.killSwitch.IsEnabled() {
		state := s.killSwitch.GetState()
		resp.Components["kill_switch"] = componentHealth{
			Status:  "active",
			Message: "kill switch is active - trading is halted: " + state.Reason,
		}
		worsen("degraded")
	} else {
		resp.Components["kill_switch"] = componentHealth{Status: "inactive"}
	}

	switch {
	case s.conn == nil:
		resp.Components["broker"] = componentHealth{Status: "not_configured"}
		worsen("unhealthy")
	case s.conn.IsConnected():
		resp.Components["broker"] = componentHealth{Status: "connected"}
	default:
		resp.Components["broker"] = componentHealth{Status: "disconnected"}
		worsen("degraded")
	}

	if s.recorder == nil {
		resp.Components["audit_store"] = componentHealth{Status: "not_configured"}
		worsen("unhealthy")
	} else {
		resp.Components["audit_store"] = componentHealth{Status: "connected"}
	}

	resp.Components["approval_service"] = componentHealth{Status: "operational"}

	if s.market == nil {
		resp.Components["market_data"] = componentHealth{Status: "not_configured"}
		worsen("degraded")
	} else {
		resp.Components["market_data"] = componentHealth{Status: "operational"}
	}

	if s.reconcileLoop == nil {
		resp.Components["reconciliation"] = componentHealth{Status: "not_configured"}
		worsen("degraded")
	} else {
		resp.Components["reconciliation"] = componentHealth{Status: "operational"}
	}

	writeJSON(w, http.StatusOK, resp)
}
