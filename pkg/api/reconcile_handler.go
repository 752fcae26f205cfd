package api

import (
	"net/http"

	"github.com/Mindburn-Labs/tradegate/pkg/reconcile"
)

// reconcileStatusResponse wraps a reconciliation report with the derived
// fields the UI renders without walking the discrepancy list.
type reconcileStatusResponse struct {
	*reconcile.Report
	DiscrepancyCount         int  `json:"discrepancy_count"`
	HasCriticalDiscrepancies bool `json:"has_critical_discrepancies"`
}

// handleReconciliationStatus serves GET /api/v1/reconciliation/status.
// Each request triggers a fresh reconciliation run so the caller sees
// current broker state, with the usual audit and alert routing.
func (s *Server) handleReconciliationStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	if s.reconcileLoop == nil {
		WriteServiceUnavailable(w, "reconciliation is not configured")
		return
	}

	if accountID := r.URL.Query().Get("account_id"); accountID != "" && accountID != s.reconcileLoop.AccountID() {
		WriteNotFound(w, "unknown account "+accountID)
		return
	}

	report, err := s.reconcileLoop.RunOnce(r.Context())
	if err != nil {
		WriteBadGateway(w, "reconciliation_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, reconcileStatusResponse{
		Report:                   report,
		DiscrepancyCount:         report.Count(),
		HasCriticalDiscrepancies: report.HasCritical(),
	})
}
