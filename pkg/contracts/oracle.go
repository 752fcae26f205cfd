package contracts

// The simulation and risk engines are external oracles. Their payloads travel
// through proposals as raw JSON; these types cover the fields the pipeline
// itself reads (auto-approval threshold, pending-list display).

// SimulationStatus is the oracle's verdict on simulating the order.
type SimulationStatus string

const (
	SimulationOK     SimulationStatus = "OK"
	SimulationFailed SimulationStatus = "FAILED"
)

// SimulationResult is the estimated execution produced by the simulator.
type SimulationResult struct {
	Status           SimulationStatus `json:"status"`
	ExecutionPrice   *float64         `json:"execution_price,omitempty"`
	GrossNotional    *float64         `json:"gross_notional,omitempty"`
	EstimatedFee     *float64         `json:"estimated_fee,omitempty"`
	EstimatedSlippage *float64        `json:"estimated_slippage,omitempty"`
	NetNotional      *float64         `json:"net_notional,omitempty"`
	CashBefore       *float64         `json:"cash_before,omitempty"`
	CashAfter        *float64         `json:"cash_after,omitempty"`
	ExposureBefore   *float64         `json:"exposure_before,omitempty"`
	ExposureAfter    *float64         `json:"exposure_after,omitempty"`
}

// RiskVerdict is the risk gate's decision.
type RiskVerdict string

const (
	RiskApprove      RiskVerdict = "APPROVE"
	RiskReject       RiskVerdict = "REJECT"
	RiskManualReview RiskVerdict = "MANUAL_REVIEW"
)

// RiskDecision is the risk oracle's output.
type RiskDecision struct {
	Decision      RiskVerdict        `json:"decision"`
	Reason        string             `json:"reason"`
	ViolatedRules []string           `json:"violated_rules,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
}
