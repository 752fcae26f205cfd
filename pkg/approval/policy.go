package approval

import (
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/tradegate/pkg/contracts"
)

// marketTimezone is the default timezone for trading windows and for the
// clock variables custom rules see.
const marketTimezone = "America/New_York"

var weekdayDefaults = []string{"MONDAY", "TUESDAY", "WEDNESDAY", "THURSDAY", "FRIDAY"}

// TimeWindow restricts auto-approval to a daily interval on given weekdays,
// evaluated in the window's own timezone. Empty Days means Monday through
// Friday; empty Timezone means America/New_York.
type TimeWindow struct {
	Start    string   `json:"start_time" yaml:"start_time"` // "HH:MM" or "HH:MM:SS"
	End      string   `json:"end_time" yaml:"end_time"`
	Days     []string `json:"days,omitempty" yaml:"days,omitempty"` // uppercase day names
	Timezone string   `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Contains reports whether now falls inside the window, bounds inclusive.
// Malformed windows fail closed.
func (w TimeWindow) Contains(now time.Time) bool {
	tz := w.Timezone
	if tz == "" {
		tz = marketTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return false
	}
	local := now.In(loc)

	days := w.Days
	if len(days) == 0 {
		days = weekdayDefaults
	}
	dayName := strings.ToUpper(local.Weekday().String())
	matched := false
	for _, d := range days {
		if strings.EqualFold(d, dayName) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	start, err := parseClock(w.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false
	}
	sec := local.Hour()*3600 + local.Minute()*60 + local.Second()
	return sec >= start && sec <= end
}

// parseClock converts "HH:MM" or "HH:MM:SS" to seconds since midnight.
func parseClock(s string) (int, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Hour()*3600 + t.Minute()*60 + t.Second(), nil
		}
	}
	return 0, fmt.Errorf("invalid clock time %q", s)
}

// DCASchedule caps recurring orders for a fixed symbol set. An order
// matching a schedule (symbol, side, order type) must stay under the
// schedule's size limit; orders matching no schedule are unaffected.
type DCASchedule struct {
	Symbols      []string            `json:"symbols" yaml:"symbols"`
	MaxOrderSize float64             `json:"max_order_size" yaml:"max_order_size"`
	Side         contracts.OrderSide `json:"side" yaml:"side"`
	OrderType    contracts.OrderType `json:"order_type" yaml:"order_type"`
}

// AutoApprovalPolicy configures which orders may be approved without a
// human, beyond the notional threshold the feature flags carry.
type AutoApprovalPolicy struct {
	// Enabled is the master switch. A disabled policy fails every check
	// with "Policy disabled".
	Enabled bool `json:"enabled" yaml:"enabled"`

	// SymbolWhitelist nil means all symbols allowed. The blacklist always
	// wins over the whitelist.
	SymbolWhitelist []string `json:"symbol_whitelist,omitempty" yaml:"symbol_whitelist,omitempty"`
	SymbolBlacklist []string `json:"symbol_blacklist,omitempty" yaml:"symbol_blacklist,omitempty"`

	// AllowedSecTypes and AllowedOrderTypes default to {STK, ETF} and
	// {MKT, LMT} when left empty; NewPolicyChecker fills them in.
	AllowedSecTypes   []string `json:"allowed_sec_types,omitempty" yaml:"allowed_sec_types,omitempty"`
	AllowedOrderTypes []string `json:"allowed_order_types,omitempty" yaml:"allowed_order_types,omitempty"`

	// TimeWindows empty means always allowed.
	TimeWindows []TimeWindow `json:"time_windows,omitempty" yaml:"time_windows,omitempty"`

	DCASchedules []DCASchedule `json:"dca_schedules,omitempty" yaml:"dca_schedules,omitempty"`

	// MaxPositionPct caps order notional as a percentage of portfolio NAV.
	// nil disables the check; a set limit with no NAV available fails safe.
	MaxPositionPct *float64 `json:"max_position_pct,omitempty" yaml:"max_position_pct,omitempty"`

	// CustomRules are CEL expressions over the order context. A rule
	// evaluating false or erroring blocks auto-approval.
	CustomRules []string `json:"custom_rules,omitempty" yaml:"custom_rules,omitempty"`
}

// DefaultPolicy is the stock policy: enabled, stocks and ETFs, market and
// limit orders, regular trading hours in New York.
func DefaultPolicy() AutoApprovalPolicy {
	return AutoApprovalPolicy{
		Enabled:           true,
		AllowedSecTypes:   []string{string(contracts.SecTypeStock), string(contracts.SecTypeETF)},
		AllowedOrderTypes: []string{string(contracts.OrderTypeMarket), string(contracts.OrderTypeLimit)},
		TimeWindows: []TimeWindow{{
			Start:    "09:30",
			End:      "16:00",
			Timezone: marketTimezone,
		}},
	}
}

// PolicyInput is the order context a policy decision sees.
type PolicyInput struct {
	Symbol       string
	SecType      contracts.SecType
	Side         contracts.OrderSide
	OrderType    contracts.OrderType
	Notional     float64
	Now          time.Time
	PortfolioNAV *float64
}

// PolicyChecker evaluates an AutoApprovalPolicy against order contexts.
// Construct once and share: the checker is immutable after construction
// apart from the CEL program cache, which locks internally.
type PolicyChecker struct {
	policy AutoApprovalPolicy
	rules  *celRules
}

// NewPolicyChecker normalizes the policy (empty type lists get defaults)
// and prepares the CEL environment when custom rules are present.
func NewPolicyChecker(policy AutoApprovalPolicy) (*PolicyChecker, error) {
	if len(policy.AllowedSecTypes) == 0 {
		policy.AllowedSecTypes = []string{string(contracts.SecTypeStock), string(contracts.SecTypeETF)}
	}
	if len(policy.AllowedOrderTypes) == 0 {
		policy.AllowedOrderTypes = []string{string(contracts.OrderTypeMarket), string(contracts.OrderTypeLimit)}
	}

	c := &PolicyChecker{policy: policy}
	if len(policy.CustomRules) > 0 {
		rules, err := newCELRules()
		if err != nil {
			return nil, err
		}
		c.rules = rules
	}
	return c, nil
}

// Policy returns the normalized policy the checker runs.
func (c *PolicyChecker) Policy() AutoApprovalPolicy {
	return c.policy
}

// CheckSymbol applies the blacklist, then the whitelist.
func (c *PolicyChecker) CheckSymbol(symbol string) (bool, string) {
	if !c.policy.Enabled {
		return false, "Policy disabled"
	}
	if containsString(c.policy.SymbolBlacklist, symbol) {
		return false, fmt.Sprintf("Symbol %s is blacklisted", symbol)
	}
	if c.policy.SymbolWhitelist != nil && !containsString(c.policy.SymbolWhitelist, symbol) {
		return false, fmt.Sprintf("Symbol %s not in whitelist", symbol)
	}
	return true, ""
}

// CheckSecurityType allows only the configured security types.
func (c *PolicyChecker) CheckSecurityType(secType contracts.SecType) (bool, string) {
	if !c.policy.Enabled {
		return false, "Policy disabled"
	}
	if !containsString(c.policy.AllowedSecTypes, string(secType)) {
		return false, fmt.Sprintf("Security type %s not allowed", secType)
	}
	return true, ""
}

// CheckTimeWindow passes when no windows are configured, or when now falls
// inside any one of them.
func (c *PolicyChecker) CheckTimeWindow(now time.Time) (bool, string) {
	if !c.policy.Enabled {
		return false, "Policy disabled"
	}
	if len(c.policy.TimeWindows) == 0 {
		return true, ""
	}
	for _, w := range c.policy.TimeWindows {
		if w.Contains(now) {
			return true, ""
		}
	}
	return false, "Outside allowed time windows"
}

// CheckOrderType allows only the configured order types.
func (c *PolicyChecker) CheckOrderType(orderType contracts.OrderType) (bool, string) {
	if !c.policy.Enabled {
		return false, "Policy disabled"
	}
	if !containsString(c.policy.AllowedOrderTypes, string(orderType)) {
		return false, fmt.Sprintf("Order type %s not allowed", orderType)
	}
	return true, ""
}

// CheckDCASchedule enforces the size limit of the first schedule the order
// matches. An order matching no schedule passes untouched.
func (c *PolicyChecker) CheckDCASchedule(symbol string, side contracts.OrderSide, orderType contracts.OrderType, notional float64) (bool, string) {
	if !c.policy.Enabled {
		return false, "Policy disabled"
	}
	if len(c.policy.DCASchedules) == 0 {
		return true, ""
	}
	for _, sched := range c.policy.DCASchedules {
		if !containsString(sched.Symbols, symbol) {
			continue
		}
		if side != sched.Side || orderType != sched.OrderType {
			continue
		}
		if notional > sched.MaxOrderSize {
			return false, fmt.Sprintf("DCA order size $%.2f exceeds limit $%.2f", notional, sched.MaxOrderSize)
		}
		return true, fmt.Sprintf("Matches DCA schedule for %s", symbol)
	}
	return true, ""
}

// CheckPositionSize caps the order as a percentage of portfolio NAV. With
// a limit configured but no NAV available the check fails safe.
func (c *PolicyChecker) CheckPositionSize(notional float64, portfolioNAV *float64) (bool, string) {
	if !c.policy.Enabled {
		return false, "Policy disabled"
	}
	if c.policy.MaxPositionPct == nil {
		return true, ""
	}
	if portfolioNAV == nil || *portfolioNAV <= 0 {
		return false, "Cannot verify position size limit (portfolio NAV unavailable)"
	}
	pct := (notional / *portfolioNAV) * 100
	if pct > *c.policy.MaxPositionPct {
		return false, fmt.Sprintf("Position size %.2f%% exceeds limit %g%%", pct, *c.policy.MaxPositionPct)
	}
	return true, ""
}

// CheckCustomRules evaluates the policy's CEL rules against the order
// context. Errors fail closed.
func (c *PolicyChecker) CheckCustomRules(in PolicyInput) (bool, []string) {
	if !c.policy.Enabled {
		return false, []string{"Policy disabled"}
	}
	if c.rules == nil || len(c.policy.CustomRules) == 0 {
		return true, nil
	}

	var reasons []string
	input := celInput(in)
	for _, expr := range c.policy.CustomRules {
		ok, err := c.rules.eval(expr, input)
		if err != nil {
			reasons = append(reasons, fmt.Sprintf("Custom rule error: %v", err))
			continue
		}
		if !ok {
			reasons = append(reasons, fmt.Sprintf("Custom rule failed: %s", expr))
		}
	}
	return len(reasons) == 0, reasons
}

// CheckAll runs every rule and accumulates all failing reasons so the
// caller can show them together.
func (c *PolicyChecker) CheckAll(in PolicyInput) (bool, []string) {
	if !c.policy.Enabled {
		return false, []string{"Policy disabled"}
	}

	var reasons []string
	if ok, reason := c.CheckSymbol(in.Symbol); !ok {
		reasons = append(reasons, reason)
	}
	if ok, reason := c.CheckSecurityType(in.SecType); !ok {
		reasons = append(reasons, reason)
	}
	if ok, reason := c.CheckTimeWindow(in.Now); !ok {
		reasons = append(reasons, reason)
	}
	if ok, reason := c.CheckOrderType(in.OrderType); !ok {
		reasons = append(reasons, reason)
	}
	if ok, reason := c.CheckDCASchedule(in.Symbol, in.Side, in.OrderType, in.Notional); !ok {
		reasons = append(reasons, reason)
	}
	if ok, reason := c.CheckPositionSize(in.Notional, in.PortfolioNAV); !ok {
		reasons = append(reasons, reason)
	}
	if ok, ruleReasons := c.CheckCustomRules(in); !ok {
		reasons = append(reasons, ruleReasons...)
	}
	return len(reasons) == 0, reasons
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
