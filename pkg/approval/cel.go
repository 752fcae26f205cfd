package approval

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
)

// celRules compiles and caches CEL programs for custom policy rules. The
// environment exposes the order context as flat variables so operators can
// write rules like `notional < 500.0 || order_type == "LMT"`.
type celRules struct {
	env   *cel.Env
	mu    sync.RWMutex
	cache map[string]cel.Program
}

func newCELRules() (*celRules, error) {
	env, err := cel.NewEnv(
		cel.Variable("symbol", cel.StringType),
		cel.Variable("sec_type", cel.StringType),
		cel.Variable("side", cel.StringType),
		cel.Variable("order_type", cel.StringType),
		cel.Variable("notional", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("minute", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("portfolio_nav", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &celRules{
		env:   env,
		cache: make(map[string]cel.Program),
	}, nil
}

// eval runs one rule expression against the input. A non-boolean result is
// an error; callers fail closed on any error.
func (r *celRules) eval(expr string, input map[string]any) (bool, error) {
	prg, err := r.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval: %w", err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule did not evaluate to bool")
	}
	return val, nil
}

// program returns the compiled program for expr, compiling at most once.
func (r *celRules) program(expr string) (cel.Program, error) {
	r.mu.RLock()
	prg, hit := r.cache[expr]
	r.mu.RUnlock()
	if hit {
		return prg, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prg, hit = r.cache[expr]; hit {
		return prg, nil
	}
	ast, issues := r.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	p, err := r.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	r.cache[expr] = p
	return p, nil
}

// celInput flattens the order context into the CEL variable set. Clock
// variables are market time (America/New_York); day_of_week follows
// time.Weekday, Sunday = 0. portfolio_nav is 0 when unavailable.
func celInput(in PolicyInput) map[string]any {
	local := in.Now
	if loc, err := time.LoadLocation(marketTimezone); err == nil {
		local = in.Now.In(loc)
	}
	nav := 0.0
	if in.PortfolioNAV != nil {
		nav = *in.PortfolioNAV
	}
	return map[string]any{
		"symbol":        in.Symbol,
		"sec_type":      string(in.SecType),
		"side":          string(in.Side),
		"order_type":    string(in.OrderType),
		"notional":      in.Notional,
		"hour":          local.Hour(),
		"minute":        local.Minute(),
		"day_of_week":   int(local.Weekday()),
		"portfolio_nav": nav,
	}
}
