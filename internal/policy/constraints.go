// Package policy contains the adaptive parts of the trading policy: the
// constraint evaluator that turns realized PnL into a penalised reward, and
// the action selector that learns from it.
package policy

import (
	"math"

	"policytrader/internal/config"
	"policytrader/internal/metrics"
)

// Metric names in evaluation order.
const (
	MetricWinRate      = "winrate"
	MetricProfitFactor = "profit_factor"
	MetricSharpe       = "sharpe"
	MetricROI          = "roi"
	MetricMaxDrawdown  = "mdd"
)

// MetricOrder is the fixed order in which constraints are checked.
var MetricOrder = [5]string{MetricWinRate, MetricProfitFactor, MetricSharpe, MetricROI, MetricMaxDrawdown}

// ConstraintResult is the outcome of one evaluator update.
type ConstraintResult struct {
	// Reward is the shaped reward minus the total penalty.
	Reward         float64
	Penalty        float64
	Multipliers    map[string]float64
	ViolationLevel float64
}

// ConstraintEvaluator tracks rolling performance for one symbol and adapts a
// Lagrange multiplier per metric. It is not safe for concurrent use.
type ConstraintEvaluator struct {
	cfg config.Metrics

	outcomes *metrics.Window[int]
	pnls     *metrics.Window[float64]
	returns  *metrics.Window[float64]
	equity   *metrics.Window[float64]

	multipliers map[string]float64
	last        map[string]float64
}

// NewConstraintEvaluator builds an evaluator from the metrics configuration.
// Initial multipliers are clamped into [alpha_floor, alpha_cap].
func NewConstraintEvaluator(cfg config.Metrics) *ConstraintEvaluator {
	p := cfg.Penalties
	e := &ConstraintEvaluator{
		cfg:      cfg,
		outcomes: metrics.NewWindow[int](cfg.Windows.WinRate),
		pnls:     metrics.NewWindow[float64](cfg.Windows.ProfitFactor),
		returns:  metrics.NewWindow[float64](cfg.Windows.Sharpe),
		equity:   metrics.NewWindow[float64](cfg.Windows.MDD),
		multipliers: map[string]float64{
			MetricWinRate:      p.WinRate,
			MetricProfitFactor: p.ProfitFactor,
			MetricSharpe:       p.Sharpe,
			MetricROI:          p.ROI,
			MetricMaxDrawdown:  p.MDD,
		},
		last: make(map[string]float64, len(MetricOrder)),
	}
	for k, v := range e.multipliers {
		e.multipliers[k] = clamp(v, p.AlphaFloor, p.AlphaCap)
	}
	return e
}

// Update records one realized step and returns the penalised reward.
func (e *ConstraintEvaluator) Update(pnl, equity float64) ConstraintResult {
	outcome := 0
	if pnl > 0 {
		outcome = 1
	}
	e.outcomes.Push(outcome)
	e.pnls.Push(pnl)
	e.returns.Push(pnl)
	e.equity.Push(equity)

	vola := metrics.StdDev(e.returns.Last(e.cfg.Reward.VolaWindow))
	reward := e.cfg.Reward.PnLScale*pnl - e.cfg.Reward.VolaLambda*vola

	eq := e.equity.Values()
	values := map[string]float64{
		MetricWinRate:      metrics.WinRate(e.outcomes.Values()),
		MetricProfitFactor: metrics.ProfitFactor(e.pnls.Values()),
		MetricSharpe:       metrics.Sharpe(e.returns.Values()),
		MetricROI:          metrics.ROI(eq),
		MetricMaxDrawdown:  metrics.MaxDrawdown(eq),
	}
	e.last = values

	p := e.cfg.Penalties
	penalty, level := 0.0, 0.0
	for _, name := range MetricOrder {
		target := e.target(name)
		var violation float64
		if name == MetricMaxDrawdown {
			violation = math.Max(0, values[name]-target)
		} else {
			violation = math.Max(0, target-values[name])
		}

		if violation > 0 {
			alpha := math.Min(p.AlphaCap, e.multipliers[name]*p.IncreaseFactor)
			e.multipliers[name] = alpha
			penalty += alpha * violation
			level = math.Max(level, violation/(target+1e-9))
		} else {
			e.multipliers[name] = math.Max(p.AlphaFloor, e.multipliers[name]*p.DecreaseFactor)
		}
	}

	return ConstraintResult{
		Reward:         reward - penalty,
		Penalty:        penalty,
		Multipliers:    e.Multipliers(),
		ViolationLevel: level,
	}
}

// Multipliers returns a snapshot of the current multipliers.
func (e *ConstraintEvaluator) Multipliers() map[string]float64 {
	out := make(map[string]float64, len(e.multipliers))
	for k, v := range e.multipliers {
		out[k] = v
	}
	return out
}

// Metrics returns the metric values computed by the last Update.
func (e *ConstraintEvaluator) Metrics() map[string]float64 {
	out := make(map[string]float64, len(e.last))
	for k, v := range e.last {
		out[k] = v
	}
	return out
}

func (e *ConstraintEvaluator) target(name string) float64 {
	t := e.cfg.Targets
	switch name {
	case MetricWinRate:
		return t.WinRate
	case MetricProfitFactor:
		return t.ProfitFactor
	case MetricSharpe:
		return t.Sharpe
	case MetricROI:
		return t.ROI
	default:
		return t.MDD
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
