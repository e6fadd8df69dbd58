package metrics

import (
	"math"

	"policytrader/internal/domain"
)

// TradingDays annualises per-step Sharpe ratios.
const TradingDays = 252

// WinRate returns the fraction of outcomes equal to 1. Empty input yields 0.
func WinRate(outcomes []int) float64 {
	if len(outcomes) == 0 {
		return 0
	}
	wins := 0
	for _, o := range outcomes {
		if o == 1 {
			wins++
		}
	}
	return float64(wins) / float64(len(outcomes))
}

// ProfitFactor returns gross gains over gross losses. With no losses it is
// +Inf when there were gains and 0 otherwise.
func ProfitFactor(pnls []float64) float64 {
	var gains, losses float64
	for _, p := range pnls {
		if p > 0 {
			gains += p
		} else if p < 0 {
			losses -= p
		}
	}
	if losses == 0 {
		if gains > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return gains / losses
}

// Mean returns the arithmetic mean, 0 for empty input.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the sample standard deviation (n-1 denominator). Fewer than
// two values yield 0.
func StdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// Sharpe returns the annualised Sharpe ratio of per-step returns. It is 0
// with fewer than two returns or zero dispersion.
func Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := StdDev(returns)
	if sd == 0 {
		return 0
	}
	return math.Sqrt(TradingDays) * Mean(returns) / sd
}

// ROI returns last/first - 1 over an equity series. It is 0 with fewer than
// two points or a non-positive first point.
func ROI(equity []float64) float64 {
	if len(equity) < 2 || equity[0] <= 0 {
		return 0
	}
	return equity[len(equity)-1]/equity[0] - 1
}

// MaxDrawdown returns the largest peak-to-trough decline as a fraction of the
// running peak. Points whose running peak is not positive are skipped.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	mdd := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - e) / peak; dd > mdd {
			mdd = dd
		}
	}
	return mdd
}

// Summarize builds a reporting snapshot from realized per-step PnL and the
// equity curve. ROI compounds the PnL series as per-step returns.
func Summarize(pnls, equity []float64) domain.Summary {
	outcomes := make([]int, len(pnls))
	growth := 1.0
	for i, p := range pnls {
		if p > 0 {
			outcomes[i] = 1
		}
		growth *= 1 + p
	}
	roi := 0.0
	if len(pnls) > 0 {
		roi = growth - 1
	}
	return domain.Summary{
		WinRate:      WinRate(outcomes),
		ProfitFactor: ProfitFactor(pnls),
		Sharpe:       Sharpe(pnls),
		ROI:          roi,
		MaxDrawdown:  MaxDrawdown(equity),
	}
}

// Targets are the thresholds a summary is checked against. MaxDrawdown is an
// upper bound, the rest are lower bounds.
type Targets struct {
	WinRate      float64
	ProfitFactor float64
	Sharpe       float64
	ROI          float64
	MaxDrawdown  float64
}

// EvaluateTargets reports, per metric name, whether s meets t.
func EvaluateTargets(s domain.Summary, t Targets) map[string]bool {
	return map[string]bool{
		"winrate":       s.WinRate >= t.WinRate,
		"profit_factor": s.ProfitFactor >= t.ProfitFactor,
		"sharpe":        s.Sharpe >= t.Sharpe,
		"roi":           s.ROI >= t.ROI,
		"mdd":           s.MaxDrawdown <= t.MaxDrawdown,
	}
}
