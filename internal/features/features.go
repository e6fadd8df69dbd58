// Package features derives the policy's covariate vector from recent bars.
package features

import (
	"fmt"
	"math"

	"policytrader/internal/domain"
	"policytrader/internal/metrics"
)

// MinBars is the shortest history Compute accepts.
const MinBars = 30

// Names lists the covariates in the order Compute returns them.
var Names = []string{
	"return_1",
	"return_5",
	"return_10",
	"volatility_10",
	"sma_ratio",
	"volume_zscore",
}

// Compute returns the feature vector for the newest bar in bars (oldest
// first). Undefined values (division by zero, missing history) fall back to
// 0, except sma_ratio which falls back to 1.
func Compute(bars []domain.Bar) ([]float64, error) {
	if len(bars) < MinBars {
		return nil, fmt.Errorf("features need %d bars, have %d", MinBars, len(bars))
	}
	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	returns := make([]float64, 10)
	for i := range returns {
		j := len(closes) - 10 + i
		returns[i] = pctChange(closes, j, 1)
	}

	return []float64{
		pctChange(closes, len(closes)-1, 1),
		pctChange(closes, len(closes)-1, 5),
		pctChange(closes, len(closes)-1, 10),
		metrics.StdDev(returns),
		smaRatio(closes, 5, 15),
		zscore(volumes[len(volumes)-10:]),
	}, nil
}

func pctChange(xs []float64, i, periods int) float64 {
	if i-periods < 0 {
		return 0
	}
	return finite(xs[i]/xs[i-periods] - 1)
}

func smaRatio(closes []float64, fast, slow int) float64 {
	f := metrics.Mean(closes[len(closes)-fast:])
	s := metrics.Mean(closes[len(closes)-slow:])
	if s == 0 {
		if f == 0 {
			return 1
		}
		return 0
	}
	return f / s
}

func zscore(window []float64) float64 {
	sd := metrics.StdDev(window)
	if sd == 0 {
		return 0
	}
	return finite((window[len(window)-1] - metrics.Mean(window)) / sd)
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
