package features

import (
	"math"
	"testing"

	"policytrader/internal/domain"
)

func series(n int, f func(i int) (close, volume float64)) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		c, v := f(i)
		bars[i] = domain.Bar{Timestamp: int64(i), Open: c, High: c, Low: c, Close: c, Volume: v}
	}
	return bars
}

func TestComputeRequiresHistory(t *testing.T) {
	bars := series(MinBars-1, func(i int) (float64, float64) { return 100, 1 })
	if _, err := Compute(bars); err == nil {
		t.Fatal("Compute with short history returned nil error")
	}
}

func TestComputeConstantSeries(t *testing.T) {
	bars := series(40, func(i int) (float64, float64) { return 100, 1 })
	got, err := Compute(bars)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	want := []float64{0, 0, 0, 0, 1, 0}
	if len(got) != len(Names) {
		t.Fatalf("len(features) = %d, want %d", len(got), len(Names))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s = %v, want %v", Names[i], got[i], want[i])
		}
	}
}

func TestComputeTrendingSeries(t *testing.T) {
	bars := series(30, func(i int) (float64, float64) { return 100 + float64(i), float64(1 + i%3) })
	got, err := Compute(bars)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if want := 129.0/128.0 - 1; math.Abs(got[0]-want) > 1e-12 {
		t.Errorf("return_1 = %v, want %v", got[0], want)
	}
	if want := 129.0/124.0 - 1; math.Abs(got[1]-want) > 1e-12 {
		t.Errorf("return_5 = %v, want %v", got[1], want)
	}
	if want := 129.0/119.0 - 1; math.Abs(got[2]-want) > 1e-12 {
		t.Errorf("return_10 = %v, want %v", got[2], want)
	}
	if got[3] <= 0 {
		t.Errorf("volatility_10 = %v, want > 0", got[3])
	}
	if got[4] <= 1 {
		t.Errorf("sma_ratio = %v, want > 1 for rising closes", got[4])
	}
	for i, v := range got {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("%s is not finite: %v", Names[i], v)
		}
	}
}

func TestComputeZeroPricesStayFinite(t *testing.T) {
	bars := series(30, func(i int) (float64, float64) { return 0, 0 })
	got, err := Compute(bars)
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	for i, v := range got {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("%s is not finite: %v", Names[i], v)
		}
	}
	if got[4] != 1 {
		t.Errorf("sma_ratio = %v, want 1 when undefined", got[4])
	}
}
