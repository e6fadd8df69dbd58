package feed

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"policytrader/internal/domain"
	"policytrader/internal/util"
)

const (
	syntheticDrift = 0.0005
	syntheticShock = 0.002
	syntheticWick  = 0.0007
)

// SyntheticFeed generates an endless seeded random walk of bars, rotating
// through its symbols. It is the default offline source.
type SyntheticFeed struct {
	symbols  []string
	rng      *rand.Rand
	limiter  *util.RateLimiter
	last     map[string]float64
	start    int64
	interval int64
	n        int
}

// NewSyntheticFeed creates a feed for symbols starting at startPrice. delay
// paces bars in wall-clock time; zero emits as fast as the caller reads.
func NewSyntheticFeed(symbols []string, startPrice float64, delay time.Duration, rng *rand.Rand) *SyntheticFeed {
	if len(symbols) == 0 {
		symbols = []string{""}
	}
	if startPrice <= 0 {
		startPrice = 100
	}
	last := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		last[s] = startPrice
	}
	return &SyntheticFeed{
		symbols:  symbols,
		rng:      rng,
		limiter:  util.NewIntervalLimiter(delay),
		last:     last,
		start:    time.Now().UTC().Truncate(time.Minute).Unix(),
		interval: 60,
	}
}

// Name returns "synthetic".
func (f *SyntheticFeed) Name() string { return "synthetic" }

// Prime sets the last price of every symbol to the final element of prices.
func (f *SyntheticFeed) Prime(prices []float64) {
	if len(prices) == 0 {
		return
	}
	p := prices[len(prices)-1]
	for s := range f.last {
		f.last[s] = p
	}
}

// Next returns the next generated bar.
func (f *SyntheticFeed) Next(ctx context.Context) (domain.Bar, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return domain.Bar{}, err
	}

	symbol := f.symbols[f.n%len(f.symbols)]
	round := int64(f.n / len(f.symbols))
	f.n++

	prev := f.last[symbol]
	shock := f.rng.NormFloat64() * syntheticShock
	closePx := math.Max(1e-3, prev*(1+syntheticDrift+shock))
	high := math.Max(prev, closePx) * (1 + math.Abs(f.rng.NormFloat64()*syntheticWick))
	low := math.Min(prev, closePx) * (1 - math.Abs(f.rng.NormFloat64()*syntheticWick))
	volume := math.Abs(1 + f.rng.NormFloat64()*0.2)
	f.last[symbol] = closePx

	return domain.Bar{
		Symbol:    symbol,
		Timestamp: f.start + round*f.interval,
		Open:      prev,
		High:      math.Max(high, closePx),
		Low:       math.Min(low, closePx),
		Close:     closePx,
		Volume:    volume,
	}, nil
}
