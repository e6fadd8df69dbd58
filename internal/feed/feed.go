// Package feed provides sources of market bars for the policy runner:
// a seeded synthetic random walk, CSV and Parquet replay, Alpaca historical
// bars, and a live Binance kline stream.
package feed

import (
	"context"
	"io"
	"sort"

	"policytrader/internal/domain"
)

// Feed yields bars one at a time. Finite feeds return io.EOF after the last
// bar. Next must return promptly with ctx.Err() once ctx is cancelled.
type Feed interface {
	Name() string
	Next(ctx context.Context) (domain.Bar, error)
}

// Close releases feed resources if the feed holds any.
func Close(f Feed) error {
	if c, ok := f.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Replay of a preloaded bar slice
// ---------------------------------------------------------------------------

// replay serves a fixed slice of bars in order.
type replay struct {
	bars []domain.Bar
	pos  int
}

func (r *replay) next(ctx context.Context) (domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return domain.Bar{}, err
	}
	if r.pos >= len(r.bars) {
		return domain.Bar{}, io.EOF
	}
	b := r.bars[r.pos]
	r.pos++
	return b, nil
}

// mergeByTime orders bars by timestamp. Bars sharing a timestamp keep the
// order of symbols.
func mergeByTime(bars []domain.Bar, symbols []string) {
	rank := make(map[string]int, len(symbols))
	for i, s := range symbols {
		rank[s] = i
	}
	sort.SliceStable(bars, func(i, j int) bool {
		if bars[i].Timestamp != bars[j].Timestamp {
			return bars[i].Timestamp < bars[j].Timestamp
		}
		return rank[bars[i].Symbol] < rank[bars[j].Symbol]
	})
}
