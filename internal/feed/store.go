package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"policytrader/internal/domain"
	"policytrader/internal/store"
)

// StoreFeed replays archived bars for several symbols, merged by timestamp.
// Bars are loaded on the first call to Next.
type StoreFeed struct {
	src        store.BarStore
	symbols    []string
	start, end time.Time
	replay     *replay
}

// NewStoreFeed creates a feed over src for symbols within [start, end].
func NewStoreFeed(src store.BarStore, symbols []string, start, end time.Time) *StoreFeed {
	upper := make([]string, len(symbols))
	for i, s := range symbols {
		upper[i] = strings.ToUpper(s)
	}
	return &StoreFeed{src: src, symbols: upper, start: start, end: end}
}

// Name returns "parquet".
func (f *StoreFeed) Name() string { return "parquet" }

// Next returns the next archived bar.
func (f *StoreFeed) Next(ctx context.Context) (domain.Bar, error) {
	if f.replay == nil {
		var all []domain.Bar
		for _, sym := range f.symbols {
			bars, err := f.src.ReadBars(ctx, sym, f.start, f.end)
			if err != nil {
				return domain.Bar{}, fmt.Errorf("reading %s: %w", sym, err)
			}
			all = append(all, bars...)
		}
		mergeByTime(all, f.symbols)
		f.replay = &replay{bars: all}
	}
	return f.replay.next(ctx)
}
