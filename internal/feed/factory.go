package feed

import (
	"fmt"
	"math/rand/v2"
	"time"

	"policytrader/internal/config"
	"policytrader/internal/store"
)

// New builds the feed selected by cfg.Feed.Type. bars is required for the
// parquet feed and ignored otherwise.
func New(cfg *config.Config, bars store.BarStore, rng *rand.Rand) (Feed, error) {
	fc := cfg.Feed
	symbols := cfg.FeedSymbols()
	delay := time.Duration(fc.DelaySeconds * float64(time.Second))

	switch fc.Type {
	case "synthetic":
		return NewSyntheticFeed(symbols, fc.StartPrice, delay, rng), nil

	case "csv":
		return OpenCSVFeed(fc.Path, symbols[0], delay)

	case "parquet":
		if bars == nil {
			return nil, fmt.Errorf("parquet feed requires a bar store")
		}
		start, end, err := ParseRange(fc.Start, fc.End)
		if err != nil {
			return nil, err
		}
		return NewStoreFeed(bars, symbols, start, end), nil

	case "alpaca":
		start, end, err := ParseRange(fc.Start, fc.End)
		if err != nil {
			return nil, err
		}
		return NewAlpacaFeed(AlpacaOptions{
			APIKey:            cfg.Alpaca.APIKey,
			APISecret:         cfg.Alpaca.APISecret,
			DataURL:           cfg.Alpaca.DataURL,
			Feed:              cfg.Alpaca.Feed,
			Symbols:           symbols,
			Timeframe:         fc.Timeframe,
			Start:             start,
			End:               end,
			RequestsPerMinute: 200,
		})

	case "binance":
		return NewBinanceFeed(fc.URL, symbols, fc.Timeframe), nil

	default:
		return nil, fmt.Errorf("unsupported feed type %q", fc.Type)
	}
}

// ParseRange parses start and end as dates (2006-01-02) or RFC 3339
// timestamps. An empty end means now; an empty start means 30 days before
// end.
func ParseRange(start, end string) (time.Time, time.Time, error) {
	e := time.Now().UTC()
	if end != "" {
		t, err := parseTime(end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("feed.end: %w", err)
		}
		e = t
	}
	s := e.AddDate(0, 0, -30)
	if start != "" {
		t, err := parseTime(start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("feed.start: %w", err)
		}
		s = t
	}
	if s.After(e) {
		return time.Time{}, time.Time{}, fmt.Errorf("feed.start %s is after feed.end %s", s.Format(time.DateOnly), e.Format(time.DateOnly))
	}
	return s, e, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}
