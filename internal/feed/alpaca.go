package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"policytrader/internal/domain"
	"policytrader/internal/util"
)

// barsClient is the subset of the Alpaca market-data client used here.
type barsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// AlpacaOptions configures an AlpacaFeed.
type AlpacaOptions struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string // "sip" or "iex"; empty uses the account default
	Symbols   []string
	Timeframe string
	Start     time.Time
	End       time.Time
	// BatchSize bounds symbols per request. Zero means all at once.
	BatchSize int
	// RequestsPerMinute paces API calls. Zero disables pacing.
	RequestsPerMinute int
}

// AlpacaFeed replays historical bars fetched from Alpaca's market-data API.
type AlpacaFeed struct {
	client  barsClient
	opts    AlpacaOptions
	tf      marketdata.TimeFrame
	limiter *util.RateLimiter
	log     *slog.Logger
	replay  *replay
}

// NewAlpacaFeed creates a feed backed by a real market-data client.
func NewAlpacaFeed(opts AlpacaOptions) (*AlpacaFeed, error) {
	co := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		co.BaseURL = opts.DataURL
	}
	return newAlpacaFeed(marketdata.NewClient(co), opts)
}

func newAlpacaFeed(client barsClient, opts AlpacaOptions) (*AlpacaFeed, error) {
	tf, err := ParseTimeFrame(opts.Timeframe)
	if err != nil {
		return nil, err
	}
	if len(opts.Symbols) == 0 {
		return nil, fmt.Errorf("alpaca feed: no symbols")
	}
	return &AlpacaFeed{
		client:  client,
		opts:    opts,
		tf:      tf,
		limiter: util.NewRateLimiter(opts.RequestsPerMinute),
		log:     slog.Default().With("feed", "alpaca"),
	}, nil
}

// Name returns "alpaca".
func (f *AlpacaFeed) Name() string { return "alpaca" }

// Next returns the next fetched bar. The full range is fetched on the first
// call.
func (f *AlpacaFeed) Next(ctx context.Context) (domain.Bar, error) {
	if f.replay == nil {
		bars, err := f.Fetch(ctx)
		if err != nil {
			return domain.Bar{}, err
		}
		f.replay = &replay{bars: bars}
	}
	return f.replay.next(ctx)
}

// Fetch downloads all bars for the configured symbols and range, merged by
// timestamp.
func (f *AlpacaFeed) Fetch(ctx context.Context) ([]domain.Bar, error) {
	symbols := make([]string, len(f.opts.Symbols))
	for i, s := range f.opts.Symbols {
		symbols[i] = strings.ToUpper(s)
	}
	batch := f.opts.BatchSize
	if batch <= 0 {
		batch = len(symbols)
	}

	var all []domain.Bar
	for i := 0; i < len(symbols); i += batch {
		end := min(i+batch, len(symbols))
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		multi, err := f.client.GetMultiBars(symbols[i:end], marketdata.GetBarsRequest{
			TimeFrame: f.tf,
			Start:     f.opts.Start,
			End:       f.opts.End,
			Feed:      f.opts.Feed,
		})
		if err != nil {
			return nil, fmt.Errorf("GetMultiBars: %w", err)
		}
		for symbol, abs := range multi {
			for _, ab := range abs {
				all = append(all, domain.Bar{
					Symbol:    strings.ToUpper(symbol),
					Timestamp: ab.Timestamp.Unix(),
					Open:      ab.Open,
					High:      ab.High,
					Low:       ab.Low,
					Close:     ab.Close,
					Volume:    float64(ab.Volume),
				})
			}
		}
		f.log.Debug("fetched batch", "symbols", end-i, "bars", len(all))
	}
	mergeByTime(all, symbols)
	return all, nil
}

// ParseTimeFrame converts strings such as "1Min", "5Min", "1Hour", or "1Day"
// into an Alpaca timeframe. An empty string means one minute.
func ParseTimeFrame(s string) (marketdata.TimeFrame, error) {
	if s == "" {
		return marketdata.OneMin, nil
	}
	units := []struct {
		suffix string
		unit   marketdata.TimeFrameUnit
	}{
		{"Min", marketdata.Min},
		{"Hour", marketdata.Hour},
		{"Day", marketdata.Day},
		{"Week", marketdata.Week},
		{"Month", marketdata.Month},
	}
	for _, u := range units {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			n, err := strconv.Atoi(num)
			if err != nil || n <= 0 {
				return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe %q", s)
			}
			return marketdata.NewTimeFrame(n, u.unit), nil
		}
	}
	return marketdata.TimeFrame{}, fmt.Errorf("invalid timeframe %q", s)
}
