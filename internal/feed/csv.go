package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"policytrader/internal/domain"
	"policytrader/internal/util"
)

// CSVFeed replays bars from a CSV file with a header row naming at least
// timestamp, open, high, low, close, and volume. An optional symbol column
// overrides the default symbol. Timestamps may be Unix seconds, Unix
// milliseconds, or RFC 3339.
type CSVFeed struct {
	r             *csv.Reader
	closer        io.Closer
	cols          map[string]int
	defaultSymbol string
	limiter       *util.RateLimiter
	line          int
}

var csvRequired = []string{"timestamp", "open", "high", "low", "close", "volume"}

// OpenCSVFeed opens path and reads its header.
func OpenCSVFeed(path, defaultSymbol string, delay time.Duration) (*CSVFeed, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	f, err := NewCSVFeed(fh, defaultSymbol, delay)
	if err != nil {
		fh.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.closer = fh
	return f, nil
}

// NewCSVFeed reads the header from r and returns a feed over its rows.
func NewCSVFeed(r io.Reader, defaultSymbol string, delay time.Duration) (*CSVFeed, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range csvRequired {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("csv header missing column %q", name)
		}
	}
	return &CSVFeed{
		r:             cr,
		cols:          cols,
		defaultSymbol: defaultSymbol,
		limiter:       util.NewIntervalLimiter(delay),
		line:          1,
	}, nil
}

// Name returns "csv".
func (f *CSVFeed) Name() string { return "csv" }

// Next parses the next row.
func (f *CSVFeed) Next(ctx context.Context) (domain.Bar, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return domain.Bar{}, err
	}
	row, err := f.r.Read()
	if errors.Is(err, io.EOF) {
		return domain.Bar{}, io.EOF
	}
	if err != nil {
		return domain.Bar{}, err
	}
	f.line++

	ts, err := parseTimestamp(row[f.cols["timestamp"]])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("line %d: %w", f.line, err)
	}
	bar := domain.Bar{Symbol: f.defaultSymbol, Timestamp: ts}
	if i, ok := f.cols["symbol"]; ok && i < len(row) && row[i] != "" {
		bar.Symbol = strings.ToUpper(row[i])
	}
	for _, fld := range []struct {
		name string
		dst  *float64
	}{
		{"open", &bar.Open},
		{"high", &bar.High},
		{"low", &bar.Low},
		{"close", &bar.Close},
		{"volume", &bar.Volume},
	} {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[f.cols[fld.name]]), 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("line %d: column %s: %w", f.line, fld.name, err)
		}
		*fld.dst = v
	}
	return bar, nil
}

// Close closes the underlying file when the feed was opened from a path.
func (f *CSVFeed) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return n / 1000, nil
		}
		return n, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, fmt.Errorf("unrecognised timestamp %q", s)
	}
	return t.Unix(), nil
}
