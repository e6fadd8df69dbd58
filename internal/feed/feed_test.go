package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policytrader/internal/config"
	"policytrader/internal/domain"
	"policytrader/internal/store"
)

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+7))
}

// ---------------------------------------------------------------------------
// Synthetic
// ---------------------------------------------------------------------------

func TestSyntheticFeedBarsAreConsistent(t *testing.T) {
	f := NewSyntheticFeed([]string{"BTCUSDT", "ETHUSDT"}, 100, 0, newRNG(1))
	ctx := context.Background()

	prevTS := map[string]int64{}
	for i := 0; i < 200; i++ {
		b, err := f.Next(ctx)
		require.NoError(t, err)
		want := "BTCUSDT"
		if i%2 == 1 {
			want = "ETHUSDT"
		}
		require.Equal(t, want, b.Symbol)
		assert.GreaterOrEqual(t, b.High, b.Close)
		assert.GreaterOrEqual(t, b.High, b.Open)
		assert.LessOrEqual(t, b.Low, b.Close)
		assert.LessOrEqual(t, b.Low, b.Open)
		assert.Greater(t, b.Close, 0.0)
		assert.GreaterOrEqual(t, b.Volume, 0.0)
		if ts, ok := prevTS[b.Symbol]; ok {
			assert.Greater(t, b.Timestamp, ts)
		}
		prevTS[b.Symbol] = b.Timestamp
	}
}

func TestSyntheticFeedSeededDeterminism(t *testing.T) {
	read := func() []float64 {
		f := NewSyntheticFeed([]string{"X"}, 100, 0, newRNG(42))
		out := make([]float64, 50)
		for i := range out {
			b, err := f.Next(context.Background())
			require.NoError(t, err)
			out[i] = b.Close
		}
		return out
	}
	assert.Equal(t, read(), read())
}

func TestSyntheticFeedPrime(t *testing.T) {
	f := NewSyntheticFeed([]string{"X"}, 100, 0, newRNG(3))
	f.Prime([]float64{10, 20, 50})
	b, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50.0, b.Open)
	assert.InDelta(t, 50, b.Close, 5)
}

func TestSyntheticFeedCancelled(t *testing.T) {
	f := NewSyntheticFeed([]string{"X"}, 100, time.Hour, newRNG(4))
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.Next(ctx) // first token is free
	require.NoError(t, err)
	cancel()
	_, err = f.Next(ctx)
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

func TestCSVFeed(t *testing.T) {
	data := `timestamp,symbol,open,high,low,close,volume
1700000000,btcusdt,1,2,0.5,1.5,10
1700000060,,1.5,2.5,1,2,11
2024-01-02T00:00:00Z,ETHUSDT,3,4,2,3.5,12
`
	f, err := NewCSVFeed(strings.NewReader(data), "DEFAULT", 0)
	require.NoError(t, err)
	ctx := context.Background()

	b, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Bar{Symbol: "BTCUSDT", Timestamp: 1700000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}, b)

	b, err = f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DEFAULT", b.Symbol)

	b, err = f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Unix(), b.Timestamp)

	_, err = f.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestCSVFeedMillisecondTimestamps(t *testing.T) {
	f, err := NewCSVFeed(strings.NewReader("timestamp,open,high,low,close,volume\n1700000000000,1,1,1,1,1\n"), "X", 0)
	require.NoError(t, err)
	b, err := f.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), b.Timestamp)
}

func TestCSVFeedErrors(t *testing.T) {
	_, err := NewCSVFeed(strings.NewReader("timestamp,open,high,low,close\n"), "X", 0)
	assert.Error(t, err, "missing volume column")

	f, err := NewCSVFeed(strings.NewReader("timestamp,open,high,low,close,volume\n1,a,1,1,1,1\n"), "X", 0)
	require.NoError(t, err)
	_, err = f.Next(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "open")

	_, err = OpenCSVFeed(filepath.Join(t.TempDir(), "missing.csv"), "X", 0)
	assert.Error(t, err)
}

func TestOpenCSVFeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	require.NoError(t, os.WriteFile(path, []byte("timestamp,open,high,low,close,volume\n1,1,1,1,1,1\n"), 0o644))
	f, err := OpenCSVFeed(path, "X", 0)
	require.NoError(t, err)
	defer Close(f)

	_, err = f.Next(context.Background())
	require.NoError(t, err)
	_, err = f.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

// ---------------------------------------------------------------------------
// Parquet replay
// ---------------------------------------------------------------------------

func TestStoreFeedMergesSymbols(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
	require.NoError(t, ps.WriteBars(ctx, []domain.Bar{
		{Symbol: "AAA", Timestamp: base, Close: 1},
		{Symbol: "AAA", Timestamp: base + 120, Close: 3},
		{Symbol: "BBB", Timestamp: base + 60, Close: 2},
		{Symbol: "BBB", Timestamp: base + 120, Close: 4},
	}))

	f := NewStoreFeed(ps, []string{"aaa", "bbb"}, time.Unix(base, 0), time.Unix(base+3600, 0))
	var closes []float64
	for {
		b, err := f.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		closes = append(closes, b.Close)
	}
	assert.Equal(t, []float64{1, 2, 3, 4}, closes)
}

// ---------------------------------------------------------------------------
// Alpaca
// ---------------------------------------------------------------------------

type fakeBarsClient struct {
	calls [][]string
	bars  map[string][]marketdata.Bar
	err   error
}

func (c *fakeBarsClient) GetMultiBars(symbols []string, _ marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	c.calls = append(c.calls, symbols)
	if c.err != nil {
		return nil, c.err
	}
	out := map[string][]marketdata.Bar{}
	for _, s := range symbols {
		out[s] = c.bars[s]
	}
	return out, nil
}

func TestAlpacaFeedFetchAndReplay(t *testing.T) {
	t0 := time.Date(2024, 6, 3, 14, 30, 0, 0, time.UTC)
	client := &fakeBarsClient{bars: map[string][]marketdata.Bar{
		"AAPL": {{Timestamp: t0, Open: 1, High: 1, Low: 1, Close: 1, Volume: 100}},
		"MSFT": {{Timestamp: t0.Add(-time.Minute), Close: 2, Volume: 5}},
	}}
	f, err := newAlpacaFeed(client, AlpacaOptions{Symbols: []string{"aapl", "msft"}, Timeframe: "1Min", BatchSize: 1})
	require.NoError(t, err)

	ctx := context.Background()
	first, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "MSFT", first.Symbol)
	second, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", second.Symbol)
	assert.Equal(t, 100.0, second.Volume)
	assert.Equal(t, t0.Unix(), second.Timestamp)
	_, err = f.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	assert.Len(t, client.calls, 2, "batch size 1 means one call per symbol")
}

func TestAlpacaFeedError(t *testing.T) {
	f, err := newAlpacaFeed(&fakeBarsClient{err: errors.New("boom")}, AlpacaOptions{Symbols: []string{"X"}})
	require.NoError(t, err)
	_, err = f.Next(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestParseTimeFrame(t *testing.T) {
	tf, err := ParseTimeFrame("5Min")
	require.NoError(t, err)
	assert.Equal(t, marketdata.NewTimeFrame(5, marketdata.Min), tf)

	tf, err = ParseTimeFrame("")
	require.NoError(t, err)
	assert.Equal(t, marketdata.OneMin, tf)

	for _, bad := range []string{"5", "xMin", "0Hour", "1Fortnight"} {
		_, err := ParseTimeFrame(bad)
		assert.Error(t, err, bad)
	}
}

// ---------------------------------------------------------------------------
// Binance
// ---------------------------------------------------------------------------

func kline(symbol string, openTime int64, closePx string, closed bool) []byte {
	msg := map[string]any{
		"e": "kline",
		"s": symbol,
		"k": map[string]any{
			"t": openTime * 1000,
			"o": "1.0", "h": "2.0", "l": "0.5", "c": closePx, "v": "42.5",
			"x": closed,
		},
	}
	b, _ := json.Marshal(msg)
	return b
}

func TestBinanceFeedEmitsClosedKlines(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan []string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub struct {
			Method string   `json:"method"`
			Params []string `json:"params"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub.Params

		conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
		conn.WriteMessage(websocket.TextMessage, kline("BTCUSDT", 1700000000, "1.1", false))
		conn.WriteMessage(websocket.TextMessage, kline("BTCUSDT", 1700000000, "1.5", true))
		wrapped, _ := json.Marshal(map[string]json.RawMessage{
			"stream": json.RawMessage(`"ethusdt@kline_1m"`),
			"data":   kline("ETHUSDT", 1700000060, "3.0", true),
		})
		conn.WriteMessage(websocket.TextMessage, wrapped)

		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	f := NewBinanceFeed("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"BTCUSDT", "ETHUSDT"}, "1Min")
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Bar{Symbol: "BTCUSDT", Timestamp: 1700000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 42.5}, b)

	b, err = f.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ETHUSDT", b.Symbol)
	assert.Equal(t, 3.0, b.Close)

	assert.Equal(t, []string{"btcusdt@kline_1m", "ethusdt@kline_1m"}, <-subscribed)
}

func TestBinanceFeedGivesUpAfterRetries(t *testing.T) {
	f := NewBinanceFeed("ws://127.0.0.1:1/ws", []string{"BTCUSDT"}, "1m")
	f.MaxRetries = 2
	f.RetryDelay = time.Millisecond
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.Next(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binance stream")
}

func TestBinanceInterval(t *testing.T) {
	cases := map[string]string{"": "1m", "5Min": "5m", "1Hour": "1h", "1Day": "1d", "15m": "15m"}
	for in, want := range cases {
		assert.Equal(t, want, binanceInterval(in), in)
	}
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

func TestNewSelectsFeed(t *testing.T) {
	cfg := config.Default()
	f, err := New(cfg, nil, newRNG(1))
	require.NoError(t, err)
	assert.Equal(t, "synthetic", f.Name())

	cfg.Feed.Type = "parquet"
	_, err = New(cfg, nil, newRNG(1))
	assert.Error(t, err, "parquet without store")

	f, err = New(cfg, store.NewParquetStore(t.TempDir()), newRNG(1))
	require.NoError(t, err)
	assert.Equal(t, "parquet", f.Name())

	cfg.Feed.Type = "binance"
	f, err = New(cfg, nil, newRNG(1))
	require.NoError(t, err)
	assert.Equal(t, "binance", f.Name())

	cfg.Feed.Type = "zmq"
	_, err = New(cfg, nil, newRNG(1))
	assert.Error(t, err)
}

func TestParseRange(t *testing.T) {
	s, e, err := ParseRange("2024-01-01", "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), s)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), e)

	s, e, err = ParseRange("", "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, e.AddDate(0, 0, -30), s)

	_, _, err = ParseRange("2024-03-01", "2024-02-01")
	assert.Error(t, err)
	_, _, err = ParseRange("yesterday", "")
	assert.Error(t, err)
}
