package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"policytrader/internal/domain"
	"policytrader/internal/util"
)

// DefaultBinanceURL is the public spot market stream endpoint.
const DefaultBinanceURL = "wss://stream.binance.com:9443/ws"

// BinanceFeed streams closed klines from Binance over a websocket. The
// connection is opened on the first call to Next and re-dialled with
// exponential backoff when it drops.
type BinanceFeed struct {
	URL          string
	Symbols      []string
	Interval     string
	ReadTimeout  time.Duration
	PingInterval time.Duration
	// MaxRetries bounds consecutive failed sessions. Zero retries forever.
	MaxRetries int
	RetryDelay time.Duration

	bars   chan domain.Bar
	errs   chan error
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
	log    *slog.Logger
}

// NewBinanceFeed creates a kline feed. interval accepts Binance notation
// ("1m", "1h") or the "5Min"/"1Hour" form used elsewhere in configuration.
func NewBinanceFeed(url string, symbols []string, interval string) *BinanceFeed {
	if url == "" {
		url = DefaultBinanceURL
	}
	return &BinanceFeed{
		URL:          url,
		Symbols:      symbols,
		Interval:     binanceInterval(interval),
		ReadTimeout:  60 * time.Second,
		PingInterval: 20 * time.Second,
		RetryDelay:   time.Second,
		bars:         make(chan domain.Bar, 1024),
		errs:         make(chan error, 1),
		done:         make(chan struct{}),
		log:          slog.Default().With("feed", "binance"),
	}
}

// Name returns "binance".
func (f *BinanceFeed) Name() string { return "binance" }

// Next blocks until a closed kline arrives, the stream fails permanently, or
// ctx is cancelled.
func (f *BinanceFeed) Next(ctx context.Context) (domain.Bar, error) {
	f.once.Do(func() {
		runCtx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		go f.run(runCtx)
	})
	select {
	case <-ctx.Done():
		return domain.Bar{}, ctx.Err()
	case b := <-f.bars:
		return b, nil
	case err := <-f.errs:
		return domain.Bar{}, err
	}
}

// Close stops the stream and waits for the connection to shut down.
func (f *BinanceFeed) Close() error {
	f.once.Do(func() { close(f.done) })
	if f.cancel != nil {
		f.cancel()
		<-f.done
	}
	return nil
}

func (f *BinanceFeed) run(ctx context.Context) {
	defer close(f.done)
	err := util.Retry(ctx, f.MaxRetries, f.RetryDelay, 30*time.Second, func() error {
		err := f.session(ctx)
		if err != nil && ctx.Err() == nil {
			f.log.Warn("stream session ended", "error", err)
		}
		return err
	})
	if ctx.Err() != nil {
		return
	}
	f.errs <- fmt.Errorf("binance stream: %w", err)
}

// session dials, subscribes, and pumps messages until the connection fails.
func (f *BinanceFeed) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	f.log.Info("connected", "url", f.URL, "symbols", f.Symbols, "interval", f.Interval)

	var writeMu sync.Mutex
	write := func(kind int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(kind, data)
	}

	params := make([]string, 0, len(f.Symbols))
	for _, s := range f.Symbols {
		params = append(params, strings.ToLower(s)+"@kline_"+f.Interval)
	}
	sub, err := json.Marshal(map[string]any{
		"method": "SUBSCRIBE",
		"params": params,
		"id":     time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	if err := write(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(f.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))

		bar, ok, err := parseKline(raw)
		if err != nil {
			f.log.Debug("skipping message", "error", err)
			continue
		}
		if !ok {
			continue
		}
		select {
		case f.bars <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// klineEvent is the payload of a <symbol>@kline_<interval> stream, either
// raw or wrapped in a combined-stream envelope.
type klineEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		OpenTime int64  `json:"t"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
	Data *klineEvent `json:"data"`
}

// parseKline returns a bar for closed klines and ok=false for everything
// else, including subscription acknowledgements and in-progress klines.
func parseKline(raw []byte) (domain.Bar, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return domain.Bar{}, false, err
	}
	if ev.Data != nil {
		ev = *ev.Data
	}
	if ev.Event != "kline" || !ev.Kline.Closed {
		return domain.Bar{}, false, nil
	}

	k := ev.Kline
	bar := domain.Bar{Symbol: strings.ToUpper(ev.Symbol), Timestamp: k.OpenTime / 1000}
	for _, fld := range []struct {
		s   string
		dst *float64
	}{
		{k.Open, &bar.Open},
		{k.High, &bar.High},
		{k.Low, &bar.Low},
		{k.Close, &bar.Close},
		{k.Volume, &bar.Volume},
	} {
		v, err := strconv.ParseFloat(fld.s, 64)
		if err != nil {
			return domain.Bar{}, false, fmt.Errorf("kline %s: %w", ev.Symbol, err)
		}
		*fld.dst = v
	}
	return bar, true, nil
}

func binanceInterval(tf string) string {
	switch {
	case tf == "":
		return "1m"
	case strings.HasSuffix(tf, "Min"):
		return strings.TrimSuffix(tf, "Min") + "m"
	case strings.HasSuffix(tf, "Hour"):
		return strings.TrimSuffix(tf, "Hour") + "h"
	case strings.HasSuffix(tf, "Day"):
		return strings.TrimSuffix(tf, "Day") + "d"
	case strings.HasSuffix(tf, "Week"):
		return strings.TrimSuffix(tf, "Week") + "w"
	default:
		return tf
	}
}
