package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"policytrader/internal/config"
	"policytrader/internal/feed"
	"policytrader/internal/store"
	"policytrader/internal/util"
)

func main() {
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (default: feed/runtime symbols from config)")
	start := flag.String("start", "", "range start, 2006-01-02 or RFC 3339 (default: feed.start)")
	end := flag.String("end", "", "range end (default: feed.end, or now)")
	timeframe := flag.String("timeframe", "", "bar timeframe such as 5Min or 1Day (default: feed.timeframe)")
	flag.Parse()

	_ = godotenv.Load()

	cfgPath := "config/policy.yaml"
	if p := os.Getenv("POLICY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, "text", os.Stdout)
	util.SetDefault(logger)

	symbols := cfg.FeedSymbols()
	if *symbolsFlag != "" {
		symbols = nil
		for _, s := range strings.Split(*symbolsFlag, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
	}
	if *start == "" {
		*start = cfg.Feed.Start
	}
	if *end == "" {
		*end = cfg.Feed.End
	}
	if *timeframe == "" {
		*timeframe = cfg.Feed.Timeframe
	}
	from, to, err := feed.ParseRange(*start, *end)
	if err != nil {
		log.Fatalf("invalid range: %v", err)
	}

	af, err := feed.NewAlpacaFeed(feed.AlpacaOptions{
		APIKey:            cfg.Alpaca.APIKey,
		APISecret:         cfg.Alpaca.APISecret,
		DataURL:           cfg.Alpaca.DataURL,
		Feed:              cfg.Alpaca.Feed,
		Symbols:           symbols,
		Timeframe:         *timeframe,
		Start:             from,
		End:               to,
		RequestsPerMinute: 200,
	})
	if err != nil {
		log.Fatalf("failed to create alpaca client: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("fetching bars", "symbols", symbols, "timeframe", *timeframe, "start", from, "end", to)
	bars, err := af.Fetch(ctx)
	if err != nil {
		log.Fatalf("fetch failed: %v", err)
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	if err := pstore.WriteBars(ctx, bars); err != nil {
		log.Fatalf("write failed: %v", err)
	}

	counts := make(map[string]int, len(symbols))
	for _, b := range bars {
		counts[b.Symbol]++
	}
	for _, s := range symbols {
		slog.Info("stored bars", "symbol", s, "count", counts[s], "data_dir", cfg.Storage.DataDir)
	}
}
