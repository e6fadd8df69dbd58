package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"policytrader/internal/api"
	"policytrader/internal/config"
	"policytrader/internal/engine"
	"policytrader/internal/features"
	"policytrader/internal/feed"
	"policytrader/internal/metrics"
	"policytrader/internal/report"
	"policytrader/internal/scorer/onnx"
	"policytrader/internal/store"
	"policytrader/internal/util"
)

func main() {
	maxSteps := flag.Int("max-steps", 0, "stop after this many bars (0 = until the feed ends)")
	quiet := flag.Bool("quiet", false, "do not print summary tables")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfgPath := "config/policy.yaml"
	if p := os.Getenv("POLICY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Logs go to stderr, plus a rotating file when configured.
	var w io.Writer = os.Stderr
	if cfg.Logging.File != "" {
		lc := cfg.Logging
		rw := util.NewRotatingWriter(lc.File, lc.MaxSizeMB, lc.MaxBackups, lc.MaxAgeDays, lc.Compress)
		defer rw.Close()
		w = io.MultiWriter(os.Stderr, rw)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format, w)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	src, err := feed.New(cfg, bars, rand.New(rand.NewPCG(cfg.Runtime.Seed, 0x5eed)))
	if err != nil {
		log.Fatalf("failed to create feed: %v", err)
	}
	defer feed.Close(src)

	opts := engine.Options{Logger: logger}

	if !*quiet {
		t := metrics.Targets{
			WinRate:      cfg.Metrics.Targets.WinRate,
			ProfitFactor: cfg.Metrics.Targets.ProfitFactor,
			Sharpe:       cfg.Metrics.Targets.Sharpe,
			ROI:          cfg.Metrics.Targets.ROI,
			MaxDrawdown:  cfg.Metrics.Targets.MDD,
		}
		opts.Reporter = report.Multi{report.NewTableReporter(os.Stdout, &t), report.NewLogReporter(logger)}
	} else {
		opts.Reporter = report.NewLogReporter(logger)
	}

	if cfg.Storage.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			log.Fatalf("failed to create journal directory: %v", err)
		}
		journal, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open journal: %v", err)
		}
		defer journal.Close()
		opts.Journal = journal
		logger.Info("journal opened", "path", cfg.Storage.SQLitePath, "run_id", journal.RunID())
	}

	if cfg.Model.ONNXPath != "" {
		sc, err := onnx.New(cfg.Model.ONNXPath, cfg.Model.ONNXLib, len(features.Names))
		if err != nil {
			log.Fatalf("failed to load model: %v", err)
		}
		defer sc.Close()
		opts.Scorer = sc
		logger.Info("onnx scorer loaded", "path", cfg.Model.ONNXPath)
	}

	var srv *api.Server
	if cfg.Server.GRPCAddr != "" {
		mon := api.NewMonitor()
		opts.Observer = mon
		srv = api.NewServer(cfg.Server.GRPCAddr, mon, logger)
	}

	eng, err := engine.NewEngine(cfg, opts)
	if err != nil {
		log.Fatalf("failed to create engine: %v", err)
	}

	slog.Info("policy-trader starting",
		"config", cfgPath,
		"feed", src.Name(),
		"symbols", eng.Symbols(),
		"max_steps", *maxSteps,
		"enforce", cfg.Safety.Enforce,
	)

	// The monitor stops when the engine returns.
	g, gctx := errgroup.WithContext(ctx)
	runCtx, stopServer := context.WithCancel(gctx)
	if srv != nil {
		g.Go(func() error { return srv.ListenAndServe(runCtx) })
	}
	g.Go(func() error {
		defer stopServer()
		err := eng.Run(runCtx, src, *maxSteps)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	runErr := g.Wait()

	for _, sym := range eng.Symbols() {
		if sc, ok := eng.Context(sym); ok && sc.Decisions() > 0 {
			s := sc.Summary()
			slog.Info("final",
				"symbol", sym,
				"steps", sc.Steps(),
				"equity", sc.Equity(),
				"winrate", s.WinRate,
				"profit_factor", s.ProfitFactor,
				"sharpe", s.Sharpe,
				"roi", s.ROI,
				"mdd", s.MaxDrawdown,
			)
		}
	}
	if runErr != nil {
		log.Fatalf("policy-trader error: %v", runErr)
	}
	slog.Info("policy-trader stopped")
}
