package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"policytrader/internal/api"
	"policytrader/internal/config"
	"policytrader/internal/domain"
	"policytrader/internal/store"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: policy-cli <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version              Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  symbols              List symbols in the bar archive\n")
		fmt.Fprintf(os.Stderr, "  steps <symbol> [n]   Print the last n journal steps (default 20)\n")
		fmt.Fprintf(os.Stderr, "  status <symbol>      Show the latest step from a running policy-trader\n")
		fmt.Fprintf(os.Stderr, "  watch [symbol]       Stream steps from a running policy-trader\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}
	if os.Args[1] == "version" {
		fmt.Printf("policy-cli %s\n", version)
		return
	}

	_ = godotenv.Load()
	cfgPath := "config/policy.yaml"
	if p := os.Getenv("POLICY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	switch os.Args[1] {
	case "symbols":
		syms, err := store.NewParquetStore(cfg.Storage.DataDir).ListSymbols(ctx)
		if err != nil {
			fatalf("listing symbols: %v", err)
		}
		for _, s := range syms {
			fmt.Println(s)
		}

	case "steps":
		if len(args) < 1 {
			fatalf("steps: symbol required")
		}
		n := 20
		if len(args) > 1 {
			if n, err = strconv.Atoi(args[1]); err != nil {
				fatalf("steps: invalid count %q", args[1])
			}
		}
		if cfg.Storage.SQLitePath == "" {
			fatalf("steps: storage.sqlite_path is not configured")
		}
		j, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			fatalf("opening journal: %v", err)
		}
		defer j.Close()
		recs, err := j.ListSteps(ctx, args[0], n)
		if err != nil {
			fatalf("reading journal: %v", err)
		}
		printHeader()
		for _, r := range recs {
			printRecord(r)
		}

	case "status":
		if len(args) < 1 {
			fatalf("status: symbol required")
		}
		c := dial(cfg)
		defer c.Close()
		rctx, rcancel := context.WithTimeout(ctx, 5*time.Second)
		defer rcancel()
		rec, err := c.Snapshot(rctx, args[0])
		if err != nil {
			fatalf("status: %v", err)
		}
		health, err := c.Health(rctx, args[0])
		if err != nil {
			fatalf("health: %v", err)
		}
		printHeader()
		printRecord(rec)
		fmt.Printf("\nhealth: %s\n", health)

	case "watch":
		symbol := ""
		if len(args) > 0 {
			symbol = args[0]
		}
		c := dial(cfg)
		defer c.Close()
		printHeader()
		err := c.Watch(ctx, symbol, func(r domain.StepRecord) error {
			printRecord(r)
			return nil
		})
		if err != nil && ctx.Err() == nil {
			fatalf("watch: %v", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

func dial(cfg *config.Config) *api.Client {
	if cfg.Server.GRPCAddr == "" {
		fatalf("server.grpc_addr is not configured")
	}
	c, err := api.Dial(cfg.Server.GRPCAddr)
	if err != nil {
		fatalf("%v", err)
	}
	return c
}

func printHeader() {
	fmt.Printf("%-10s %6s %-19s %10s %-5s %-5s %-14s %9s %7s %8s %5s %6s\n",
		"SYMBOL", "STEP", "TIME", "CLOSE", "ACT", "DEC", "KILL", "EQUITY", "SHARPE", "MDD", "SIZE", "VIOL")
}

func printRecord(r domain.StepRecord) {
	ts := time.Unix(r.Timestamp, 0).UTC().Format(time.DateTime)
	fmt.Printf("%-10s %6d %-19s %10.4f %-5s %-5s %-14s %9.4f %7.2f %7.2f%% %5.2f %6.3f\n",
		r.Symbol, r.Step, ts, r.Close, r.Action, r.Decision, r.KillSwitch,
		r.Equity, r.Sharpe, r.MaxDrawdown*100, r.Size, r.ViolationLevel)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
