package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure reported by Load.
var ErrInvalidConfig = errors.New("invalid config")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the policy runner. It is loaded
// once at startup and treated as read-only afterwards.
type Config struct {
	Runtime Runtime `yaml:"runtime"`
	Metrics Metrics `yaml:"metrics"`
	Sizing  Sizing  `yaml:"sizing"`
	Safety  Safety  `yaml:"safety"`
	Bandit  Bandit  `yaml:"bandit"`
	Blend   Blend   `yaml:"blend"`
	Feed    Feed    `yaml:"feed"`
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Logging Logging `yaml:"logging"`
	Model   Model   `yaml:"model"`
}

// MinHistoryBars is the shortest bar history the feature extractor accepts.
const MinHistoryBars = 30

// Runtime holds execution costs and pipeline pacing.
type Runtime struct {
	Symbols       []string `yaml:"symbols"`
	FeeBps        float64  `yaml:"fee_bps"`
	SlippageBps   float64  `yaml:"slippage_bps"`
	MinHoldBars   int      `yaml:"min_hold_bars"`
	WarmupBars    int      `yaml:"warmup_bars"`
	HistoryBars   int      `yaml:"history_bars"`
	SummaryAfter  int      `yaml:"summary_after"`
	ReportEvery   int      `yaml:"report_every"`
	Seed          uint64   `yaml:"seed"`
	InitialEquity float64  `yaml:"initial_equity"`
}

// Metrics groups the rolling-window, target, reward, and penalty settings of
// the constraint evaluator.
type Metrics struct {
	Windows   Windows   `yaml:"windows"`
	Targets   Targets   `yaml:"targets"`
	Reward    Reward    `yaml:"reward"`
	Penalties Penalties `yaml:"penalties"`
}

// Windows are the rolling buffer capacities per metric.
type Windows struct {
	WinRate      int `yaml:"winrate"`
	ProfitFactor int `yaml:"profit_factor"`
	Sharpe       int `yaml:"sharpe"`
	MDD          int `yaml:"mdd"`
}

// Targets are the per-metric constraint thresholds. MDD is an upper bound,
// the rest are lower bounds.
type Targets struct {
	WinRate      float64 `yaml:"winrate"`
	ProfitFactor float64 `yaml:"profit_factor"`
	Sharpe       float64 `yaml:"sharpe"`
	ROI          float64 `yaml:"roi"`
	MDD          float64 `yaml:"mdd"`
}

// Reward shapes the per-step reward.
type Reward struct {
	PnLScale   float64 `yaml:"pnl_scale"`
	VolaLambda float64 `yaml:"vola_lambda"`
	VolaWindow int     `yaml:"vola_window"`
}

// Penalties holds the initial Lagrange multipliers and their adaptation
// bounds.
type Penalties struct {
	WinRate        float64 `yaml:"winrate"`
	ProfitFactor   float64 `yaml:"profit_factor"`
	Sharpe         float64 `yaml:"sharpe"`
	ROI            float64 `yaml:"roi"`
	MDD            float64 `yaml:"mdd"`
	AlphaFloor     float64 `yaml:"alpha_floor"`
	AlphaCap       float64 `yaml:"alpha_cap"`
	IncreaseFactor float64 `yaml:"increase_factor"`
	DecreaseFactor float64 `yaml:"decrease_factor"`
}

// Sizing holds the position-sizing coefficients.
type Sizing struct {
	Base       float64 `yaml:"base"`
	Beta0      float64 `yaml:"beta0"`
	BetaSharpe float64 `yaml:"beta_sharpe"`
	BetaMDD    float64 `yaml:"beta_mdd"`
	KappaMax   float64 `yaml:"kappa_max"`
}

// Safety holds the kill-switch thresholds.
type Safety struct {
	DrawdownSoft float64 `yaml:"drawdown_soft"`
	DrawdownHard float64 `yaml:"drawdown_hard"`
	SharpeFloor  float64 `yaml:"sharpe_floor"`
	ROIFloor     float64 `yaml:"roi_floor"`
	Enforce      bool    `yaml:"enforce"`
	ReduceFactor float64 `yaml:"reduce_factor"`
}

// Bandit configures the action selector.
type Bandit struct {
	BaseExploration float64 `yaml:"base_exploration"`
	MildPenalty     float64 `yaml:"mild_penalty"`
	SeverePenalty   float64 `yaml:"severe_penalty"`
	RecoveryRate    float64 `yaml:"recovery_rate"`
	MinExploration  float64 `yaml:"min_exploration"`
	MaxExploration  float64 `yaml:"max_exploration"`
	LearningRate    float64 `yaml:"learning_rate"`
	L2              float64 `yaml:"l2"`
}

// Blend configures the decision blender and its rule-bias source.
type Blend struct {
	BaseWeight float64 `yaml:"base_weight"`
	Rule       string  `yaml:"rule"`
}

// Feed selects and parameterises the bar source.
type Feed struct {
	Type         string   `yaml:"type"` // synthetic | csv | parquet | alpaca | binance
	Path         string   `yaml:"path"`
	DelaySeconds float64  `yaml:"delay_seconds"`
	Timeframe    string   `yaml:"timeframe"`
	Start        string   `yaml:"start"`
	End          string   `yaml:"end"`
	URL          string   `yaml:"url"`
	StartPrice   float64  `yaml:"start_price"`
	Symbols      []string `yaml:"symbols"`
}

// Storage holds paths for the bar archive and the step journal.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds the monitor listener configuration. An empty address
// disables the monitor.
type Server struct {
	GRPCAddr string `yaml:"grpc_addr"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Logging configures the application logger.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Model points at an optional ONNX scorer.
type Model struct {
	ONNXPath string `yaml:"onnx_path"`
	ONNXLib  string `yaml:"onnx_lib"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, fills defaults,
// applies environment variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated with the built-in defaults. YAML
// values loaded on top replace individual fields.
func Default() *Config {
	return &Config{
		Runtime: Runtime{
			Symbols:       []string{"BTCUSDT"},
			FeeBps:        4,
			SlippageBps:   2,
			MinHoldBars:   5,
			WarmupBars:    30,
			HistoryBars:   200,
			SummaryAfter:  10,
			ReportEvery:   1,
			Seed:          42,
			InitialEquity: 1.0,
		},
		Metrics: Metrics{
			Windows: Windows{WinRate: 50, ProfitFactor: 50, Sharpe: 100, MDD: 200},
			Targets: Targets{WinRate: 0.5, ProfitFactor: 1.2, Sharpe: 1.0, ROI: 0.0, MDD: 0.2},
			Reward:  Reward{PnLScale: 1.0, VolaLambda: 0.1, VolaWindow: 20},
			Penalties: Penalties{
				WinRate:        1.0,
				ProfitFactor:   1.0,
				Sharpe:         1.0,
				ROI:            1.0,
				MDD:            1.0,
				AlphaFloor:     0.1,
				AlphaCap:       10.0,
				IncreaseFactor: 1.05,
				DecreaseFactor: 0.99,
			},
		},
		Sizing: Sizing{Base: 1.0, Beta0: 0.0, BetaSharpe: 0.2, BetaMDD: 2.0, KappaMax: 1.5},
		Safety: Safety{
			DrawdownSoft: 0.10,
			DrawdownHard: 0.20,
			SharpeFloor:  -0.5,
			ROIFloor:     -0.05,
			ReduceFactor: 0.5,
		},
		Bandit: Bandit{
			BaseExploration: 0.10,
			MildPenalty:     0.20,
			SeverePenalty:   0.35,
			RecoveryRate:    -0.01,
			MinExploration:  0.02,
			MaxExploration:  0.50,
			LearningRate:    0.01,
			L2:              1e-4,
		},
		Blend:   Blend{BaseWeight: 0.5, Rule: "uniform"},
		Feed:    Feed{Type: "synthetic", Timeframe: "5Min", StartPrice: 100},
		Storage: Storage{DataDir: "data"},
		Logging: Logging{Level: "info", Format: "json", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 14},
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POLICY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("POLICY_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("POLICY_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("POLICY_SEED"); v != "" {
		if seed, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Runtime.Seed = seed
		}
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the logical consistency of the configuration. Every
// returned error wraps ErrInvalidConfig and names the offending key.
func (c *Config) Validate() error {
	if len(c.Runtime.Symbols) == 0 {
		return invalid("runtime.symbols", "at least one symbol is required")
	}
	if c.Runtime.FeeBps < 0 {
		return invalid("runtime.fee_bps", "must not be negative")
	}
	if c.Runtime.SlippageBps < 0 {
		return invalid("runtime.slippage_bps", "must not be negative")
	}
	if c.Runtime.MinHoldBars < 0 {
		return invalid("runtime.min_hold_bars", "must not be negative")
	}
	if c.Runtime.WarmupBars < 1 {
		return invalid("runtime.warmup_bars", "must be positive")
	}
	if c.Runtime.HistoryBars < max(c.Runtime.WarmupBars, MinHistoryBars) {
		return invalid("runtime.history_bars", fmt.Sprintf("must be at least runtime.warmup_bars and %d", MinHistoryBars))
	}
	if c.Runtime.ReportEvery < 1 {
		return invalid("runtime.report_every", "must be positive")
	}
	if c.Runtime.InitialEquity <= 0 {
		return invalid("runtime.initial_equity", "must be positive")
	}

	w := c.Metrics.Windows
	for key, v := range map[string]int{
		"metrics.windows.winrate":       w.WinRate,
		"metrics.windows.profit_factor": w.ProfitFactor,
		"metrics.windows.sharpe":        w.Sharpe,
		"metrics.windows.mdd":           w.MDD,
		"metrics.reward.vola_window":    c.Metrics.Reward.VolaWindow,
	} {
		if v < 1 {
			return invalid(key, "must be positive")
		}
	}

	p := c.Metrics.Penalties
	if p.AlphaFloor < 0 {
		return invalid("metrics.penalties.alpha_floor", "must not be negative")
	}
	if p.AlphaFloor > p.AlphaCap {
		return invalid("metrics.penalties.alpha_floor", "must not exceed alpha_cap")
	}
	if p.IncreaseFactor < 1 {
		return invalid("metrics.penalties.increase_factor", "must be >= 1")
	}
	if p.DecreaseFactor <= 0 || p.DecreaseFactor > 1 {
		return invalid("metrics.penalties.decrease_factor", "must be in (0, 1]")
	}

	if c.Sizing.Base < 0 || c.Sizing.KappaMax < 0 {
		return invalid("sizing", "base and kappa_max must not be negative")
	}

	if c.Safety.DrawdownSoft > c.Safety.DrawdownHard {
		return invalid("safety.drawdown_soft", "must not exceed drawdown_hard")
	}
	if c.Safety.ReduceFactor < 0 || c.Safety.ReduceFactor > 1 {
		return invalid("safety.reduce_factor", "must be in [0, 1]")
	}

	b := c.Bandit
	if b.MinExploration < 0 || b.MaxExploration > 1 {
		return invalid("bandit", "exploration bounds must lie in [0, 1]")
	}
	if b.MinExploration > b.MaxExploration {
		return invalid("bandit.min_exploration", "must not exceed max_exploration")
	}
	if b.LearningRate <= 0 {
		return invalid("bandit.learning_rate", "must be positive")
	}

	if c.Blend.BaseWeight < 0 || c.Blend.BaseWeight > 1 {
		return invalid("blend.base_weight", "must be in [0, 1]")
	}

	switch c.Feed.Type {
	case "synthetic", "csv", "parquet", "alpaca", "binance":
	default:
		return invalid("feed.type", fmt.Sprintf("unsupported feed type %q", c.Feed.Type))
	}
	if c.Feed.Type == "csv" && c.Feed.Path == "" {
		return invalid("feed.path", "required for csv feed")
	}
	if c.Feed.DelaySeconds < 0 {
		return invalid("feed.delay_seconds", "must not be negative")
	}
	return nil
}

func invalid(key, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, key, msg)
}

// FeedSymbols returns the symbols the feed should serve, falling back to the
// runtime symbols.
func (c *Config) FeedSymbols() []string {
	if len(c.Feed.Symbols) > 0 {
		return c.Feed.Symbols
	}
	return c.Runtime.Symbols
}
