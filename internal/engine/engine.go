// Package engine drives the per-symbol decision loop: it turns each bar into
// features, an action, simulated PnL, constraint feedback, a blended
// decision, and a kill-switch status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math/rand/v2"

	"policytrader/internal/broker"
	"policytrader/internal/config"
	"policytrader/internal/domain"
	"policytrader/internal/features"
	"policytrader/internal/metrics"
	"policytrader/internal/policy"
	"policytrader/internal/report"
	"policytrader/internal/signals"
	"policytrader/internal/store"
)

// Source yields bars until io.EOF.
type Source interface {
	Next(ctx context.Context) (domain.Bar, error)
}

// Scorer supplies model scores for the blender in place of the selector's
// own class distribution.
type Scorer interface {
	Scores(symbol string, features []float64) (domain.Scores, error)
}

// Observer is notified of every completed step.
type Observer interface {
	Observe(rec domain.StepRecord)
}

// Options are the optional collaborators of an Engine. Nil fields are
// skipped.
type Options struct {
	Reporter report.Reporter
	Journal  store.Journal
	Scorer   Scorer
	Observer Observer
	Logger   *slog.Logger
	Rules    *signals.Registry
}

// Engine owns one SymbolContext per symbol. It is single-threaded: Run and
// Process must not be called concurrently.
type Engine struct {
	cfg      *config.Config
	opts     Options
	rule     signals.RuleBias
	risk     *RiskManager
	log      *slog.Logger
	warmup   int
	contexts map[string]*SymbolContext
	order    []string
}

// NewEngine creates an engine and the contexts of the configured symbols.
func NewEngine(cfg *config.Config, opts Options) (*Engine, error) {
	if opts.Rules == nil {
		opts.Rules = signals.DefaultRegistry()
	}
	rule, err := opts.Rules.Lookup(cfg.Blend.Rule)
	if err != nil {
		return nil, fmt.Errorf("blend.rule: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:      cfg,
		opts:     opts,
		rule:     rule,
		risk:     NewRiskManager(cfg.Sizing, cfg.Safety),
		log:      logger,
		warmup:   max(cfg.Runtime.WarmupBars, features.MinBars),
		contexts: make(map[string]*SymbolContext),
	}
	for _, s := range cfg.Runtime.Symbols {
		e.context(s)
	}
	return e, nil
}

// Run reads bars from src until it is exhausted, maxSteps bars have been
// consumed (maxSteps <= 0 means no limit), or ctx is cancelled. Warm-up bars
// count towards maxSteps. Cancellation is observed between bars and is
// reported as ctx.Err().
func (e *Engine) Run(ctx context.Context, src Source, maxSteps int) error {
	consumed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		bar, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading feed: %w", err)
		}
		if _, _, err := e.Process(ctx, bar); err != nil {
			return err
		}
		consumed++
		if maxSteps > 0 && consumed >= maxSteps {
			return nil
		}
	}
}

// Process handles one bar. ok is false while the symbol is still warming up.
func (e *Engine) Process(ctx context.Context, bar domain.Bar) (rec domain.StepRecord, ok bool, err error) {
	if bar.Symbol == "" {
		bar.Symbol = e.cfg.Runtime.Symbols[0]
	}
	sc := e.context(bar.Symbol)
	sc.bars.Push(bar)
	sc.steps++
	if sc.bars.Len() < e.warmup {
		return domain.StepRecord{}, false, nil
	}

	history := sc.bars.Values()
	feats, err := features.Compute(history)
	if err != nil {
		return domain.StepRecord{}, false, fmt.Errorf("%s: %w", bar.Symbol, err)
	}

	action := sc.selector.Select(feats, sc.violationLevel)
	traded, size := action, sc.positionSize
	if e.risk.Enforcing() {
		traded, size = e.risk.Apply(sc.lastKill, action, sc.lastDecision, size)
	}

	pnl := sc.broker.Step(bar, traded, size)
	equity := sc.broker.Equity()
	sc.pnls.Push(pnl)
	sc.equity.Push(equity)

	pnls, eqs := sc.pnls.Values(), sc.equity.Values()
	sharpe := metrics.Sharpe(pnls)
	mdd := metrics.MaxDrawdown(eqs)
	roi := metrics.ROI(eqs)

	result := sc.evaluator.Update(pnl, equity)
	if err := sc.selector.Update(feats, action, result.Reward); err != nil {
		return domain.StepRecord{}, false, fmt.Errorf("%s: %w", bar.Symbol, err)
	}

	decision := sc.blender.Blend(signals.BlendInput{
		ModelScores:    e.modelScores(sc, feats),
		RuleBias:       e.rule.Bias(history),
		ViolationLevel: result.ViolationLevel,
	})
	kill := e.risk.KillSwitch(domain.RiskState{
		Equity:      equity,
		MaxDrawdown: mdd,
		Sharpe:      sharpe,
		ROI:         roi,
	})

	e.log.Info("step",
		"symbol", bar.Symbol,
		"decision", decision,
		"action", action,
		"kill_switch", kill,
		"sharpe", sharpe,
		"mdd", mdd,
		"roi", roi,
		"size", sc.positionSize,
		"violation_level", result.ViolationLevel,
		"equity", equity,
	)

	rec = domain.StepRecord{
		Symbol:         bar.Symbol,
		Step:           sc.steps,
		Timestamp:      bar.Timestamp,
		Close:          bar.Close,
		Action:         action,
		Decision:       decision,
		KillSwitch:     kill,
		PnL:            pnl,
		Equity:         equity,
		Reward:         result.Reward,
		Penalty:        result.Penalty,
		ViolationLevel: result.ViolationLevel,
		Sharpe:         sharpe,
		MaxDrawdown:    mdd,
		ROI:            roi,
		Size:           size,
		Exploration:    sc.selector.Exploration(),
	}

	sc.positionSize = e.risk.PositionSize(sharpe, mdd)
	sc.violationLevel = result.ViolationLevel
	sc.lastDecision = decision
	sc.lastKill = kill
	sc.last = rec
	sc.decisions++

	if sc.pnls.Len() > e.cfg.Runtime.SummaryAfter && sc.decisions%e.cfg.Runtime.ReportEvery == 0 {
		summary := metrics.Summarize(pnls, eqs)
		if e.opts.Reporter != nil {
			e.opts.Reporter.Render(bar.Symbol, summary)
		}
		if e.opts.Journal != nil {
			if err := e.opts.Journal.RecordSummary(ctx, bar.Symbol, sc.steps, summary); err != nil {
				e.log.Error("journal summary failed", "symbol", bar.Symbol, "error", err)
			}
		}
	}
	if e.opts.Journal != nil {
		if err := e.opts.Journal.RecordStep(ctx, rec); err != nil {
			e.log.Error("journal step failed", "symbol", bar.Symbol, "error", err)
		}
	}
	if e.opts.Observer != nil {
		e.opts.Observer.Observe(rec)
	}
	return rec, true, nil
}

func (e *Engine) modelScores(sc *SymbolContext, feats []float64) domain.Scores {
	if e.opts.Scorer != nil {
		scores, err := e.opts.Scorer.Scores(sc.symbol, feats)
		if err == nil {
			return scores
		}
		e.log.Warn("scorer failed, using selector scores", "symbol", sc.symbol, "error", err)
	}
	return sc.selector.Scores(feats)
}

// Symbols returns the known symbols in the order their contexts were created.
func (e *Engine) Symbols() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// Context returns the state of symbol.
func (e *Engine) Context(symbol string) (*SymbolContext, bool) {
	sc, ok := e.contexts[symbol]
	return sc, ok
}

// Snapshot returns the latest step record of symbol. ok is false until the
// symbol has completed a step.
func (e *Engine) Snapshot(symbol string) (domain.StepRecord, bool) {
	sc, ok := e.contexts[symbol]
	if !ok || sc.decisions == 0 {
		return domain.StepRecord{}, false
	}
	return sc.last, true
}

// context returns the SymbolContext for symbol, creating it on first use.
func (e *Engine) context(symbol string) *SymbolContext {
	if sc, ok := e.contexts[symbol]; ok {
		return sc
	}
	sc := newSymbolContext(e.cfg, symbol, e.risk)
	e.contexts[symbol] = sc
	e.order = append(e.order, symbol)
	return sc
}

// ---------------------------------------------------------------------------
// Per-symbol state
// ---------------------------------------------------------------------------

// SymbolContext is the complete, unshared state of one symbol's loop.
type SymbolContext struct {
	symbol string

	bars   *metrics.Window[domain.Bar]
	pnls   *metrics.Window[float64]
	equity *metrics.Window[float64]

	broker    broker.Broker
	selector  *policy.Selector
	evaluator *policy.ConstraintEvaluator
	blender   *signals.Blender

	positionSize   float64
	violationLevel float64
	steps          int
	decisions      int
	lastDecision   domain.Action
	lastKill       domain.KillSwitch
	last           domain.StepRecord
}

func newSymbolContext(cfg *config.Config, symbol string, risk *RiskManager) *SymbolContext {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	stream := h.Sum64()
	seed := cfg.Runtime.Seed

	rt := cfg.Runtime
	return &SymbolContext{
		symbol:       symbol,
		bars:         metrics.NewWindow[domain.Bar](rt.HistoryBars),
		pnls:         metrics.NewWindow[float64](cfg.Metrics.Windows.WinRate),
		equity:       metrics.NewWindow[float64](cfg.Metrics.Windows.MDD),
		broker:       broker.NewSimulatorBroker(rt.FeeBps, rt.SlippageBps, rt.MinHoldBars, rt.InitialEquity),
		selector:     policy.NewSelector(cfg.Bandit, nil, rand.New(rand.NewPCG(seed, stream))),
		evaluator:    policy.NewConstraintEvaluator(cfg.Metrics),
		blender:      signals.NewBlender(cfg.Blend.BaseWeight, rand.New(rand.NewPCG(seed+1, stream))),
		positionSize: risk.PositionSize(0, 0),
		lastKill:     domain.KillNormal,
	}
}

// Symbol returns the symbol this context trades.
func (sc *SymbolContext) Symbol() string { return sc.symbol }

// Steps returns the number of bars received, including warm-up.
func (sc *SymbolContext) Steps() int { return sc.steps }

// Decisions returns the number of completed post-warm-up steps.
func (sc *SymbolContext) Decisions() int { return sc.decisions }

// PositionSize returns the size that will be used on the next step.
func (sc *SymbolContext) PositionSize() float64 { return sc.positionSize }

// ViolationLevel returns the violation level carried into the next step.
func (sc *SymbolContext) ViolationLevel() float64 { return sc.violationLevel }

// Equity returns the simulator's current equity.
func (sc *SymbolContext) Equity() float64 { return sc.broker.Equity() }

// Position returns the simulator's open position.
func (sc *SymbolContext) Position() (domain.Position, bool) { return sc.broker.Position() }

// Exploration returns the selector's current exploration rate.
func (sc *SymbolContext) Exploration() float64 { return sc.selector.Exploration() }

// Multipliers returns the evaluator's current Lagrange multipliers.
func (sc *SymbolContext) Multipliers() map[string]float64 { return sc.evaluator.Multipliers() }

// Summary returns the performance summary over the current windows.
func (sc *SymbolContext) Summary() domain.Summary {
	return metrics.Summarize(sc.pnls.Values(), sc.equity.Values())
}
