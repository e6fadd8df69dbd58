// Package domain holds the value types shared by every layer of the policy:
// bars, actions, positions, kill-switch states, and per-step records.
package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAction is returned when a value outside the closed action set is
// supplied where an Action is required.
var ErrInvalidAction = errors.New("invalid action")

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is one OHLCV observation for a fixed interval. Timestamp is Unix
// seconds. Symbol may be empty when the feed serves a single instrument.
type Bar struct {
	Symbol    string
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

// Action is the discrete trading decision.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionFlat  Action = "FLAT"
)

// Actions lists every action in the canonical order used for class indices
// and sampling.
var Actions = [3]Action{ActionLong, ActionShort, ActionFlat}

// Valid reports whether a is one of the three defined actions.
func (a Action) Valid() bool {
	return a.Index() >= 0
}

// Index returns the class index of a in Actions, or -1 if a is not valid.
func (a Action) Index() int {
	for i, v := range Actions {
		if v == a {
			return i
		}
	}
	return -1
}

func (a Action) String() string { return string(a) }

// ParseAction converts s (case-insensitive) to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
	return a, nil
}

// Scores maps each action to a non-negative weight. Missing keys read as 0.
type Scores map[Action]float64

// UniformScores returns equal weight for every action.
func UniformScores() Scores {
	return Scores{ActionLong: 1.0 / 3, ActionShort: 1.0 / 3, ActionFlat: 1.0 / 3}
}

// ---------------------------------------------------------------------------
// Risk
// ---------------------------------------------------------------------------

// KillSwitch is the discrete safety action derived from current risk
// metrics.
type KillSwitch string

const (
	KillFlat          KillSwitch = "FLAT"
	KillReduce        KillSwitch = "REDUCE"
	KillDecreaseModel KillSwitch = "DECREASE_MODEL"
	KillNormal        KillSwitch = "NORMAL"
)

// RiskState is the per-step input to the kill-switch. It is built fresh each
// step and never persisted.
type RiskState struct {
	Equity      float64
	MaxDrawdown float64
	Sharpe      float64
	ROI         float64
}

// Position is the single open position a symbol may hold. Side is never
// ActionFlat while the position exists.
type Position struct {
	Side       Action
	EntryPrice float64
	Size       float64
	BarsHeld   int
}

// ---------------------------------------------------------------------------
// Reporting
// ---------------------------------------------------------------------------

// Summary is the performance snapshot emitted to reporters.
type Summary struct {
	WinRate      float64 `json:"winrate"`
	ProfitFactor float64 `json:"profit_factor"`
	Sharpe       float64 `json:"sharpe"`
	ROI          float64 `json:"roi"`
	MaxDrawdown  float64 `json:"mdd"`
}

// StepRecord captures what one processed bar produced for a symbol.
type StepRecord struct {
	Symbol         string     `json:"symbol"`
	Step           int        `json:"step"`
	Timestamp      int64      `json:"timestamp"`
	Close          float64    `json:"close"`
	Action         Action     `json:"action"`
	Decision       Action     `json:"decision"`
	KillSwitch     KillSwitch `json:"kill_switch"`
	PnL            float64    `json:"pnl"`
	Equity         float64    `json:"equity"`
	Reward         float64    `json:"reward"`
	Penalty        float64    `json:"penalty"`
	ViolationLevel float64    `json:"violation_level"`
	Sharpe         float64    `json:"sharpe"`
	MaxDrawdown    float64    `json:"mdd"`
	ROI            float64    `json:"roi"`
	Size           float64    `json:"size"`
	Exploration    float64    `json:"exploration"`
}
