package broker

import "policytrader/internal/domain"

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker is a single-position paper trader. Fee and slippage are
// flat fractions of equity per trade, independent of position size. It holds
// at most one position and makes no external calls.
type SimulatorBroker struct {
	fee         float64
	slippage    float64
	minHoldBars int

	equity   float64
	position *domain.Position
}

// NewSimulatorBroker creates a flat simulator. feeBps and slippageBps are in
// basis points; equity is the starting account value.
func NewSimulatorBroker(feeBps, slippageBps float64, minHoldBars int, equity float64) *SimulatorBroker {
	return &SimulatorBroker{
		fee:         feeBps / 10000,
		slippage:    slippageBps / 10000,
		minHoldBars: minHoldBars,
		equity:      equity,
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Step applies decision at bar's close.
//
// With an open position the bar count advances and the position is marked to
// market. If it has been held for at least minHoldBars and decision differs
// from its side, it is closed: the realized PnL net of fee and slippage is
// added to equity and returned. Otherwise the unrealized mark is returned
// and equity is untouched.
//
// When flat, a non-FLAT decision with positive size opens a position at the
// slipped close and charges the entry fee to equity; the returned PnL is 0.
func (b *SimulatorBroker) Step(bar domain.Bar, decision domain.Action, size float64) float64 {
	if p := b.position; p != nil {
		p.BarsHeld++
		mtm := (bar.Close - p.EntryPrice) * p.Size
		if p.Side == domain.ActionShort {
			mtm = -mtm
		}
		if p.BarsHeld >= b.minHoldBars && decision != p.Side {
			pnl := mtm - b.fee - b.slippage
			b.equity += pnl
			b.position = nil
			return pnl
		}
		return mtm
	}

	if decision == domain.ActionFlat || !decision.Valid() || size <= 0 {
		return 0
	}
	b.position = &domain.Position{
		Side:       decision,
		EntryPrice: bar.Close * (1 + b.slippage),
		Size:       size,
	}
	b.equity -= b.fee
	return 0
}

// Equity returns the current account equity.
func (b *SimulatorBroker) Equity() float64 {
	return b.equity
}

// Position returns a copy of the open position.
func (b *SimulatorBroker) Position() (domain.Position, bool) {
	if b.position == nil {
		return domain.Position{}, false
	}
	return *b.position, true
}
