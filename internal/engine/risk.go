package engine

import (
	"math"

	"policytrader/internal/config"
	"policytrader/internal/domain"
)

// RiskManager sizes positions from trailing risk metrics and maps those
// metrics onto a kill-switch state. It is stateless between calls.
type RiskManager struct {
	sizing config.Sizing
	safety config.Safety
}

// NewRiskManager creates a RiskManager with the given sizing and safety
// thresholds.
func NewRiskManager(sizing config.Sizing, safety config.Safety) *RiskManager {
	return &RiskManager{sizing: sizing, safety: safety}
}

// PositionSize returns the size multiplier for the next trade:
//
//	raw  = beta0 + beta_sharpe*(sharpe-0.5) - beta_mdd*max(0, mdd-0.15)
//	size = base * clamp(0.5+raw, 0, kappa_max)
func (rm *RiskManager) PositionSize(sharpe, mdd float64) float64 {
	s := rm.sizing
	raw := s.Beta0 + s.BetaSharpe*(sharpe-0.5) - s.BetaMDD*math.Max(0, mdd-0.15)
	scale := math.Min(math.Max(0.5+raw, 0), s.KappaMax)
	return s.Base * scale
}

// KillSwitch classifies the current risk state. Checks run in priority
// order and the first match wins.
func (rm *RiskManager) KillSwitch(st domain.RiskState) domain.KillSwitch {
	s := rm.safety
	switch {
	case st.MaxDrawdown > s.DrawdownHard:
		return domain.KillFlat
	case st.MaxDrawdown > s.DrawdownSoft:
		return domain.KillReduce
	case st.Sharpe < s.SharpeFloor:
		return domain.KillDecreaseModel
	case st.ROI < s.ROIFloor:
		return domain.KillReduce
	default:
		return domain.KillNormal
	}
}

// Enforcing reports whether Apply should be consulted before trading.
func (rm *RiskManager) Enforcing() bool { return rm.safety.Enforce }

// Apply adjusts the traded action and size for a kill-switch state. FLAT
// forces a flat, zero-size trade; REDUCE scales size by reduce_factor;
// DECREASE_MODEL trades the blended decision instead of the raw action.
func (rm *RiskManager) Apply(status domain.KillSwitch, action, decision domain.Action, size float64) (domain.Action, float64) {
	switch status {
	case domain.KillFlat:
		return domain.ActionFlat, 0
	case domain.KillReduce:
		return action, size * rm.safety.ReduceFactor
	case domain.KillDecreaseModel:
		if decision.Valid() {
			return decision, size
		}
		return action, size
	default:
		return action, size
	}
}
