package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"policytrader/internal/config"
	"policytrader/internal/domain"
)

func testRisk() *RiskManager {
	return NewRiskManager(
		config.Sizing{Base: 1, Beta0: 0, BetaSharpe: 0.2, BetaMDD: 2, KappaMax: 1.5},
		config.Safety{DrawdownSoft: 0.1, DrawdownHard: 0.2, SharpeFloor: -0.5, ROIFloor: -0.05, ReduceFactor: 0.5},
	)
}

func TestPositionSize(t *testing.T) {
	rm := testRisk()
	tests := []struct {
		name   string
		sharpe float64
		mdd    float64
		want   float64
	}{
		{"neutral", 0.5, 0, 0.5},
		{"cold start", 0, 0, 0.4},
		{"strong sharpe capped", 100, 0, 1.5},
		{"deep drawdown floored", 0, 0.9, 0},
		{"drawdown below knee ignored", 0.5, 0.15, 0.5},
		{"drawdown above knee", 0.5, 0.2, 0.4},
	}
	for _, tt := range tests {
		got := rm.PositionSize(tt.sharpe, tt.mdd)
		assert.InDelta(t, tt.want, got, 1e-12, tt.name)
		assert.GreaterOrEqual(t, got, 0.0, tt.name)
		assert.LessOrEqual(t, got, 1.5, tt.name)
	}
}

func TestKillSwitchPriority(t *testing.T) {
	rm := testRisk()
	tests := []struct {
		name  string
		state domain.RiskState
		want  domain.KillSwitch
	}{
		{"hard drawdown wins over everything", domain.RiskState{MaxDrawdown: 0.25, Sharpe: -3, ROI: -0.5}, domain.KillFlat},
		{"soft drawdown", domain.RiskState{MaxDrawdown: 0.15, Sharpe: -3}, domain.KillReduce},
		{"weak sharpe", domain.RiskState{MaxDrawdown: 0.05, Sharpe: -1, ROI: -0.5}, domain.KillDecreaseModel},
		{"roi floor", domain.RiskState{MaxDrawdown: 0.05, Sharpe: 0, ROI: -0.1}, domain.KillReduce},
		{"normal", domain.RiskState{MaxDrawdown: 0.05, Sharpe: 1, ROI: 0.01}, domain.KillNormal},
		{"boundaries are strict", domain.RiskState{MaxDrawdown: 0.2, Sharpe: -0.5, ROI: -0.05}, domain.KillReduce},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rm.KillSwitch(tt.state), tt.name)
	}
}

func TestApply(t *testing.T) {
	rm := testRisk()
	tests := []struct {
		status     domain.KillSwitch
		wantAction domain.Action
		wantSize   float64
	}{
		{domain.KillFlat, domain.ActionFlat, 0},
		{domain.KillReduce, domain.ActionLong, 0.4},
		{domain.KillDecreaseModel, domain.ActionShort, 0.8},
		{domain.KillNormal, domain.ActionLong, 0.8},
	}
	for _, tt := range tests {
		a, s := rm.Apply(tt.status, domain.ActionLong, domain.ActionShort, 0.8)
		assert.Equal(t, tt.wantAction, a, "Apply(%s) action", tt.status)
		assert.InDelta(t, tt.wantSize, s, 1e-12, "Apply(%s) size", tt.status)
	}
}
