package signals

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"policytrader/internal/domain"
)

func newRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed+1))
}

func TestModelWeightClamped(t *testing.T) {
	b := NewBlender(0.5, newRNG(1))
	tests := []struct {
		level float64
		want  float64
	}{
		{0, 0.5},
		{1, 0.3},
		{2.5, 0},
		{10, 0},
		{-5, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, b.ModelWeight(tt.level), 1e-12, "level %v", tt.level)
	}
}

func TestBlendZeroScoresIsFlat(t *testing.T) {
	b := NewBlender(0.5, newRNG(2))
	for i := 0; i < 20; i++ {
		got := b.Blend(BlendInput{ModelScores: domain.Scores{}, RuleBias: domain.Scores{}})
		assert.Equal(t, domain.ActionFlat, got)
	}
	got := b.Blend(BlendInput{
		ModelScores: domain.Scores{domain.ActionLong: 0},
		RuleBias:    domain.Scores{domain.ActionShort: 0},
	})
	assert.Equal(t, domain.ActionFlat, got)
}

func TestBlendDegenerateDistribution(t *testing.T) {
	b := NewBlender(1.0, newRNG(3))
	in := BlendInput{ModelScores: domain.Scores{domain.ActionShort: 1}, RuleBias: domain.UniformScores()}
	for i := 0; i < 50; i++ {
		assert.Equal(t, domain.ActionShort, b.Blend(in))
	}
}

func TestBlendHighViolationFollowsRule(t *testing.T) {
	b := NewBlender(0.5, newRNG(4))
	in := BlendInput{
		ModelScores:    domain.Scores{domain.ActionLong: 1},
		RuleBias:       domain.Scores{domain.ActionFlat: 1},
		ViolationLevel: 5,
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, domain.ActionFlat, b.Blend(in))
	}
}

func TestBlendSampleFrequencies(t *testing.T) {
	b := NewBlender(0.5, newRNG(5))
	in := BlendInput{
		ModelScores: domain.Scores{domain.ActionLong: 0.8, domain.ActionShort: 0.2},
		RuleBias:    domain.Scores{domain.ActionLong: 0.4, domain.ActionShort: 0.2, domain.ActionFlat: 0.4},
	}
	// Combined: LONG 0.6, SHORT 0.2, FLAT 0.2.
	counts := map[domain.Action]int{}
	for i := 0; i < 5000; i++ {
		counts[b.Blend(in)]++
	}
	assert.InDelta(t, 3000, counts[domain.ActionLong], 200)
	assert.InDelta(t, 1000, counts[domain.ActionShort], 150)
	assert.InDelta(t, 1000, counts[domain.ActionFlat], 150)
}

func TestBlendSeededDeterminism(t *testing.T) {
	in := BlendInput{ModelScores: domain.UniformScores(), RuleBias: Uniform{}.Bias(nil)}
	run := func() []domain.Action {
		b := NewBlender(0.5, newRNG(9))
		out := make([]domain.Action, 30)
		for i := range out {
			out[i] = b.Blend(in)
		}
		return out
	}
	assert.Equal(t, run(), run())
}

// ---------------------------------------------------------------------------
// Rule-bias registry
// ---------------------------------------------------------------------------

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"sma-cross", "uniform"}, r.List())

	rb, ok := r.Get("uniform")
	require.True(t, ok)
	assert.Equal(t, "uniform", rb.Name())

	_, err := r.Lookup("nonexistent")
	assert.Error(t, err)
}

func barsFromCloses(closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Timestamp: int64(i), Close: c}
	}
	return bars
}

func TestSMACrossBias(t *testing.T) {
	s := NewSMACross(2, 4)

	short := s.Bias(barsFromCloses(1, 2))
	assert.Equal(t, Uniform{}.Bias(nil), short, "insufficient history")

	up := s.Bias(barsFromCloses(1, 2, 3, 4))
	assert.Greater(t, up[domain.ActionLong], up[domain.ActionShort])

	down := s.Bias(barsFromCloses(4, 3, 2, 1))
	assert.Greater(t, down[domain.ActionShort], down[domain.ActionLong])

	flat := s.Bias(barsFromCloses(2, 2, 2, 2))
	assert.Equal(t, Uniform{}.Bias(nil), flat)
}
