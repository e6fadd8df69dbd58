package signals

import (
	"math/rand/v2"

	"policytrader/internal/domain"
)

// BlendInput carries the inputs for one blending decision.
type BlendInput struct {
	ModelScores    domain.Scores
	RuleBias       domain.Scores
	ViolationLevel float64
}

// Blender mixes model scores with a rule prior, shifting weight away from
// the model as constraint violations grow, and samples the result.
type Blender struct {
	baseWeight float64
	rng        *rand.Rand
}

// NewBlender creates a blender whose model weight starts at baseWeight.
func NewBlender(baseWeight float64, rng *rand.Rand) *Blender {
	return &Blender{baseWeight: baseWeight, rng: rng}
}

// ModelWeight returns the weight given to model scores at violationLevel.
func (b *Blender) ModelWeight(violationLevel float64) float64 {
	w := b.baseWeight - 0.2*violationLevel
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

// Combine returns the unnormalised per-action weights. Missing keys count
// as zero.
func (b *Blender) Combine(in BlendInput) domain.Scores {
	mw := b.ModelWeight(in.ViolationLevel)
	rw := 1 - mw
	out := make(domain.Scores, len(domain.Actions))
	for _, a := range domain.Actions {
		out[a] = mw*in.ModelScores[a] + rw*in.RuleBias[a]
	}
	return out
}

// Blend returns a sampled action. A non-positive total always yields FLAT.
func (b *Blender) Blend(in BlendInput) domain.Action {
	combined := b.Combine(in)
	total := 0.0
	for _, a := range domain.Actions {
		total += combined[a]
	}
	if total <= 0 {
		return domain.ActionFlat
	}

	u := b.rng.Float64() * total
	acc := 0.0
	for _, a := range domain.Actions {
		acc += combined[a]
		if u < acc {
			return a
		}
	}
	// Floating point remainder: return the last action with positive weight.
	for i := len(domain.Actions) - 1; i >= 0; i-- {
		if combined[domain.Actions[i]] > 0 {
			return domain.Actions[i]
		}
	}
	return domain.ActionFlat
}
