// Package signals turns model scores and rule-based priors into a single
// trading decision.
package signals

import (
	"fmt"
	"sort"

	"policytrader/internal/domain"
)

// RuleBias produces a prior over actions from recent bars.
type RuleBias interface {
	// Name returns the unique identifier used in configuration.
	Name() string

	// Bias returns a score per action for the given history, oldest bar
	// first. Implementations must not retain bars.
	Bias(bars []domain.Bar) domain.Scores
}

// Registry holds a named collection of rule-bias providers.
type Registry struct {
	rules map[string]RuleBias
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{rules: make(map[string]RuleBias)}
}

// DefaultRegistry returns a registry with the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Uniform{})
	r.Register(NewSMACross(5, 15))
	return r
}

// Register adds a provider keyed by its Name().
func (r *Registry) Register(rb RuleBias) {
	r.rules[rb.Name()] = rb
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (RuleBias, bool) {
	rb, ok := r.rules[name]
	return rb, ok
}

// Lookup is Get with an error for unknown names.
func (r *Registry) Lookup(name string) (RuleBias, error) {
	rb, ok := r.rules[name]
	if !ok {
		return nil, fmt.Errorf("unknown rule bias %q (have %v)", name, r.List())
	}
	return rb, nil
}

// List returns the sorted provider names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.rules))
	for name := range r.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ---------------------------------------------------------------------------
// Built-in providers
// ---------------------------------------------------------------------------

var _ RuleBias = Uniform{}

// Uniform is a constant, nearly flat prior with a slight FLAT preference.
type Uniform struct{}

// Name returns "uniform".
func (Uniform) Name() string { return "uniform" }

// Bias ignores bars.
func (Uniform) Bias([]domain.Bar) domain.Scores {
	return domain.Scores{domain.ActionLong: 0.33, domain.ActionShort: 0.33, domain.ActionFlat: 0.34}
}

var _ RuleBias = (*SMACross)(nil)

// SMACross leans LONG when the fast SMA of closes is above the slow SMA and
// SHORT when below. With too little history it falls back to Uniform.
type SMACross struct {
	fast int
	slow int
}

// NewSMACross creates a crossover prior with the given periods.
func NewSMACross(fast, slow int) *SMACross {
	return &SMACross{fast: fast, slow: slow}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string { return "sma-cross" }

// Bias returns the crossover prior.
func (s *SMACross) Bias(bars []domain.Bar) domain.Scores {
	if len(bars) < s.slow || s.fast <= 0 {
		return Uniform{}.Bias(nil)
	}
	fast := smaClose(bars[len(bars)-s.fast:])
	slow := smaClose(bars[len(bars)-s.slow:])
	switch {
	case fast > slow:
		return domain.Scores{domain.ActionLong: 0.6, domain.ActionShort: 0.1, domain.ActionFlat: 0.3}
	case fast < slow:
		return domain.Scores{domain.ActionLong: 0.1, domain.ActionShort: 0.6, domain.ActionFlat: 0.3}
	default:
		return Uniform{}.Bias(nil)
	}
}

func smaClose(bars []domain.Bar) float64 {
	sum := 0.0
	for _, b := range bars {
		sum += b.Close
	}
	return sum / float64(len(bars))
}
