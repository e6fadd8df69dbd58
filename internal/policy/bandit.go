package policy

import (
	"fmt"
	"math/rand/v2"

	"policytrader/internal/config"
	"policytrader/internal/domain"
)

// Selector chooses a discrete action from features, mixing a learned
// classifier with exploration whose rate reacts to constraint violations.
type Selector struct {
	cfg         config.Bandit
	learner     Learner
	rng         *rand.Rand
	exploration float64
	initialized bool
}

// NewSelector creates a selector. A nil learner defaults to an SGDClassifier
// using the configured learning rate and L2 strength. A learner exposing
// Fitted() that reports true starts the selector initialized.
func NewSelector(cfg config.Bandit, learner Learner, rng *rand.Rand) *Selector {
	if learner == nil {
		learner = NewSGDClassifier(len(domain.Actions), cfg.LearningRate, cfg.L2)
	}
	s := &Selector{
		cfg:         cfg,
		learner:     learner,
		rng:         rng,
		exploration: clamp(cfg.BaseExploration, cfg.MinExploration, cfg.MaxExploration),
	}
	// A learner that was trained elsewhere skips the random-only phase.
	if f, ok := learner.(interface{ Fitted() bool }); ok {
		s.initialized = f.Fitted()
	}
	return s
}

// Select adapts the exploration rate to violationLevel and returns an action.
// Until the first Update it always returns a uniformly random action.
func (s *Selector) Select(features []float64, violationLevel float64) domain.Action {
	exploration := s.adjustExploration(violationLevel)
	if !s.initialized || s.rng.Float64() < exploration {
		return domain.Actions[s.rng.IntN(len(domain.Actions))]
	}
	proba := s.learner.Predict(features)
	best := 0
	for i, p := range proba {
		if p > proba[best] {
			best = i
		}
	}
	return domain.Actions[best]
}

// Update trains the learner to map features to action. The reward is not
// used by the classifier.
func (s *Selector) Update(features []float64, action domain.Action, reward float64) error {
	_ = reward
	idx := action.Index()
	if idx < 0 {
		return fmt.Errorf("%w: %q", domain.ErrInvalidAction, action)
	}
	if err := s.learner.PartialFit(features, idx); err != nil {
		return fmt.Errorf("selector update: %w", err)
	}
	s.initialized = true
	return nil
}

// Scores returns the learner's class distribution keyed by action, or a
// uniform distribution before the first Update.
func (s *Selector) Scores(features []float64) domain.Scores {
	if !s.initialized {
		return domain.UniformScores()
	}
	proba := s.learner.Predict(features)
	out := make(domain.Scores, len(domain.Actions))
	for i, a := range domain.Actions {
		if i < len(proba) {
			out[a] = proba[i]
		}
	}
	return out
}

// Exploration returns the current exploration rate.
func (s *Selector) Exploration() float64 { return s.exploration }

// Initialized reports whether the learner has been trained at least once.
func (s *Selector) Initialized() bool { return s.initialized }

func (s *Selector) adjustExploration(level float64) float64 {
	c := s.cfg
	switch {
	case level >= 1:
		s.exploration = max(c.MinExploration, c.SeverePenalty)
	case level > 0:
		s.exploration = max(c.MinExploration, c.MildPenalty)
	default:
		s.exploration = min(c.MaxExploration, s.exploration+c.RecoveryRate)
	}
	s.exploration = clamp(s.exploration, c.MinExploration, c.MaxExploration)
	return s.exploration
}
