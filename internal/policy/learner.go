package policy

import (
	"fmt"
	"math"
)

// Learner is an incremental multi-class classifier over feature vectors.
type Learner interface {
	// Predict returns one probability per class, summing to 1.
	Predict(x []float64) []float64
	// PartialFit performs one training step on a single labelled example.
	PartialFit(x []float64, label int) error
}

// SGDClassifier is a one-vs-rest logistic regression trained by stochastic
// gradient descent on log loss with L2 regularisation.
type SGDClassifier struct {
	classes      int
	learningRate float64
	l2           float64

	dim     int
	weights [][]float64
	bias    []float64
}

var _ Learner = (*SGDClassifier)(nil)

// NewSGDClassifier creates an untrained classifier for the given number of
// classes. The feature dimension is fixed by the first PartialFit call.
func NewSGDClassifier(classes int, learningRate, l2 float64) *SGDClassifier {
	if classes < 2 {
		classes = 2
	}
	return &SGDClassifier{
		classes:      classes,
		learningRate: learningRate,
		l2:           l2,
		bias:         make([]float64, classes),
	}
}

// Fitted reports whether at least one example has been seen.
func (c *SGDClassifier) Fitted() bool { return c.weights != nil }

// PartialFit updates every one-vs-rest model with x, treating label as the
// positive class.
func (c *SGDClassifier) PartialFit(x []float64, label int) error {
	if label < 0 || label >= c.classes {
		return fmt.Errorf("label %d out of range [0, %d)", label, c.classes)
	}
	if len(x) == 0 {
		return fmt.Errorf("empty feature vector")
	}
	if c.weights == nil {
		c.dim = len(x)
		c.weights = make([][]float64, c.classes)
		for k := range c.weights {
			c.weights[k] = make([]float64, c.dim)
		}
	} else if len(x) != c.dim {
		return fmt.Errorf("feature dimension %d, want %d", len(x), c.dim)
	}

	for k := 0; k < c.classes; k++ {
		y := 0.0
		if k == label {
			y = 1
		}
		grad := sigmoid(c.logit(k, x)) - y
		w := c.weights[k]
		for j := range w {
			w[j] -= c.learningRate * (grad*x[j] + c.l2*w[j])
		}
		c.bias[k] -= c.learningRate * grad
	}
	return nil
}

// Predict returns normalised one-vs-rest probabilities. Before the first fit,
// or for a vector of the wrong dimension, it returns a uniform distribution.
func (c *SGDClassifier) Predict(x []float64) []float64 {
	out := make([]float64, c.classes)
	if c.weights == nil || len(x) != c.dim {
		for k := range out {
			out[k] = 1 / float64(c.classes)
		}
		return out
	}
	sum := 0.0
	for k := range out {
		out[k] = sigmoid(c.logit(k, x))
		sum += out[k]
	}
	if sum == 0 || math.IsNaN(sum) {
		for k := range out {
			out[k] = 1 / float64(c.classes)
		}
		return out
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

func (c *SGDClassifier) logit(k int, x []float64) float64 {
	z := c.bias[k]
	for j, w := range c.weights[k] {
		z += w * x[j]
	}
	return z
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
