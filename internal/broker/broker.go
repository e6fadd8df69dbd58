// Package broker defines the Broker interface and the in-memory position
// simulator that realizes PnL for the policy's decisions.
package broker

import "policytrader/internal/domain"

// Broker abstracts the execution side of one symbol's trading loop.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// Step advances one bar with the given decision and size and returns the
	// PnL attributed to this bar.
	Step(bar domain.Bar, decision domain.Action, size float64) float64

	// Equity returns the current account equity.
	Equity() float64

	// Position returns the open position, if any.
	Position() (domain.Position, bool)
}
