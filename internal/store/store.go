// Package store defines storage interfaces for the bar archive and the
// per-step decision journal, with Parquet and SQLite implementations.
package store

import (
	"context"
	"time"

	"policytrader/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars, merging with existing data.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for symbol within [start, end], oldest first.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all symbols with archived bars.
	ListSymbols(ctx context.Context) ([]string, error)
}

// Journal records what the policy did at each step. It never stores learned
// model state.
type Journal interface {
	// RecordStep appends one step record.
	RecordStep(ctx context.Context, rec domain.StepRecord) error

	// RecordSummary appends a performance snapshot for symbol.
	RecordSummary(ctx context.Context, symbol string, step int, s domain.Summary) error

	// ListSteps returns up to limit of the newest step records for symbol,
	// oldest first. limit <= 0 returns all.
	ListSteps(ctx context.Context, symbol string, limit int) ([]domain.StepRecord, error)
}
