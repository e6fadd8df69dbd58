package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"policytrader/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ Journal = (*SQLiteStore)(nil)

// moneyPlaces is the fixed precision of price, PnL, and equity columns.
const moneyPlaces = 10

const schema = `
CREATE TABLE IF NOT EXISTS steps (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT    NOT NULL,
	symbol          TEXT    NOT NULL,
	step            INTEGER NOT NULL,
	ts              INTEGER NOT NULL,
	close           TEXT    NOT NULL,
	action          TEXT    NOT NULL,
	decision        TEXT    NOT NULL,
	kill_switch     TEXT    NOT NULL,
	pnl             TEXT    NOT NULL,
	equity          TEXT    NOT NULL,
	reward          REAL    NOT NULL,
	penalty         REAL    NOT NULL,
	violation_level REAL    NOT NULL,
	sharpe          REAL    NOT NULL,
	mdd             REAL    NOT NULL,
	roi             REAL    NOT NULL,
	size            REAL    NOT NULL,
	exploration     REAL    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_steps_symbol ON steps(symbol, id);
CREATE TABLE IF NOT EXISTS summaries (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT    NOT NULL,
	symbol        TEXT    NOT NULL,
	step          INTEGER NOT NULL,
	winrate       REAL    NOT NULL,
	profit_factor REAL    NOT NULL,
	sharpe        REAL    NOT NULL,
	roi           TEXT    NOT NULL,
	mdd           REAL    NOT NULL
);
`

// SQLiteStore implements Journal backed by a SQLite database. Every row it
// writes is tagged with the run ID generated when the store was opened.
type SQLiteStore struct {
	db    *sql.DB
	runID string
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// journal tables, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal tables: %w", err)
	}
	return &SQLiteStore{db: db, runID: uuid.NewString()}, nil
}

// RunID returns the identifier attached to rows written by this store.
func (s *SQLiteStore) RunID() string { return s.runID }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Journal implementation
// ---------------------------------------------------------------------------

// RecordStep inserts one step row.
func (s *SQLiteStore) RecordStep(ctx context.Context, r domain.StepRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO steps
		(run_id, symbol, step, ts, close, action, decision, kill_switch, pnl, equity,
		 reward, penalty, violation_level, sharpe, mdd, roi, size, exploration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, r.Symbol, r.Step, r.Timestamp, money(r.Close),
		string(r.Action), string(r.Decision), string(r.KillSwitch),
		money(r.PnL), money(r.Equity),
		r.Reward, r.Penalty, r.ViolationLevel, r.Sharpe, r.MaxDrawdown, r.ROI, r.Size, r.Exploration,
	)
	if err != nil {
		return fmt.Errorf("recording step %s/%d: %w", r.Symbol, r.Step, err)
	}
	return nil
}

// RecordSummary inserts one summary row. An infinite profit factor is stored
// as -1.
func (s *SQLiteStore) RecordSummary(ctx context.Context, symbol string, step int, sum domain.Summary) error {
	pf := sum.ProfitFactor
	if math.IsInf(pf, 0) {
		pf = -1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO summaries
		(run_id, symbol, step, winrate, profit_factor, sharpe, roi, mdd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, symbol, step, sum.WinRate, pf, sum.Sharpe, money(sum.ROI), sum.MaxDrawdown,
	)
	if err != nil {
		return fmt.Errorf("recording summary %s/%d: %w", symbol, step, err)
	}
	return nil
}

// ListSteps returns the newest step records for symbol across all runs,
// oldest first.
func (s *SQLiteStore) ListSteps(ctx context.Context, symbol string, limit int) ([]domain.StepRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		symbol, step, ts, close, action, decision, kill_switch, pnl, equity,
		reward, penalty, violation_level, sharpe, mdd, roi, size, exploration
		FROM steps WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StepRecord
	for rows.Next() {
		var (
			r                        domain.StepRecord
			closeStr, pnlStr, eqStr  string
			action, decision, killSw string
		)
		if err := rows.Scan(&r.Symbol, &r.Step, &r.Timestamp, &closeStr, &action, &decision, &killSw,
			&pnlStr, &eqStr, &r.Reward, &r.Penalty, &r.ViolationLevel, &r.Sharpe, &r.MaxDrawdown,
			&r.ROI, &r.Size, &r.Exploration); err != nil {
			return nil, err
		}
		r.Action = domain.Action(action)
		r.Decision = domain.Action(decision)
		r.KillSwitch = domain.KillSwitch(killSw)
		if r.Close, err = parseMoney(closeStr); err != nil {
			return nil, err
		}
		if r.PnL, err = parseMoney(pnlStr); err != nil {
			return nil, err
		}
		if r.Equity, err = parseMoney(eqStr); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// CountSummaries returns how many summary rows exist for symbol.
func (s *SQLiteStore) CountSummaries(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries WHERE symbol = ?`, symbol).Scan(&n)
	return n, err
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(moneyPlaces)
}

func parseMoney(s string) (float64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing decimal %q: %w", s, err)
	}
	f, _ := d.Float64()
	return f, nil
}
