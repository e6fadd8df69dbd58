// Package report renders performance summaries for humans and logs.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"policytrader/internal/domain"
	"policytrader/internal/metrics"
)

// Reporter receives periodic summaries for a symbol.
type Reporter interface {
	Render(symbol string, s domain.Summary)
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	passStyle   = cellStyle.Foreground(lipgloss.Color("10"))
	failStyle   = cellStyle.Foreground(lipgloss.Color("9"))
)

// TableReporter writes a bordered metric table per summary.
type TableReporter struct {
	mu      sync.Mutex
	w       io.Writer
	targets *metrics.Targets
}

var _ Reporter = (*TableReporter)(nil)

// NewTableReporter writes to w. When targets is non-nil each row also shows
// its target and whether it was met.
func NewTableReporter(w io.Writer, targets *metrics.Targets) *TableReporter {
	return &TableReporter{w: w, targets: targets}
}

type row struct {
	key, label, value, target string
}

// Render writes the table for s.
func (r *TableReporter) Render(symbol string, s domain.Summary) {
	rows := []row{
		{"winrate", "Win Rate", pct(s.WinRate), ""},
		{"profit_factor", "Profit Factor", num(s.ProfitFactor), ""},
		{"sharpe", "Sharpe", num(s.Sharpe), ""},
		{"roi", "ROI", pct(s.ROI), ""},
		{"mdd", "Max Drawdown", pct(s.MaxDrawdown), ""},
	}

	var met map[string]bool
	headers := []string{"Metric", "Value"}
	if r.targets != nil {
		met = metrics.EvaluateTargets(s, *r.targets)
		t := r.targets
		for i, tv := range []string{pct(t.WinRate), num(t.ProfitFactor), num(t.Sharpe), pct(t.ROI), "≤ " + pct(t.MaxDrawdown)} {
			rows[i].target = tv
		}
		headers = append(headers, "Target")
	}

	tbl := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("238"))).
		Headers(headers...)
	for _, rw := range rows {
		cells := []string{rw.label, rw.value}
		if r.targets != nil {
			cells = append(cells, rw.target)
		}
		tbl.Row(cells...)
	}
	tbl.StyleFunc(func(ri, col int) lipgloss.Style {
		if ri == table.HeaderRow {
			return headerStyle
		}
		if col == 1 && met != nil && ri >= 0 && ri < len(rows) {
			if met[rows[ri].key] {
				return passStyle
			}
			return failStyle
		}
		return cellStyle
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, titleStyle.Render("Performance · "+symbol))
	fmt.Fprintln(r.w, tbl.String())
}

// LogReporter emits each summary as one structured log line.
type LogReporter struct {
	log *slog.Logger
}

var _ Reporter = (*LogReporter)(nil)

// NewLogReporter logs through logger, or slog.Default() when nil.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{log: logger}
}

// Render logs s.
func (r *LogReporter) Render(symbol string, s domain.Summary) {
	r.log.Info("summary",
		"symbol", symbol,
		"winrate", s.WinRate,
		"profit_factor", finite(s.ProfitFactor),
		"sharpe", s.Sharpe,
		"roi", s.ROI,
		"mdd", s.MaxDrawdown,
	)
}

// Multi fans a summary out to several reporters.
type Multi []Reporter

// Render calls every reporter in order.
func (m Multi) Render(symbol string, s domain.Summary) {
	for _, r := range m {
		r.Render(symbol, s)
	}
}

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

func num(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	return fmt.Sprintf("%.3f", v)
}

// finite keeps JSON handlers from failing on +Inf.
func finite(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fmt.Sprint(v)
	}
	return v
}
