package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"policytrader/internal/api"
	"policytrader/internal/config"
	"policytrader/internal/domain"
)

// Styles.
var (
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	normalStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	reduceStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	decreaseStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("208"))
	flatStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func killStyle(k domain.KillSwitch) lipgloss.Style {
	switch k {
	case domain.KillNormal:
		return normalStyle
	case domain.KillReduce:
		return reduceStyle
	case domain.KillDecreaseModel:
		return decreaseStyle
	case domain.KillFlat:
		return flatStyle
	default:
		return lipgloss.NewStyle()
	}
}

// Messages.
type tickMsg time.Time
type syncErrMsg struct{ err error }

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model.
type model struct {
	mirror   *api.Monitor
	addr     string
	records  []domain.StepRecord
	updated  time.Time
	syncErr  error
	viewport viewport.Model
	ready    bool

	width, height int
	syncCancel    context.CancelFunc
	errCh         <-chan error
}

func initialModel(mirror *api.Monitor, addr string, cancel context.CancelFunc, errCh <-chan error) model {
	return model{mirror: mirror, addr: addr, syncCancel: cancel, errCh: errCh}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitErr(m.errCh))
}

func waitErr(ch <-chan error) tea.Cmd {
	return func() tea.Msg {
		return syncErrMsg{err: <-ch}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.syncCancel()
			return m, tea.Quit
		case "home":
			if m.ready {
				m.viewport.GotoTop()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := max(m.height-2, 1)
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.refresh()
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tickCmd()

	case syncErrMsg:
		m.syncErr = msg.err
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m *model) refresh() {
	m.records = m.mirror.Snapshots()
	m.updated = time.Now()
	if m.ready {
		m.viewport.SetContent(m.renderContent())
	}
}

func (m model) View() string {
	if !m.ready {
		return "Connecting..."
	}
	headerText := fmt.Sprintf(" policy monitor  %s    symbols: %d    updated: %s ",
		m.addr, len(m.records), m.updated.Format(time.TimeOnly))
	headerBar := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("4")).
		Render(padOrTrunc(headerText, m.width))

	footerLeft := " q quit  home top  pgup/dn scroll"
	footerRight := fmt.Sprintf("%.0f%% ", m.viewport.ScrollPercent()*100)
	gap := max(m.width-len(footerLeft)-len(footerRight), 0)
	footerBar := lipgloss.NewStyle().
		Foreground(lipgloss.Color("15")).
		Background(lipgloss.Color("8")).
		Render(padOrTrunc(footerLeft+strings.Repeat(" ", gap)+footerRight, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}

func (m model) renderContent() string {
	var b strings.Builder
	if m.syncErr != nil {
		b.WriteString(lossStyle.Render("stream ended: "+m.syncErr.Error()) + "\n\n")
	}
	if len(m.records) == 0 {
		b.WriteString(dimStyle.Render("  waiting for steps..."))
		return b.String()
	}

	b.WriteString(colHeaderStyle.Render(fmt.Sprintf("  %-10s %7s %-19s %11s %-5s %-5s %-14s %10s %8s %8s %8s %6s %6s %6s",
		"Symbol", "Step", "Time", "Close", "Act", "Dec", "Kill", "Equity", "ROI%", "Sharpe", "MDD%", "Size", "Viol", "Eps")))
	b.WriteString("\n")
	for _, r := range m.records {
		roi := gainStyle
		if r.ROI < 0 {
			roi = lossStyle
		}
		fmt.Fprintf(&b, "  %s %7d %-19s %11.4f %-5s %-5s %s %10.4f %s %8.2f %8.2f %6.2f %6.3f %6.3f\n",
			symbolStyle.Render(fmt.Sprintf("%-10s", r.Symbol)),
			r.Step,
			time.Unix(r.Timestamp, 0).UTC().Format(time.DateTime),
			r.Close,
			r.Action,
			r.Decision,
			killStyle(r.KillSwitch).Render(fmt.Sprintf("%-14s", r.KillSwitch)),
			r.Equity,
			roi.Render(fmt.Sprintf("%8.2f", r.ROI*100)),
			r.Sharpe,
			r.MaxDrawdown*100,
			r.Size,
			r.ViolationLevel,
			r.Exploration,
		)
	}
	return b.String()
}

// padOrTrunc pads s with spaces or truncates it to exactly width runes.
func padOrTrunc(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return string(r[:max(width, 0)])
	}
	return s + strings.Repeat(" ", width-len(r))
}

func main() {
	_ = godotenv.Load()

	cfgPath := "config/policy.yaml"
	if p := os.Getenv("POLICY_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	addr := cfg.Server.GRPCAddr
	if a := os.Getenv("POLICY_MONITOR_ADDR"); a != "" {
		addr = a
	}
	if addr == "" {
		fmt.Fprintln(os.Stderr, "server.grpc_addr is not configured")
		os.Exit(1)
	}

	// The TUI owns the terminal; logs are discarded unless debugging.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	client, err := api.Dial(addr)
	if err != nil {
		logger.Error("dial failed", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Mirror the server's monitor locally.
	mirror := api.NewMonitor()
	errCh := make(chan error, 1)
	go func() {
		err := client.Watch(ctx, "", func(rec domain.StepRecord) error {
			mirror.Observe(rec)
			return nil
		})
		if err == nil {
			err = fmt.Errorf("server closed the stream")
		}
		errCh <- err
	}()

	p := tea.NewProgram(
		initialModel(mirror, addr, cancel, errCh),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
