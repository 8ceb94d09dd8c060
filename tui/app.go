package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/benedict-erwin/resq/supervisor"
)

const refreshInterval = 3 * time.Second
const clockInterval = 1 * time.Second

// Tab indices
const (
	tabQueues  = 0
	tabWorkers = 1
)

var tabNames = []string{"Queues", "Workers"}

// Source provides the snapshots shown by the monitor.
type Source interface {
	Snapshot(ctx context.Context) (*supervisor.Report, error)
}

// messages
type tickMsg time.Time
type clockMsg time.Time
type reportMsg struct {
	report *supervisor.Report
	err    error
}

// Model is the bubbletea model of the live stats monitor.
type Model struct {
	ctx         context.Context
	source      Source
	tab         int
	queues      queuesView
	workers     workersView
	processed   int64
	failed      int64
	width       int
	height      int
	lastErr     string
	lastRefresh time.Time
	now         time.Time
}

// NewModel creates a monitor model reading from source.
func NewModel(ctx context.Context, source Source) Model {
	return Model{ctx: ctx, source: source, now: time.Now()}
}

// Run starts the monitor and blocks until the user quits.
func Run(ctx context.Context, source Source) error {
	p := tea.NewProgram(NewModel(ctx, source), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchReport(m.ctx, m.source), tickCmd(), clockCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case clockMsg:
		m.now = time.Time(msg)
		return m, clockCmd()

	case tickMsg:
		return m, tea.Batch(tickCmd(), fetchReport(m.ctx, m.source))

	case reportMsg:
		m.lastRefresh = time.Now()
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.lastErr = ""
		m.processed = msg.report.Processed
		m.failed = msg.report.Failed
		m.queues.queues = msg.report.Queues
		m.queues.clampCursor()
		m.workers.workers = msg.report.Workers
		m.workers.clampCursor()
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.tab = (m.tab + 1) % len(tabNames)
	case "shift+tab":
		m.tab = (m.tab - 1 + len(tabNames)) % len(tabNames)
	case "1":
		m.tab = tabQueues
	case "2":
		m.tab = tabWorkers

	case "up", "k":
		m.moveCursor(-1)
	case "down", "j":
		m.moveCursor(1)

	case "f5", "r":
		return m, fetchReport(m.ctx, m.source)
	}
	return m, nil
}

func (m *Model) moveCursor(delta int) {
	switch m.tab {
	case tabQueues:
		m.queues.cursor += delta
		m.queues.clampCursor()
	case tabWorkers:
		m.workers.cursor += delta
		m.workers.clampCursor()
	}
}

func (m Model) View() string {
	var b strings.Builder

	// Title + clock
	title := titleStyle.Render("resq monitor")
	clock := lipgloss.NewStyle().Foreground(colorMuted).Render(m.now.Format("15:04:05"))
	refreshAgo := ""
	if !m.lastRefresh.IsZero() {
		d := m.now.Sub(m.lastRefresh)
		refreshAgo = lipgloss.NewStyle().Foreground(colorMuted).Render(
			fmt.Sprintf("  updated %ds ago", int(d.Seconds())))
	}
	b.WriteString(title + "  " + clock + refreshAgo + "\n")

	totals := infoStyle.Render(fmt.Sprintf("processed %d", m.processed)) + "  "
	if m.failed > 0 {
		totals += failedCount.Render(fmt.Sprintf("failed %d", m.failed))
	} else {
		totals += fmt.Sprintf("failed %d", m.failed)
	}
	b.WriteString(totals + "\n\n")

	// Tab bar
	for i, name := range tabNames {
		if i == m.tab {
			b.WriteString(activeTab.Render(fmt.Sprintf(" %d %s ", i+1, name)))
		} else {
			b.WriteString(inactiveTab.Render(fmt.Sprintf(" %d %s ", i+1, name)))
		}
	}
	b.WriteString("\n\n")

	if m.lastErr != "" {
		b.WriteString(errStyle.Render("Error: "+m.lastErr) + "\n\n")
	}

	// title(1) + totals(1) + blank(1) + tabs(1) + blank(1) + status bar(2) + table header(2)
	overhead := 9
	if m.lastErr != "" {
		overhead += 2
	}
	maxRows := m.height - overhead
	if maxRows < 3 {
		maxRows = 3
	}

	switch m.tab {
	case tabQueues:
		b.WriteString(m.queues.render(m.width, maxRows))
	case tabWorkers:
		b.WriteString(m.workers.render(m.width, maxRows, m.now))
	}

	help := "tab/1-2: switch  ↑↓/jk: navigate  r: refresh  q: quit"
	if m.width > 0 && len(help) > m.width {
		help = help[:m.width]
	}
	b.WriteString(statusBar.Render(help))

	// Pad to the terminal height so a resize clears stale lines.
	output := b.String()
	if m.height > 0 {
		for i := strings.Count(output, "\n"); i < m.height-1; i++ {
			output += "\n"
		}
	}
	return output
}

// Commands

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func clockCmd() tea.Cmd {
	return tea.Tick(clockInterval, func(t time.Time) tea.Msg {
		return clockMsg(t)
	})
}

func fetchReport(ctx context.Context, src Source) tea.Cmd {
	return func() tea.Msg {
		rep, err := src.Snapshot(ctx)
		return reportMsg{report: rep, err: err}
	}
}
