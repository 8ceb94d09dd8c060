package tui

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/benedict-erwin/resq/supervisor"
)

// Chooser is an interactive supervisor.Chooser.
type Chooser struct {
	In  io.Reader
	Out io.Writer
}

// Choose shows menu until the user picks an entry or aborts.
func (c Chooser) Choose(ctx context.Context, menu supervisor.Menu) (int, bool, error) {
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if c.In != nil {
		opts = append(opts, tea.WithInput(c.In))
	}
	if c.Out != nil {
		opts = append(opts, tea.WithOutput(c.Out))
	}

	final, err := tea.NewProgram(newChooserModel(menu), opts...).Run()
	if err != nil {
		return 0, false, fmt.Errorf("running chooser: %w", err)
	}
	m := final.(chooserModel)
	if m.aborted || !m.done {
		return 0, false, supervisor.ErrSelectionAborted
	}
	if m.picksAll() {
		return 0, true, nil
	}
	return m.cursor, false, nil
}

type chooserModel struct {
	menu    supervisor.Menu
	cursor  int // len(menu.Items) is the "all" entry
	done    bool
	aborted bool
}

func newChooserModel(menu supervisor.Menu) chooserModel {
	return chooserModel{menu: menu}
}

// entries counts the selectable lines.
func (m chooserModel) entries() int {
	if m.menu.AllOption != "" {
		return len(m.menu.Items) + 1
	}
	return len(m.menu.Items)
}

func (m chooserModel) picksAll() bool {
	return m.menu.AllOption != "" && m.cursor == len(m.menu.Items)
}

func (m chooserModel) Init() tea.Cmd { return nil }

func (m chooserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch s := key.String(); s {
	case "q", "esc", "ctrl+c":
		m.aborted = true
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < m.entries()-1 {
			m.cursor++
		}
	case "a":
		if m.menu.AllOption != "" {
			m.cursor = len(m.menu.Items)
			m.done = true
			return m, tea.Quit
		}
	case "enter":
		m.done = true
		return m, tea.Quit
	default:
		if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= len(m.menu.Items) {
			m.cursor = n - 1
		}
	}
	return m, nil
}

func (m chooserModel) View() string {
	if m.done || m.aborted {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(m.menu.Title) + "\n\n")
	for i, item := range m.menu.Items {
		b.WriteString(m.line(i, fmt.Sprintf("[%d] %s", i+1, item)))
	}
	if m.menu.AllOption != "" {
		b.WriteString(m.line(len(m.menu.Items), allStyle.Render("[all] "+m.menu.AllOption)))
	}

	help := "↑↓/jk: move  1-9: jump  enter: select  q: abort"
	if m.menu.AllOption != "" {
		help = "↑↓/jk: move  1-9: jump  enter: select  a: all  q: abort"
	}
	b.WriteString(statusBar.Render(m.menu.Prompt + "  " + help))
	b.WriteString("\n")
	return b.String()
}

func (m chooserModel) line(i int, text string) string {
	if i == m.cursor {
		return cursorStyle.Render("> ") + selectedRow.Render(text) + "\n"
	}
	return "  " + text + "\n"
}
