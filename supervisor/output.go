package supervisor

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
)

var (
	colorPrimary = lipgloss.Color("39")  // blue
	colorSuccess = lipgloss.Color("42")  // green
	colorDanger  = lipgloss.Color("196") // red
	colorMuted   = lipgloss.Color("240") // dark gray

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	subtitleStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	successStyle  = lipgloss.NewStyle().Foreground(colorSuccess)
	failureStyle  = lipgloss.NewStyle().Foreground(colorDanger)
	boldStyle     = lipgloss.NewStyle().Bold(true)
	mutedStyle    = lipgloss.NewStyle().Foreground(colorMuted)
)

// printer writes the human-readable progress of a command.
type printer struct {
	w io.Writer
}

func (p printer) title(s string) {
	fmt.Fprintln(p.w, titleStyle.Render("---- "+s+" ----"))
}

func (p printer) subtitle(s string) {
	fmt.Fprintln(p.w, subtitleStyle.Render(s))
}

func (p printer) text(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

func (p printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p printer) success(format string, args ...any) {
	fmt.Fprintln(p.w, successStyle.Render(fmt.Sprintf(format, args...)))
}

func (p printer) failure(format string, args ...any) {
	fmt.Fprintln(p.w, failureStyle.Render(fmt.Sprintf(format, args...)))
}

func (p printer) blank() {
	fmt.Fprintln(p.w)
}
