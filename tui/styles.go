package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	colorPrimary   = lipgloss.Color("39")  // blue
	colorSecondary = lipgloss.Color("245") // gray
	colorSuccess   = lipgloss.Color("42")  // green
	colorDanger    = lipgloss.Color("196") // red
	colorWarning   = lipgloss.Color("214") // orange
	colorMuted     = lipgloss.Color("240") // dark gray

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)

	// Tab bar
	activeTab = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("0")).
			Background(colorPrimary).
			Padding(0, 2)

	inactiveTab = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Padding(0, 2)

	// Status bar
	statusBar = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)

	// Table
	selectedRow = lipgloss.NewStyle().
			Background(lipgloss.Color("236"))

	// Chooser
	cursorStyle = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	allStyle    = lipgloss.NewStyle().Foreground(colorWarning)

	// Worker and queue badges
	statusActive      = lipgloss.NewStyle().Foreground(colorSuccess)
	statusPaused      = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	statusUnmonitored = lipgloss.NewStyle().Foreground(colorDanger)
	failedCount       = lipgloss.NewStyle().Foreground(colorDanger)

	// Error/info messages
	errStyle  = lipgloss.NewStyle().Foreground(colorDanger)
	infoStyle = lipgloss.NewStyle().Foreground(colorSuccess)
)

func styleWorkerState(paused bool) string {
	if paused {
		return statusPaused.Render("paused")
	}
	return statusActive.Render("active")
}
