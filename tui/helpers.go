package tui

import (
	"fmt"
	"time"
)

// clip shortens an identity that does not parse so it still fits the HOST
// column. Anything cut is marked with "..." when there is room for it.
func clip(s string, width int) string {
	if len(s) <= width {
		return s
	}
	if width <= 3 {
		return s[:width]
	}
	return s[:width-3] + "..."
}

// startedAgo renders the STARTED column of the workers view. Hours are
// kept up to two days so a worker started yesterday still reads in hours.
func startedAgo(started, now time.Time) string {
	if started.IsZero() {
		return "-"
	}
	switch up := now.Sub(started); {
	case up < 0:
		return "just now"
	case up >= 48*time.Hour:
		return fmt.Sprintf("%dd ago", int(up/(24*time.Hour)))
	case up >= time.Hour:
		return fmt.Sprintf("%dh ago", int(up/time.Hour))
	case up >= time.Minute:
		return fmt.Sprintf("%dm ago", int(up/time.Minute))
	default:
		return fmt.Sprintf("%ds ago", int(up/time.Second))
	}
}
