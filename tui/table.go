package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// colDef defines a table column. Flex columns give up width when the
// terminal is too narrow, down to min.
type colDef struct {
	header string
	flex   bool
	min    int // 0 = header length
}

// table renders rows of styled cells within a terminal width.
type table struct {
	cols     []colDef
	rows     [][]string
	widths   []int // content widths
	maxWidth int   // 0 = unlimited
}

const colGap = "  "

func newTable(maxWidth int, cols ...colDef) *table {
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = len(c.header)
		if c.min <= 0 {
			cols[i].min = len(c.header)
		}
	}
	return &table{cols: cols, widths: widths, maxWidth: maxWidth}
}

func (t *table) addRow(cells ...string) {
	row := make([]string, len(t.cols))
	copy(row, cells)
	for i, c := range row {
		if w := lipgloss.Width(c); w > t.widths[i] {
			t.widths[i] = w
		}
	}
	t.rows = append(t.rows, row)
}

// allocWidths fits the columns into maxWidth by narrowing the widest flex
// column one cell at a time.
func (t *table) allocWidths() []int {
	alloc := append([]int(nil), t.widths...)
	if t.maxWidth <= 0 {
		return alloc
	}

	total := len(colGap) * (len(alloc) - 1)
	for _, w := range alloc {
		total += w
	}
	for total > t.maxWidth {
		widest := -1
		for i, c := range t.cols {
			if c.flex && alloc[i] > c.min && (widest < 0 || alloc[i] > alloc[widest]) {
				widest = i
			}
		}
		if widest < 0 {
			break
		}
		alloc[widest]--
		total--
	}
	return alloc
}

var (
	headerText     = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	separatorStyle = lipgloss.NewStyle().Foreground(colorMuted)
	scrollStyle    = lipgloss.NewStyle().Foreground(colorMuted)
)

// window returns the [start, end) rows to show so that cursor stays
// visible within maxRows lines (0 = all rows).
func window(cursor, total, maxRows int) (int, int) {
	if maxRows <= 0 || total <= maxRows {
		return 0, total
	}
	slots := maxRows - 2 // scroll indicators
	if slots < 1 {
		slots = 1
	}
	start := cursor - slots/2
	if start < 0 {
		start = 0
	}
	if start+slots > total {
		start = total - slots
	}
	return start, start + slots
}

// render draws the table with the cursor row highlighted.
func (t *table) render(cursor, maxRows int) string {
	if len(t.rows) == 0 {
		return lipgloss.NewStyle().Foreground(colorMuted).Render("  (empty)")
	}

	alloc := t.allocWidths()
	start, end := window(cursor, len(t.rows), maxRows)

	var b strings.Builder
	headers := make([]string, len(t.cols))
	rules := make([]string, len(t.cols))
	for i, c := range t.cols {
		headers[i] = headerText.Render(fmt.Sprintf("%-*s", alloc[i], c.header))
		rules[i] = separatorStyle.Render(strings.Repeat("─", alloc[i]))
	}
	b.WriteString(strings.Join(headers, colGap) + "\n")
	b.WriteString(strings.Join(rules, colGap) + "\n")

	if start > 0 {
		b.WriteString(scrollStyle.Render(fmt.Sprintf("  ↑ %d more", start)) + "\n")
	}
	for ri := start; ri < end; ri++ {
		cells := make([]string, len(t.rows[ri]))
		for i, c := range t.rows[ri] {
			cells[i] = fitCell(c, alloc[i])
		}
		line := strings.Join(cells, colGap)
		if ri == cursor {
			line = selectedRow.Render(line)
		}
		b.WriteString(line + "\n")
	}
	if end < len(t.rows) {
		b.WriteString(scrollStyle.Render(fmt.Sprintf("  ↓ %d more", len(t.rows)-end)) + "\n")
	}
	return b.String()
}

// fitCell truncates or pads a styled cell to exactly w visible cells.
func fitCell(c string, w int) string {
	if lipgloss.Width(c) > w {
		tail := "..."
		if w <= len(tail) {
			tail = ""
		}
		c = ansi.Truncate(c, w, tail)
	}
	if pad := w - lipgloss.Width(c); pad > 0 {
		c += strings.Repeat(" ", pad)
	}
	return c
}
