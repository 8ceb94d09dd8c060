package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestFitCell(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		width int
		want  string
	}{
		{"pads short", "ab", 4, "ab  "},
		{"exact", "abcd", 4, "abcd"},
		{"truncates with ellipsis", "hello world", 8, "hello..."},
		{"narrow drops ellipsis", "hello", 3, "hel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitCell(tt.s, tt.width)
			if got != tt.want {
				t.Errorf("fitCell(%q, %d) = %q, want %q", tt.s, tt.width, got, tt.want)
			}
			if w := lipgloss.Width(got); w != tt.width {
				t.Errorf("visible width = %d, want %d", w, tt.width)
			}
		})
	}
}

func TestFitCellStyled(t *testing.T) {
	styled := "\x1b[31mhello world\x1b[0m"
	got := fitCell(styled, 8)
	if w := lipgloss.Width(got); w != 8 {
		t.Errorf("visible width = %d, want 8", w)
	}
}

func TestAllocWidths(t *testing.T) {
	t.Run("fits naturally", func(t *testing.T) {
		tbl := newTable(100, colDef{header: "A"}, colDef{header: "B", flex: true})
		tbl.addRow("aaaa", "bbbbbbbb")
		got := tbl.allocWidths()
		if got[0] != 4 || got[1] != 8 {
			t.Errorf("allocWidths = %v, want [4 8]", got)
		}
	})

	t.Run("shrinks flex only", func(t *testing.T) {
		tbl := newTable(12, colDef{header: "A"}, colDef{header: "B", flex: true, min: 3})
		tbl.addRow("aaaa", "bbbbbbbbbbbb")
		got := tbl.allocWidths()
		if got[0] != 4 {
			t.Errorf("fixed column = %d, want 4", got[0])
		}
		if total := got[0] + got[1] + len(colGap); total != 12 {
			t.Errorf("total width = %d, want 12", total)
		}
	})

	t.Run("stops at min", func(t *testing.T) {
		tbl := newTable(5, colDef{header: "AAAA"}, colDef{header: "B", flex: true, min: 3})
		tbl.addRow("x", "bbbbbbbb")
		got := tbl.allocWidths()
		if got[1] != 3 {
			t.Errorf("flex column = %d, want min 3", got[1])
		}
	})
}

func TestWindow(t *testing.T) {
	tests := []struct {
		name                  string
		cursor, total, rows   int
		wantStart, wantEnd    int
	}{
		{"unlimited", 0, 10, 0, 0, 10},
		{"fits", 2, 5, 10, 0, 5},
		{"top", 0, 20, 6, 0, 4},
		{"middle", 10, 20, 6, 8, 12},
		{"bottom", 19, 20, 6, 16, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := window(tt.cursor, tt.total, tt.rows)
			if start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("window(%d, %d, %d) = [%d, %d), want [%d, %d)",
					tt.cursor, tt.total, tt.rows, start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}

func TestTableRender(t *testing.T) {
	tbl := newTable(0, colDef{header: "QUEUE"}, colDef{header: "PENDING"})
	if out := tbl.render(0, 0); !strings.Contains(out, "(empty)") {
		t.Errorf("empty table = %q, want (empty)", out)
	}

	for _, q := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		tbl.addRow(q, "1")
	}
	out := tbl.render(0, 5)
	if !strings.Contains(out, "QUEUE") || !strings.Contains(out, "PENDING") {
		t.Errorf("missing header in %q", out)
	}
	if !strings.Contains(out, "more") {
		t.Errorf("expected a scroll indicator in %q", out)
	}
}
