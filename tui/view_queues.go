package tui

import (
	"fmt"

	"github.com/benedict-erwin/resq/supervisor"
)

type queuesView struct {
	queues []supervisor.QueueReport
	cursor int
}

func (v *queuesView) render(width, maxRows int) string {
	t := newTable(width,
		colDef{header: "QUEUE", flex: true, min: 10},
		colDef{header: "PENDING"},
		colDef{header: "MONITORED"},
	)
	for _, q := range v.queues {
		monitored := statusActive.Render("yes")
		if !q.Monitored {
			monitored = statusUnmonitored.Render("no")
		}
		t.addRow(q.Name, fmt.Sprintf("%d", q.Pending), monitored)
	}
	return t.render(v.cursor, maxRows)
}

func (v *queuesView) clampCursor() {
	if v.cursor >= len(v.queues) {
		v.cursor = len(v.queues) - 1
	}
	if v.cursor < 0 {
		v.cursor = 0
	}
}
