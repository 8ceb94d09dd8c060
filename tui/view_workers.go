package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/benedict-erwin/resq"
	"github.com/benedict-erwin/resq/supervisor"
)

type workersView struct {
	workers []supervisor.WorkerReport
	cursor  int
}

func (v *workersView) render(width, maxRows int, now time.Time) string {
	t := newTable(width,
		colDef{header: "HOST", flex: true, min: 8},
		colDef{header: "PID"},
		colDef{header: "QUEUES", flex: true, min: 10},
		colDef{header: "STATUS"},
		colDef{header: "STARTED"},
		colDef{header: "PROCESSED"},
		colDef{header: "FAILED"},
	)
	for _, w := range v.workers {
		host, pid, queues, err := resq.ParseWorkerIdentity(w.ID)
		if err != nil {
			host = clip(w.ID, 32)
		}
		failed := fmt.Sprintf("%d", w.Failed)
		if w.Failed > 0 {
			failed = failedCount.Render(failed)
		}
		t.addRow(
			host,
			fmt.Sprintf("%d", pid),
			strings.Join(queues, ","),
			styleWorkerState(w.Paused),
			startedAgo(w.StartedAt, now),
			fmt.Sprintf("%d", w.Processed),
			failed,
		)
	}
	return t.render(v.cursor, maxRows)
}

func (v *workersView) clampCursor() {
	if v.cursor >= len(v.workers) {
		v.cursor = len(v.workers) - 1
	}
	if v.cursor < 0 {
		v.cursor = 0
	}
}
