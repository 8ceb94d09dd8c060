package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/benedict-erwin/resq"
)

// QueueReport describes one queue in a stats snapshot.
type QueueReport struct {
	Name      string `json:"name"`
	Pending   int64  `json:"pending"`
	Monitored bool   `json:"monitored"` // watched by at least one active worker
}

// WorkerReport describes one active worker in a stats snapshot.
type WorkerReport struct {
	ID        string    `json:"id"`
	Paused    bool      `json:"paused"`
	StartedAt time.Time `json:"started_at"`
	Processed int64     `json:"processed"`
	Failed    int64     `json:"failed"`
}

// Report is a read-only snapshot of counters, queues and workers.
type Report struct {
	Processed int64          `json:"processed"`
	Failed    int64          `json:"failed"`
	Queues    []QueueReport  `json:"queues"`
	Workers   []WorkerReport `json:"workers"`
	TakenAt   time.Time      `json:"taken_at"`
}

// Snapshot gathers a Report. Unmonitored queues with no pending job are
// left out.
func (s *Supervisor) Snapshot(ctx context.Context) (*Report, error) {
	rep := &Report{TakenAt: s.now()}

	var err error
	if rep.Processed, err = s.stats.Get(ctx, resq.StatProcessed); err != nil {
		return nil, err
	}
	if rep.Failed, err = s.stats.Get(ctx, resq.StatFailed); err != nil {
		return nil, err
	}

	ids, err := s.dir.All(ctx)
	if err != nil {
		return nil, err
	}
	paused, err := s.status.GetPausedWorkers(ctx)
	if err != nil {
		return nil, err
	}
	isPaused := make(map[string]bool, len(paused))
	for _, id := range paused {
		isPaused[id] = true
	}

	monitored := make(map[string]bool)
	watchAll := false
	for _, id := range ids {
		_, _, queues, err := resq.ParseWorkerIdentity(id)
		if err != nil {
			continue
		}
		for _, q := range queues {
			if q == resq.AllQueues {
				watchAll = true
			}
			monitored[q] = true
		}

		wr := WorkerReport{ID: id, Paused: isPaused[id]}
		if wr.StartedAt, err = s.dir.StartedAt(ctx, id); err != nil {
			return nil, err
		}
		if wr.Processed, err = s.stats.Get(ctx, resq.WorkerStat(resq.StatProcessed, id)); err != nil {
			return nil, err
		}
		if wr.Failed, err = s.stats.Get(ctx, resq.WorkerStat(resq.StatFailed, id)); err != nil {
			return nil, err
		}
		rep.Workers = append(rep.Workers, wr)
	}

	names, err := s.queue.Queues(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		n, err := s.queue.Size(ctx, name)
		if err != nil {
			return nil, err
		}
		qr := QueueReport{Name: name, Pending: n, Monitored: watchAll || monitored[name]}
		if !qr.Monitored && n == 0 {
			continue
		}
		rep.Queues = append(rep.Queues, qr)
	}
	return rep, nil
}

// PrintStats writes a Snapshot in human-readable form.
func (s *Supervisor) PrintStats(ctx context.Context) error {
	rep, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	p := s.out

	p.title("Resque statistics")
	p.blank()
	p.subtitle("Jobs Stats")
	p.line("   Processed Jobs : %10d", rep.Processed)
	p.failure("   Failed Jobs    : %10d", rep.Failed)
	p.blank()

	p.subtitle("Queues Stats")
	p.line("   Queues count : %d", len(rep.Queues))
	for _, q := range rep.Queues {
		p.text("\t- %-20s : %10d pending jobs", q.Name, q.Pending)
		if !q.Monitored {
			p.text("%s", failureStyle.Render(" (unmonitored queue)"))
		}
		p.text("\n")
	}
	p.blank()

	p.subtitle("Workers Stats")
	p.line("  Active Workers : %d", len(rep.Workers))
	for _, w := range rep.Workers {
		p.text("%s", boldStyle.Render("    Worker : "+w.ID))
		if w.Paused {
			p.text("%s", successStyle.Render(" (Paused)"))
		}
		p.text("\n")
		if w.StartedAt.IsZero() {
			p.line("     - Started on     : %s", mutedStyle.Render("unknown"))
		} else {
			p.line("     - Started on     : %s", w.StartedAt.Local().Format(time.RFC1123))
			p.line("     - Uptime         : %s", FormatDuration(rep.TakenAt.Sub(w.StartedAt)))
		}
		p.line("     - Processed Jobs : %d", w.Processed)
		if w.Failed == 0 {
			p.line("     - Failed Jobs    : %d", w.Failed)
		} else {
			p.failure("     - Failed Jobs    : %d", w.Failed)
		}
	}
	p.blank()
	return nil
}

// FormatDuration renders d with its two largest units, such as
// "2 hours and 5 minutes". Durations under a minute read
// "less than a minute".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	units := []struct {
		name string
		size time.Duration
	}{
		{"day", 24 * time.Hour},
		{"hour", time.Hour},
		{"minute", time.Minute},
		{"second", time.Second},
	}

	var parts []string
	for _, u := range units {
		n := int64(d / u.size)
		d -= time.Duration(n) * u.size
		if n == 0 {
			continue
		}
		if u.name == "second" && len(parts) == 0 {
			return "less than a minute"
		}
		name := u.name
		if n > 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, name))
	}

	switch len(parts) {
	case 0:
		return "-"
	case 1:
		return parts[0]
	}
	return parts[0] + " and " + parts[1]
}

// LogFiles returns the distinct log files of every registered worker, sorted.
func (s *Supervisor) LogFiles(ctx context.Context) ([]string, error) {
	recs, err := s.status.GetWorkers(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, rec := range recs {
		for _, f := range []string{rec.Config.Log.Filename, rec.Config.Log.Target} {
			if f != "" && !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// Tail lets the user pick one of the workers' log files and follows it
// until ctx is done.
func (s *Supervisor) Tail(ctx context.Context, w io.Writer) error {
	s.out.title("Tailing log file")

	logs, err := s.LogFiles(ctx)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		s.out.failure("No log file to tail")
		return nil
	}

	index := 0
	if len(logs) > 1 {
		idx, _, err := s.chooser.Choose(ctx, Menu{Title: "Log files list", Prompt: "Log to tail", Items: logs})
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(logs) {
			return fmt.Errorf("resq: selection %d out of range", idx+1)
		}
		index = idx
	}

	s.out.subtitle("Tailing " + logs[index])
	return Follow(ctx, logs[index], w, 500*time.Millisecond)
}

// Follow copies path to w, then keeps copying what is appended to it
// every poll until ctx is done.
func Follow(ctx context.Context, path string, w io.Writer, poll time.Duration) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	for {
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := sleepContext(ctx, poll); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}
