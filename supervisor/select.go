package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Menu is the single-or-all choice shown when several workers qualify.
type Menu struct {
	Title     string
	Prompt    string
	Items     []string // one label per candidate, in candidate order
	AllOption string   // empty when picking everything is not offered
}

// Chooser asks the user to pick one menu item or all of them. It returns
// the picked index, or all=true.
type Chooser interface {
	Choose(ctx context.Context, menu Menu) (index int, all bool, err error)
}

// selection describes how one signal command presents itself.
type selection struct {
	title     string
	none      string
	allOption string
	prompt    string
	action    string
}

var (
	stopSelection = selection{
		title:     "Stopping workers",
		none:      "There are no workers to stop",
		allOption: "Stop all workers",
		prompt:    "Worker to stop",
		action:    "stopping",
	}
	pauseSelection = selection{
		title:     "Pausing workers",
		none:      "There are no workers to pause",
		allOption: "Pause all workers",
		prompt:    "Worker to pause",
		action:    "pausing",
	}
	resumeSelection = selection{
		title:     "Resuming workers",
		none:      "There are no paused workers to resume",
		allOption: "Resume all workers",
		prompt:    "Worker to resume",
		action:    "resuming",
	}
)

// choose runs the selection protocol over candidates and returns the
// workers to act on, in sorted order.
func (s *Supervisor) choose(ctx context.Context, candidates []string, all bool, sel selection) ([]string, error) {
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)

	switch {
	case len(sorted) == 0:
		return nil, ErrNoCandidates
	case len(sorted) == 1 || all:
		return sorted, nil
	}

	menu := Menu{Title: sel.title, Prompt: sel.prompt, AllOption: sel.allOption}
	for _, id := range sorted {
		menu.Items = append(menu.Items, s.label(ctx, id))
	}

	index, pickAll, err := s.chooser.Choose(ctx, menu)
	if err != nil {
		return nil, err
	}
	if pickAll {
		return sorted, nil
	}
	if index < 0 || index >= len(sorted) {
		return nil, fmt.Errorf("resq: selection %d out of range", index+1)
	}
	return sorted[index : index+1], nil
}

// label renders "<id>, started <ago> ago".
func (s *Supervisor) label(ctx context.Context, id string) string {
	started, err := s.dir.StartedAt(ctx, id)
	if err != nil || started.IsZero() {
		return id + ", started at an unknown time"
	}
	return fmt.Sprintf("%s, started %s ago", id, FormatDuration(s.now().Sub(started)))
}

// PromptChooser is a line-based Chooser: a numbered menu on Out, the
// answer read from In. It asks again until the answer is valid.
type PromptChooser struct {
	In  io.Reader
	Out io.Writer
}

// Choose prints menu and reads the answer.
func (p PromptChooser) Choose(ctx context.Context, menu Menu) (int, bool, error) {
	scanner := bufio.NewScanner(p.In)
	for {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}

		fmt.Fprintln(p.Out, menu.Title)
		for i, item := range menu.Items {
			fmt.Fprintf(p.Out, "  [%d] %s\n", i+1, item)
		}
		if menu.AllOption != "" {
			fmt.Fprintf(p.Out, "  [all] %s\n", menu.AllOption)
		}
		fmt.Fprintf(p.Out, "%s: ", menu.Prompt)

		if !scanner.Scan() {
			fmt.Fprintln(p.Out)
			return 0, false, ErrSelectionAborted
		}
		answer := strings.TrimSpace(scanner.Text())
		if menu.AllOption != "" && strings.EqualFold(answer, "all") {
			return 0, true, nil
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(menu.Items) {
			return n - 1, false, nil
		}
		fmt.Fprintf(p.Out, "Invalid choice %q\n", answer)
	}
}
