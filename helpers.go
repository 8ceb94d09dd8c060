package resq

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// AllQueues is the queue list entry meaning "every known queue".
const AllQueues = "*"

// safeNameRe matches strings containing only safe characters for Redis key components.
var safeNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// ValidQueueName reports whether name can be used as a queue name.
func ValidQueueName(name string) bool {
	return len(name) <= 128 && safeNameRe.MatchString(name)
}

// ParseQueues splits a comma separated queue list, dropping blanks.
func ParseQueues(s string) []string {
	var out []string
	for _, q := range strings.Split(s, ",") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// newLoggerFromLevel creates a slog.Logger at the given level.
// Falls back to slog.Default() if level is empty or unrecognized.
func newLoggerFromLevel(level string) *slog.Logger {
	lvl, ok := parseLevel(level)
	if !ok {
		return slog.Default()
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func parseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// NewLogger builds the logger a process writes to. handler selects the
// format ("text" or "json"); w receives the output.
func NewLogger(handler string, w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(handler, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
