package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/benedict-erwin/resq"
)

// Handshake polling: attempts × checks × tick bounds the wait at ~2.1s.
const (
	handshakeAttempts = 7
	handshakeChecks   = 3
	handshakeTick     = 100 * time.Millisecond
)

// handshakePath returns a path no other unit of any start can reuse.
func handshakePath(dir string, now time.Time, unit int) string {
	return filepath.Join(dir, fmt.Sprintf("resq-%d-%d", now.UnixNano(), unit))
}

// awaitHandshake polls path until a worker announces its pid there. The
// file is removed once read.
func (s *Supervisor) awaitHandshake(ctx context.Context, path string) (int, error) {
	for attempt := 0; attempt < handshakeAttempts; attempt++ {
		for check := 0; check < handshakeChecks; check++ {
			s.out.text(".")
			if err := s.sleep(ctx, handshakeTick); err != nil {
				return 0, err
			}
		}

		pid, err := resq.ReadPIDFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if err := os.Remove(path); err != nil {
			s.logger.Warn("removing handshake file", "path", path, "error", err)
		}
		return pid, nil
	}
	return 0, ErrHandshakeTimeout
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
