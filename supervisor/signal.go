package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/benedict-erwin/resq"
)

// Signals sent to workers.
var (
	signalGraceful  = resq.SignalGracefulStop.(syscall.Signal)
	signalImmediate = resq.SignalImmediateStop.(syscall.Signal)
	signalPause     = resq.SignalPause.(syscall.Signal)
	signalResume    = resq.SignalResume.(syscall.Signal)
)

// Signaler delivers a signal to a worker process owned by user.
type Signaler interface {
	Signal(ctx context.Context, pid int, sig syscall.Signal, user string) error
}

// OSSignaler signals processes of the calling user directly, and those
// of other users through sudo.
type OSSignaler struct {
	// Caller is the user running the supervisor.
	Caller string
}

// Signal sends sig to pid.
func (o OSSignaler) Signal(ctx context.Context, pid int, sig syscall.Signal, user string) error {
	if user == "" || user == o.Caller {
		return syscall.Kill(pid, sig)
	}

	name := strings.TrimPrefix(unix.SignalName(sig), "SIG")
	cmd := exec.CommandContext(ctx, "sudo", "-u", user, "kill", "-"+name, strconv.Itoa(pid))
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(out.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
