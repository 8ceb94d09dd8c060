package supervisor

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrHandshakeTimeout is returned when a spawned worker never wrote its
	// handshake file within the polling window.
	ErrHandshakeTimeout = errors.New("resq: worker handshake not observed")

	// ErrNoCandidates is returned when a signal command has no worker to act on.
	ErrNoCandidates = errors.New("resq: no candidate workers")

	// ErrSelectionAborted is returned by a Chooser when the user cancels.
	ErrSelectionAborted = errors.New("resq: selection aborted")
)

// LaunchError reports a worker unit that could not be started.
type LaunchError struct {
	Unit int
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("resq: starting worker %d: %v", e.Unit, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// SignalError reports a signal that could not be delivered to a worker.
type SignalError struct {
	Worker string
	PID    int
	Signal syscall.Signal
	Err    error
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("resq: sending %s to %d: %v", e.Signal, e.PID, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }
