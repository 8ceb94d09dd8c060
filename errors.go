package resq

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrInvalidJobType is returned when a job class is empty.
	ErrInvalidJobType = errors.New("resq: invalid job class")

	// ErrInvalidQueueName is returned when a queue name contains invalid characters.
	ErrInvalidQueueName = errors.New("resq: invalid queue name (only alphanumeric, hyphen, underscore, dot allowed; max 128 chars)")

	// ErrHandlerNotFound is returned when no handler is registered for a job class.
	ErrHandlerNotFound = errors.New("resq: handler not found")

	// ErrDuplicateHandler is returned when a handler is registered twice for the same class.
	ErrDuplicateHandler = errors.New("resq: duplicate handler registration")

	// ErrDontPerform is returned by a handler's SetUp or Perform to decline
	// the job. The job is dropped without touching counters or failure records.
	ErrDontPerform = errors.New("resq: job declined")

	// ErrNoQueues is returned when a worker is built without any queue to watch.
	ErrNoQueues = errors.New("resq: no queues to watch")
)

// ConfigError reports invalid settings. It is fatal: nothing is spawned
// while a ConfigError is outstanding.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "resq: configuration error: " + e.Problems[0]
	}
	return "resq: configuration errors: " + strings.Join(e.Problems, "; ")
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{Problems: []string{fmt.Sprintf(format, args...)}}
}

// SerializationError is returned by Enqueue when an argument cannot be
// represented in the job wire format.
type SerializationError struct {
	Path string
	Kind reflect.Kind
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("resq: argument %s of kind %s is not serializable", e.Path, e.Kind)
}

// JobFailure wraps a handler-time error. Failures are recorded and absorbed
// by the worker loop.
type JobFailure struct {
	JobID string
	Class string
	Err   error
	Stack []string
	Panic bool
}

func (e *JobFailure) Error() string {
	return fmt.Sprintf("resq: job %s (%s) failed: %v", e.JobID, e.Class, e.Err)
}

func (e *JobFailure) Unwrap() error { return e.Err }
