package resq

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Performer executes a job. Returning ErrDontPerform declines the job
// silently; any other error is a job failure.
type Performer interface {
	Perform(ctx context.Context, job *Job) error
}

// SetUpper is implemented by handlers that need to run before Perform.
// Returning ErrDontPerform from SetUp skips the job.
type SetUpper interface {
	SetUp(ctx context.Context, job *Job) error
}

// TearDowner is implemented by handlers that need to run after Perform.
type TearDowner interface {
	TearDown(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a plain function to Performer.
type HandlerFunc func(ctx context.Context, job *Job) error

// Perform calls f(ctx, job).
func (f HandlerFunc) Perform(ctx context.Context, job *Job) error { return f(ctx, job) }

// Factory builds a fresh handler for each job.
type Factory func() Performer

// Registry maps job classes to handler factories. Populate it once at
// worker startup; lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register binds class to factory.
func (r *Registry) Register(class string, factory Factory) error {
	if class == "" {
		return ErrInvalidJobType
	}
	if factory == nil {
		return fmt.Errorf("resq: nil factory for %s", class)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[class]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, class)
	}
	r.factories[class] = factory
	return nil
}

// HandleFunc binds class to a stateless function handler.
func (r *Registry) HandleFunc(class string, fn func(ctx context.Context, job *Job) error) error {
	if fn == nil {
		return fmt.Errorf("resq: nil handler for %s", class)
	}
	h := HandlerFunc(fn)
	return r.Register(class, func() Performer { return h })
}

// Resolve builds the handler for class.
func (r *Registry) Resolve(class string) (Performer, error) {
	r.mu.RLock()
	factory, ok := r.factories[class]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, class)
	}
	return factory(), nil
}

// Classes returns the registered classes, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for c := range r.factories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
