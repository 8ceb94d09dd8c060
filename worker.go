package resq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"
)

// WorkerState is the lifecycle state of a worker process.
type WorkerState string

// Worker states.
const (
	StateStarting     WorkerState = "starting"
	StateIdle         WorkerState = "idle"
	StateWorking      WorkerState = "working"
	StatePaused       WorkerState = "paused"
	StateShuttingDown WorkerState = "shutting_down"
	StateTerminated   WorkerState = "terminated"
)

// Signals understood by a worker.
var (
	SignalGracefulStop  os.Signal = syscall.SIGQUIT
	SignalImmediateStop os.Signal = syscall.SIGTERM
	SignalPause         os.Signal = syscall.SIGUSR2
	SignalResume        os.Signal = syscall.SIGCONT
)

const defaultWorkerInterval = 5 * time.Second

// WorkerOption configures a Worker.
type WorkerOption func(*workerConfig)

type workerConfig struct {
	queues   []string
	interval time.Duration
	hostname string
	pid      int
	logger   *slog.Logger
	logLevel string
	signals  <-chan os.Signal
	alive    func(pid int) bool
	onReady  func() error
}

// WithQueues sets the queues to watch, highest priority first.
func WithQueues(queues ...string) WorkerOption {
	return func(cfg *workerConfig) { cfg.queues = queues }
}

// WithInterval sets how long a reserve blocks, and how long a paused
// worker sleeps between checks.
func WithInterval(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.interval = d
		}
	}
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(cfg *workerConfig) { cfg.logger = l }
}

// WithLogLevel builds a stderr logger at level ("debug", "info", "warn",
// "error") when no logger is set.
func WithLogLevel(level string) WorkerOption {
	return func(cfg *workerConfig) { cfg.logLevel = level }
}

// WithSignals replaces OS signal delivery with ch.
func WithSignals(ch <-chan os.Signal) WorkerOption {
	return func(cfg *workerConfig) { cfg.signals = ch }
}

// WithHostname overrides the hostname used in the worker identity.
func WithHostname(h string) WorkerOption {
	return func(cfg *workerConfig) { cfg.hostname = h }
}

// WithPID overrides the pid used in the worker identity.
func WithPID(pid int) WorkerOption {
	return func(cfg *workerConfig) { cfg.pid = pid }
}

// WithLiveness overrides the check used to prune dead workers of this host.
func WithLiveness(alive func(pid int) bool) WorkerOption {
	return func(cfg *workerConfig) { cfg.alive = alive }
}

// WithReadyHook runs fn once the worker is registered and about to
// reserve its first job. A hook error aborts Work.
func WithReadyHook(fn func() error) WorkerOption {
	return func(cfg *workerConfig) { cfg.onReady = fn }
}

// Worker reserves and executes jobs one at a time until told to stop.
type Worker struct {
	cfg      workerConfig
	id       string
	queue    *Queue
	stats    *Stats
	failures *Failures
	dir      *Directory
	registry *Registry
	logger   *slog.Logger

	mu       sync.Mutex
	state    WorkerState
	paused   bool
	shutdown bool
}

// NewWorker builds a worker over rc dispatching to handlers in reg.
func NewWorker(rc *RedisClient, reg *Registry, opts ...WorkerOption) (*Worker, error) {
	cfg := workerConfig{
		interval: defaultWorkerInterval,
		pid:      os.Getpid(),
		alive:    processAlive,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.queues) == 0 {
		return nil, ErrNoQueues
	}
	if cfg.hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving hostname: %w", err)
		}
		cfg.hostname = h
	}
	if cfg.logger == nil {
		cfg.logger = newLoggerFromLevel(cfg.logLevel)
	}

	q, err := NewQueue(rc)
	if err != nil {
		return nil, err
	}

	id := WorkerIdentity(cfg.hostname, cfg.pid, cfg.queues)
	return &Worker{
		cfg:      cfg,
		id:       id,
		queue:    q,
		stats:    NewStats(rc),
		failures: NewFailures(rc),
		dir:      NewDirectory(rc),
		registry: reg,
		logger:   cfg.logger.With("worker", id),
		state:    StateStarting,
	}, nil
}

// ID returns the worker identity (host:pid:queues).
func (w *Worker) ID() string { return w.id }

// State returns the current lifecycle state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Paused reports whether the worker is paused.
func (w *Worker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

func (w *Worker) setState(s WorkerState) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Work registers the worker and runs the reserve/perform loop. It returns
// after a stop signal or when ctx is cancelled; cancellation behaves like
// an immediate stop.
func (w *Worker) Work(ctx context.Context) error {
	sigCh := w.cfg.signals
	if sigCh == nil {
		ch := make(chan os.Signal, 8)
		signal.Notify(ch, SignalGracefulStop, SignalImmediateStop, syscall.SIGINT, SignalPause, SignalResume)
		defer signal.Stop(ch)
		sigCh = ch
	}

	w.setState(StateStarting)
	w.pruneDeadWorkers(ctx)
	if err := w.dir.Register(ctx, w.id, time.Now()); err != nil {
		return err
	}
	defer func() {
		// ctx may already be cancelled; cleanup gets its own budget.
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.dir.Unregister(cleanupCtx, w.id); err != nil {
			w.logger.Error("failed to unregister worker", "error", err)
		}
		w.setState(StateTerminated)
		w.logger.Info("worker stopped")
	}()

	if w.cfg.onReady != nil {
		if err := w.cfg.onReady(); err != nil {
			return fmt.Errorf("worker ready hook: %w", err)
		}
	}

	w.logger.Info("worker started",
		"queues", strings.Join(w.cfg.queues, ","),
		"interval", w.cfg.interval,
		"handlers", len(w.registry.Classes()),
	)

	for {
		w.drainSignals(sigCh)
		if w.stopping() || ctx.Err() != nil {
			break
		}

		if w.Paused() {
			w.setState(StatePaused)
			select {
			case sig := <-sigCh:
				w.handleSignal(sig)
			case <-ctx.Done():
			case <-time.After(w.cfg.interval):
			}
			continue
		}

		job, err := w.queue.Reserve(ctx, w.cfg.queues, w.cfg.interval)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("reserve failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.interval):
			}
			continue
		}
		if job == nil {
			w.setState(StateIdle)
			continue
		}

		// A job popped while an immediate stop was pending goes back to
		// the head of its queue untouched.
		if w.drainSignals(sigCh) {
			if err := w.queue.unshift(context.WithoutCancel(ctx), job); err != nil {
				w.logger.Error("failed to return job to queue", "job_id", job.ID, "queue", job.Queue, "error", err)
			} else {
				w.logger.Info("returned job to queue", "job_id", job.ID, "queue", job.Queue)
			}
			break
		}

		w.setState(StateWorking)
		if abandoned := w.process(ctx, job, sigCh); abandoned {
			break
		}
	}

	w.setState(StateShuttingDown)
	return nil
}

func (w *Worker) stopping() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shutdown
}

// drainSignals handles every pending signal without blocking and reports
// whether one of them asked for an immediate stop.
func (w *Worker) drainSignals(sigCh <-chan os.Signal) bool {
	immediate := false
	for {
		select {
		case sig := <-sigCh:
			if w.handleSignal(sig) {
				immediate = true
			}
		default:
			return immediate
		}
	}
}

// handleSignal applies sig and reports whether it asks for an immediate stop.
func (w *Worker) handleSignal(sig os.Signal) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch sig {
	case SignalGracefulStop:
		w.logger.Info("graceful stop requested")
		w.shutdown = true
	case SignalImmediateStop, syscall.SIGINT:
		w.logger.Info("immediate stop requested", "signal", sig)
		w.shutdown = true
		return true
	case SignalPause:
		w.logger.Info("pausing")
		w.paused = true
	case SignalResume:
		w.logger.Info("resuming")
		w.paused = false
	default:
		w.logger.Debug("ignoring signal", "signal", sig)
	}
	return false
}

// process runs job and records the outcome. It returns true when the job
// was abandoned because of an immediate stop.
func (w *Worker) process(ctx context.Context, job *Job, sigCh <-chan os.Signal) bool {
	// Bookkeeping must survive the cancellation that abandons a job.
	storeCtx := context.WithoutCancel(ctx)

	if err := w.dir.SetCurrent(storeCtx, w.id, job); err != nil {
		w.logger.Warn("failed to record current job", "job_id", job.ID, "error", err)
	}
	defer func() {
		if err := w.dir.ClearCurrent(storeCtx, w.id); err != nil {
			w.logger.Warn("failed to clear current job", "job_id", job.ID, "error", err)
		}
	}()

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	startTime := time.Now()
	resultCh := make(chan error, 1)
	go func() {
		resultCh <- w.perform(jobCtx, job)
	}()

	for {
		select {
		case err := <-resultCh:
			w.finish(storeCtx, job, err, time.Since(startTime))
			return false
		case sig := <-sigCh:
			if w.handleSignal(sig) {
				w.logger.Warn("abandoning job", "job_id", job.ID, "class", job.Class)
				return true
			}
		case <-ctx.Done():
			w.logger.Warn("abandoning job", "job_id", job.ID, "class", job.Class, "error", ctx.Err())
			return true
		}
	}
}

// perform resolves and runs the handler. Panics and errors come back as
// *JobFailure; a decline comes back as ErrDontPerform.
func (w *Worker) perform(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &JobFailure{
				JobID: job.ID,
				Class: job.Class,
				Err:   fmt.Errorf("panic: %v", r),
				Stack: stackLines(debug.Stack()),
				Panic: true,
			}
		}
	}()

	fail := func(cause error) error {
		if errors.Is(cause, ErrDontPerform) {
			return cause
		}
		return &JobFailure{JobID: job.ID, Class: job.Class, Err: cause, Stack: stackLines(debug.Stack())}
	}

	h, err := w.registry.Resolve(job.Class)
	if err != nil {
		return fail(err)
	}

	if su, ok := h.(SetUpper); ok {
		if err := su.SetUp(ctx, job); err != nil {
			return fail(err)
		}
	}

	perr := h.Perform(ctx, job)

	if td, ok := h.(TearDowner); ok {
		if terr := td.TearDown(ctx, job); terr != nil && perr == nil {
			perr = terr
		}
	}

	if perr != nil {
		return fail(perr)
	}
	return nil
}

// finish updates counters and failure records for a completed attempt.
func (w *Worker) finish(ctx context.Context, job *Job, err error, elapsed time.Duration) {
	switch {
	case err == nil:
		if serr := w.stats.record(ctx, StatProcessed, w.id); serr != nil {
			w.logger.Error("failed to record processed job", "job_id", job.ID, "error", serr)
		}
		w.logger.Info("job completed", "job_id", job.ID, "class", job.Class, "duration", elapsed)

	case errors.Is(err, ErrDontPerform):
		w.logger.Info("job skipped", "job_id", job.ID, "class", job.Class)

	default:
		if serr := w.stats.record(ctx, StatFailed, w.id); serr != nil {
			w.logger.Error("failed to record failed job", "job_id", job.ID, "error", serr)
		}
		if _, ferr := w.failures.Save(ctx, job, err, w.id); ferr != nil {
			w.logger.Error("failed to save failure record", "job_id", job.ID, "error", ferr)
		}
		w.logger.Info("job failed", "job_id", job.ID, "class", job.Class, "error", err, "duration", elapsed)
	}
}

// pruneDeadWorkers unregisters workers of this host whose process is gone.
func (w *Worker) pruneDeadWorkers(ctx context.Context) {
	ids, err := w.dir.All(ctx)
	if err != nil {
		w.logger.Warn("listing workers for pruning failed", "error", err)
		return
	}
	for _, id := range ids {
		host, pid, _, err := ParseWorkerIdentity(id)
		if err != nil || host != w.cfg.hostname || pid == w.cfg.pid {
			continue
		}
		if w.cfg.alive(pid) {
			continue
		}
		w.logger.Info("pruning dead worker", "dead_worker", id)
		if err := w.dir.Unregister(ctx, id); err != nil {
			w.logger.Warn("pruning dead worker failed", "dead_worker", id, "error", err)
		}
	}
}

func stackLines(stack []byte) []string {
	lines := strings.Split(strings.TrimSpace(string(stack)), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}

// processAlive reports whether pid exists, using signal 0.
func processAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
