// Package supervisor spawns, tracks and signals pools of resq worker
// processes on the local host.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/benedict-erwin/resq"
)

// Supervisor runs one command at a time; it is not safe for concurrent use.
type Supervisor struct {
	cfg    resq.SupervisorConfig
	rc     *resq.RedisClient
	status *resq.Status
	dir    *resq.Directory
	queue  *resq.Queue
	stats  *resq.Stats

	launcher  Launcher
	signaler  Signaler
	chooser   Chooser
	out       printer
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
	now       func() time.Time
	caller    string
	hostname  string
	bootstrap string
	lookupEnv func(string) string
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLauncher replaces process spawning.
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) { s.launcher = l }
}

// WithSignaler replaces signal delivery.
func WithSignaler(sg Signaler) Option {
	return func(s *Supervisor) { s.signaler = sg }
}

// WithChooser sets how the user picks among several workers.
func WithChooser(c Chooser) Option {
	return func(s *Supervisor) { s.chooser = c }
}

// WithOutput sets where command progress is written.
func WithOutput(w io.Writer) Option {
	return func(s *Supervisor) { s.out = printer{w: w} }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithSleep replaces the handshake poll sleep.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(s *Supervisor) { s.sleep = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// WithCaller sets the user the supervisor runs as.
func WithCaller(user string) Option {
	return func(s *Supervisor) { s.caller = user }
}

// WithHostname sets the host part of spawned worker identities.
func WithHostname(h string) Option {
	return func(s *Supervisor) { s.hostname = h }
}

// WithBootstrap sets the worker executable used when the config names none.
func WithBootstrap(path string) Option {
	return func(s *Supervisor) { s.bootstrap = path }
}

// WithLookupEnv sets where env entries without a value are resolved.
func WithLookupEnv(fn func(string) string) Option {
	return func(s *Supervisor) { s.lookupEnv = fn }
}

// New creates a supervisor for cfg over rc.
func New(cfg resq.SupervisorConfig, rc *resq.RedisClient, opts ...Option) (*Supervisor, error) {
	q, err := resq.NewQueue(rc)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:       cfg.Clone(),
		rc:        rc,
		status:    resq.NewStatus(rc),
		dir:       resq.NewDirectory(rc),
		queue:     q,
		stats:     resq.NewStats(rc),
		launcher:  ExecLauncher{},
		chooser:   PromptChooser{In: os.Stdin, Out: os.Stdout},
		out:       printer{w: os.Stdout},
		logger:    slog.Default(),
		sleep:     sleepContext,
		now:       time.Now,
		caller:    resq.CurrentUser(),
		lookupEnv: os.Getenv,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.signaler == nil {
		s.signaler = OSSignaler{Caller: s.caller}
	}
	if s.hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolving hostname: %w", err)
		}
		s.hostname = h
	}
	if s.bootstrap == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving worker executable: %w", err)
		}
		s.bootstrap = exe
	}
	return s, nil
}

// Config returns the configuration the supervisor was built with.
func (s *Supervisor) Config() resq.SupervisorConfig { return s.cfg.Clone() }

// StartResult is the per-unit outcome of a start.
type StartResult struct {
	Started []resq.WorkerRecord
	Errors  []error
}

func (r *StartResult) merge(o StartResult) {
	r.Started = append(r.Started, o.Started...)
	r.Errors = append(r.Errors, o.Errors...)
}

// SignalOptions controls stop, pause and resume.
type SignalOptions struct {
	All   bool // act on every candidate without asking
	Force bool // stop immediately instead of after the current job
}

// SignalOutcome is the result of signalling one worker.
type SignalOutcome struct {
	Worker string
	PID    int
	Err    error
}

// SignalResult is the per-worker outcome of stop, pause or resume.
type SignalResult struct {
	Signal   syscall.Signal
	Outcomes []SignalOutcome
}

// Succeeded returns the workers that received the signal.
func (r SignalResult) Succeeded() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o.Worker)
		}
	}
	return out
}

// Failed returns the outcomes that carry an error.
func (r SignalResult) Failed() []SignalOutcome {
	var out []SignalOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// Start spawns count workers configured by cfg. A count of zero or less
// uses cfg.Worker.Workers. Units that fail are reported in the result;
// the remaining ones are still started.
func (s *Supervisor) Start(ctx context.Context, count int, cfg resq.SupervisorConfig) StartResult {
	s.out.title("Creating workers")
	res := s.start(ctx, count, cfg)
	s.out.blank()
	return res
}

func (s *Supervisor) start(ctx context.Context, count int, cfg resq.SupervisorConfig) StartResult {
	if count <= 0 {
		count = cfg.Worker.Workers
	}
	bootstrap := s.bootstrapFor(cfg)
	queues := resq.ParseQueues(cfg.Worker.Queue)

	s.logger.Debug("starting workers", "count", count, "queues", cfg.Worker.Queue, "user", cfg.Worker.User)

	var res StartResult
	for unit := 1; unit <= count; unit++ {
		path := handshakePath(cfg.Worker.TmpDir, s.now(), unit)
		spec := buildLaunchSpec(cfg, bootstrap, s.caller, path, s.lookupEnv)
		s.logger.Debug("launching worker", "unit", unit, "command", spec.Path, "handshake", path)

		s.out.text("Starting worker ")
		if err := s.launcher.Launch(ctx, spec); err != nil {
			s.out.failure(" Fail")
			res.Errors = append(res.Errors, &LaunchError{Unit: unit, Err: err})
			continue
		}

		pid, err := s.awaitHandshake(ctx, path)
		if err != nil {
			s.out.failure(" Fail")
			res.Errors = append(res.Errors, &LaunchError{Unit: unit, Err: err})
			continue
		}

		rec := resq.WorkerRecord{
			PID:       pid,
			ID:        resq.WorkerIdentity(s.hostname, pid, queues),
			Queues:    queues,
			StartedAt: s.now().UTC(),
			Config:    cfg.WithWorkers(1),
		}
		s.logger.Debug("registering worker", "pid", pid)
		if err := s.status.AddWorker(ctx, pid, rec); err != nil {
			s.out.failure(" Fail")
			res.Errors = append(res.Errors, &LaunchError{Unit: unit, Err: err})
			continue
		}
		s.out.success(" Done")
		res.Started = append(res.Started, rec)
	}
	return res
}

// Stop signals the chosen active workers to stop: immediately with
// opts.Force, after their current job otherwise.
func (s *Supervisor) Stop(ctx context.Context, opts SignalOptions) (SignalResult, error) {
	active, err := s.dir.All(ctx)
	if err != nil {
		return SignalResult{}, err
	}
	candidates := s.local(active)
	sig := signalGraceful
	if opts.Force {
		sig = signalImmediate
	}
	return s.dispatch(ctx, candidates, opts, sig, stopSelection, func(pid int, _ string) error {
		return s.status.RemoveWorker(ctx, pid)
	})
}

// Pause signals the chosen active, unpaused workers to stop reserving.
func (s *Supervisor) Pause(ctx context.Context, opts SignalOptions) (SignalResult, error) {
	active, err := s.dir.All(ctx)
	if err != nil {
		return SignalResult{}, err
	}
	paused, err := s.status.GetPausedWorkers(ctx)
	if err != nil {
		return SignalResult{}, err
	}
	skip := make(map[string]bool, len(paused))
	for _, id := range paused {
		skip[id] = true
	}
	var candidates []string
	for _, id := range s.local(active) {
		if !skip[id] {
			candidates = append(candidates, id)
		}
	}
	return s.dispatch(ctx, candidates, opts, signalPause, pauseSelection, func(_ int, id string) error {
		return s.status.SetPausedWorker(ctx, id, true)
	})
}

// Resume signals the chosen paused workers to reserve again.
func (s *Supervisor) Resume(ctx context.Context, opts SignalOptions) (SignalResult, error) {
	paused, err := s.status.GetPausedWorkers(ctx)
	if err != nil {
		return SignalResult{}, err
	}
	return s.dispatch(ctx, s.local(paused), opts, signalResume, resumeSelection, func(_ int, id string) error {
		return s.status.SetPausedWorker(ctx, id, false)
	})
}

// local keeps the identities registered by this host. Workers of other
// hosts sharing the store are out of reach of local signals.
func (s *Supervisor) local(ids []string) []string {
	var out []string
	for _, id := range ids {
		host, _, _, err := resq.ParseWorkerIdentity(id)
		if err != nil || host != s.hostname {
			s.logger.Debug("skipping worker of another host", "worker", id)
			continue
		}
		out = append(out, id)
	}
	return out
}

// dispatch runs the selection protocol and signals every chosen worker.
// onSuccess runs only for workers the signal reached.
func (s *Supervisor) dispatch(ctx context.Context, candidates []string, opts SignalOptions, sig syscall.Signal, sel selection, onSuccess func(pid int, id string) error) (SignalResult, error) {
	s.out.title(sel.title)
	defer s.out.blank()

	res := SignalResult{Signal: sig}
	if opts.Force {
		s.logger.Debug("force option set")
	}
	if opts.All {
		s.logger.Debug("all option set")
	}

	targets, err := s.choose(ctx, candidates, opts.All, sel)
	if errors.Is(err, ErrNoCandidates) {
		s.out.failure("%s", sel.none)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	s.logger.Debug("signalling workers", "count", len(targets), "signal", sig)

	owners := s.owners(ctx)
	for _, id := range targets {
		_, pid, _, err := resq.ParseWorkerIdentity(id)
		if err != nil {
			s.out.failure("%s: %v", id, err)
			res.Outcomes = append(res.Outcomes, SignalOutcome{Worker: id, Err: err})
			continue
		}

		s.out.text("%s %d ... ", sel.action, pid)
		user, ok := owners[pid]
		if !ok {
			user = s.cfg.Worker.User
		}
		if err := s.signaler.Signal(ctx, pid, sig, user); err != nil {
			serr := &SignalError{Worker: id, PID: pid, Signal: sig, Err: err}
			s.out.failure("%v", err)
			res.Outcomes = append(res.Outcomes, SignalOutcome{Worker: id, PID: pid, Err: serr})
			continue
		}

		if err := onSuccess(pid, id); err != nil {
			s.logger.Error("updating worker registry", "worker", id, "error", err)
			s.out.failure("signalled, registry not updated: %v", err)
			res.Outcomes = append(res.Outcomes, SignalOutcome{Worker: id, PID: pid, Err: err})
			continue
		}
		s.out.success("Done")
		res.Outcomes = append(res.Outcomes, SignalOutcome{Worker: id, PID: pid})
	}
	return res, nil
}

// owners maps registered pids to the user their worker runs as.
func (s *Supervisor) owners(ctx context.Context) map[int]string {
	recs, err := s.status.GetWorkers(ctx)
	if err != nil {
		s.logger.Warn("reading worker registry", "error", err)
		return nil
	}
	out := make(map[int]string, len(recs))
	for _, rec := range recs {
		out[rec.PID] = rec.Config.Worker.User
	}
	return out
}

// RestartResult combines the stop and start halves of a restart.
type RestartResult struct {
	Stop  SignalResult
	Start StartResult
}

// Restart stops every worker and starts one process per registered
// worker with its original configuration.
func (s *Supervisor) Restart(ctx context.Context, opts SignalOptions) (RestartResult, error) {
	var res RestartResult

	recs, err := s.status.GetWorkers(ctx)
	if err != nil {
		return res, err
	}

	s.out.title("Restarting workers")
	if len(recs) == 0 {
		s.out.failure("No workers to restart")
		s.out.blank()
		return res, nil
	}

	res.Stop, err = s.Stop(ctx, SignalOptions{All: true, Force: opts.Force})
	if err != nil {
		return res, err
	}
	for _, rec := range recs {
		res.Start.merge(s.start(ctx, 1, rec.Config))
	}
	s.out.blank()
	return res, nil
}

// Load starts every queue profile of the configuration, in name order.
func (s *Supervisor) Load(ctx context.Context) StartResult {
	s.out.title("Loading predefined workers")
	defer s.out.blank()

	var res StartResult
	names := s.cfg.ProfileNames()
	if len(names) == 0 {
		s.out.failure("You have no configured workers to load.")
		return res
	}

	s.out.line("Loading %d workers", len(names))
	for _, name := range names {
		merged, err := s.cfg.WithProfile(name)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		s.logger.Debug("loading profile", "profile", name, "queue", merged.Worker.Queue, "workers", merged.Worker.Workers)
		res.merge(s.start(ctx, merged.Worker.Workers, merged))
	}
	return res
}

// Reset wipes the worker registry. Queues and counters are untouched.
func (s *Supervisor) Reset(ctx context.Context) error {
	s.logger.Debug("emptying the worker registry")
	if err := s.status.ClearWorkers(ctx); err != nil {
		return err
	}
	s.out.success("Worker registry has been reset")
	return nil
}
