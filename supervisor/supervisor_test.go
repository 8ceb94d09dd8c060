package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benedict-erwin/resq"
)

// --- Fakes ---

// fakeLauncher plays the worker side of the handshake: it writes a pid
// to the PIDFILE of the spec and registers the worker identity.
type fakeLauncher struct {
	dir       *resq.Directory
	host      string
	startedAt time.Time
	nextPID   int
	calls     int
	specs     []LaunchSpec
	fail      map[int]error // by launch number, 1-based
	silent    map[int]bool  // launched but never handshaking
}

func (l *fakeLauncher) Launch(ctx context.Context, spec LaunchSpec) error {
	l.calls++
	l.specs = append(l.specs, spec)
	if err := l.fail[l.calls]; err != nil {
		return err
	}
	if l.silent[l.calls] {
		return nil
	}

	vars := append(append([]string(nil), spec.Env...), spec.Args...)
	l.nextPID++
	pid := l.nextPID
	if err := resq.WritePIDFile(lookupVar(vars, resq.EnvPIDFile), pid); err != nil {
		return err
	}
	id := resq.WorkerIdentity(l.host, pid, resq.ParseQueues(lookupVar(vars, resq.EnvQueue)))
	return l.dir.Register(ctx, id, l.startedAt)
}

func lookupVar(vars []string, name string) string {
	for _, v := range vars {
		if k, val, ok := strings.Cut(v, "="); ok && k == name {
			return val
		}
	}
	return ""
}

type signalCall struct {
	PID  int
	Sig  syscall.Signal
	User string
}

type fakeSignaler struct {
	calls []signalCall
	fail  map[int]error
}

func (f *fakeSignaler) Signal(_ context.Context, pid int, sig syscall.Signal, user string) error {
	f.calls = append(f.calls, signalCall{PID: pid, Sig: sig, User: user})
	return f.fail[pid]
}

func (f *fakeSignaler) pids() []int {
	out := make([]int, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.PID
	}
	return out
}

type fakeChooser struct {
	index int
	all   bool
	err   error
	menus []Menu
}

func (c *fakeChooser) Choose(_ context.Context, menu Menu) (int, bool, error) {
	c.menus = append(c.menus, menu)
	return c.index, c.all, c.err
}

// --- Fixture ---

type fixture struct {
	sup      *Supervisor
	cfg      *resq.SupervisorConfig
	rc       *resq.RedisClient
	mr       *miniredis.Miniredis
	launcher *fakeLauncher
	signaler *fakeSignaler
	chooser  *fakeChooser
	out      *bytes.Buffer
}

func testConfig(t *testing.T) *resq.SupervisorConfig {
	t.Helper()
	cfg := resq.DefaultConfig()
	cfg.Worker.Queue = "mail"
	cfg.Worker.User = "ops"
	cfg.Worker.TmpDir = t.TempDir()
	return cfg
}

func newFixture(t *testing.T, cfg *resq.SupervisorConfig) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := resq.NewRedisClient(resq.WithRedisAddr(mr.Addr()))
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	clock := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		cfg:      cfg,
		rc:       rc,
		mr:       mr,
		launcher: &fakeLauncher{
			dir:       resq.NewDirectory(rc),
			host:      "box",
			startedAt: clock.Add(-90 * time.Minute),
			nextPID:   4000,
		},
		signaler: &fakeSignaler{},
		chooser:  &fakeChooser{},
		out:      &bytes.Buffer{},
	}
	f.sup, err = New(*cfg, rc,
		WithLauncher(f.launcher),
		WithSignaler(f.signaler),
		WithChooser(f.chooser),
		WithOutput(f.out),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }),
		WithClock(func() time.Time {
			clock = clock.Add(time.Millisecond)
			return clock
		}),
		WithCaller("ops"),
		WithHostname("box"),
		WithBootstrap("/usr/local/bin/resq"),
		WithLookupEnv(func(string) string { return "" }),
	)
	require.NoError(t, err)
	return f
}

// seed starts n workers with the fixture configuration.
func (f *fixture) seed(t *testing.T, n int) []resq.WorkerRecord {
	t.Helper()
	res := f.sup.Start(context.Background(), n, *f.cfg)
	require.Empty(t, res.Errors)
	require.Len(t, res.Started, n)
	f.out.Reset()
	return res.Started
}

func (f *fixture) registered(t *testing.T) []int {
	t.Helper()
	recs, err := resq.NewStatus(f.rc).GetWorkers(context.Background())
	require.NoError(t, err)
	pids := make([]int, len(recs))
	for i, r := range recs {
		pids[i] = r.PID
	}
	return pids
}

func (f *fixture) paused(t *testing.T) []string {
	t.Helper()
	ids, err := resq.NewStatus(f.rc).GetPausedWorkers(context.Background())
	require.NoError(t, err)
	return ids
}

// --- Start ---

func TestStart(t *testing.T) {
	f := newFixture(t, testConfig(t))

	res := f.sup.Start(context.Background(), 3, *f.cfg)
	require.Empty(t, res.Errors)
	require.Len(t, res.Started, 3)

	assert.Equal(t, []int{4001, 4002, 4003}, f.registered(t))
	assert.Equal(t, "box:4001:mail", res.Started[0].ID)
	assert.Equal(t, []string{"mail"}, res.Started[0].Queues)
	assert.Equal(t, 1, res.Started[0].Config.Worker.Workers)

	spec := f.launcher.specs[0]
	assert.Equal(t, "/usr/local/bin/resq", spec.Path)
	assert.Equal(t, []string{"work"}, spec.Args)
	assert.Contains(t, spec.Env, "QUEUE=mail")
	assert.Contains(t, spec.Env, "COUNT=1")
	assert.Equal(t, f.cfg.Log.Filename, spec.LogFile)

	// Every unit gets its own handshake file, removed once read.
	seen := map[string]bool{}
	for _, s := range f.launcher.specs {
		path := lookupVar(s.Env, resq.EnvPIDFile)
		assert.Equal(t, f.cfg.Worker.TmpDir, filepath.Dir(path))
		assert.False(t, seen[path], "handshake path reused: %s", path)
		seen[path] = true
		assert.NoFileExists(t, path)
	}

	assert.Contains(t, f.out.String(), "Creating workers")
	assert.Equal(t, 3, strings.Count(f.out.String(), "Done"))
}

func TestStart_ZeroCountUsesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Workers = 2
	f := newFixture(t, cfg)

	res := f.sup.Start(context.Background(), 0, *cfg)
	assert.Len(t, res.Started, 2)
}

func TestStart_PartialFailure(t *testing.T) {
	f := newFixture(t, testConfig(t))
	spawnErr := errors.New("exec format error")
	f.launcher.fail = map[int]error{2: spawnErr}
	f.launcher.silent = map[int]bool{3: true}

	res := f.sup.Start(context.Background(), 4, *f.cfg)

	require.Len(t, res.Started, 2)
	require.Len(t, res.Errors, 2)

	var le *LaunchError
	require.ErrorAs(t, res.Errors[0], &le)
	assert.Equal(t, 2, le.Unit)
	assert.ErrorIs(t, res.Errors[0], spawnErr)

	require.ErrorAs(t, res.Errors[1], &le)
	assert.Equal(t, 3, le.Unit)
	assert.ErrorIs(t, res.Errors[1], ErrHandshakeTimeout)

	assert.Equal(t, []int{4001, 4002}, f.registered(t))
	assert.Equal(t, 2, strings.Count(f.out.String(), "Fail"))
}

func TestAwaitHandshake_PollsSevenTimesThreeTicks(t *testing.T) {
	f := newFixture(t, testConfig(t))
	ticks := 0
	f.sup.sleep = func(ctx context.Context, d time.Duration) error {
		assert.Equal(t, handshakeTick, d)
		ticks++
		return nil
	}

	_, err := f.sup.awaitHandshake(context.Background(), filepath.Join(t.TempDir(), "never"))
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, handshakeAttempts*handshakeChecks, ticks)
	assert.Equal(t, 21, strings.Count(f.out.String(), "."))
}

func TestAwaitHandshake_Cancelled(t *testing.T) {
	f := newFixture(t, testConfig(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sup.awaitHandshake(ctx, filepath.Join(t.TempDir(), "never"))
	assert.ErrorIs(t, err, context.Canceled)
}

// --- Stop ---

func TestStop_GracefulAndForce(t *testing.T) {
	tests := []struct {
		name  string
		force bool
		want  syscall.Signal
	}{
		{"graceful", false, syscall.SIGQUIT},
		{"force", true, syscall.SIGTERM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(t))
			f.seed(t, 2)

			res, err := f.sup.Stop(context.Background(), SignalOptions{All: true, Force: tt.force})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Signal)
			assert.Equal(t, []string{"box:4001:mail", "box:4002:mail"}, res.Succeeded())
			for _, c := range f.signaler.calls {
				assert.Equal(t, tt.want, c.Sig)
				assert.Equal(t, "ops", c.User)
			}
			assert.Empty(t, f.registered(t))
			assert.Empty(t, f.chooser.menus, "chooser asked despite --all")
		})
	}
}

func TestStop_SignalFailureKeepsRegistry(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 3)
	f.signaler.fail = map[int]error{4002: syscall.ESRCH}

	res, err := f.sup.Stop(context.Background(), SignalOptions{All: true})
	require.NoError(t, err)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "box:4002:mail", failed[0].Worker)
	var se *SignalError
	require.ErrorAs(t, failed[0].Err, &se)
	assert.Equal(t, 4002, se.PID)
	assert.ErrorIs(t, failed[0].Err, syscall.ESRCH)

	// Every candidate is attempted even after a failure.
	assert.Equal(t, []int{4001, 4002, 4003}, f.signaler.pids())
	assert.Equal(t, []int{4002}, f.registered(t))
}

func TestStop_NoCandidates(t *testing.T) {
	f := newFixture(t, testConfig(t))

	res, err := f.sup.Stop(context.Background(), SignalOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
	assert.Empty(t, f.signaler.calls)
	assert.Contains(t, f.out.String(), "There are no workers to stop")
}

func TestStop_SingleCandidateSkipsMenu(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 1)
	f.chooser.err = errors.New("must not be asked")

	res, err := f.sup.Stop(context.Background(), SignalOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"box:4001:mail"}, res.Succeeded())
	assert.Empty(t, f.chooser.menus)
}

func TestStop_Selection(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 3)
	f.chooser.index = 1

	res, err := f.sup.Stop(context.Background(), SignalOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"box:4002:mail"}, res.Succeeded())
	assert.Equal(t, []int{4001, 4003}, f.registered(t))

	require.Len(t, f.chooser.menus, 1)
	menu := f.chooser.menus[0]
	assert.Equal(t, "Stop all workers", menu.AllOption)
	require.Len(t, menu.Items, 3)
	assert.Equal(t, "box:4001:mail, started 1 hour and 30 minutes ago", menu.Items[0])
}

func TestStop_SelectionAll(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 2)
	f.chooser.all = true

	res, err := f.sup.Stop(context.Background(), SignalOptions{})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded(), 2)
}

func TestStop_SelectionAborted(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 2)
	f.chooser.err = ErrSelectionAborted

	_, err := f.sup.Stop(context.Background(), SignalOptions{})
	assert.ErrorIs(t, err, ErrSelectionAborted)
	assert.Empty(t, f.signaler.calls)
	assert.Len(t, f.registered(t), 2)
}

func TestStop_UnregisteredWorkerUsesConfigUser(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.User = "deploy"
	f := newFixture(t, cfg)
	require.NoError(t, resq.NewDirectory(f.rc).Register(context.Background(), "box:77:mail", time.Now()))

	_, err := f.sup.Stop(context.Background(), SignalOptions{})
	require.NoError(t, err)
	require.Len(t, f.signaler.calls, 1)
	assert.Equal(t, signalCall{PID: 77, Sig: syscall.SIGQUIT, User: "deploy"}, f.signaler.calls[0])
}

func TestSignal_IgnoresWorkersOfOtherHosts(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 1)
	ctx := context.Background()
	dir := resq.NewDirectory(f.rc)
	require.NoError(t, dir.Register(ctx, "otherhost:1:mail", time.Now()))
	require.NoError(t, resq.NewStatus(f.rc).SetPausedWorker(ctx, "otherhost:1:mail", true))

	res, err := f.sup.Resume(ctx, SignalOptions{All: true})
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)

	res, err = f.sup.Pause(ctx, SignalOptions{All: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"box:4001:mail"}, res.Succeeded())

	res, err = f.sup.Stop(ctx, SignalOptions{All: true, Force: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"box:4001:mail"}, res.Succeeded())

	assert.Equal(t, []int{4001, 4001}, f.signaler.pids())
	ok, err := dir.Exists(ctx, "otherhost:1:mail")
	require.NoError(t, err)
	assert.True(t, ok, "remote worker was unregistered")
}

// --- Pause / Resume ---

func TestPauseAllThenResume(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 3)
	ctx := context.Background()

	res, err := f.sup.Pause(ctx, SignalOptions{All: true})
	require.NoError(t, err)
	assert.Len(t, res.Succeeded(), 3)
	assert.Equal(t, syscall.SIGUSR2, res.Signal)
	assert.Equal(t, []string{"box:4001:mail", "box:4002:mail", "box:4003:mail"}, f.paused(t))

	// Already paused workers are not candidates.
	f.out.Reset()
	res, err = f.sup.Pause(ctx, SignalOptions{All: true})
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
	assert.Contains(t, f.out.String(), "There are no workers to pause")

	f.chooser.index = 2
	res, err = f.sup.Resume(ctx, SignalOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"box:4003:mail"}, res.Succeeded())
	assert.Equal(t, syscall.SIGCONT, f.signaler.calls[len(f.signaler.calls)-1].Sig)
	assert.Equal(t, []string{"box:4001:mail", "box:4002:mail"}, f.paused(t))

	// Pausing or resuming never touches the registry.
	assert.Len(t, f.registered(t), 3)
}

func TestPause_FailureLeavesUnflagged(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 2)
	f.signaler.fail = map[int]error{4001: syscall.EPERM}

	res, err := f.sup.Pause(context.Background(), SignalOptions{All: true})
	require.NoError(t, err)
	assert.Len(t, res.Failed(), 1)
	assert.Equal(t, []string{"box:4002:mail"}, f.paused(t))
}

func TestResume_NoPausedWorkers(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 1)

	res, err := f.sup.Resume(context.Background(), SignalOptions{All: true})
	require.NoError(t, err)
	assert.Empty(t, res.Outcomes)
	assert.Contains(t, f.out.String(), "There are no paused workers to resume")
}

func TestStop_ClearsPausedFlag(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 1)
	ctx := context.Background()

	_, err := f.sup.Pause(ctx, SignalOptions{})
	require.NoError(t, err)
	_, err = f.sup.Stop(ctx, SignalOptions{})
	require.NoError(t, err)
	assert.Empty(t, f.paused(t))
}

// --- Restart / Load / Reset ---

func TestRestart(t *testing.T) {
	f := newFixture(t, testConfig(t))
	ctx := context.Background()
	f.seed(t, 1)

	other := f.cfg.Clone()
	other.Worker.Queue = "sms,push"
	other.Worker.Interval = 9
	res := f.sup.Start(ctx, 1, other)
	require.Empty(t, res.Errors)

	out, err := f.sup.Restart(ctx, SignalOptions{Force: true})
	require.NoError(t, err)

	assert.Len(t, out.Stop.Succeeded(), 2)
	assert.Equal(t, syscall.SIGTERM, out.Stop.Signal)
	require.Empty(t, out.Start.Errors)
	require.Len(t, out.Start.Started, 2)
	assert.Equal(t, "box:4003:mail", out.Start.Started[0].ID)
	assert.Equal(t, "box:4004:sms,push", out.Start.Started[1].ID)
	assert.Equal(t, 9, out.Start.Started[1].Config.Worker.Interval)

	assert.Equal(t, []int{4003, 4004}, f.registered(t))
}

func TestRestart_NothingRegistered(t *testing.T) {
	f := newFixture(t, testConfig(t))

	out, err := f.sup.Restart(context.Background(), SignalOptions{})
	require.NoError(t, err)
	assert.Empty(t, out.Stop.Outcomes)
	assert.Empty(t, out.Start.Started)
	assert.Contains(t, f.out.String(), "No workers to restart")
	assert.Zero(t, f.launcher.calls)
}

func TestLoad(t *testing.T) {
	cfg := testConfig(t)
	cfg.Queues = map[string]resq.Profile{
		"reports": {Queue: "reports,archive"},
		"mail":    {Workers: 2, Interval: 2},
	}
	f := newFixture(t, cfg)

	res := f.sup.Load(context.Background())
	require.Empty(t, res.Errors)
	require.Len(t, res.Started, 3)

	assert.Equal(t, "box:4001:mail", res.Started[0].ID)
	assert.Equal(t, "box:4002:mail", res.Started[1].ID)
	assert.Equal(t, "box:4003:reports,archive", res.Started[2].ID)
	assert.Contains(t, f.launcher.specs[0].Env, "INTERVAL=2")
	assert.Contains(t, f.out.String(), "Loading 2 workers")
}

func TestLoad_NoProfiles(t *testing.T) {
	f := newFixture(t, testConfig(t))

	res := f.sup.Load(context.Background())
	assert.Empty(t, res.Started)
	assert.Contains(t, f.out.String(), "You have no configured workers to load.")
}

func TestReset(t *testing.T) {
	f := newFixture(t, testConfig(t))
	f.seed(t, 2)
	ctx := context.Background()
	q, err := resq.NewQueue(f.rc)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "mail", "Echo")
	require.NoError(t, err)

	require.NoError(t, f.sup.Reset(ctx))
	assert.Empty(t, f.registered(t))
	n, err := q.Size(ctx, "mail")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

// --- Launch specs ---

func TestBuildLaunchSpec(t *testing.T) {
	cfg := testConfig(t)
	cfg.Env = map[string]string{"APP_ENV": "prod", "HOME": ""}
	lookup := func(k string) string {
		if k == "HOME" {
			return "/home/ops"
		}
		return ""
	}

	t.Run("same user", func(t *testing.T) {
		spec := buildLaunchSpec(*cfg, "/bin/worker", "ops", "/tmp/h", lookup)
		assert.Equal(t, "/bin/worker", spec.Path)
		assert.Equal(t, []string{"work"}, spec.Args)
		assert.Equal(t, []string{"APP_ENV=prod", "HOME=/home/ops"}, spec.Env[:2])
		assert.Contains(t, spec.Env, "PIDFILE=/tmp/h")
		assert.Contains(t, spec.Env, "VERBOSE=1")
	})

	t.Run("other user", func(t *testing.T) {
		other := cfg.Clone()
		other.Worker.User = "deploy"
		other.Worker.Verbose = true
		spec := buildLaunchSpec(other, "/bin/worker", "ops", "/tmp/h", lookup)
		assert.Equal(t, "sudo", spec.Path)
		assert.Equal(t, []string{"-u", "deploy", "env"}, spec.Args[:3])
		assert.Equal(t, []string{"/bin/worker", "work"}, spec.Args[len(spec.Args)-2:])
		assert.Contains(t, spec.Args, "VVERBOSE=1")
		assert.Contains(t, spec.Args, "PIDFILE=/tmp/h")
		assert.Empty(t, spec.Env)
	})
}

func TestStart_ConfigBootstrapWins(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Bootstrap = "/opt/app/worker"
	f := newFixture(t, cfg)

	f.sup.Start(context.Background(), 1, *cfg)
	require.Len(t, f.launcher.specs, 1)
	assert.Equal(t, "/opt/app/worker", f.launcher.specs[0].Path)
}
