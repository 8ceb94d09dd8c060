package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/benedict-erwin/resq"
)

// Check is the outcome of one configuration test.
type Check struct {
	Name string
	Err  error
}

// OK reports whether the check passed.
func (c Check) OK() bool { return c.Err == nil }

// Test checks that workers can be started with the configuration: the
// settings are valid, the store answers, the log directory is writable,
// the worker user exists and the worker executable is present. A queue
// profile that runs as its own user gets a user check of its own.
func (s *Supervisor) Test(ctx context.Context) []Check {
	cfg := s.cfg
	checks := []Check{
		{Name: "Redis configuration", Err: cfg.Validate()},
		{Name: "Redis server", Err: s.pingStore(ctx)},
		{Name: "Log file", Err: checkLogDir(cfg.Log.Filename)},
		{Name: "User", Err: checkUser(cfg.Worker.User)},
		{Name: "Worker executable", Err: checkBootstrap(s.bootstrapFor(cfg))},
	}
	for _, name := range cfg.ProfileNames() {
		if u := cfg.Queues[name].User; u != "" && u != cfg.Worker.User {
			checks = append(checks, Check{Name: "User (" + name + ")", Err: checkUser(u)})
		}
	}
	return checks
}

// Preflight runs Test and folds the failures into a *resq.ConfigError.
func (s *Supervisor) Preflight(ctx context.Context) error {
	return ChecksError(s.Test(ctx))
}

// PreflightRestart is Preflight plus the users and executables of the
// registered workers, which restart relaunches with their own settings.
func (s *Supervisor) PreflightRestart(ctx context.Context) error {
	checks := s.Test(ctx)
	recs, err := s.status.GetWorkers(ctx)
	if err != nil {
		checks = append(checks, Check{Name: "Worker registry", Err: err})
		return ChecksError(checks)
	}
	seen := map[string]bool{}
	seen["user "+s.cfg.Worker.User] = true
	seen["exec "+s.bootstrapFor(s.cfg)] = true
	for _, rec := range recs {
		if u := rec.Config.Worker.User; !seen["user "+u] {
			seen["user "+u] = true
			checks = append(checks, Check{Name: "User (" + rec.ID + ")", Err: checkUser(u)})
		}
		if b := s.bootstrapFor(rec.Config); !seen["exec "+b] {
			seen["exec "+b] = true
			checks = append(checks, Check{Name: "Worker executable (" + rec.ID + ")", Err: checkBootstrap(b)})
		}
	}
	return ChecksError(checks)
}

// ChecksError returns a *resq.ConfigError listing every failed check, or
// nil when all passed.
func ChecksError(checks []Check) error {
	var problems []string
	for _, c := range checks {
		if !c.OK() {
			problems = append(problems, fmt.Sprintf("%s: %v", c.Name, c.Err))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return &resq.ConfigError{Problems: problems}
}

// PrintChecks writes checks the way the test command shows them.
func (s *Supervisor) PrintChecks(checks []Check) {
	s.out.title("Testing configuration")
	failed := false
	for _, c := range checks {
		dots := 24 - len(c.Name)
		if dots < 1 {
			dots = 1
		}
		s.out.text("%s %s ", c.Name, strings.Repeat(".", dots))
		if c.OK() {
			s.out.success("OK")
			continue
		}
		failed = true
		s.out.failure("%v", c.Err)
	}
	s.out.blank()
	if failed {
		s.out.failure("Error detected in your settings")
	} else {
		s.out.success("Your settings seem ok")
	}
	s.out.blank()
}

func (s *Supervisor) bootstrapFor(cfg resq.SupervisorConfig) string {
	if cfg.Worker.Bootstrap != "" {
		return cfg.Worker.Bootstrap
	}
	return s.bootstrap
}

func (s *Supervisor) pingStore(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.rc.Ping(ctx); err != nil {
		return fmt.Errorf("unable to connect to redis at %s: %w", s.cfg.Redis.Addr(), err)
	}
	return nil
}

func checkLogDir(filename string) error {
	abs, err := filepath.Abs(filename)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("the directory for the log file does not exist")
	}
	tmp, err := os.CreateTemp(dir, ".resq-write-*")
	if err != nil {
		return fmt.Errorf("the directory for the log file is not writable")
	}
	tmp.Close()
	os.Remove(tmp.Name())
	return nil
}

func checkUser(name string) error {
	if name == "" {
		return fmt.Errorf("no worker user configured")
	}
	if _, err := user.Lookup(name); err != nil {
		return fmt.Errorf("user %s does not exist", name)
	}
	return nil
}

func checkBootstrap(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("worker executable %s was not found", path)
	}
	if info.IsDir() {
		return fmt.Errorf("worker executable %s is a directory", path)
	}
	return nil
}
