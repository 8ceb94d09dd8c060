package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/benedict-erwin/resq"
)

// LaunchSpec is a fully built worker invocation.
type LaunchSpec struct {
	Path    string   // executable
	Args    []string // arguments after Path
	Env     []string // KEY=value pairs added to the inherited environment
	LogFile string   // stdout and stderr are appended here
}

// Launcher starts a worker process detached from the caller.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) error
}

// ExecLauncher launches workers as new sessions with os/exec.
type ExecLauncher struct{}

// Launch starts spec and returns without waiting for it.
func (ExecLauncher) Launch(_ context.Context, spec LaunchSpec) error {
	logf, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening worker log: %w", err)
	}
	defer logf.Close()

	// Not CommandContext: the worker must outlive this command.
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Stdout = logf
	cmd.Stderr = logf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning %s: %w", spec.Path, err)
	}
	return cmd.Process.Release()
}

// workerEnv builds the launch environment of one worker unit.
func workerEnv(cfg resq.SupervisorConfig, pidFile string) *resq.WorkerEnv {
	return &resq.WorkerEnv{
		Queues:      resq.ParseQueues(cfg.Worker.Queue),
		Verbose:     !cfg.Worker.Verbose,
		VeryVerbose: cfg.Worker.Verbose,
		PIDFile:     pidFile,
		Interval:    time.Duration(cfg.Worker.Interval) * time.Second,
		RedisAddr:   cfg.Redis.Addr(),
		RedisDB:     cfg.Redis.Database,
		Namespace:   cfg.Redis.Namespace,
		Password:    cfg.Redis.Password,
		Count:       1,
		LogHandler:  cfg.Log.Handler,
		LogTarget:   cfg.Log.Target,
	}
}

// extraEnv resolves the env section; an empty value is taken from lookup.
func extraEnv(cfg resq.SupervisorConfig, lookup func(string) string) []string {
	names := make([]string, 0, len(cfg.Env))
	for name := range cfg.Env {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		v := cfg.Env[name]
		if v == "" {
			v = lookup(name)
		}
		out = append(out, name+"="+v)
	}
	return out
}

// buildLaunchSpec assembles the invocation. When the worker must run as
// another user the command is re-executed through sudo, which does not
// pass the environment along, so variables go on the env command line.
func buildLaunchSpec(cfg resq.SupervisorConfig, bootstrap, caller, pidFile string, lookup func(string) string) LaunchSpec {
	vars := append(extraEnv(cfg, lookup), workerEnv(cfg, pidFile).Environ()...)
	spec := LaunchSpec{LogFile: cfg.Log.Filename}

	if cfg.Worker.User != "" && cfg.Worker.User != caller {
		spec.Path = "sudo"
		spec.Args = append([]string{"-u", cfg.Worker.User, "env"}, vars...)
		spec.Args = append(spec.Args, bootstrap, "work")
		return spec
	}

	spec.Path = bootstrap
	spec.Args = []string{"work"}
	spec.Env = vars
	return spec
}
