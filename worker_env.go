package resq

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Environment variables read by a worker process at launch.
const (
	EnvQueue          = "QUEUE"
	EnvVerbose        = "VERBOSE"
	EnvVeryVerbose    = "VVERBOSE"
	EnvPIDFile        = "PIDFILE"
	EnvAppInclude     = "APP_INCLUDE"
	EnvInterval       = "INTERVAL"
	EnvRedisBackend   = "REDIS_BACKEND"
	EnvRedisDatabase  = "REDIS_DATABASE"
	EnvRedisNamespace = "REDIS_NAMESPACE"
	EnvRedisPassword  = "REDIS_PASSWORD"
	EnvCount          = "COUNT"
	EnvLogHandler     = "LOGHANDLER"
	EnvLogTarget      = "LOGHANDLERTARGET"
)

// WorkerEnv is the launch contract between the supervisor and a worker.
type WorkerEnv struct {
	Queues      []string
	Verbose     bool
	VeryVerbose bool
	PIDFile     string
	AppInclude  string
	Interval    time.Duration
	RedisAddr   string
	RedisDB     int
	Namespace   string
	Password    string
	Count       int
	LogHandler  string
	LogTarget   string
}

// ParseWorkerEnv reads and validates the launch environment.
func ParseWorkerEnv(getenv func(string) string) (*WorkerEnv, error) {
	env := &WorkerEnv{
		Queues:      ParseQueues(getenv(EnvQueue)),
		Verbose:     getenv(EnvVerbose) != "",
		VeryVerbose: getenv(EnvVeryVerbose) != "",
		PIDFile:     getenv(EnvPIDFile),
		AppInclude:  getenv(EnvAppInclude),
		Interval:    time.Duration(DefaultInterval) * time.Second,
		RedisAddr:   getenv(EnvRedisBackend),
		Namespace:   getenv(EnvRedisNamespace),
		Password:    getenv(EnvRedisPassword),
		Count:       1,
		LogHandler:  getenv(EnvLogHandler),
		LogTarget:   getenv(EnvLogTarget),
	}

	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if err := validateQueueList(getenv(EnvQueue)); err != nil {
		add("%s: %v", EnvQueue, err)
	}
	if v := getenv(EnvInterval); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			add("%s must be a positive number of seconds; got %q", EnvInterval, v)
		} else {
			env.Interval = time.Duration(n) * time.Second
		}
	}
	if env.RedisAddr == "" {
		env.RedisAddr = fmt.Sprintf("%s:%d", DefaultRedisHost, DefaultRedisPort)
	}
	if v := getenv(EnvRedisDatabase); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			add("%s must be a non-negative integer; got %q", EnvRedisDatabase, v)
		} else {
			env.RedisDB = n
		}
	}
	if env.Namespace == "" {
		env.Namespace = DefaultNamespace
	}
	if v := getenv(EnvCount); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n != 1 {
			add("%s must be 1; a worker runs a single process", EnvCount)
		}
	}
	if env.LogHandler == "" {
		env.LogHandler = DefaultLogHandler
	}
	switch strings.ToLower(env.LogHandler) {
	case "text", "json":
	default:
		add("%s must be text or json; got %q", EnvLogHandler, env.LogHandler)
	}

	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}
	return env, nil
}

// Level is the log level implied by the verbosity flags.
func (e *WorkerEnv) Level() slog.Level {
	switch {
	case e.VeryVerbose:
		return slog.LevelDebug
	case e.Verbose:
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

// Environ renders e as KEY=value pairs, sorted by key. Unset optional
// values are left out.
func (e *WorkerEnv) Environ() []string {
	vars := map[string]string{
		EnvQueue:          strings.Join(e.Queues, ","),
		EnvInterval:       strconv.Itoa(int(e.Interval / time.Second)),
		EnvRedisBackend:   e.RedisAddr,
		EnvRedisDatabase:  strconv.Itoa(e.RedisDB),
		EnvRedisNamespace: e.Namespace,
		EnvCount:          "1",
		EnvLogHandler:     e.LogHandler,
	}
	optional := map[string]string{
		EnvPIDFile:       e.PIDFile,
		EnvAppInclude:    e.AppInclude,
		EnvRedisPassword: e.Password,
		EnvLogTarget:     e.LogTarget,
	}
	for k, v := range optional {
		if v != "" {
			vars[k] = v
		}
	}
	if e.VeryVerbose {
		vars[EnvVeryVerbose] = "1"
	} else if e.Verbose {
		vars[EnvVerbose] = "1"
	}

	out := make([]string, 0, len(vars))
	for k, v := range vars {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// RunFromEnv runs a worker configured by env until it is told to stop.
// Once registered, the worker writes its pid to env.PIDFile.
func RunFromEnv(ctx context.Context, env *WorkerEnv, reg *Registry, opts ...WorkerOption) error {
	var out io.Writer = os.Stderr
	if env.LogTarget != "" {
		f, err := os.OpenFile(env.LogTarget, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log target: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := NewLogger(env.LogHandler, out, env.Level())

	if env.AppInclude != "" {
		if _, err := os.Stat(env.AppInclude); err != nil {
			return configErrorf("%s: %v", EnvAppInclude, err)
		}
		logger.Debug("application include", "path", env.AppInclude)
	}

	rc, err := NewRedisClient(
		WithRedisAddr(env.RedisAddr),
		WithRedisDB(env.RedisDB),
		WithRedisPassword(env.Password),
		WithPrefix(env.Namespace),
	)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := rc.Ping(ctx); err != nil {
		return err
	}

	base := []WorkerOption{
		WithQueues(env.Queues...),
		WithInterval(env.Interval),
		WithWorkerLogger(logger),
		WithReadyHook(func() error {
			if env.PIDFile == "" {
				return nil
			}
			return WritePIDFile(env.PIDFile, os.Getpid())
		}),
	}
	w, err := NewWorker(rc, reg, append(base, opts...)...)
	if err != nil {
		return err
	}
	return w.Work(ctx)
}

// WritePIDFile writes pid to path. The file appears atomically so a
// reader never sees a partial pid.
func WritePIDFile(path string, pid int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".pid-*")
	if err != nil {
		return fmt.Errorf("creating pid file: %w", err)
	}
	if _, err := tmp.WriteString(strconv.Itoa(pid)); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pid file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pid file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing pid file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publishing pid file: %w", err)
	}
	return nil
}

// ReadPIDFile reads a pid written by WritePIDFile.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("resq: invalid pid in %s", path)
	}
	return pid, nil
}
