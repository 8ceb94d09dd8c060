package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/benedict-erwin/resq"
	"github.com/benedict-erwin/resq/supervisor"
	"github.com/benedict-erwin/resq/tui"
)

const defaultConfigPath = "resq.yaml"

// globalFlags are shared by every command.
type globalFlags struct {
	config    string
	debug     bool
	host      string
	port      int
	database  int
	namespace string
	password  string
}

// app carries the process streams and the hooks tests replace.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	getenv func(string) string

	// interactive reports whether stdin is a terminal.
	interactive func() bool

	// supervisorOpts are appended to the options of every supervisor.
	supervisorOpts []supervisor.Option

	flags globalFlags
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		getenv: os.Getenv,
		interactive: func() bool {
			f, ok := stdin.(*os.File)
			return ok && term.IsTerminal(int(f.Fd()))
		},
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "resq",
		Short:         "Resque worker supervisor",
		Long:          "resq starts, stops, pauses and inspects Resque workers backed by Redis.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.config, "config", "c", defaultConfigPath, "Path to the configuration file")
	pf.BoolVarP(&a.flags.debug, "debug", "d", false, "Print debug messages")
	pf.StringVarP(&a.flags.host, "host", "s", "", "Redis server hostname")
	pf.IntVarP(&a.flags.port, "port", "p", 0, "Redis server port")
	pf.IntVarP(&a.flags.database, "database", "b", 0, "Redis database")
	pf.StringVarP(&a.flags.namespace, "namespace", "n", "", "Redis key namespace")
	pf.StringVarP(&a.flags.password, "password", "x", "", "Redis password")

	root.AddCommand(
		a.startCmd(),
		a.stopCmd(),
		a.pauseCmd(),
		a.resumeCmd(),
		a.restartCmd(),
		a.loadCmd(),
		a.tailCmd(),
		a.enqueueCmd(),
		a.statsCmd(),
		a.topCmd(),
		a.serveCmd(),
		a.testCmd(),
		a.resetCmd(),
		a.workCmd(),
		a.versionCmd(),
	)
	return root
}

// loadConfig reads the configuration file, overlays RESQ_* variables and
// the global flags, and validates the result. A missing file is only an
// error when --config was given explicitly.
func (a *app) loadConfig(cmd *cobra.Command) (*resq.SupervisorConfig, error) {
	var cfg *resq.SupervisorConfig
	explicit := cmd.Flags().Changed("config")

	if _, err := os.Stat(a.flags.config); errors.Is(err, fs.ErrNotExist) && !explicit {
		cfg = resq.DefaultConfig()
	} else {
		loaded, err := resq.LoadConfigFile(a.flags.config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	resq.FromEnv(cfg, a.getenv)

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Redis.Host = a.flags.host
	}
	if flags.Changed("port") {
		cfg.Redis.Port = a.flags.port
	}
	if flags.Changed("database") {
		cfg.Redis.Database = a.flags.database
	}
	if flags.Changed("namespace") {
		cfg.Redis.Namespace = a.flags.namespace
	}
	if flags.Changed("password") {
		cfg.Redis.Password = a.flags.password
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) logger() *slog.Logger {
	level := slog.LevelWarn
	if a.flags.debug {
		level = slog.LevelDebug
	}
	return resq.NewLogger(resq.DefaultLogHandler, a.stderr, level)
}

func (a *app) chooser() supervisor.Chooser {
	if a.interactive() {
		return tui.Chooser{In: a.stdin, Out: a.stdout}
	}
	return supervisor.PromptChooser{In: a.stdin, Out: a.stdout}
}

// openStore connects to the Redis server described by cfg.
func openStore(cfg *resq.SupervisorConfig) (*resq.RedisClient, error) {
	rc, err := resq.NewRedisClient(cfg.Redis.Options()...)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rc, nil
}

// session is a loaded configuration with an open store and supervisor.
type session struct {
	cfg *resq.SupervisorConfig
	rc  *resq.RedisClient
	sup *supervisor.Supervisor
}

func (s *session) Close() error { return s.rc.Close() }

// newSession loads the configuration and builds a supervisor. With
// preflight set the configuration checks must pass first.
func (a *app) newSession(cmd *cobra.Command, preflight bool) (*session, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return a.sessionFor(cmd, cfg, preflight)
}

func (a *app) sessionFor(cmd *cobra.Command, cfg *resq.SupervisorConfig, preflight bool) (*session, error) {
	rc, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	opts := []supervisor.Option{
		supervisor.WithOutput(a.stdout),
		supervisor.WithLogger(a.logger()),
		supervisor.WithChooser(a.chooser()),
		supervisor.WithLookupEnv(a.getenv),
	}
	opts = append(opts, a.supervisorOpts...)

	sup, err := supervisor.New(*cfg, rc, opts...)
	if err != nil {
		rc.Close()
		return nil, err
	}

	if preflight {
		if err := sup.Preflight(cmd.Context()); err != nil {
			rc.Close()
			return nil, err
		}
	}
	return &session{cfg: cfg, rc: rc, sup: sup}, nil
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the resq version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "resq %s\n", version)
		},
	}
}
