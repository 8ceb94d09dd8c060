package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/benedict-erwin/resq/supervisor"
)

// startFlags override the worker section of the configuration.
type startFlags struct {
	workers  int
	queue    string
	interval int
	user     string
	verbose  bool
}

func (a *app) startCmd() *cobra.Command {
	var f startFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start new workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("workers") {
				cfg.Worker.Workers = f.workers
			}
			if flags.Changed("queue") {
				cfg.Worker.Queue = f.queue
			}
			if flags.Changed("interval") {
				cfg.Worker.Interval = f.interval
			}
			if flags.Changed("user") {
				cfg.Worker.User = f.user
			}
			if flags.Changed("verbose") {
				cfg.Worker.Verbose = f.verbose
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			s, err := a.sessionFor(cmd, cfg, true)
			if err != nil {
				return err
			}
			defer s.Close()

			res := s.sup.Start(cmd.Context(), cfg.Worker.Workers, *cfg)
			return startErr(res)
		},
	}
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 1, "Number of workers to start")
	cmd.Flags().StringVarP(&f.queue, "queue", "q", "", "Comma separated list of queues to watch")
	cmd.Flags().IntVarP(&f.interval, "interval", "i", 0, "Polling interval in seconds")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "User running the workers")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Verbose worker logs")
	return cmd
}

func (a *app) loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load the workers defined in the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd, true)
			if err != nil {
				return err
			}
			defer s.Close()
			return startErr(s.sup.Load(cmd.Context()))
		},
	}
}

func (a *app) restartCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart all workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.sup.PreflightRestart(cmd.Context()); err != nil {
				return err
			}

			res, err := s.sup.Restart(cmd.Context(), supervisor.SignalOptions{Force: force})
			if err != nil {
				return err
			}
			if err := signalErr(res.Stop); err != nil {
				return err
			}
			return startErr(res.Start)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Stop workers without waiting for their current job")
	return cmd
}

func (a *app) stopCmd() *cobra.Command {
	var opts supervisor.SignalOptions
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.signalWorkers(cmd, func(s *supervisor.Supervisor) (supervisor.SignalResult, error) {
				return s.Stop(cmd.Context(), opts)
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "Stop workers without waiting for their current job")
	cmd.Flags().BoolVarP(&opts.All, "all", "a", false, "Stop every worker without asking")
	return cmd
}

func (a *app) pauseCmd() *cobra.Command {
	var opts supervisor.SignalOptions
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.signalWorkers(cmd, func(s *supervisor.Supervisor) (supervisor.SignalResult, error) {
				return s.Pause(cmd.Context(), opts)
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.All, "all", "a", false, "Pause every worker without asking")
	return cmd
}

func (a *app) resumeCmd() *cobra.Command {
	var opts supervisor.SignalOptions
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume paused workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.signalWorkers(cmd, func(s *supervisor.Supervisor) (supervisor.SignalResult, error) {
				return s.Resume(cmd.Context(), opts)
			})
		},
	}
	cmd.Flags().BoolVarP(&opts.All, "all", "a", false, "Resume every paused worker without asking")
	return cmd
}

func (a *app) signalWorkers(cmd *cobra.Command, fn func(*supervisor.Supervisor) (supervisor.SignalResult, error)) error {
	s, err := a.newSession(cmd, false)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := fn(s.sup)
	if err != nil {
		return err
	}
	return signalErr(res)
}

func startErr(res supervisor.StartResult) error {
	if len(res.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("%d worker(s) failed to start: %w", len(res.Errors), errors.Join(res.Errors...))
}

func signalErr(res supervisor.SignalResult) error {
	failed := res.Failed()
	if len(failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(failed))
	for _, o := range failed {
		errs = append(errs, o.Err)
	}
	return fmt.Errorf("%d of %d worker(s) not reached: %w", len(failed), len(res.Outcomes), errors.Join(errs...))
}
