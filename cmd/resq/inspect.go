package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/benedict-erwin/resq"
	"github.com/benedict-erwin/resq/monitor"
	"github.com/benedict-erwin/resq/supervisor"
	"github.com/benedict-erwin/resq/tui"
)

func (a *app) enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue <queue> <class> [args]",
		Short: "Enqueue a new job",
		Long: `Enqueue a new job.

  queue  Name of the queue
  class  Job class name
  args   Comma separated list of arguments`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			rc, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer rc.Close()

			q, err := resq.NewQueue(rc)
			if err != nil {
				return err
			}
			id, err := q.Enqueue(cmd.Context(), args[0], args[1], jobArgs(args[2:])...)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, "The job was enqueued successfully")
			fmt.Fprintf(a.stdout, "Job ID : #%s\n", id)
			return nil
		},
	}
}

// jobArgs splits every comma separated argument into job arguments.
func jobArgs(raw []string) []any {
	var out []any
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			out = append(out, strings.TrimSpace(part))
		}
	}
	return out
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print queue and worker statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.sup.PrintStats(cmd.Context())
		},
	}
}

func (a *app) topCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "top",
		Short: "Live monitor of queues and workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()
			return tui.Run(cmd.Context(), s.sup)
		},
	}
}

func (a *app) tailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tail",
		Short: "Follow a worker log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.sup.Tail(ctx, a.stdout)
		},
	}
}

func (a *app) testCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			checks := s.sup.Test(cmd.Context())
			s.sup.PrintChecks(checks)
			return supervisor.ChecksError(checks)
		},
	}
}

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the saved worker statuses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()
			return s.sup.Reset(cmd.Context())
		},
	}
}

func (a *app) serveCmd() *cobra.Command {
	var (
		addr      string
		apiKeys   []string
		rateLimit int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only monitoring API",
		Long: `Serve a read-only JSON API over HTTP: /health, /api/v1/stats,
/api/v1/queues, /api/v1/workers and /api/v1/failures/{id}.
API keys (name=key) can also be given in RESQ_API_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.newSession(cmd, false)
			if err != nil {
				return err
			}
			defer s.Close()

			if v := a.getenv("RESQ_API_KEY"); v != "" {
				apiKeys = append(apiKeys, v)
			}
			keys, err := parseAPIKeys(apiKeys)
			if err != nil {
				return err
			}

			m := monitor.New(s.rc, s.sup, a.logger(), monitor.Config{
				Addr:      addr,
				APIKeys:   keys,
				RateLimit: rateLimit,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- m.Start() }()
			fmt.Fprintf(a.stdout, "Monitoring API listening on %s\n", addr)

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return m.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringArrayVar(&apiKeys, "api-key", nil, "Accepted API key as name=key (repeatable)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per second per client IP")
	return cmd
}

// parseAPIKeys reads name=key pairs. A bare key is named "default".
func parseAPIKeys(raw []string) ([]monitor.APIKey, error) {
	keys := make([]monitor.APIKey, 0, len(raw))
	for _, r := range raw {
		name, key, ok := strings.Cut(r, "=")
		if !ok {
			name, key = "default", r
		}
		if len(key) < 16 {
			return nil, &resq.ConfigError{Problems: []string{fmt.Sprintf("api key %q must be at least 16 characters", name)}}
		}
		keys = append(keys, monitor.APIKey{Name: name, Key: key})
	}
	return keys, nil
}
