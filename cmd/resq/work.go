package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/benedict-erwin/resq"
)

func (a *app) workCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "work",
		Short: "Run one worker (used by start)",
		Long: `Run one worker configured by the launch environment (QUEUE, INTERVAL,
REDIS_BACKEND, PIDFILE, ...). The worker stops gracefully on SIGQUIT,
immediately on SIGTERM or SIGINT, pauses on SIGUSR2 and resumes on SIGCONT.`,
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := resq.ParseWorkerEnv(a.getenv)
			if err != nil {
				return err
			}
			reg, err := builtinRegistry(a.stdout)
			if err != nil {
				return err
			}
			return resq.RunFromEnv(cmd.Context(), env, reg)
		},
	}
}

// builtinRegistry holds the job classes the stock worker knows. They are
// meant for checking a deployment end to end.
func builtinRegistry(out io.Writer) (*resq.Registry, error) {
	reg := resq.NewRegistry()
	handlers := map[string]func(context.Context, *resq.Job) error{
		"Echo": func(_ context.Context, job *resq.Job) error {
			fmt.Fprintf(out, "%s %v\n", job.Class, job.Args)
			return nil
		},
		"Sleep": func(ctx context.Context, job *resq.Job) error {
			secs := 1
			if v, ok := job.Arg(0).(string); ok {
				n, err := strconv.Atoi(v)
				if err != nil {
					return fmt.Errorf("sleep duration %q: %w", v, err)
				}
				secs = n
			}
			select {
			case <-time.After(time.Duration(secs) * time.Second):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		"Fail": func(_ context.Context, job *resq.Job) error {
			msg := "job failed on purpose"
			if v, ok := job.Arg(0).(string); ok && v != "" {
				msg = v
			}
			return errors.New(msg)
		},
	}
	for class, fn := range handlers {
		if err := reg.HandleFunc(class, fn); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
