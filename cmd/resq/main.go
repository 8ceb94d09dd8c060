// Binary resq starts, stops and inspects Resque workers.
//
// Usage:
//
//	resq <command> [flags] [arguments]
//
// Commands:
//
//	start     Start new workers
//	stop      Stop workers
//	pause     Pause workers
//	resume    Resume paused workers
//	restart   Restart all workers
//	load      Load the workers defined in the configuration file
//	tail      Follow a worker log file
//	enqueue   Enqueue a new job
//	stats     Print queue and worker statistics
//	top       Live monitor of queues and workers
//	serve     Serve the read-only monitoring API
//	test      Test the configuration
//	reset     Clear the saved worker statuses
//	work      Run one worker (used by start)
//	version   Print the resq version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/benedict-erwin/resq"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return newApp(stdin, stdout, stderr).execute(args)
}

func (a *app) execute(args []string) int {
	stderr := a.stderr
	root := a.rootCmd()
	root.SetArgs(args)

	if err := root.ExecuteContext(context.Background()); err != nil {
		var cfgErr *resq.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintln(stderr, "resq: configuration errors:")
			for _, p := range cfgErr.Problems {
				fmt.Fprintf(stderr, "  - %s\n", p)
			}
			return 1
		}
		fmt.Fprintf(stderr, "resq: %v\n", err)
		return 1
	}
	return 0
}
