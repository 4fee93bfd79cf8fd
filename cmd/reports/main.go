// Command airship-reports fetches per-push reports from the Airship API and
// inspects the collector's Redis queue and snapshots.
//
// Settings come from (highest first): flags, AIRSHIP_* environment variables,
// the YAML files named by --config, built-in defaults.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/lzyats/airship-go/pkg/airship"
)

// Exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
	exitAuth       = 3
	exitNotFound   = 4
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, airship.ErrValidation):
		return exitValidation
	case errors.Is(err, airship.ErrAuth):
		return exitAuth
	case errors.Is(err, airship.ErrNotFound):
		return exitNotFound
	default:
		return exitFailure
	}
}
