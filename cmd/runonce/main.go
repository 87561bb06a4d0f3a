package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/runonce/internal/config"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitOK      = 0
	exitFailure = 1
	exitVersion = 3
)

// errVersion ends a run that only printed the version.
var errVersion = errors.New("version requested")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := app.rootCommand()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return app.exitCode(err)
}

// exitCode maps the outcome of a command to the process exit status.
func (a *app) exitCode(err error) int {
	switch {
	case err == nil:
		return a.status
	case errors.Is(err, errVersion):
		return exitVersion
	case errors.Is(err, config.ErrConfig) || !a.ran:
		_, _ = fmt.Fprintf(a.stderr, "runonce: %v\n\n", err)
		_, _ = fmt.Fprint(a.stderr, a.usage)
		return exitFailure
	default:
		_, _ = fmt.Fprintf(a.stderr, "runonce: %v\n", err)
		return exitFailure
	}
}
