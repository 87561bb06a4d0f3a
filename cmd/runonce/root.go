package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/loykin/runonce"
	"github.com/loykin/runonce/internal/config"
	"github.com/loykin/runonce/internal/history/factory"
	"github.com/loykin/runonce/internal/logger"
	"github.com/loykin/runonce/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	usage  string
	ran    bool // RunE was entered; parse errors never get this far
	status int
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "runonce --cmd <command> --name <task> [flags]",
		Short: "Run a command at most once per task name",
		Long: `runonce starts a command detached and records its pid in <tmp-dir>/<name>.pid.
While that instance is alive and within --timeout, further invocations exit 1.
Once it has overrun the timeout it is killed and a new instance starts.
With --active, runonce waits for the command, enforces the timeout itself and
exits with the command's status.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.ran = true
			return a.runRoot(cmd.Context(), cmd)
		},
	}
	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	config.AddFlags(root.Flags())
	root.Flags().Bool("version", false, "print the version and exit with status 3")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", config.ErrConfig, err)
	})
	a.usage = root.UsageString()

	root.AddCommand(a.relayCommand())
	return root
}

func (a *app) runRoot(ctx context.Context, cmd *cobra.Command) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		_, _ = fmt.Fprintf(a.stdout, "runonce %s\n", version)
		return errVersion
	}
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cmd.Flags(), file)
	if err != nil {
		return err
	}
	rc, err := cfg.RunConfig()
	if err != nil {
		return err
	}
	if err := config.CheckDirs(rc); err != nil {
		return err
	}

	logFile := cfg.Log.FileWriter(rc.LogPath())
	defer func() { _ = logFile.Close() }()
	log := logger.New(logger.Options{Debug: cfg.Debug, Console: a.stderr, File: logFile})

	opts := runonce.Options{
		Log:             log,
		ProcTable:       cfg.ProcTable,
		LogConfig:       cfg.Log,
		SampleResources: cfg.MetricsTextfile != "",
	}
	if cfg.History != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History)
		if err != nil {
			log.Warn("history disabled", "error", err)
		} else {
			opts.History = sink
			if c, ok := sink.(io.Closer); ok {
				defer func() { _ = c.Close() }()
			}
		}
	}
	var reg *prometheus.Registry
	if cfg.MetricsTextfile != "" {
		reg = prometheus.NewRegistry()
		opts.Registerer = reg
	}
	if !rc.Active {
		argv, err := relayArgv(cfg.Log)
		if err != nil {
			log.Warn("output relay unavailable, child output is only captured while runonce runs", "error", err)
		} else {
			opts.RelayArgv = argv
		}
	}

	runner, err := runonce.New(opts)
	if err != nil {
		return err
	}
	status, err := runner.Run(ctx, rc)
	a.status = status

	if reg != nil {
		if werr := metrics.WriteTextfile(cfg.MetricsTextfile, reg); werr != nil {
			log.Warn("metrics textfile not written", "path", cfg.MetricsTextfile, "error", werr)
		}
	}
	switch {
	case err == nil:
	case errors.Is(err, runonce.ErrDuplicateRunning):
		// already reported by the lifecycle controller
	case errors.Is(err, context.Canceled):
		log.Warn("interrupted", "status", status)
	default:
		log.Error("run failed", "error", err)
	}
	return nil
}

// relayArgv is the command line of the output relay: this binary's hidden
// relay subcommand with the rotation settings of the task log.
func relayArgv(c logger.Config) ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return []string{
		exe, "relay",
		fmt.Sprintf("--max-size-mb=%d", c.MaxSizeMB),
		fmt.Sprintf("--max-backups=%d", c.MaxBackups),
		fmt.Sprintf("--max-age-days=%d", c.MaxAgeDays),
		fmt.Sprintf("--compress=%t", c.Compress),
	}, nil
}
