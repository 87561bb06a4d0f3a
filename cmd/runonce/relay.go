package main

import (
	"fmt"

	"github.com/loykin/runonce/internal/config"
	"github.com/loykin/runonce/internal/logger"
	"github.com/spf13/cobra"
)

// relayFlags are the options of the hidden relay subcommand.
type relayFlags struct {
	Task    string
	LogFile string
	Log     logger.Config
}

// relayCommand copies stdin into the task log with the line prefix until EOF.
// runonce starts it detached in non-active mode so that the child's output
// keeps being logged after runonce itself has exited.
func (a *app) relayCommand() *cobra.Command {
	f := &relayFlags{}
	cmd := &cobra.Command{
		Use:    "relay --task <name> --log-file <path>",
		Short:  "Prefix stdin into a task log (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.ran = true
			if f.Task == "" || f.LogFile == "" {
				return fmt.Errorf("%w: relay requires --task and --log-file", config.ErrConfig)
			}
			return logger.CopyPrefixed(f.Log.FileWriter(f.LogFile), cmd.InOrStdin(), f.Task)
		},
	}
	cmd.Flags().StringVar(&f.Task, "task", "", "task name used in the line prefix")
	cmd.Flags().StringVar(&f.LogFile, "log-file", "", "log file to append to")
	cmd.Flags().IntVar(&f.Log.MaxSizeMB, "max-size-mb", logger.DefaultMaxSizeMB, "rotate after this many megabytes")
	cmd.Flags().IntVar(&f.Log.MaxBackups, "max-backups", logger.DefaultMaxBackups, "rotated files to keep")
	cmd.Flags().IntVar(&f.Log.MaxAgeDays, "max-age-days", logger.DefaultMaxAgeDays, "days to keep rotated files")
	cmd.Flags().BoolVar(&f.Log.Compress, "compress", false, "gzip rotated files")
	return cmd
}
