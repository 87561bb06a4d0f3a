// Package runonce runs a command at most once per task name on a host.
//
// A pid lock file per task records the running instance. A new invocation
// refuses to start while that instance is alive and within its timeout, kills
// it once the timeout has passed, and clears the lock when the instance is
// gone. In active mode the invocation stays in the foreground and enforces the
// timeout on the instance it started.
package runonce

import (
	"context"
	"log/slog"

	"github.com/loykin/runonce/internal/config"
	"github.com/loykin/runonce/internal/history"
	"github.com/loykin/runonce/internal/history/factory"
	"github.com/loykin/runonce/internal/launcher"
	"github.com/loykin/runonce/internal/lifecycle"
	"github.com/loykin/runonce/internal/lock"
	"github.com/loykin/runonce/internal/logger"
	"github.com/loykin/runonce/internal/metrics"
	"github.com/loykin/runonce/internal/proctable"
	"github.com/loykin/runonce/internal/supervisor"
	"github.com/loykin/runonce/internal/task"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.

type RunConfig = task.RunConfig

type Decision = lifecycle.Decision

const (
	NoPriorProcess        = lifecycle.NoPriorProcess
	ProceedKillingStale   = lifecycle.ProceedKillingStale
	DuplicateStillRunning = lifecycle.DuplicateStillRunning
	StaleLockCleared      = lifecycle.StaleLockCleared
)

type HistorySink = history.Sink

type HistoryEvent = history.Event

type LogConfig = logger.Config

// NoWait, as KillGrace or SettleDelay, skips that wait.
const NoWait = task.NoWait

var (
	ErrDuplicateRunning = lifecycle.ErrDuplicateRunning
	ErrKillFailed       = lifecycle.ErrKillFailed
	ErrInvalidName      = task.ErrInvalidName
	ErrUnparseable      = proctable.ErrUnparseable
)

// NewHistorySink opens a run history sink from a DSN: sqlite:// (or a bare
// path), postgres:// or clickhouse://host:port?table=name.
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// Sanitize maps a task name onto [A-Za-z0-9_].
func Sanitize(name string) (string, error) { return task.Sanitize(name) }

// ParseElapsed converts a ps etime string to seconds.
func ParseElapsed(s string) (int64, error) { return proctable.ParseElapsed(s) }

// Options configures a Runner. The zero value is usable: native process
// table, no history, no metrics, child output prefixed in-process.
type Options struct {
	Log *slog.Logger
	// ProcTable is "native" (default) or "ps".
	ProcTable string
	History   HistorySink
	// Registerer receives the runonce collectors when not nil.
	Registerer prometheus.Registerer
	// RelayArgv, when set, hands child output in non-active mode to a
	// detached helper started as RelayArgv plus "--task T --log-file F".
	RelayArgv []string
	LogConfig LogConfig
	// SampleResources publishes CPU and memory gauges of a supervised child.
	SampleResources bool
}

// Runner executes invocations. It holds no per-task state and may be reused.
type Runner struct {
	log     *slog.Logger
	table   proctable.Table
	history *history.Recorder
	opts    Options
}

func New(o Options) (*Runner, error) {
	table, err := proctable.New(o.ProcTable)
	if err != nil {
		return nil, err
	}
	if o.Registerer != nil {
		if err := metrics.Register(o.Registerer); err != nil {
			return nil, err
		}
	}
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	var rec *history.Recorder
	if o.History != nil {
		rec = &history.Recorder{Sink: o.History, Log: log}
	}
	return &Runner{log: log, table: table, history: rec, opts: o}, nil
}

// Run performs one invocation of cfg and returns the exit status to report.
// A zero KillGrace or SettleDelay gets the command line default; NoWait
// disables the wait.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (int, error) {
	cfg = withDefaults(cfg)
	locks := lock.New(cfg.TmpDir)

	var out launcher.Output = launcher.InProcess{Log: r.opts.LogConfig}
	if !cfg.Active && len(r.opts.RelayArgv) > 0 {
		out = launcher.Relay{Argv: r.opts.RelayArgv}
	}
	l := &launcher.Launcher{Locks: locks, Output: out, Log: r.log}
	if r.opts.SampleResources && cfg.Active {
		l.Observe = metrics.NewChildSampler(cfg.Name, r.log).Sample
	}

	sup := &supervisor.Supervisor{
		Controller: &lifecycle.Controller{Locks: locks, Table: r.table, Log: r.log},
		Launcher:   l,
		History:    r.history,
		Log:        r.log,
	}
	return sup.Run(ctx, cfg)
}

func withDefaults(cfg RunConfig) RunConfig {
	if cfg.KillGrace == 0 {
		cfg.KillGrace = config.DefaultKillGrace
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = config.DefaultSettleDelay
	}
	return cfg
}
