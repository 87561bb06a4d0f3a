// Package supervisor runs one invocation end to end: it resolves any previous
// lock record, launches the new instance and reports the outcome to metrics
// and run history.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/runonce/internal/history"
	"github.com/loykin/runonce/internal/launcher"
	"github.com/loykin/runonce/internal/lifecycle"
	"github.com/loykin/runonce/internal/metrics"
	"github.com/loykin/runonce/internal/task"
)

// Kill reasons used in metrics and history.
const (
	ReasonStale   = "stale"   // prior instance overran its timeout
	ReasonTimeout = "timeout" // supervised instance overran its timeout
)

// Supervisor wires the lifecycle controller to the launcher. History is
// optional.
type Supervisor struct {
	Controller *lifecycle.Controller
	Launcher   *launcher.Launcher
	History    *history.Recorder
	Log        *slog.Logger
	Now        func() time.Time
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Supervisor) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// Run executes cfg once and returns the exit status the process should report.
// A non-nil error always comes with status 1, except for a cancelled active
// supervision where the instance was left running.
func (s *Supervisor) Run(ctx context.Context, cfg task.RunConfig) (int, error) {
	log := s.logger().With("task", cfg.Name)

	v, err := s.Controller.Evaluate(ctx, cfg.Name, cfg.Timeout, cfg.Active)
	if err != nil {
		s.done(cfg.Name, 1)
		return 1, fmt.Errorf("evaluate lock: %w", err)
	}
	metrics.IncDecision(cfg.Name, v.Decision.String())
	s.History.Record(ctx, history.Event{
		Type:   history.EventDecision,
		Task:   cfg.Name,
		PID:    v.PID,
		Detail: v.Decision.String(),
	})
	log.Debug("lock evaluated", "decision", v.Decision, "pid", v.PID, "elapsed", v.Elapsed, "elapsed_known", v.ElapsedKnown)

	switch v.Decision {
	case lifecycle.DuplicateStillRunning:
		s.done(cfg.Name, 1)
		return 1, fmt.Errorf("%w: %s (pid %d)", lifecycle.ErrDuplicateRunning, cfg.Name, v.PID)
	case lifecycle.ProceedKillingStale:
		err := s.Controller.Terminate(ctx, cfg.Name, v.PID, cfg.KillGrace)
		s.recordKill(ctx, cfg.Name, v.PID, ReasonStale, err)
		if err != nil {
			s.done(cfg.Name, 1)
			return 1, err
		}
	}

	res, err := s.Launcher.Launch(ctx, cfg)
	if err != nil && res.PID == 0 {
		s.done(cfg.Name, res.Status)
		return res.Status, err
	}
	metrics.IncLaunch(cfg.Name)
	s.History.Record(ctx, history.Event{Type: history.EventLaunch, Task: cfg.Name, PID: res.PID, Error: errString(err)})
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			s.done(cfg.Name, res.Status)
		}
		return res.Status, err
	}
	if res.Detached {
		s.done(cfg.Name, res.Status)
		return res.Status, nil
	}

	if res.TimedOut {
		s.recordKill(ctx, cfg.Name, res.PID, ReasonTimeout, nil)
	}
	s.History.Record(ctx, history.Event{
		Type:       history.EventExit,
		Task:       cfg.Name,
		PID:        res.PID,
		ExitStatus: res.Status,
		Error:      errString(res.ExitErr),
	})
	s.done(cfg.Name, res.Status)
	return res.Status, nil
}

func (s *Supervisor) recordKill(ctx context.Context, name string, pid int, reason string, err error) {
	if err == nil {
		metrics.IncKill(name, reason)
	}
	s.History.Record(ctx, history.Event{
		Type:   history.EventKill,
		Task:   name,
		PID:    pid,
		Detail: reason,
		Error:  errString(err),
	})
}

func (s *Supervisor) done(name string, status int) {
	metrics.SetLastExit(name, status, float64(s.now().UnixNano())/1e9)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
