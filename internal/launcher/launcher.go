// Package launcher starts a task as a detached child, records it in the lock
// store, and in active mode supervises it until exit or timeout.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"syscall"
	"time"

	"github.com/loykin/runonce/internal/clock"
	"github.com/loykin/runonce/internal/task"
)

// DefaultTick is the liveness check interval of bounded active supervision.
const DefaultTick = time.Second

// ioGrace bounds how long Wait keeps copying output after the child exited,
// e.g. when a background grandchild inherited the pipe.
const ioGrace = time.Second

// LockWriter is the subset of lock.Store the launcher needs.
type LockWriter interface {
	Write(name string, pid int) error
	Delete(name string) error
}

// Result describes what happened to the launched child.
type Result struct {
	PID      int
	Status   int   // exit status to report to the caller
	Detached bool  // the child was left running (non-active mode or cancelled supervision)
	TimedOut bool  // active supervision hit the timeout and signalled the child
	ExitErr  error // error returned by Wait, if the child was reaped
}

type Launcher struct {
	Locks  LockWriter
	Output Output
	Clock  clock.Clock
	Log    *slog.Logger
	Tick   time.Duration
	// Observe, when set, is called on every supervision tick while the child runs.
	Observe func(pid int)
}

func (l *Launcher) logger() *slog.Logger {
	if l.Log == nil {
		return slog.Default()
	}
	return l.Log
}

func (l *Launcher) clock() clock.Clock {
	if l.Clock == nil {
		return clock.Real{}
	}
	return l.Clock
}

// Launch starts cfg.Command. It must only be called after any previous lock
// record for cfg.Name has been resolved.
func (l *Launcher) Launch(ctx context.Context, cfg task.RunConfig) (Result, error) {
	log := l.logger().With("task", cfg.Name)

	cmd := cfg.BuildCommand()
	cmd.Stdin = nil // /dev/null
	cmd.WaitDelay = ioGrace
	configureSysProcAttr(cmd)

	out := l.Output
	if out == nil {
		out = InProcess{}
	}
	att, err := out.Attach(cmd, cfg)
	if err != nil {
		return Result{Status: 1}, fmt.Errorf("attach output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = att.Close()
		return Result{Status: 1}, fmt.Errorf("start %q: %w", cfg.Command, err)
	}
	pid := cmd.Process.Pid
	if err := att.Started(); err != nil {
		log.Warn("output attachment failed", "pid", pid, "error", err)
	}

	if err := l.Locks.Write(cfg.Name, pid); err != nil {
		// never leave an instance running that no lock record accounts for
		_ = cmd.Process.Signal(syscall.SIGTERM)
		_ = cmd.Wait()
		_ = att.Close()
		return Result{PID: pid, Status: 1}, fmt.Errorf("write lock: %w", err)
	}
	log.Info("launched", "pid", pid, "command", cfg.Command, "active", cfg.Active, "timeout", cfg.Timeout)

	if !cfg.Active {
		// reap in the background so an embedding process does not collect zombies
		go func() {
			_ = cmd.Wait()
			_ = att.Close()
		}()
		return Result{PID: pid, Detached: true}, nil
	}
	return l.supervise(ctx, cmd, att, cfg)
}

func (l *Launcher) supervise(ctx context.Context, cmd *exec.Cmd, att Attachment, cfg task.RunConfig) (Result, error) {
	log := l.logger().With("task", cfg.Name)
	clk := l.clock()
	pid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	finish := func(res Result) Result {
		_ = att.Close()
		if err := l.Locks.Delete(cfg.Name); err != nil {
			log.Error("failed to clear lock", "error", err)
		}
		clk.Sleep(cfg.SettleDelay)
		return res
	}
	exited := func(err error) Result {
		st := exitStatus(err)
		log.Info("instance exited", "pid", pid, "status", st)
		return finish(Result{PID: pid, Status: st, ExitErr: err})
	}
	cancelled := func() (Result, error) {
		log.Warn("supervision cancelled, instance left running", "pid", pid)
		return Result{PID: pid, Status: 1, Detached: true}, ctx.Err()
	}

	tick := l.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	if !cfg.Bounded() {
		var ticks <-chan time.Time
		for {
			if l.Observe != nil {
				l.Observe(pid)
				ticks = clk.After(tick)
			}
			select {
			case err := <-done:
				return exited(err), nil
			case <-ctx.Done():
				return cancelled()
			case <-ticks:
			}
		}
	}

	deadline := clk.Now().Add(cfg.Timeout)
	for {
		select {
		case err := <-done:
			return exited(err), nil
		default:
		}
		now := clk.Now()
		if !now.Before(deadline) {
			break
		}
		if l.Observe != nil {
			l.Observe(pid)
		}
		select {
		case err := <-done:
			return exited(err), nil
		case <-clk.After(min(tick, deadline.Sub(now))):
		case <-ctx.Done():
			return cancelled()
		}
	}

	status := 0
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		status = 1
		log.Error("SIGTERM delivery failed", "pid", pid, "error", err)
	} else {
		log.Warn("timeout exceeded, sent SIGTERM", "pid", pid, "timeout", cfg.Timeout)
	}
	var werr error
	select {
	case werr = <-done:
	case <-clk.After(cfg.KillGrace):
		log.Warn("instance ignored SIGTERM, sent SIGKILL", "pid", pid)
		_ = cmd.Process.Kill()
		werr = <-done
	}
	return finish(Result{PID: pid, Status: status, TimedOut: true, ExitErr: werr}), nil
}

// exitStatus maps a Wait error to a shell-style exit status.
func exitStatus(err error) int {
	if err == nil || errors.Is(err, exec.ErrWaitDelay) {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		if c := ee.ExitCode(); c >= 0 {
			return c
		}
	}
	return 1
}
