package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/loykin/runonce/internal/clock"
	"github.com/loykin/runonce/internal/lock"
	"github.com/loykin/runonce/internal/proctable"
)

// LockStore is the subset of lock.Store the controller needs.
type LockStore interface {
	Read(name string) (int, error)
	Delete(name string) error
}

// Verdict carries the decision together with the facts it was based on.
type Verdict struct {
	Decision     Decision
	PID          int
	Elapsed      time.Duration
	ElapsedKnown bool
}

// Controller evaluates and resolves lock records for one invocation.
type Controller struct {
	Locks LockStore
	Table proctable.Table
	Clock clock.Clock
	Log   *slog.Logger

	// PollInterval is how often the process table is re-checked while waiting
	// for a killed instance to disappear.
	PollInterval time.Duration
}

func (c *Controller) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

func (c *Controller) clock() clock.Clock {
	if c.Clock == nil {
		return clock.Real{}
	}
	return c.Clock
}

// Evaluate inspects the lock record of name. A stale record (process gone, or
// content that is not a pid) is deleted before StaleLockCleared is returned.
func (c *Controller) Evaluate(ctx context.Context, name string, timeout time.Duration, active bool) (Verdict, error) {
	log := c.logger().With("task", name)
	var obs Observation

	pid, err := c.Locks.Read(name)
	switch {
	case errors.Is(err, lock.ErrNoLock):
		log.Debug("no lock record")
		return Verdict{Decision: Decide(obs, timeout, active)}, nil
	case errors.Is(err, lock.ErrCorrupt):
		log.Warn("lock record is not a pid, treating as stale", "error", err)
		if derr := c.Locks.Delete(name); derr != nil {
			return Verdict{}, fmt.Errorf("clear corrupt lock: %w", derr)
		}
		return Verdict{Decision: StaleLockCleared}, nil
	case err != nil:
		return Verdict{}, fmt.Errorf("read lock: %w", err)
	}
	obs.LockPresent = true

	etime, err := c.Table.Elapsed(ctx, pid)
	switch {
	case errors.Is(err, proctable.ErrNotFound):
	case err != nil:
		obs.ProcessFound = true
		log.Warn("elapsed time unknown", "pid", pid, "error", err)
	default:
		obs.ProcessFound = true
		secs, perr := proctable.ParseElapsed(etime)
		if perr != nil {
			log.Warn("elapsed time unknown", "pid", pid, "error", perr)
			break
		}
		obs.Elapsed = time.Duration(secs) * time.Second
		obs.ElapsedKnown = true
	}

	v := Verdict{
		Decision:     Decide(obs, timeout, active),
		PID:          pid,
		Elapsed:      obs.Elapsed,
		ElapsedKnown: obs.ElapsedKnown,
	}
	switch v.Decision {
	case StaleLockCleared:
		if err := c.Locks.Delete(name); err != nil {
			return Verdict{}, fmt.Errorf("clear stale lock: %w", err)
		}
		log.Info("cleared stale lock, process no longer exists", "pid", pid)
	case ProceedKillingStale:
		log.Warn("previous instance exceeded timeout", "pid", pid, "elapsed", v.Elapsed, "timeout", timeout)
	case DuplicateStillRunning:
		log.Warn("previous instance still running", "pid", pid, "elapsed", v.Elapsed, "elapsed_known", v.ElapsedKnown, "timeout", timeout)
	}
	return v, nil
}

// Terminate sends SIGTERM to an overrun instance, escalates to SIGKILL when it
// is still present after grace, and then clears its lock record.
func (c *Controller) Terminate(ctx context.Context, name string, pid int, grace time.Duration) error {
	log := c.logger().With("task", name, "pid", pid)

	err := c.Table.Signal(pid, syscall.SIGTERM)
	switch {
	case errors.Is(err, proctable.ErrNotFound):
		log.Info("overrun instance exited before it could be signalled")
	case err != nil:
		log.Error("SIGTERM delivery failed", "error", err)
		return fmt.Errorf("%w: pid %d: %v", ErrKillFailed, pid, err)
	default:
		log.Info("sent SIGTERM to overrun instance")
		if !c.waitGone(ctx, pid, grace) {
			kerr := c.Table.Signal(pid, syscall.SIGKILL)
			if kerr != nil && !errors.Is(kerr, proctable.ErrNotFound) {
				log.Error("SIGKILL delivery failed", "error", kerr)
				return fmt.Errorf("%w: pid %d: %v", ErrKillFailed, pid, kerr)
			}
			log.Warn("overrun instance ignored SIGTERM, sent SIGKILL", "grace", grace)
			c.waitGone(ctx, pid, grace)
		}
	}

	if err := c.Locks.Delete(name); err != nil {
		return fmt.Errorf("clear lock after kill: %w", err)
	}
	return nil
}

// waitGone polls the process table until pid disappears or grace elapses.
func (c *Controller) waitGone(ctx context.Context, pid int, grace time.Duration) bool {
	clk := c.clock()
	poll := c.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	deadline := clk.Now().Add(grace)
	for {
		if _, err := c.Table.Elapsed(ctx, pid); errors.Is(err, proctable.ErrNotFound) {
			return true
		}
		now := clk.Now()
		if !now.Before(deadline) {
			return false
		}
		wait := min(poll, deadline.Sub(now))
		select {
		case <-ctx.Done():
			return false
		case <-clk.After(wait):
		}
	}
}
