// Package lifecycle classifies the lock record left by a previous invocation
// and resolves it before a new instance is launched.
package lifecycle

import (
	"errors"
	"time"
)

// Decision is the outcome of evaluating an existing lock record.
type Decision int

const (
	// NoPriorProcess: no lock record exists; launch.
	NoPriorProcess Decision = iota
	// ProceedKillingStale: the recorded process overran its timeout; kill it, then launch.
	ProceedKillingStale
	// DuplicateStillRunning: the recorded process is alive and within bounds; do not launch.
	DuplicateStillRunning
	// StaleLockCleared: the recorded process is gone; the record was removed; launch.
	StaleLockCleared
)

func (d Decision) String() string {
	switch d {
	case NoPriorProcess:
		return "no_prior_process"
	case ProceedKillingStale:
		return "proceed_killing_stale"
	case DuplicateStillRunning:
		return "duplicate_still_running"
	case StaleLockCleared:
		return "stale_lock_cleared"
	default:
		return "unknown"
	}
}

// Launches reports whether a new instance may start after this decision
// has been resolved.
func (d Decision) Launches() bool { return d != DuplicateStillRunning }

var (
	// ErrDuplicateRunning is returned when a prior instance is still within its timeout.
	ErrDuplicateRunning = errors.New("task is already running")
	// ErrKillFailed is returned when an overrun instance could not be signalled.
	ErrKillFailed = errors.New("failed to terminate overrun instance")
)

// Observation is what the controller learned about the previous instance.
type Observation struct {
	LockPresent  bool
	ProcessFound bool
	Elapsed      time.Duration
	ElapsedKnown bool // false when the process table output could not be parsed
}

// Decide maps an observation to a decision. A zero timeout is unbounded.
// An unknown elapsed time never permits a kill. Active mode gets the same
// answer as a scheduler invocation: it fails fast instead of attaching to an
// instance it does not own.
func Decide(o Observation, timeout time.Duration, active bool) Decision {
	switch {
	case !o.LockPresent:
		return NoPriorProcess
	case !o.ProcessFound:
		return StaleLockCleared
	case timeout > 0 && o.ElapsedKnown && o.Elapsed > timeout:
		return ProceedKillingStale
	default:
		return DuplicateStillRunning
	}
}
