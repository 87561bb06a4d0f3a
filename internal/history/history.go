// Package history exports an audit trail of supervisor invocations to
// external databases.
package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of invocation event.
type EventType string

const (
	EventDecision EventType = "decision" // lock evaluation outcome
	EventKill     EventType = "kill"     // an instance was terminated
	EventLaunch   EventType = "launch"   // a new instance was started
	EventExit     EventType = "exit"     // a supervised instance finished
)

// Event is one row of history.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Task       string    `json:"task"`
	PID        int       `json:"pid"`
	Detail     string    `json:"detail"` // decision name or kill reason
	ExitStatus int       `json:"exit_status"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder stamps and forwards events to an optional sink. Delivery failures
// are logged and never surface to the caller: history must not change the
// outcome of a run.
type Recorder struct {
	Sink Sink
	Log  *slog.Logger
	Now  func() time.Time
}

func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || r.Sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		e.OccurredAt = now()
	}
	if err := r.Sink.Send(ctx, e); err != nil {
		log := r.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("history sink failed", "event", e.Type, "error", err)
	}
}
