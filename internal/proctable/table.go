// Package proctable queries the operating system process table for the
// elapsed running time of a pid and delivers signals to it.
package proctable

import (
	"context"
	"errors"
	"syscall"
)

// ErrNotFound reports that the pid is no longer present in the process table.
var ErrNotFound = errors.New("process not found")

// Table is the process inspector consulted by the lifecycle controller.
// Elapsed returns the ps(1) "etime" rendering of how long pid has been running,
// or ErrNotFound when the pid no longer exists.
type Table interface {
	Elapsed(ctx context.Context, pid int) (string, error)
	Signal(pid int, sig syscall.Signal) error
}

// New returns the table implementation registered under kind ("native" or "ps").
// An empty kind selects the native reader.
func New(kind string) (Table, error) {
	switch kind {
	case "", "native":
		return Native{}, nil
	case "ps":
		return PS{}, nil
	default:
		return nil, errors.New("unknown process table: " + kind)
	}
}
