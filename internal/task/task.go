// Package task holds the identity and immutable run configuration of one
// supervised command.
package task

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Filler replaces every character of a task name outside [A-Za-z0-9].
const Filler = '_'

// ErrInvalidName is returned when a name has no alphanumeric characters.
var ErrInvalidName = errors.New("invalid task name")

// Sanitize maps name onto [A-Za-z0-9_]. A name without a single alphanumeric
// character is rejected, so "---" is invalid while "a b" becomes "a_b".
func Sanitize(name string) (string, error) {
	alnum := false
	out := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			alnum = true
			return r
		}
		return Filler
	}, name)
	if !alnum {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return out, nil
}

// RunConfig is everything one invocation needs. It is built once by the
// config layer and passed by value to every component.
type RunConfig struct {
	Command string
	Name    string        // sanitized
	Timeout time.Duration // 0 means unbounded
	Active  bool
	LogDir  string
	TmpDir  string
	WorkDir string   // child working directory; empty inherits ours
	Env     []string // child environment; nil inherits ours

	// Zero waits are filled in with defaults by runonce.Runner; use NoWait
	// to skip a wait entirely.
	KillGrace   time.Duration // wait after SIGTERM before SIGKILL
	SettleDelay time.Duration // pause after clearing the lock in active mode
}

// NoWait disables KillGrace or SettleDelay.
const NoWait time.Duration = -1

// LockPath is where the pid of the running instance is recorded.
func (c RunConfig) LockPath() string { return filepath.Join(c.TmpDir, c.Name+".pid") }

// LogPath is the append-only log shared by the supervisor and the child output.
func (c RunConfig) LogPath() string { return filepath.Join(c.LogDir, c.Name+".log") }

// Bounded reports whether a timeout applies.
func (c RunConfig) Bounded() bool { return c.Timeout > 0 }
