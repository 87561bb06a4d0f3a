package proctable

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// PS reads elapsed time by running `ps -o stat=,etime= -p <pid>`. Zombies are
// reported as not found.
type PS struct {
	Path string // ps binary, defaults to "ps"
}

func (p PS) Elapsed(ctx context.Context, pid int) (string, error) {
	if pid <= 0 {
		return "", ErrNotFound
	}
	bin := p.Path
	if bin == "" {
		bin = "ps"
	}
	// #nosec G204
	out, err := exec.CommandContext(ctx, bin, "-o", "stat=,etime=", "-p", strconv.Itoa(pid)).Output()
	line := strings.TrimSpace(string(out))
	if err != nil {
		// ps exits non-zero with empty output when the pid is unknown.
		var ee *exec.ExitError
		if errors.As(err, &ee) && line == "" {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("ps for pid %d: %w", pid, err)
	}
	return parsePSLine(line)
}

// parsePSLine splits a "<stat> <etime>" row.
func parsePSLine(line string) (string, error) {
	fields := strings.Fields(line)
	switch {
	case len(fields) == 0:
		return "", ErrNotFound
	case len(fields) != 2:
		return "", fmt.Errorf("%w: ps row %q", ErrUnparseable, line)
	case strings.HasPrefix(fields[0], "Z"):
		return "", ErrNotFound
	}
	return fields[1], nil
}

func (PS) Signal(pid int, sig syscall.Signal) error { return signalPID(pid, sig) }
