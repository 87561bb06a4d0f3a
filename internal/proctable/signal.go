//go:build !windows

package proctable

import (
	"errors"
	"syscall"
)

func signalPID(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return ErrNotFound
	}
	err := syscall.Kill(pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return ErrNotFound
	}
	return err
}

// Alive reports whether pid exists; EPERM still means the process is there.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
