// Package lock persists the pid of the running instance of each task as a
// small file under a temp directory. It does not take OS-level file locks:
// callers serialize read, decide and write within a single invocation.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileMode of a lock record: world readable, owner writable.
const FileMode os.FileMode = 0o644

var (
	// ErrNoLock means no record exists for the task.
	ErrNoLock = errors.New("no lock record")
	// ErrCorrupt means the record exists but does not hold a pid.
	ErrCorrupt = errors.New("corrupt lock record")
)

// Store keeps one "<name>.pid" file per task under Dir.
type Store struct {
	Dir string
}

func New(dir string) *Store { return &Store{Dir: dir} }

// Path returns the record location for name.
func (s *Store) Path(name string) string { return filepath.Join(s.Dir, name+".pid") }

// Read returns the recorded pid. Only the first line is significant.
func (s *Store) Read(name string) (int, error) {
	b, err := os.ReadFile(s.Path(name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoLock
		}
		return 0, err
	}
	first, _, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %s: %q", ErrCorrupt, s.Path(name), strings.TrimSpace(first))
	}
	return pid, nil
}

// Write records pid for name. The file is written next to its final path and
// renamed into place so a concurrent Read never observes partial content.
func (s *Store) Write(name string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	f, err := os.CreateTemp(s.Dir, "."+name+".pid.*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	cleanup := func() { _ = os.Remove(tmp) }
	if _, err := f.WriteString(strconv.Itoa(pid) + "\n"); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Chmod(FileMode); err != nil {
		_ = f.Close()
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmp, s.Path(name)); err != nil {
		cleanup()
		return err
	}
	return nil
}

// Delete removes the record; a missing record is not an error.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
