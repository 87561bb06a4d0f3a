package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestReadMissing(t *testing.T) {
	s := New(t.TempDir())
	if _, err := s.Read("job"); !errors.Is(err, ErrNoLock) {
		t.Fatalf("expected ErrNoLock, got %v", err)
	}
}

func TestWriteReadDelete(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := s.Write("job", 4242); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "job.pid"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(b) != "4242\n" {
		t.Fatalf("content = %q, want newline-terminated pid", string(b))
	}
	fi, err := os.Stat(s.Path("job"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != FileMode {
		t.Fatalf("mode = %v, want %v", fi.Mode().Perm(), FileMode)
	}

	pid, err := s.Read("job")
	if err != nil || pid != 4242 {
		t.Fatalf("Read = %d, %v", pid, err)
	}

	// overwrite keeps a single record
	if err := s.Write("job", 7); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if pid, _ := s.Read("job"); pid != 7 {
		t.Fatalf("expected rewritten pid 7, got %d", pid)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the record in dir, got %d entries", len(entries))
	}

	if err := s.Delete("job"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("job"); !errors.Is(err, ErrNoLock) {
		t.Fatalf("expected ErrNoLock after delete, got %v", err)
	}
	if err := s.Delete("job"); err != nil {
		t.Fatalf("Delete of missing record must be a no-op: %v", err)
	}
}

func TestReadCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	for _, content := range []string{"", "abc\n", "-3\n", "0"} {
		if err := os.WriteFile(s.Path("job"), []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := s.Read("job"); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("content %q: expected ErrCorrupt, got %v", content, err)
		}
	}
}

func TestReadIgnoresTrailingLines(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	if err := os.WriteFile(s.Path("job"), []byte(" 99 \n{\"name\":\"job\"}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, err := s.Read("job")
	if err != nil || pid != 99 {
		t.Fatalf("Read = %d, %v", pid, err)
	}
}

func TestWriteRejectsInvalidPID(t *testing.T) {
	s := New(t.TempDir())
	if err := s.Write("job", 0); err == nil {
		t.Fatalf("expected error for pid 0")
	}
}

func TestWriteMissingDir(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing"))
	if err := s.Write("job", 1); err == nil {
		t.Fatalf("expected error when directory does not exist")
	}
}
