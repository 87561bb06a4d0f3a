package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

func TestFileWriterDefaults(t *testing.T) {
	w := Config{}.FileWriter("x.log")
	l, ok := w.(*lj.Logger)
	if !ok {
		t.Fatalf("expected *lumberjack.Logger, got %T", w)
	}
	if l.MaxSize != DefaultMaxSizeMB || l.MaxBackups != DefaultMaxBackups || l.MaxAge != DefaultMaxAgeDays {
		t.Fatalf("defaults not applied: %+v", l)
	}
	w = Config{MaxSizeMB: 1, MaxBackups: 9, MaxAgeDays: 2, Compress: true}.FileWriter("y.log")
	l = w.(*lj.Logger)
	if l.MaxSize != 1 || l.MaxBackups != 9 || l.MaxAge != 2 || !l.Compress {
		t.Fatalf("explicit values not applied: %+v", l)
	}
}

func TestFileWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.log")
	if err := os.WriteFile(path, []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	w := Config{}.FileWriter(path)
	if _, err := w.Write([]byte("new\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = w.Close()
	b, _ := os.ReadFile(path)
	if string(b) != "old\nnew\n" {
		t.Fatalf("expected append, got %q", string(b))
	}
}

func TestPrefixWriter(t *testing.T) {
	var buf bytes.Buffer
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("X", 2*3600))
	p := NewPrefixWriter(&buf, "backup")
	p.Now = func() time.Time { return ts }

	if _, err := p.Write([]byte("one\ntw")); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Write([]byte("o\r\nthr")); err != nil {
		t.Fatal(err)
	}
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	want := "2024-05-01T10:00:00+0200 [backup] one\n" +
		"2024-05-01T10:00:00+0200 [backup] two\n" +
		"2024-05-01T10:00:00+0200 [backup] three\n"
	if buf.String() != want {
		t.Fatalf("got %q\nwant %q", buf.String(), want)
	}
}

func TestPrefixWriterFlushesLongPartial(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrefixWriter(&buf, "t")
	if _, err := p.Write(bytes.Repeat([]byte("a"), maxPartial+1)); err != nil {
		t.Fatal(err)
	}
	if strings.Count(buf.String(), "\n") != 1 {
		t.Fatalf("expected the oversized partial line to be flushed")
	}
}

func TestNewLoggerLevels(t *testing.T) {
	var console, file bytes.Buffer
	log := New(Options{Console: &console, File: &file}).With("task", "job")
	log.Info("launched", "pid", 7)
	log.Warn("still running")

	if strings.Contains(console.String(), "launched") {
		t.Fatalf("console should not show info without debug: %q", console.String())
	}
	if !strings.Contains(console.String(), "still running") {
		t.Fatalf("console should show warnings: %q", console.String())
	}
	if !strings.Contains(file.String(), "launched") || !strings.Contains(file.String(), "task=job") {
		t.Fatalf("file should record info with task: %q", file.String())
	}
	if !strings.HasPrefix(file.String(), "time=") || strings.Contains(file.String(), "time=\"") {
		t.Fatalf("file time should use the compact layout: %q", file.String())
	}

	console.Reset()
	New(Options{Console: &console, Debug: true}).Debug("trace")
	if !strings.Contains(console.String(), "trace") {
		t.Fatalf("debug console should show debug records: %q", console.String())
	}
}

func TestColorTextHandler(t *testing.T) {
	var buf bytes.Buffer
	h := NewColorTextHandler(&buf, nil, false)
	slog.New(h).With("k", "v").Warn("careful")
	out := buf.String()
	if !strings.Contains(out, "\033[33mWARN") || !strings.Contains(out, "k=v") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "time=") {
		t.Fatalf("time should be omitted when showTime is false: %q", out)
	}
}

func TestCopyPrefixed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	src := strings.NewReader("first\nsecond")
	if err := CopyPrefixed(Config{}.FileWriter(path), src, "relay"); err != nil {
		t.Fatalf("CopyPrefixed: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSuffix(string(b), "\n"), "\n")
	if len(lines) != 2 || !strings.HasSuffix(lines[0], " [relay] first") || !strings.HasSuffix(lines[1], " [relay] second") {
		t.Fatalf("unexpected relay output %q", string(b))
	}
}
