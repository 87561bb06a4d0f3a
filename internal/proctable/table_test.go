package proctable

import (
	"context"
	"errors"
	"os/exec"
	"runtime"
	"syscall"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func startSleep(t *testing.T, dur string) *exec.Cmd {
	t.Helper()
	// #nosec G204
	cmd := exec.Command("sleep", dur)
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func checkTable(t *testing.T, tbl Table) {
	t.Helper()
	ctx := context.Background()
	cmd := startSleep(t, "5")
	pid := cmd.Process.Pid
	time.Sleep(20 * time.Millisecond)

	etime, err := tbl.Elapsed(ctx, pid)
	if err != nil {
		t.Fatalf("Elapsed(%d): %v", pid, err)
	}
	secs, err := ParseElapsed(etime)
	if err != nil {
		t.Fatalf("unparseable etime %q: %v", etime, err)
	}
	if secs < 0 || secs > 5 {
		t.Fatalf("unexpected elapsed %d for fresh process", secs)
	}

	if err := tbl.Signal(pid, syscall.SIGTERM); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	_ = cmd.Wait()

	if _, err := tbl.Elapsed(ctx, pid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after exit, got %v", err)
	}
	if err := tbl.Signal(pid, syscall.SIGTERM); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound signalling a reaped pid, got %v", err)
	}
}

func TestNativeTable(t *testing.T) {
	requireUnix(t)
	checkTable(t, Native{})
}

func TestPSTable(t *testing.T) {
	requireUnix(t)
	if _, err := exec.LookPath("ps"); err != nil {
		t.Skip("ps not installed")
	}
	checkTable(t, PS{})
}

func TestNativeUsesInjectedClock(t *testing.T) {
	requireUnix(t)
	cmd := startSleep(t, "5")
	time.Sleep(20 * time.Millisecond)
	future := func() time.Time { return time.Now().Add(26 * time.Hour) }
	etime, err := Native{Now: future}.Elapsed(context.Background(), cmd.Process.Pid)
	if err != nil {
		t.Fatalf("Elapsed: %v", err)
	}
	secs, err := ParseElapsed(etime)
	if err != nil {
		t.Fatalf("ParseElapsed(%q): %v", etime, err)
	}
	if secs < 26*3600 {
		t.Fatalf("expected >= 26h, got %d (%q)", secs, etime)
	}
}

func TestNativeZombieIsNotFound(t *testing.T) {
	requireUnix(t)
	if runtime.GOOS != "linux" {
		t.Skip("zombie detection via /proc is linux only")
	}
	// #nosec G204
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = cmd.Wait() }()
	pid := cmd.Process.Pid
	deadline := time.Now().Add(2 * time.Second)
	for !isZombie(pid) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := (Native{}).Elapsed(context.Background(), pid); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for zombie, got %v", err)
	}
}

func TestNewTable(t *testing.T) {
	for _, kind := range []string{"", "native", "ps"} {
		if _, err := New(kind); err != nil {
			t.Fatalf("New(%q): %v", kind, err)
		}
	}
	if _, err := New("bogus"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestParsePSLine(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr error
	}{
		{"Ss   01:02:03", "01:02:03", nil},
		{"S+ 00:04", "00:04", nil},
		{"R\t1-00:00:10", "1-00:00:10", nil},
		{"Z    00:03", "", ErrNotFound},
		{"Z+ 00:03", "", ErrNotFound},
		{"", "", ErrNotFound},
		{"00:03", "", ErrUnparseable},
		{"S 00:03 extra", "", ErrUnparseable},
	}
	for _, c := range cases {
		got, err := parsePSLine(c.in)
		if c.wantErr != nil {
			if !errors.Is(err, c.wantErr) {
				t.Fatalf("parsePSLine(%q) err=%v, want %v", c.in, err, c.wantErr)
			}
			continue
		}
		if err != nil || got != c.want {
			t.Fatalf("parsePSLine(%q) = %q, %v; want %q", c.in, got, err, c.want)
		}
	}
}

func TestPSZombieIsNotFound(t *testing.T) {
	requireUnix(t)
	if _, err := exec.LookPath("ps"); err != nil {
		t.Skip("ps not installed")
	}
	// #nosec G204
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = cmd.Wait() }()
	pid := cmd.Process.Pid
	deadline := time.Now().Add(2 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if _, err = (PS{}).Elapsed(context.Background(), pid); errors.Is(err, ErrNotFound) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected ErrNotFound for unreaped exited child, got %v", err)
}
