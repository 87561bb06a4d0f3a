package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/runonce/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "history.db")
	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	events := []history.Event{
		{Type: history.EventDecision, OccurredAt: time.Now(), Task: "job", PID: 10, Detail: "proceed_killing_stale"},
		{Type: history.EventKill, OccurredAt: time.Now(), Task: "job", PID: 10, Detail: "stale"},
		{Type: history.EventLaunch, OccurredAt: time.Now(), Task: "job", PID: 11},
		{Type: history.EventExit, OccurredAt: time.Now(), Task: "job", PID: 11, ExitStatus: 2, Error: "exit status 2"},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runonce_history WHERE task = ?`, "job").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != len(events) {
		t.Fatalf("expected %d rows, got %d", len(events), count)
	}

	var status int
	var errText sql.NullString
	if err := sink.db.QueryRowContext(ctx, `SELECT exit_status, error FROM runonce_history WHERE type = 'exit'`).Scan(&status, &errText); err != nil {
		t.Fatalf("select exit: %v", err)
	}
	if status != 2 || !errText.Valid || errText.String != "exit status 2" {
		t.Fatalf("unexpected exit row: %d %+v", status, errText)
	}

	var launchErr sql.NullString
	if err := sink.db.QueryRowContext(ctx, `SELECT error FROM runonce_history WHERE type = 'launch'`).Scan(&launchErr); err != nil {
		t.Fatalf("select launch: %v", err)
	}
	if launchErr.Valid {
		t.Fatalf("empty error should be stored as NULL, got %q", launchErr.String)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestSQLiteSink_Memory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.Send(context.Background(), history.Event{Type: history.EventLaunch, Task: "m", PID: 1, OccurredAt: time.Now()}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}
