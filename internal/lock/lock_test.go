package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLockLifecycle(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions", "main")

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	owner, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		t.Fatalf("read owner: %v", err)
	}
	if !strings.HasPrefix(string(owner), "pid=") {
		t.Errorf("owner record = %q", owner)
	}

	_, err = Acquire(dir)
	var held *HeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %v, want *HeldError", err)
	}
	if held.PID != os.Getpid() || held.Since.IsZero() {
		t.Errorf("HeldError = %+v", held)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, fileName)); !os.IsNotExist(err) {
		t.Errorf("lock file left behind: %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = again.Release()
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()

	if held, err := Inspect(dir); err != nil || held != nil {
		t.Fatalf("Inspect() without lock file = %v, %v", held, err)
	}

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	held, err := Inspect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if held == nil || held.PID != os.Getpid() {
		t.Errorf("Inspect() = %+v, want this process", held)
	}
	// Inspecting must not steal the lock.
	if _, err := Acquire(dir); err == nil {
		t.Error("Acquire() succeeded while held")
	}

	_ = l.Release()
	if held, err := Inspect(dir); err != nil || held != nil {
		t.Errorf("Inspect() after release = %v, %v", held, err)
	}
}

func TestHeldErrorFromOwnerRecord(t *testing.T) {
	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		record  string
		wantPID int
		wantMsg string
	}{
		{
			name:    "full record",
			record:  "pid=4242\ntime=" + since.Format(time.RFC3339) + "\n",
			wantPID: 4242,
			wantMsg: "held by PID 4242 since 2026-03-01T12:00:00Z",
		},
		{
			name:    "pid only",
			record:  "pid=7\n",
			wantPID: 7,
			wantMsg: "held by PID 7 (",
		},
		{
			name:    "garbage",
			record:  "not a record",
			wantMsg: "held by PID 0 (",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), fileName)
			if err := os.WriteFile(path, []byte(tt.record), 0600); err != nil {
				t.Fatal(err)
			}
			e := heldError(path)
			if e.PID != tt.wantPID {
				t.Errorf("PID = %d, want %d", e.PID, tt.wantPID)
			}
			if !strings.Contains(e.Error(), tt.wantMsg) {
				t.Errorf("Error() = %q, want it to contain %q", e.Error(), tt.wantMsg)
			}
		})
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}
