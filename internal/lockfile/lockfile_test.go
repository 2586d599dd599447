package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireWritesPID(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	content, err := os.ReadFile(filepath.Join(dir, LockFileName))
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	if want := fmt.Sprintf("pid=%d\n", os.Getpid()); string(content) != want {
		t.Errorf("lock file content = %q, want %q", content, want)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatal("second acquisition should fail")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error should name the lock path: %s", err)
	}
	if !strings.Contains(lockErr.Holder, "running") {
		t.Errorf("expected holder description, got %q", lockErr.Holder)
	}

	// the failed attempt must not have clobbered the holder's pid
	content, _ := os.ReadFile(filepath.Join(dir, LockFileName))
	if parsePID(string(content)) != os.Getpid() {
		t.Errorf("holder pid lost: %q", content)
	}
}

func TestReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Release failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op: %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")

	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory should exist: %v", err)
	}
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"valid", "pid=12345\n", 12345},
		{"extra lines", "host=a\npid=678\n", 678},
		{"missing", "other=info", 0},
		{"empty", "", 0},
		{"not a number", "pid=abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parsePID(tt.content); got != tt.want {
				t.Errorf("parsePID(%q) = %d, want %d", tt.content, got, tt.want)
			}
		})
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("own process should be alive")
	}
}
