// Package lockfile keeps two DocFinder processes from opening the same
// SQLite state directory.
//
// The lock is an flock(2) on a file inside the directory, so the kernel drops
// it when the process exits, even on a crash.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "docfinder.lock"

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive, non-blocking lock on dir, creating the
// directory when needed. A lock held by another process yields a *LockError.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, LockFileName)
	slog.Debug("lockfile.Acquire: acquiring", "path", path)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}
	// O_TRUNC would wipe the holder's pid before we know whether we win.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := describeHolder(path)
		slog.Error("lockfile.Acquire: state directory in use", "path", path, "holder", holder, "error", err)
		return nil, &LockError{Path: path, Holder: holder, Cause: err}
	}

	if err := file.Truncate(0); err == nil {
		_, err = file.WriteAt([]byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0)
		if err != nil {
			slog.Warn("lockfile.Acquire: could not record pid", "path", path, "error", err)
		}
	}

	slog.Info("lockfile.Acquire: acquired", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Release drops the lock and removes the file. Calling it twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "path", l.path, "error", err)
	}
	closeErr := l.file.Close()
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: remove failed", "path", l.path, "error", err)
	}
	slog.Debug("lockfile.Release: released", "path", l.path)
	return closeErr
}

// LockError reports a state directory already held by another process.
type LockError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "state directory is locked by another DocFinder instance (lock file %s", e.Path)
	if e.Holder != "" {
		fmt.Fprintf(&b, ", %s", e.Holder)
	}
	b.WriteString("); remove the file only if that process is gone")
	return b.String()
}

func (e *LockError) Unwrap() error { return e.Cause }

func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return ""
	}
	if processAlive(pid) {
		return fmt.Sprintf("pid %d running", pid)
	}
	return fmt.Sprintf("pid %d not running", pid)
}

// parsePID reads the pid=N record written by Acquire.
func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		v, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		if pid, err := strconv.Atoi(v); err == nil {
			return pid
		}
	}
	return 0
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 probes existence
	return p.Signal(syscall.Signal(0)) == nil
}
