package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created inside a session directory.
const FileName = "LOCK"

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	PID    int
	Holder string
	Path   string
}

func (e *LockHeldError) Error() string {
	if e.Holder != "" {
		return fmt.Sprintf("session lock held by %s (PID %d, %s)", e.Holder, e.PID, e.Path)
	}
	return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
}

// Info is what a lock holder records in the lock file.
type Info struct {
	PID      int
	Holder   string
	Acquired time.Time
}

// Lock represents an acquired session lock file. Only one process may own a
// session's cache at a time: the daemon while running, or ventctl while it
// inspects or clears the cache.
type Lock struct {
	file *os.File
	path string
}

// Acquire attempts to acquire an exclusive lock on the session directory on
// behalf of holder. Returns LockHeldError if another process already holds it.
func Acquire(sessionDir, holder string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, FileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		held := &LockHeldError{Path: lockPath}
		if data, readErr := os.ReadFile(lockPath); readErr == nil {
			info := parse(string(data))
			held.PID, held.Holder = info.PID, info.Holder
		}
		return nil, held
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\nholder=%s\ntime=%s\n",
		os.Getpid(), holder, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Inspect reads the lock file of sessionDir without acquiring it. The bool
// is false when no lock file exists.
func Inspect(sessionDir string) (Info, bool, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, FileName))
	if errors.Is(err, os.ErrNotExist) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, err
	}
	return parse(string(data)), true, nil
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before closing so the next holder never reads stale content.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parse(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "holder":
			info.Holder = value
		case "time":
			info.Acquired, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info
}
