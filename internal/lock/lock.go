// Package lock guards a session directory so only one daemon serves it.
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

const fileName = "LOCK"

// Info is what the lock holder records in the lock file.
type Info struct {
	PID       int
	StartedAt time.Time
}

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	Holder Info
	Path   string
}

func (e *LockHeldError) Error() string {
	if e.Holder.StartedAt.IsZero() {
		return fmt.Sprintf("session lock held by PID %d (%s)", e.Holder.PID, e.Path)
	}
	return fmt.Sprintf("session lock held by PID %d since %s (%s)",
		e.Holder.PID, e.Holder.StartedAt.Format(time.RFC3339), e.Path)
}

// Lock is an acquired session lock. The flock is released when the file
// is closed, including when the process dies.
type Lock struct {
	file *os.File
	path string
	info Info
}

// Acquire takes the exclusive lock on sessionDir, creating it if needed.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, fileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			holder, _ := Holder(sessionDir)
			return nil, &LockHeldError{Holder: holder, Path: path}
		}
		return nil, fmt.Errorf("flock %s: %w", path, err)
	}

	info := Info{PID: os.Getpid(), StartedAt: time.Now().UTC().Truncate(time.Second)}
	if err := writeInfo(f, info); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path, info: info}, nil
}

// Info returns what this lock recorded about its holder.
func (l *Lock) Info() Info {
	return l.info
}

// Release drops the lock. Safe on a nil or already released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Holder reads the lock file of sessionDir without taking the lock. It
// returns os.ErrNotExist when no daemon has claimed the session.
func Holder(sessionDir string) (Info, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, fileName))
	if err != nil {
		return Info{}, err
	}
	return parseInfo(string(data)), nil
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\ntime=%s\n", info.PID, info.StartedAt.Format(time.RFC3339))
	return err
}

func parseInfo(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "time":
			info.StartedAt, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info
}
