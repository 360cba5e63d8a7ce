package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// fileLock provides cross-process mutual exclusion over a single session's
// storage file, a gofrs/flock wrapper guarding one session's
// flush-and-rename cycle.
type fileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newFileLock(sessionPath string) *fileLock {
	return &fileLock{
		path:  sessionPath + ".lock",
		flock: flock.New(sessionPath + ".lock"),
	}
}

// Lock acquires an exclusive lock, blocking until available.
func (l *fileLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("session: create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("session: acquire lock: %w", err)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not locked.
func (l *fileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	err := l.flock.Unlock()
	l.locked = false
	if err != nil {
		return fmt.Errorf("session: release lock: %w", err)
	}
	return nil
}
