package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrInstanceLocked is returned when another processor on this host holds the lock
var ErrInstanceLocked = errors.New("another processor instance is running")

// InstanceLock keeps a second processor on the same host from running the
// scheduled batch trigger. It does not coordinate across hosts.
type InstanceLock struct {
	path string
	lock *flock.Flock
}

// AcquireInstanceLock takes the lock file at path without blocking
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrInstanceLocked, path)
	}
	return &InstanceLock{path: path, lock: lock}, nil
}

// Path returns the lock file location
func (l *InstanceLock) Path() string {
	return l.path
}

// Release unlocks the lock file
func (l *InstanceLock) Release() error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
