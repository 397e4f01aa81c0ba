package filestore

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

const lockRetryInterval = 50 * time.Millisecond

// Lock is a held advisory lock. It must be released with Store.Unlock or
// Lock.Release.
type Lock struct {
	path string
	file *os.File
}

// Path returns the store-relative path the lock was taken on.
func (l *Lock) Path() string { return l.path }

// Release unlocks and closes the sidecar lock file.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("unlocking %s: %w", l.path, err)
	}
	return closeErr
}

// LockFile takes an exclusive advisory lock on path, realized as flock(2) on
// a sidecar ".lock" file so the lock disappears with the process. A zero
// timeout tries exactly once. When the lock is held elsewhere past the
// timeout it returns ErrUnableToLock, never a partial lock.
func (s *Store) LockFile(path string, timeout time.Duration) (*Lock, error) {
	sidecar := s.Abs(path) + ".lock"
	if err := os.MkdirAll(filepath.Dir(sidecar), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock parent for %s: %w", path, err)
	}
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(sidecar, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening lock file for %s: %w", path, err)
		}
		err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &Lock{path: path, file: f}, nil
		}
		f.Close()
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("locking %s: %w", path, err)
		}
		if !time.Now().Add(lockRetryInterval).Before(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrUnableToLock, path)
		}
		// Jitter the retry so two waiters do not stay in lockstep.
		time.Sleep(lockRetryInterval + rand.N(lockRetryInterval/2))
	}
}

// Unlock releases a lock previously returned by LockFile.
func (s *Store) Unlock(l *Lock) error {
	if l == nil {
		return nil
	}
	return l.Release()
}

// WithLock runs fn while holding an exclusive lock on path, releasing it on
// every exit path.
func (s *Store) WithLock(path string, timeout time.Duration, fn func() error) error {
	lock, err := s.LockFile(path, timeout)
	if err != nil {
		return err
	}
	defer lock.Release()
	return fn()
}
