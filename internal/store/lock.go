package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// LockFileName is held in the index directory while an index is built.
const LockFileName = ".index.lock"

// FileLock serializes index builds across processes.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock returns the build lock of an index directory.
func NewFileLock(dir string) *FileLock {
	p := filepath.Join(dir, LockFileName)
	return &FileLock{path: p, flock: flock.New(p)}
}

func (l *FileLock) prepare() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create index directory for lock: %w", err)
	}
	return nil
}

// Lock blocks until the lock is held.
func (l *FileLock) Lock() error {
	if err := l.prepare(); err != nil {
		return err
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	l.locked = true
	return nil
}

// TryLock takes the lock if it is free.
func (l *FileLock) TryLock() (bool, error) {
	return l.LockContext(context.Background(), 0)
}

// LockContext tries once, then polls every retry until the lock is taken
// or ctx ends. A zero retry or a finished ctx tries only once. A lock that
// stays busy is reported as false without an error.
func (l *FileLock) LockContext(ctx context.Context, retry time.Duration) (bool, error) {
	if err := l.prepare(); err != nil {
		return false, err
	}
	ok, err := l.flock.TryLock()
	if err == nil && !ok && retry > 0 && ctx.Err() == nil {
		ok, err = l.flock.TryLockContext(ctx, retry)
		if !ok && ctx.Err() != nil {
			return false, nil
		}
	}
	if err != nil {
		return false, fmt.Errorf("lock %s: %w", l.path, err)
	}
	l.locked = ok
	return ok, nil
}

// Unlock releases a held lock; otherwise it does nothing.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string { return l.path }

// IsLocked reports whether this FileLock holds the lock.
func (l *FileLock) IsLocked() bool { return l.locked }
