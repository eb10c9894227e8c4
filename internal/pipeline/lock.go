package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/ragcore/internal/errors"
)

// LockFileName is the lock file created inside the data directory.
const LockFileName = "ragcore.lock"

// DirLock is a cross-process lock on a data directory using gofrs/flock.
// Only one process may hold a store's data directory open for writing.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates a lock for dir. The lock file is <dir>/ragcore.lock.
func NewDirLock(dir string) *DirLock {
	lockPath := filepath.Join(dir, LockFileName)
	return &DirLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock acquires the lock without blocking. A lock held by another
// process (or another DirLock in this one) fails with DataDirLocked.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.New(errors.ErrCodeFilePermission, "failed to create data directory", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return errors.StoreUnavailable(fmt.Sprintf("lock %s", l.path), err)
	}
	if !acquired {
		return errors.New(errors.ErrCodeDataDirLocked,
			fmt.Sprintf("data directory %s is in use by another ragcore process", filepath.Dir(l.path)), nil).
			WithDetail("lock", l.path).
			WithSuggestion("Stop the other process (serve, watch or mcp) or point store.data_dir elsewhere")
	}

	l.locked = true
	return nil
}

// Unlock releases the lock. It is safe to call on an unlocked DirLock.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *DirLock) Path() string {
	return l.path
}
