package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// lockRetryInterval is how often AcquireLock re-checks a held lock.
const lockRetryInterval = 100 * time.Millisecond

// Lock is an advisory cross-process lock on a workspace. Two aegis processes
// writing run artifacts into the same workspace would corrupt each other's
// state, so runs take the lock for their duration.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock blocks until the workspace lock is obtained or the context
// expires.
func AcquireLock(ctx context.Context, root string) (*Lock, error) {
	fl := flock.New(filepath.Join(root, ".aegis.lock"))

	ok, err := fl.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("workspace %s is locked by another process", root)
	}
	return &Lock{fl: fl}, nil
}

// TryAcquireLock attempts the lock once without blocking. The boolean reports
// whether the lock was obtained.
func TryAcquireLock(root string) (*Lock, bool, error) {
	fl := flock.New(filepath.Join(root, ".aegis.lock"))

	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("acquire workspace lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{fl: fl}, true, nil
}

// Release unlocks the workspace.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	return l.fl.Path()
}
