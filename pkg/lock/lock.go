// Package lock serializes update cycles of one repository identity
// across processes.
package lock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// ErrLocked is returned by TryAcquire when another process holds the
// lock.
var ErrLocked = errors.New("repository is locked by another process")

// Locker hands out the exclusive lock of one repository identity.
type Locker struct {
	l    hclog.Logger
	path string
}

// Lock is a held lock.
type Lock struct {
	l  hclog.Logger
	fl *flock.Flock
}

// New returns a Locker using <dir>/<name>-<arch>.lock.
func New(l hclog.Logger, dir string, id types.RepositoryID) *Locker {
	return &Locker{
		l:    l.Named("lock"),
		path: filepath.Join(dir, id.Name+"-"+id.Architecture+".lock"),
	}
}

// Path returns the lock file location.
func (lk *Locker) Path() string { return lk.path }

// Acquire blocks until the lock is held or ctx is done.
func (lk *Locker) Acquire(ctx context.Context) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(lk.path), 0755); err != nil {
		return nil, err
	}
	fl := flock.New(lk.path)
	ok, err := fl.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	lk.l.Debug("Acquired lock", "path", lk.path)
	return &Lock{l: lk.l, fl: fl}, nil
}

// TryAcquire takes the lock if it is free.
func (lk *Locker) TryAcquire() (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(lk.path), 0755); err != nil {
		return nil, err
	}
	fl := flock.New(lk.path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lock{l: lk.l, fl: fl}, nil
}

// Release gives the lock up.
func (k *Lock) Release() error {
	k.l.Debug("Releasing lock", "path", k.fl.Path())
	return k.fl.Unlock()
}
