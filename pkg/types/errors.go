package types

import (
	"errors"
	"strings"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("not found")

// ErrBuildFailed is returned when one package could not be built,
// signed, or added to the repository.  It never leaves the per-package
// attempt.
type ErrBuildFailed struct {
	Base string
	Err  error
}

// NewErrBuildFailed wraps the cause of a package failure.
func NewErrBuildFailed(base string, err error) ErrBuildFailed {
	return ErrBuildFailed{Base: base, Err: err}
}

func (e ErrBuildFailed) Error() string {
	if e.Err == nil {
		return "build of " + e.Base + " failed"
	}
	return "build of " + e.Base + " failed: " + e.Err.Error()
}

func (e ErrBuildFailed) Unwrap() error { return e.Err }

// ErrCycleDetected is returned by the resolver when the candidate set
// contains a dependency cycle.
type ErrCycleDetected struct {
	Bases []string
}

func (e ErrCycleDetected) Error() string {
	return "dependency cycle detected between " + strings.Join(e.Bases, ", ")
}

// ErrStore wraps every persistence failure.
type ErrStore struct {
	Op  string
	Err error
}

// NewErrStore wraps err with the name of the failed operation.
func NewErrStore(op string, err error) ErrStore {
	return ErrStore{Op: op, Err: err}
}

func (e ErrStore) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e ErrStore) Unwrap() error { return e.Err }

// ErrInvalidOption is returned for malformed settings.
type ErrInvalidOption struct {
	Option string
	Value  string
}

func (e ErrInvalidOption) Error() string {
	return "invalid value " + `"` + e.Value + `"` + " for option " + e.Option
}

// ErrSyncFailed is returned when an uploader could not publish the
// repository.
type ErrSyncFailed struct {
	Uploader string
	Err      error
}

func (e ErrSyncFailed) Error() string {
	return "sync via " + e.Uploader + " failed: " + e.Err.Error()
}

func (e ErrSyncFailed) Unwrap() error { return e.Err }

// ErrWorkerUnreachable is returned when distributed coordination
// timed out.  The worker is presumed dead.
type ErrWorkerUnreachable struct {
	Worker string
	Err    error
}

func (e ErrWorkerUnreachable) Error() string {
	return "worker " + e.Worker + " unreachable: " + e.Err.Error()
}

func (e ErrWorkerUnreachable) Unwrap() error { return e.Err }

// ErrUnknownBackend is returned when a factory is requested that has
// not been registered.
type ErrUnknownBackend struct {
	Kind      string
	Attempted string
}

// NewErrUnknownBackend returns a new error specialized to the
// attempted backend.
func NewErrUnknownBackend(kind, s string) ErrUnknownBackend {
	return ErrUnknownBackend{Kind: kind, Attempted: s}
}

func (e ErrUnknownBackend) Error() string {
	return "no " + e.Kind + " with name " + e.Attempted + " exists"
}
