package workers

import (
	"time"
)

// WithClock replaces the time source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithPersister stores every announcement through p.
func WithPersister(p Persister) Option {
	return func(r *Registry) {
		r.persist = p
	}
}
