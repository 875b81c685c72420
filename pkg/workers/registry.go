// Package workers tracks remote build agents and coordinates which of
// them is building which package base.
package workers

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// NewRegistry returns an empty registry whose workers expire after
// ttl without a heartbeat.
func NewRegistry(l hclog.Logger, ttl time.Duration, opts ...Option) *Registry {
	r := &Registry{
		l:       l.Named("workers"),
		workers: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Announce records a heartbeat from a worker.
func (r *Registry) Announce(ctx context.Context, w types.Worker) error {
	w = types.NewWorker(w.Address, w.Identifier)
	seen := r.now()

	r.mu.Lock()
	_, known := r.workers[w.Identifier]
	r.workers[w.Identifier] = entry{worker: w, seen: seen}
	r.mu.Unlock()

	if !known {
		r.l.Info("Worker joined", "worker", w.Identifier, "address", w.Address)
	}
	r.l.Trace("Heartbeat", "worker", w.Identifier)

	if r.persist != nil {
		return r.persist.WorkersInsert(ctx, w, seen)
	}
	return nil
}

// Workers returns the live workers sorted by identifier.
func (r *Registry) Workers() []types.Worker {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Worker, 0, len(r.workers))
	for _, e := range r.workers {
		if r.alive(e, now) {
			out = append(out, e.worker)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Alive reports whether the identified worker has announced itself
// within the ttl.
func (r *Registry) Alive(id string) bool {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.workers[id]
	return ok && r.alive(e, now)
}

// Load restores persisted workers.  Their last seen times are kept as
// stored, so workers that went quiet before a restart stay expired.
func (r *Registry) Load(ctx context.Context) error {
	if r.persist == nil {
		return nil
	}
	stored, err := r.persist.WorkersGet(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for w, seen := range stored {
		if cur, ok := r.workers[w.Identifier]; ok && cur.seen.After(seen) {
			continue
		}
		r.workers[w.Identifier] = entry{worker: w, seen: seen}
	}
	r.l.Debug("Loaded workers", "count", len(stored))
	return nil
}

func (r *Registry) alive(e entry, now time.Time) bool {
	return now.Sub(e.seen) < r.ttl
}
