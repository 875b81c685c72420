package workers

import (
	"context"
	"sync"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// LocalCoordinator keeps claims in memory and judges liveness through
// a Registry.  It serves a single coordinator process; each worker
// gets its own view through For.
type LocalCoordinator struct {
	reg *Registry

	mu     sync.Mutex
	claims map[string]string
}

// NewLocalCoordinator returns a coordinator backed by reg.
func NewLocalCoordinator(reg *Registry) *LocalCoordinator {
	return &LocalCoordinator{
		reg:    reg,
		claims: make(map[string]string),
	}
}

// For returns the Coordinator view of the given worker.
func (c *LocalCoordinator) For(self types.Worker) Coordinator {
	return &localView{c: c, self: self.Identifier}
}

type localView struct {
	c    *LocalCoordinator
	self string
}

func (v *localView) Claimed(_ context.Context, bases []string) (map[string]string, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	out := make(map[string]string)
	for _, b := range bases {
		owner, ok := v.c.claims[b]
		if !ok || owner == v.self || !v.c.reg.Alive(owner) {
			continue
		}
		out[b] = owner
	}
	return out, nil
}

func (v *localView) Claim(_ context.Context, base string) (bool, error) {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	if owner, ok := v.c.claims[base]; ok && owner != v.self && v.c.reg.Alive(owner) {
		return false, nil
	}
	v.c.claims[base] = v.self
	return true, nil
}

func (v *localView) Release(_ context.Context, base string) error {
	v.c.mu.Lock()
	defer v.c.mu.Unlock()
	if v.c.claims[base] == v.self {
		delete(v.c.claims, base)
	}
	return nil
}
