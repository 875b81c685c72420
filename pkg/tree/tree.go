// Package tree turns a flat set of package bases into an ordered
// sequence of build batches.
package tree

import (
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// New returns a tree over the given packages with edges resolved.
// Names are matched against every output name and provides entry of
// the input packages; names nobody in the set provides are assumed to
// be satisfied already and are ignored.
func New(l hclog.Logger, packages []types.Package) *Tree {
	t := Tree{
		l:        l.Named("tree"),
		packages: packages,
		provides: make(map[string]int),
		children: make([][]int, len(packages)),
		indegree: make([]int, len(packages)),
	}

	for i, p := range packages {
		for _, name := range p.Provides() {
			if _, taken := t.provides[name]; taken {
				continue
			}
			t.provides[name] = i
		}
	}

	for i, p := range packages {
		seen := make(map[int]struct{})
		for _, dep := range p.Depends() {
			j, ok := t.provides[dep]
			if !ok || j == i {
				continue
			}
			if _, dup := seen[j]; dup {
				continue
			}
			seen[j] = struct{}{}
			t.children[j] = append(t.children[j], i)
			t.indegree[i]++
			t.l.Trace("Edge", "dependency", packages[j].Base, "dependent", p.Base, "name", dep)
		}
	}
	return &t
}

// Levels partitions the tree into batches.  Each batch holds every
// package whose dependencies within the set are all in earlier
// batches.  Order inside a batch follows the input order.
func (t *Tree) Levels() ([][]types.Package, error) {
	indegree := make([]int, len(t.indegree))
	copy(indegree, t.indegree)
	done := make([]bool, len(t.packages))

	var batches [][]types.Package
	remaining := len(t.packages)
	for remaining > 0 {
		var layer []int
		for i := range t.packages {
			if !done[i] && indegree[i] == 0 {
				layer = append(layer, i)
			}
		}
		if len(layer) == 0 {
			return nil, t.cycleError(done)
		}

		batch := make([]types.Package, 0, len(layer))
		for _, i := range layer {
			done[i] = true
			remaining--
			batch = append(batch, t.packages[i])
			for _, c := range t.children[i] {
				indegree[c]--
			}
		}
		t.l.Debug("Resolved batch", "level", len(batches), "count", len(batch))
		batches = append(batches, batch)
	}
	return batches, nil
}

// Leaves returns the packages that depend on nothing else in the set.
func (t *Tree) Leaves() []types.Package {
	var out []types.Package
	for i, p := range t.packages {
		if t.indegree[i] == 0 {
			out = append(out, p)
		}
	}
	return out
}

// Dependents returns the bases in the set that directly depend on the
// given base.
func (t *Tree) Dependents(base string) []string {
	for i, p := range t.packages {
		if p.Base != base {
			continue
		}
		out := make([]string, 0, len(t.children[i]))
		for _, c := range t.children[i] {
			out = append(out, t.packages[c].Base)
		}
		return out
	}
	return nil
}

func (t *Tree) cycleError(done []bool) error {
	e := types.ErrCycleDetected{}
	for i, p := range t.packages {
		if !done[i] {
			e.Bases = append(e.Bases, p.Base)
		}
	}
	t.l.Error("Dependency cycle", "bases", e.Bases)
	return e
}

// Resolve is shorthand for building a tree and taking its levels.
func Resolve(l hclog.Logger, packages []types.Package) ([][]types.Package, error) {
	return New(l, packages).Levels()
}

// Partition splits every batch into at most n chunks of roughly equal
// size, keeping batch order.  The chunks of one batch may run side by
// side without breaking the batch barrier.
func Partition(batches [][]types.Package, n int) [][][]types.Package {
	if n < 1 {
		n = 1
	}
	out := make([][][]types.Package, len(batches))
	for i, batch := range batches {
		chunks := n
		if len(batch) < chunks {
			chunks = len(batch)
		}
		parts := make([][]types.Package, chunks)
		for j, p := range batch {
			parts[j%chunks] = append(parts[j%chunks], p)
		}
		out[i] = parts
	}
	return out
}
