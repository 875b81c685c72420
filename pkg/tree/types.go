package tree

import (
	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// Tree is the dependency graph of a candidate set.  Edges point from
// a dependency to its dependents.
type Tree struct {
	l hclog.Logger

	packages []types.Package

	// provided name -> index into packages
	provides map[string]int

	children [][]int
	indegree []int
}
