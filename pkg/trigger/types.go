package trigger

import (
	"context"
	"io"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// A Listener observes update cycles.
type Listener interface {
	Name() string
	OnStart(ctx context.Context, id types.RepositoryID, candidates []types.Package) error
	OnResult(ctx context.Context, id types.RepositoryID, result types.Result) error
	OnStop(ctx context.Context, id types.RepositoryID) error
}

// Chain calls an ordered list of listeners.
type Chain struct {
	l         hclog.Logger
	listeners []Listener
}

// Console prints a plain text summary of every cycle.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}
