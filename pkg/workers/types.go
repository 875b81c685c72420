package workers

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// Registry remembers which workers announced themselves and when.  A
// worker is alive while now - lastSeen < ttl.  Expired workers are not
// evicted, they are just skipped at read time.
type Registry struct {
	l hclog.Logger

	mu      sync.Mutex
	workers map[string]entry

	ttl     time.Duration
	now     func() time.Time
	persist Persister
}

type entry struct {
	worker types.Worker
	seen   time.Time
}

// Persister saves announcements so a restarted coordinator knows its
// workers.  The status store satisfies it.
type Persister interface {
	WorkersInsert(context.Context, types.Worker, time.Time) error
	WorkersGet(context.Context) (map[types.Worker]time.Time, error)
}

// Coordinator is the advisory claim protocol used in distributed
// mode.  Claims are best effort: two workers can still build the same
// base, and the status store keeps whichever finished last.
type Coordinator interface {
	// Claimed returns base -> worker identifier for every base in
	// the list held by some live worker other than this one.
	Claimed(ctx context.Context, bases []string) (map[string]string, error)

	// Claim marks base as being built by this worker.  It returns
	// false if another live worker holds it.
	Claim(ctx context.Context, base string) (bool, error)

	// Release drops this worker's claim on base.
	Release(ctx context.Context, base string) error
}

// Option configures a Registry.
type Option func(*Registry)
