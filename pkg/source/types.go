package source

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// A Fetcher materializes package sources into a working directory.
type Fetcher struct {
	l hclog.Logger

	// One lock per destination directory; two fetches into the
	// same checkout must not interleave.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}
