// Package storage provides pluggable blob stores.  nrepo keeps cached
// remote package metadata in them so that repeated update checks do
// not hammer the AUR.
package storage

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

var (
	log hclog.Logger

	mu        sync.Mutex
	pending   []func()
	factories = make(map[string]Factory)
)

// A Factory opens a store rooted at path.  Backends that keep nothing
// on disk ignore the path.
type Factory func(l hclog.Logger, path string) (Storage, error)

func init() {
	log = hclog.L()
}

// SetLogger sets the parent of the logger handed to every factory.
func SetLogger(l hclog.Logger) {
	log = l.Named("storage")
}

// RegisterFactory makes a backend available under name.  The first
// registration of a name wins.
func RegisterFactory(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		log.Warn("Duplicate storage backend ignored", "backend", name)
		return
	}
	factories[name] = f
	log.Debug("Storage backend available", "backend", name)
}

// RegisterCallback defers a backend's registration until DoCallbacks,
// which runs once logging is configured.
func RegisterCallback(f func()) {
	mu.Lock()
	defer mu.Unlock()
	pending = append(pending, f)
}

// DoCallbacks runs and forgets every deferred registration.
func DoCallbacks() {
	mu.Lock()
	cbs := pending
	pending = nil
	mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// Backends lists the registered backend names in order.
func Backends() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Initialize opens a store with the named backend.
func Initialize(name, path string) (Storage, error) {
	mu.Lock()
	f, ok := factories[name]
	mu.Unlock()
	if !ok {
		log.Error("Unknown storage backend", "backend", name, "known", Backends())
		return nil, types.NewErrUnknownBackend("store", name)
	}
	return f(log, path)
}
