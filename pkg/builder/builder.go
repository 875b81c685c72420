// Package builder runs the external package build toolchain.  The
// backend is chosen once from configuration through a factory
// registry and then held as a plain Builder.
package builder

import (
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

var (
	log hclog.Logger

	mu            sync.Mutex
	initcallbacks []func()

	factories map[string]Factory
)

// A Factory is a constructor of a build backend.  It takes a logger
// which should be used to write out early init issues and the build
// settings.
type Factory func(l hclog.Logger, s Settings) (Builder, error)

func init() {
	factories = make(map[string]Factory)
	log = hclog.L()
}

// SetLogger injects a logger into this package to allow setting up a
// logger tree.
func SetLogger(l hclog.Logger) {
	log = l.Named("builder")
}

// RegisterInitCallback allows a sub pkg to defer initialization until
// after certain very early init has happened such as loading config
// files and configuring loggers.
func RegisterInitCallback(f func()) {
	mu.Lock()
	defer mu.Unlock()
	initcallbacks = append(initcallbacks, f)
}

// DoCallbacks is used to invoke all callbacks and perform phase one
// setup which will register the handlers to the map of factories.
func DoCallbacks() {
	mu.Lock()
	cbs := initcallbacks
	initcallbacks = nil
	mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// RegisterFactory blindly stores the factory at the given name.  This
// is relatively safe since all the factories are enabled at build
// time.
func RegisterFactory(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
	log.Debug("Registered build backend", "backend", name)
}

// New attempts to initialize the requested backend.
func New(s Settings) (Builder, error) {
	mu.Lock()
	f, ok := factories[s.Backend]
	mu.Unlock()
	if !ok {
		log.Warn("Tried to initialize with bogus backend name", "name", s.Backend)
		return nil, types.NewErrUnknownBackend("build backend", s.Backend)
	}
	return f(log, s)
}

// CollectPackages returns the package archives in dir, skipping
// detached signatures.
func CollectPackages(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pkg.tar*"))
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if strings.HasSuffix(m, ".sig") {
			continue
		}
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}
