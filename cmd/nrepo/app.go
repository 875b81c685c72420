package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/builder"
	"github.com/the-maldridge/nrepo/pkg/lock"
	"github.com/the-maldridge/nrepo/pkg/remote"
	"github.com/the-maldridge/nrepo/pkg/repo"
	"github.com/the-maldridge/nrepo/pkg/sign"
	"github.com/the-maldridge/nrepo/pkg/source"
	"github.com/the-maldridge/nrepo/pkg/status"
	"github.com/the-maldridge/nrepo/pkg/storage"
	"github.com/the-maldridge/nrepo/pkg/telemetry"
	"github.com/the-maldridge/nrepo/pkg/trigger"
	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/update"
	"github.com/the-maldridge/nrepo/pkg/upload"
	"github.com/the-maldridge/nrepo/pkg/workers"
)

// app holds what every command shares: one status store per
// repository identity and the collaborators that are chosen once from
// config.
type app struct {
	l hclog.Logger

	stores    []*status.Store
	cache     storage.Storage
	signer    sign.Signer
	uploaders []upload.Uploader
	fetcher   *source.Fetcher
	aur       *remote.AURClient
	tools     map[string]*repo.Tool

	shutdown func(context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	a := app{
		l:       appLogger,
		signer:  sign.New(appLogger, cfg.Sign),
		fetcher: source.New(appLogger),
		tools:   make(map[string]*repo.Tool),
	}
	a.shutdown = telemetry.Init(a.l, cfg.Telemetry, "nrepo", os.Stderr)

	if err := os.MkdirAll(cfg.Repository.Root, 0755); err != nil {
		return nil, err
	}

	cache, err := storage.Initialize(cfg.Cache.Backend, cfg.CachePath())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.cache = cache

	a.uploaders, err = upload.New(ctx, a.l, cfg.Upload)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.AUR.Enabled {
		a.aur = remote.NewAURClient(a.l, cfg.AUR.URL, cfg.AUR.Timeout)
	}

	for _, id := range cfg.IDs() {
		st, err := status.Open(ctx, a.l, status.Path(cfg.Repository.Root, id), id)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.stores = append(a.stores, st)
	}
	return &a, nil
}

// Close releases the stores and the cache and flushes traces.
func (a *app) Close() error {
	var errs []error
	for _, st := range a.stores {
		errs = append(errs, st.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.Background()))
	}
	return errors.Join(errs...)
}

// manualDir is the manual queue of one architecture.
func manualDir(id types.RepositoryID) string {
	return filepath.Join(cfg.ManualDir(), id.Architecture)
}

// repoTool returns the repository database tool of id.  There is
// one tool per identity so that its mutex covers every writer in the
// process.
func (a *app) repoTool(id types.RepositoryID) (*repo.Tool, error) {
	if t, ok := a.tools[id.String()]; ok {
		return t, nil
	}
	s := cfg.Repo
	s.Name = id.Name
	if s.Dir == "" {
		s.Dir = cfg.RepoDir(id)
	} else {
		s.Dir = filepath.Join(s.Dir, id.Architecture)
	}
	t, err := repo.NewTool(a.l, s)
	if err != nil {
		return nil, err
	}
	a.tools[id.String()] = t
	return t, nil
}

// listeners builds the configured report chain.
func (a *app) listeners() *trigger.Chain {
	chain := trigger.NewChain(a.l)
	for _, name := range cfg.Report.Listeners {
		switch name {
		case "console":
			chain.Add(trigger.NewConsole(os.Stdout))
		}
	}
	a.l.Debug("Report listeners ready", "count", chain.Len())
	return chain
}

// updater wires an Updater for the identity of st.  coord may be nil
// when no other worker shares the repository.
func (a *app) updater(ctx context.Context, st *status.Store, coord workers.Coordinator) (*update.Updater, error) {
	id := st.Repository()
	l := a.l.With("repository", id.String())

	bs := cfg.Build
	bs.OutputDir = cfg.BuildDir(id)
	b, err := builder.New(bs)
	if err != nil {
		return nil, err
	}

	tool, err := a.repoTool(id)
	if err != nil {
		return nil, err
	}

	index := repo.NewIndexService(l)
	for _, src := range cfg.Repodata[id.Architecture] {
		if err := index.LoadIndex(ctx, src); err != nil {
			l.Warn("Unable to load repodata", "source", src, "error", err)
		}
	}
	rem := remote.NewService(l, a.aur, index, a.cache,
		remote.WithTTL(cfg.Cache.TTL),
		remote.WithArchitecture(id.Architecture),
	)

	opts := []update.Option{
		update.WithSigner(a.signer),
		update.WithRepoTool(tool),
		update.WithSources(a.fetcher, cfg.SourcesDir(id)),
		update.WithRemote(rem),
		update.WithUploaders(a.uploaders...),
		update.WithListeners(a.listeners()),
		update.WithLocker(lock.New(l, cfg.Repository.Root, id)),
		update.WithPackagers(cfg.Packagers),
		update.WithParallelism(cfg.Build.Parallelism),
		update.WithArchitecture(id.Architecture),
		update.WithLocalTree(cfg.PackagesDir()),
		update.WithManualQueue(manualDir(id)),
	}
	if coord != nil {
		opts = append(opts, update.WithCoordinator(coord))
	}
	return update.New(a.l, st, b, opts...), nil
}

// self is this process as a worker.
func self() types.Worker {
	addr := cfg.Workers.Address
	if addr == "" {
		host, _ := os.Hostname()
		addr = "http://" + host + cfg.Web.Bind
	}
	return types.NewWorker(addr, cfg.Workers.Identifier)
}
