// Package update runs the check, build, and publish cycle of a
// repository identity.
package update

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/the-maldridge/nrepo/pkg/builder"
	"github.com/the-maldridge/nrepo/pkg/remote"
	"github.com/the-maldridge/nrepo/pkg/sign"
	"github.com/the-maldridge/nrepo/pkg/source"
	"github.com/the-maldridge/nrepo/pkg/telemetry"
	"github.com/the-maldridge/nrepo/pkg/tree"
	"github.com/the-maldridge/nrepo/pkg/trigger"
	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/upload"
)

// New returns an Updater over store that builds with b.
func New(l hclog.Logger, store Store, b builder.Builder, opts ...Option) *Updater {
	x := Updater{
		l:           l.Named("update"),
		store:       store,
		builder:     b,
		parallelism: 1,
		arch:        store.Repository().Architecture,
		now:         time.Now,
	}
	for _, o := range opts {
		o(&x)
	}
	if x.signer == nil {
		x.signer = sign.New(x.l, sign.Settings{})
	}
	if x.chain == nil {
		x.chain = trigger.NewChain(x.l)
	}
	return &x
}

// Candidates returns the packages a cycle for req would build.  The
// manual queue is read but not drained.
func (u *Updater) Candidates(ctx context.Context, req Request) ([]types.Package, error) {
	pkgs, _, err := u.candidates(ctx, req)
	return pkgs, err
}

// Plan returns the batches a cycle for req would run, each split into
// lanes of at most the configured parallelism.  Sources are not
// fetched, so the plan reflects the metadata already known.
func (u *Updater) Plan(ctx context.Context, req Request) ([][][]types.Package, error) {
	pkgs, _, err := u.candidates(ctx, req)
	if err != nil {
		return nil, err
	}
	batches, err := tree.Resolve(u.l, u.unclaimed(ctx, pkgs))
	if err != nil {
		return nil, err
	}
	return tree.Partition(batches, u.parallelism), nil
}

func (u *Updater) candidates(ctx context.Context, req Request) ([]types.Package, []string, error) {
	var out []types.Package
	seen := make(map[string]struct{})
	add := func(pkgs ...types.Package) {
		for _, p := range pkgs {
			if _, dup := seen[p.Base]; dup {
				continue
			}
			seen[p.Base] = struct{}{}
			out = append(out, p)
		}
	}

	add(req.Packages...)

	var queued []string
	if req.Manual && u.manualDir != "" {
		pkgs, files, err := readQueue(u.manualDir)
		if err != nil {
			return nil, nil, fmt.Errorf("reading manual queue: %w", err)
		}
		u.l.Debug("Manual queue", "packages", len(pkgs))
		add(pkgs...)
		queued = files
	}

	var known map[string]types.Package
	if req.Local || req.AUR {
		all, err := u.store.PackagesGet(ctx)
		if err != nil {
			return nil, nil, err
		}
		known = make(map[string]types.Package, len(all))
		for _, ps := range all {
			known[ps.Package.Base] = ps.Package
		}
	}

	if req.Local && u.localDir != "" {
		local, err := source.ScanLocal(u.l, u.localDir, u.arch)
		if err != nil {
			return nil, nil, fmt.Errorf("scanning local tree: %w", err)
		}
		for _, p := range local {
			if k, ok := known[p.Base]; ok && !remote.IsOutdated(k, p) {
				continue
			}
			u.l.Debug("Local package changed", "package", p.Base, "version", p.Version)
			add(p)
		}
	}

	if req.AUR && u.remote != nil {
		var aur []types.Package
		for _, k := range known {
			if k.Remote.Source == types.SourceAUR {
				aur = append(aur, k)
			}
		}
		sort.Slice(aur, func(i, j int) bool { return aur[i].Base < aur[j].Base })
		outdated, err := u.remote.Outdated(ctx, aur)
		if err != nil {
			return nil, nil, err
		}
		add(outdated...)
	}
	return out, queued, nil
}

// unclaimed drops candidates another live worker is building.  A
// coordinator that cannot be reached claims nothing.
func (u *Updater) unclaimed(ctx context.Context, pkgs []types.Package) []types.Package {
	if u.coord == nil || len(pkgs) == 0 {
		return pkgs
	}
	bases := make([]string, len(pkgs))
	for i, p := range pkgs {
		bases[i] = p.Base
	}
	claimed, err := u.coord.Claimed(ctx, bases)
	if err != nil {
		u.l.Warn("Unable to query claims, assuming none", "error", err)
		return pkgs
	}
	out := pkgs[:0:0]
	for _, p := range pkgs {
		if owner, ok := claimed[p.Base]; ok {
			u.l.Info("Skipping package claimed by another worker", "package", p.Base, "worker", owner)
			continue
		}
		out = append(out, p)
	}
	return out
}

type fetchFailure struct {
	pkg types.Package
	err error
}

// prepare fetches the sources of every candidate and refreshes its
// metadata from them.  It writes nothing to the store.
func (u *Updater) prepare(ctx context.Context, pkgs []types.Package) ([]types.Package, map[string]string, []fetchFailure) {
	dirs := make(map[string]string, len(pkgs))
	if u.sources == nil {
		return pkgs, dirs, nil
	}

	prepared := make([]types.Package, len(pkgs))
	errs := make([]error, len(pkgs))
	buildDirs := make([]string, len(pkgs))

	var g errgroup.Group
	g.SetLimit(u.parallelism)
	for i, p := range pkgs {
		g.Go(func() error {
			dir, err := u.sources.Fetch(ctx, p.Remote, filepath.Join(u.sourcesDir, p.Base))
			if err != nil {
				errs[i] = err
				return nil
			}
			meta, err := source.LoadDir(dir, u.arch)
			if err != nil {
				errs[i] = err
				return nil
			}
			meta.Base = p.Base
			meta.Remote = p.Remote
			meta.Packager = p.Packager
			prepared[i] = meta
			buildDirs[i] = dir
			return nil
		})
	}
	g.Wait()

	var ok []types.Package
	var failed []fetchFailure
	for i, p := range pkgs {
		if errs[i] != nil {
			u.l.Warn("Unable to fetch sources", "package", p.Base, "error", errs[i])
			failed = append(failed, fetchFailure{pkg: p, err: errs[i]})
			continue
		}
		ok = append(ok, prepared[i])
		dirs[p.Base] = buildDirs[i]
	}
	return ok, dirs, failed
}

// Update runs one cycle.  Package failures are reported in the
// result; the returned error is set only for cycle fatal conditions
// and cancellation.
func (u *Updater) Update(ctx context.Context, req Request) (types.Result, error) {
	var result types.Result
	id := u.store.Repository()
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	l := u.l.With("repository", id.String(), "run", req.RunID)

	ctx, span := telemetry.Tracer().Start(ctx, "update", trace.WithAttributes(
		attribute.String("repository", id.String()),
		attribute.String("run", req.RunID),
	))
	defer span.End()
	fatal := func(err error) (types.Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.Error("Update cycle aborted", "error", err)
		return result, err
	}

	if u.locker != nil {
		held, err := u.locker.Acquire(ctx)
		if err != nil {
			return fatal(fmt.Errorf("acquiring lock: %w", err))
		}
		defer held.Release()
		// No other cycle holds the lock, so Building is left over
		// from one that died.
		if _, err := u.store.ReconcileBuilding(ctx); err != nil {
			return fatal(err)
		}
	}

	candidates, queued, err := u.candidates(ctx, req)
	if err != nil {
		return fatal(err)
	}
	candidates = u.unclaimed(ctx, candidates)
	if len(candidates) == 0 {
		l.Info("Nothing to update")
		drainQueue(l, queued)
		return result, nil
	}
	l.Info("Update cycle starting", "candidates", len(candidates))

	prepared, dirs, fetchFailed := u.prepare(ctx, candidates)
	if err := ctx.Err(); err != nil {
		return fatal(err)
	}

	batches, err := tree.Resolve(u.l, prepared)
	if err != nil {
		return fatal(err)
	}

	// From here on every candidate is recorded.
	prior := make(map[string]types.BuildStatus, len(candidates))
	for _, p := range candidates {
		was, err := u.markPending(ctx, p)
		if err != nil {
			return fatal(err)
		}
		prior[p.Base] = was
	}
	drainQueue(l, queued)
	started := types.NewEvent(types.EventCycleStarted, req.RunID, "update cycle started")
	started.Data = map[string]any{"candidates": len(candidates), "batches": len(batches)}
	if err := u.store.EventInsert(ctx, started); err != nil {
		return fatal(err)
	}

	u.chain.OnStart(ctx, id, candidates)
	defer u.chain.OnStop(context.WithoutCancel(ctx), id)

	for _, f := range fetchFailed {
		if _, _, err := u.fail(context.WithoutCancel(ctx), req.RunID, f.pkg, f.err); err != nil {
			return fatal(err)
		}
		result.AddFailed(f.pkg)
	}

	var changed []string
	for i, batch := range batches {
		if ctx.Err() != nil {
			for _, p := range batch {
				result.AddUntouched(p)
			}
			continue
		}
		l.Info("Starting batch", "batch", i+1, "of", len(batches), "packages", len(batch))
		files, err := u.runBatch(ctx, req.RunID, batch, dirs, prior, &result)
		changed = append(changed, files...)
		if err != nil {
			return fatal(err)
		}
	}

	if ctx.Err() == nil {
		if err := u.publish(ctx, changed, &result); err != nil {
			return fatal(err)
		}
	}

	finished := types.NewEvent(types.EventCycleFinished, req.RunID, "update cycle finished")
	finished.Data = map[string]any{
		"success":   len(result.Success),
		"failed":    len(result.Failed),
		"untouched": len(result.Untouched),
	}
	if err := u.store.EventInsert(context.WithoutCancel(ctx), finished); err != nil {
		return fatal(err)
	}
	u.chain.OnResult(context.WithoutCancel(ctx), id, result)

	l.Info("Update cycle complete",
		"success", len(result.Success),
		"failed", len(result.Failed),
		"untouched", len(result.Untouched))
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// runBatch builds every package of one batch and waits for all of
// them.  Only store failures are returned.
func (u *Updater) runBatch(ctx context.Context, runID string, batch []types.Package, dirs map[string]string, prior map[string]types.BuildStatus, result *types.Result) ([]string, error) {
	var mu sync.Mutex
	var changed []string

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallelism)
	for _, p := range batch {
		g.Go(func() error {
			out, files, err := u.attempt(gctx, runID, p, dirs[p.Base], prior[p.Base])
			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeSuccess:
				result.AddSuccess(p)
				changed = append(changed, files...)
			case outcomeFailed:
				result.AddFailed(p)
			default:
				result.AddUntouched(p)
			}
			return err
		})
	}
	err := g.Wait()
	return changed, err
}

// publish hands the changed repository files to the uploaders.
// Publishing never changes the outcome of a package.
func (u *Updater) publish(ctx context.Context, changed []string, result *types.Result) error {
	if len(u.uploaders) == 0 || len(changed) == 0 || u.repo == nil {
		return nil
	}
	files := dedupe(changed)
	err := upload.Sync(ctx, u.l, u.uploaders, u.repo.Dir(), files)
	if err == nil {
		return nil
	}
	result.SyncErr = err

	ev := types.NewEvent(types.EventSyncFailed, u.store.Repository().String(), err.Error())
	var sf types.ErrSyncFailed
	if errors.As(err, &sf) {
		ev.Data = map[string]any{"uploader": sf.Uploader}
	}
	return u.store.EventInsert(ctx, ev)
}

// markPending records p as selected and returns the status it had
// before.  A base the store has never seen is registered without a
// version until its first successful build.
func (u *Updater) markPending(ctx context.Context, p types.Package) (types.BuildStatus, error) {
	was, err := u.store.StatusGet(ctx, p.Base)
	if err != nil {
		return was, err
	}
	_, err = u.store.PackageGet(ctx, p.Base)
	switch {
	case errors.Is(err, types.ErrNotFound):
		reg := p
		reg.Version = ""
		if err := u.store.PackageUpdate(ctx, reg); err != nil {
			return was, err
		}
	case err != nil:
		return was, err
	}
	return was, u.setStatus(ctx, p.Base, types.StatusPending)
}

func (u *Updater) setStatus(ctx context.Context, base string, st types.BuildStatusEnum) error {
	return u.store.StatusSet(ctx, base, types.BuildStatus{Status: st, Timestamp: u.now().UTC()})
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
