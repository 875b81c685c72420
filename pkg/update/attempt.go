package update

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/the-maldridge/nrepo/pkg/builder"
	"github.com/the-maldridge/nrepo/pkg/telemetry"
	"github.com/the-maldridge/nrepo/pkg/types"
)

// attempt takes one package from Pending to a terminal state.  prior
// is the status p had before the cycle and comes back when another
// worker builds p instead.  The returned error is set only when the
// store could not record the outcome.
func (u *Updater) attempt(ctx context.Context, runID string, p types.Package, dir string, prior types.BuildStatus) (outcome, []string, error) {
	if ctx.Err() != nil {
		return outcomeSkipped, nil, nil
	}
	l := u.l.With("package", p.Base, "version", p.Version)
	// Status writes outlive cancellation so that an interrupted
	// build is still recorded.
	sctx := context.WithoutCancel(ctx)

	if u.coord != nil {
		ok, err := u.coord.Claim(ctx, p.Base)
		switch {
		case err != nil:
			l.Warn("Unable to claim package, building anyway", "error", err)
		case !ok:
			l.Info("Package was claimed by another worker")
			if err := u.store.StatusSet(sctx, p.Base, prior); err != nil {
				return outcomeSkipped, nil, err
			}
			return outcomeSkipped, nil, nil
		default:
			defer func() {
				if err := u.coord.Release(sctx, p.Base); err != nil {
					l.Warn("Unable to release claim", "error", err)
				}
			}()
		}
	}

	ctx, span := telemetry.Tracer().Start(ctx, "build", trace.WithAttributes(
		attribute.String("package", p.Base),
		attribute.String("version", p.Version),
	))
	defer span.End()

	if p.Packager == "" {
		p.Packager = u.packagers.ForBase(p.Base)
	}
	if err := u.setStatus(sctx, p.Base, types.StatusBuilding); err != nil {
		return outcomeSkipped, nil, err
	}
	l.Debug("Building package")

	art, err := u.builder.Build(ctx, builder.Build{
		Package:    p,
		SourcesDir: dir,
		Packager:   p.Packager,
		ProcessID:  runID,
	})
	if len(art.Log) > 0 {
		rec := types.LogRecord{
			ID:      types.LogRecordID{Base: p.Base, Version: p.Version, ProcessID: runID},
			Created: u.now().UTC(),
			Message: string(art.Log),
		}
		if err := u.store.LogsInsert(sctx, rec); err != nil {
			return outcomeFailed, nil, err
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build failed")
		return u.stepFailed(ctx, sctx, runID, p, err)
	}

	p = describeArtifacts(l, p, art.Files)

	sigs, err := u.signer.Sign(ctx, art.Files)
	if err != nil {
		return u.stepFailed(ctx, sctx, runID, p, types.NewErrBuildFailed(p.Base, err))
	}

	written := append(append([]string(nil), art.Files...), sigs...)
	if u.repo != nil {
		written, err = u.repo.Add(ctx, written)
		if err != nil {
			return u.stepFailed(ctx, sctx, runID, p, types.NewErrBuildFailed(p.Base, err))
		}
	}

	// Success is recorded only once every step went through.
	if err := u.store.PackageUpdate(sctx, p); err != nil {
		return outcomeFailed, nil, err
	}
	if err := u.store.LogsRemove(sctx, p.Base, p.Version); err != nil {
		return outcomeFailed, nil, err
	}
	if err := u.setStatus(sctx, p.Base, types.StatusSuccess); err != nil {
		return outcomeFailed, nil, err
	}
	ev := types.NewEvent(types.EventPackageUpdated, p.Base, "package updated to "+p.Version)
	ev.Data = map[string]any{"version": p.Version, "run": runID}
	if err := u.store.EventInsert(sctx, ev); err != nil {
		return outcomeFailed, nil, err
	}
	l.Info("Package updated")
	return outcomeSuccess, written, nil
}

// stepFailed records a failed step, unless the failure was caused by
// cancellation in which case the package goes back to Pending.
func (u *Updater) stepFailed(ctx, sctx context.Context, runID string, p types.Package, cause error) (outcome, []string, error) {
	if ctx.Err() != nil {
		u.l.Warn("Build interrupted", "package", p.Base, "error", cause)
		if err := u.setStatus(sctx, p.Base, types.StatusPending); err != nil {
			return outcomeInterrupted, nil, err
		}
		return outcomeInterrupted, nil, nil
	}
	return u.fail(sctx, runID, p, cause)
}

// fail records a package scoped failure.
func (u *Updater) fail(ctx context.Context, runID string, p types.Package, cause error) (outcome, []string, error) {
	u.l.Warn("Package failed", "package", p.Base, "error", cause)
	if err := u.setStatus(ctx, p.Base, types.StatusFailed); err != nil {
		return outcomeFailed, nil, err
	}
	ev := types.NewEvent(types.EventPackageUpdateFailed, p.Base, cause.Error())
	ev.Data = map[string]any{"version": p.Version, "run": runID}
	if err := u.store.EventInsert(ctx, ev); err != nil {
		return outcomeFailed, nil, err
	}
	return outcomeFailed, nil, nil
}
