package update

import (
	"context"
	"errors"
	"fmt"

	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/upload"
)

// Remove drops package bases from the repository database and the
// store.  Unknown bases are skipped.
func (u *Updater) Remove(ctx context.Context, bases []string) ([]string, error) {
	if u.locker != nil {
		held, err := u.locker.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquiring lock: %w", err)
		}
		defer held.Release()
	}

	var removed, changed []string
	for _, base := range bases {
		p, err := u.store.PackageGet(ctx, base)
		if errors.Is(err, types.ErrNotFound) {
			u.l.Warn("Cannot remove unknown package", "package", base)
			continue
		}
		if err != nil {
			return removed, err
		}

		names := p.Names()
		if len(names) == 0 {
			names = []string{p.Base}
		}
		if u.repo != nil && p.Version != "" {
			files, err := u.repo.Remove(ctx, names)
			if err != nil {
				return removed, err
			}
			changed = append(changed, files...)
		}
		if err := u.store.PackageRemove(ctx, base); err != nil {
			return removed, err
		}
		u.l.Info("Removed package", "package", base)
		removed = append(removed, base)
	}

	if len(changed) > 0 && len(u.uploaders) > 0 && u.repo != nil {
		if err := upload.Sync(ctx, u.l, u.uploaders, u.repo.Dir(), dedupe(changed)); err != nil {
			ev := types.NewEvent(types.EventSyncFailed, u.store.Repository().String(), err.Error())
			if ierr := u.store.EventInsert(ctx, ev); ierr != nil {
				return removed, ierr
			}
			return removed, err
		}
	}
	return removed, nil
}
