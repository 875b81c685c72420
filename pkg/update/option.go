package update

import (
	"time"

	"github.com/the-maldridge/nrepo/pkg/lock"
	"github.com/the-maldridge/nrepo/pkg/packagers"
	"github.com/the-maldridge/nrepo/pkg/sign"
	"github.com/the-maldridge/nrepo/pkg/trigger"
	"github.com/the-maldridge/nrepo/pkg/upload"
	"github.com/the-maldridge/nrepo/pkg/workers"
)

// WithSigner sets the package signer.
func WithSigner(s sign.Signer) Option {
	return func(u *Updater) { u.signer = s }
}

// WithRepoTool sets the repository database tool.
func WithRepoTool(r RepoTool) Option {
	return func(u *Updater) { u.repo = r }
}

// WithSources sets the source fetcher and where checkouts live.
func WithSources(s Sources, dir string) Option {
	return func(u *Updater) {
		u.sources = s
		u.sourcesDir = dir
	}
}

// WithRemote sets the upstream version lookup.
func WithRemote(r Remote) Option {
	return func(u *Updater) { u.remote = r }
}

// WithCoordinator enables distributed claims.
func WithCoordinator(c workers.Coordinator) Option {
	return func(u *Updater) { u.coord = c }
}

// WithUploaders sets the publishing backends.
func WithUploaders(ups ...upload.Uploader) Option {
	return func(u *Updater) { u.uploaders = ups }
}

// WithListeners sets the cycle listeners.
func WithListeners(c *trigger.Chain) Option {
	return func(u *Updater) { u.chain = c }
}

// WithLocker sets the per identity cycle lock.
func WithLocker(l *lock.Locker) Option {
	return func(u *Updater) { u.locker = l }
}

// WithPackagers sets packager attribution.
func WithPackagers(p packagers.Packagers) Option {
	return func(u *Updater) { u.packagers = p }
}

// WithParallelism bounds concurrent builds within a batch.
func WithParallelism(n int) Option {
	return func(u *Updater) {
		if n > 0 {
			u.parallelism = n
		}
	}
}

// WithArchitecture selects architecture specific metadata.
func WithArchitecture(arch string) Option {
	return func(u *Updater) { u.arch = arch }
}

// WithLocalTree sets the local package tree scanned by Request.Local.
func WithLocalTree(dir string) Option {
	return func(u *Updater) { u.localDir = dir }
}

// WithManualQueue sets the manual build queue directory.
func WithManualQueue(dir string) Option {
	return func(u *Updater) { u.manualDir = dir }
}

// WithClock replaces the time source of status timestamps.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) { u.now = now }
}
