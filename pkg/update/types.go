package update

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/builder"
	"github.com/the-maldridge/nrepo/pkg/lock"
	"github.com/the-maldridge/nrepo/pkg/packagers"
	"github.com/the-maldridge/nrepo/pkg/sign"
	"github.com/the-maldridge/nrepo/pkg/trigger"
	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/upload"
	"github.com/the-maldridge/nrepo/pkg/workers"
)

// Store is the part of the status store the updater needs.
// *status.Store satisfies it.
type Store interface {
	Repository() types.RepositoryID

	PackageUpdate(context.Context, types.Package) error
	PackageGet(context.Context, string) (types.Package, error)
	PackagesGet(context.Context) ([]types.PackageStatus, error)
	PackageRemove(context.Context, string) error

	StatusGet(context.Context, string) (types.BuildStatus, error)
	StatusSet(context.Context, string, types.BuildStatus) error
	ReconcileBuilding(context.Context) (int64, error)
	EventInsert(context.Context, types.Event) error

	LogsInsert(context.Context, types.LogRecord) error
	LogsRemove(context.Context, string, string) error
}

// Sources materializes build files of a package into a directory and
// returns the directory the build runs in.
type Sources interface {
	Fetch(ctx context.Context, remote types.RemoteSource, dir string) (string, error)
}

// Remote reports which packages have a newer version upstream.
type Remote interface {
	Outdated(ctx context.Context, pkgs []types.Package) ([]types.Package, error)
}

// RepoTool maintains the repository database.  Both calls return the
// repository files they changed.
type RepoTool interface {
	Dir() string
	Add(ctx context.Context, files []string) ([]string, error)
	Remove(ctx context.Context, names []string) ([]string, error)
}

// Updater runs update cycles for one repository identity.
type Updater struct {
	l hclog.Logger

	store   Store
	builder builder.Builder

	signer    sign.Signer
	repo      RepoTool
	sources   Sources
	remote    Remote
	coord     workers.Coordinator
	uploaders []upload.Uploader
	chain     *trigger.Chain
	locker    *lock.Locker
	packagers packagers.Packagers

	parallelism int
	arch        string
	sourcesDir  string
	localDir    string
	manualDir   string

	now func() time.Time
}

// Option configures an Updater.
type Option func(*Updater)

// Request selects the candidate sources of one cycle.  Every source
// is independent of the others.
type Request struct {
	// AUR checks every AUR package already in the repository for a
	// newer upstream version.
	AUR bool

	// Local scans the local package tree for new or changed
	// packages.
	Local bool

	// Manual drains the manual build queue.
	Manual bool

	// Packages are built unconditionally.
	Packages []types.Package

	// RunID identifies the cycle.  Build logs are recorded under it.
	// One is generated when empty.
	RunID string
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailed
	outcomeInterrupted
	outcomeSkipped
)
