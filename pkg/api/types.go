package api

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// Store is the slice of the status store the API reads and writes.
type Store interface {
	Repository() types.RepositoryID
	PackagesGet(context.Context) ([]types.PackageStatus, error)
	PackageGet(context.Context, string) (types.Package, error)
	StatusGet(context.Context, string) (types.BuildStatus, error)
	StatusSet(context.Context, string, types.BuildStatus) error
	EventGet(context.Context, types.EventFilter) ([]types.Event, error)
	LogRecords(context.Context, string, string, string) ([]types.LogRecord, error)
}

// Service serves the status of every repository identity the process
// owns.
type Service struct {
	l      hclog.Logger
	stores map[string]Store
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusRequest struct {
	Status types.BuildStatusEnum `json:"status"`
}
