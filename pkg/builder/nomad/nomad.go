// Package nomad dispatches package builds as nomad parameterized
// jobs.  The job is expected to write its packages below a directory
// shared with this host.
package nomad

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/nomad/api"

	"github.com/the-maldridge/nrepo/pkg/builder"
	"github.com/the-maldridge/nrepo/pkg/types"
)

// jobs is the part of the nomad API this backend uses.
type jobs interface {
	Dispatch(jobID string, meta map[string]string, payload []byte, q *api.WriteOptions) (*api.JobDispatchResponse, *api.WriteMeta, error)
	Allocations(jobID string, allAllocs bool, q *api.QueryOptions) ([]*api.AllocationListStub, *api.QueryMeta, error)
}

type nomadBuilder struct {
	l    hclog.Logger
	jobs jobs

	job       string
	sharedDir string
	poll      time.Duration
}

func init() {
	builder.RegisterInitCallback(cb)
}

func cb() {
	builder.RegisterFactory("nomad", New)
}

// New returns a wrapper around a nomad client that implements the
// Builder interface.
func New(l hclog.Logger, s builder.Settings) (builder.Builder, error) {
	cfg := api.DefaultConfig()
	if s.Nomad.Address != "" {
		cfg.Address = s.Nomad.Address
	}
	c, err := api.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return newBuilder(l, c.Jobs(), s.Nomad), nil
}

func newBuilder(l hclog.Logger, j jobs, s builder.NomadSettings) *nomadBuilder {
	x := &nomadBuilder{
		l:         l.Named("nomad"),
		jobs:      j,
		job:       s.Job,
		sharedDir: s.SharedDir,
		poll:      s.PollInterval,
	}
	if x.job == "" {
		x.job = "nrepo-build"
	}
	if x.poll <= 0 {
		x.poll = 10 * time.Second
	}
	return x
}

// Build dispatches the job and waits until every allocation of the
// dispatched child job reached a terminal state.
func (n *nomadBuilder) Build(ctx context.Context, b builder.Build) (builder.Artifacts, error) {
	var art builder.Artifacts
	base := b.Package.Base

	meta := map[string]string{
		"package_base": base,
		"version":      b.Package.Version,
		"git_url":      b.Package.Remote.GitURL,
		"packager":     b.Packager,
		"process_id":   b.ProcessID,
	}
	res, _, err := n.jobs.Dispatch(n.job, meta, nil, nil)
	if err != nil {
		n.l.Warn("Nomad error", "error", err)
		return art, types.NewErrBuildFailed(base, err)
	}
	n.l.Debug("Dispatched job", "package", base, "eval", res.EvalID, "jid", res.DispatchedJobID)

	var transcript strings.Builder
	fmt.Fprintf(&transcript, "dispatched %s as %s (eval %s)\n", n.job, res.DispatchedJobID, res.EvalID)

	status, err := n.wait(ctx, res.DispatchedJobID, &transcript)
	art.Log = []byte(transcript.String())
	if err != nil {
		return art, types.NewErrBuildFailed(base, err)
	}
	if status != "complete" {
		return art, types.NewErrBuildFailed(base, fmt.Errorf("job %s ended %s", res.DispatchedJobID, status))
	}

	files, err := builder.CollectPackages(filepath.Join(n.sharedDir, base, b.ProcessID))
	if err != nil {
		return art, types.NewErrBuildFailed(base, err)
	}
	if len(files) == 0 {
		return art, types.NewErrBuildFailed(base, errors.New("job completed without packages"))
	}
	art.Files = files
	return art, nil
}

// wait polls the allocations of a job and returns "complete" once all
// of them completed, or the first failure status seen.
func (n *nomadBuilder) wait(ctx context.Context, jobID string, transcript *strings.Builder) (string, error) {
	t := time.NewTicker(n.poll)
	defer t.Stop()
	for {
		allocs, _, err := n.jobs.Allocations(jobID, false, (&api.QueryOptions{}).WithContext(ctx))
		if err != nil {
			n.l.Trace("Error listing allocations", "job", jobID, "error", err)
		}
		if status, done := summarize(allocs); done {
			for _, a := range allocs {
				fmt.Fprintf(transcript, "allocation %s on %s: %s %s\n", a.ID, a.NodeName, a.ClientStatus, a.ClientDescription)
			}
			return status, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func summarize(allocs []*api.AllocationListStub) (string, bool) {
	if len(allocs) == 0 {
		return "", false
	}
	for _, a := range allocs {
		switch a.ClientStatus {
		case "failed", "lost":
			return a.ClientStatus, true
		case "complete":
		default:
			return "", false
		}
	}
	return "complete", true
}
