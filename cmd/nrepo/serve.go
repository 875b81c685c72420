package main

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/the-maldridge/nrepo/pkg/api"
	nhttp "github.com/the-maldridge/nrepo/pkg/http"
	"github.com/the-maldridge/nrepo/pkg/lock"
	"github.com/the-maldridge/nrepo/pkg/reciever"
	"github.com/the-maldridge/nrepo/pkg/status"
	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/update"
	"github.com/the-maldridge/nrepo/pkg/upload"
	"github.com/the-maldridge/nrepo/pkg/workers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API and the worker registry",
	Long: `Serve the status API and the worker registry.  With --interval
the server also runs update cycles, claiming packages through the
registry so that announced workers and the server do not collide.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Duration("interval", 0, "run an update cycle this often (0 disables)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()
	interval, _ := cmd.Flags().GetDuration("interval")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stores := make([]api.Store, len(a.stores))
	for i, st := range a.stores {
		if err := reconcile(ctx, a.l, st); err != nil {
			return err
		}
		stores[i] = st
	}

	// Announcements are persisted to the first store; worker
	// identity does not depend on the architecture.
	reg := workers.NewRegistry(a.l, cfg.Workers.TTL, workers.WithPersister(a.stores[0]))
	if err := reg.Load(ctx); err != nil {
		a.l.Warn("Unable to load known workers", "error", err)
	}

	rcv, err := a.reciever()
	if err != nil {
		return err
	}

	srv, err := nhttp.New(a.l, nhttp.WithGrace(cfg.Web.Grace))
	if err != nil {
		return err
	}
	srv.MountAll(map[string]nhttp.Entrypoint{
		"/api/v1":          api.New(a.l, stores...),
		"/api/v1/workers":  reg,
		"/api/v1/reciever": rcv,
	})

	cycles := make(chan struct{})
	if interval > 0 {
		me := self()
		local := workers.NewLocalCoordinator(reg)
		go workers.Heartbeat(ctx, a.l, announcerFunc(func(ctx context.Context) error {
			return reg.Announce(ctx, me)
		}), cfg.Workers.Heartbeat)
		updaters, err := a.updaters(ctx, func(types.RepositoryID) (workers.Coordinator, error) {
			return local.For(me), nil
		})
		if err != nil {
			return err
		}
		go func() {
			defer close(cycles)
			runCycles(ctx, a.l, updaters, update.Request{AUR: true, Local: true, Manual: true}, interval)
		}()
	} else {
		close(cycles)
	}

	err = srv.Serve(ctx, cfg.Web.Bind)
	// The stores close on return, so the cycle loop has to be done.
	stop()
	<-cycles
	return err
}

// reciever accepts packages pushed by workers into the repository of
// every configured architecture and mirrors the result.
func (a *app) reciever() (*reciever.Reciever, error) {
	dirs := make(map[string]string)
	rcv := reciever.NewReciever(a.l, filepath.Join(cfg.Repository.Root, "incoming"),
		reciever.WithPublisher(func(ctx context.Context, arch string, files []string) {
			if len(a.uploaders) == 0 {
				return
			}
			if err := upload.Sync(ctx, a.l, a.uploaders, dirs[arch], files); err != nil {
				a.l.Warn("Unable to mirror pushed package", "arch", arch, "error", err)
			}
		}))
	for _, st := range a.stores {
		id := st.Repository()
		tool, err := a.repoTool(id)
		if err != nil {
			return nil, err
		}
		dirs[id.Architecture] = tool.Dir()
		rcv.Register(id.Architecture, tool)
	}
	return rcv, nil
}

// reconcile resets stale Building records of st unless a cycle of
// another process holds the identity lock.  That cycle reconciles
// itself when it starts.
func reconcile(ctx context.Context, l hclog.Logger, st *status.Store) error {
	held, err := lock.New(l, cfg.Repository.Root, st.Repository()).TryAcquire()
	if errors.Is(err, lock.ErrLocked) {
		l.Info("Repository busy, leaving build statuses alone", "repository", st.Repository().String())
		return nil
	}
	if err != nil {
		return err
	}
	defer held.Release()
	_, err = st.ReconcileBuilding(ctx)
	return err
}

// announcerFunc adapts a function to workers.Announcer.
type announcerFunc func(context.Context) error

func (f announcerFunc) Announce(ctx context.Context) error { return f(ctx) }

// updaters wires one Updater per repository identity.
func (a *app) updaters(ctx context.Context, coordFor func(types.RepositoryID) (workers.Coordinator, error)) ([]*update.Updater, error) {
	var out []*update.Updater
	for _, st := range a.stores {
		coord, err := coordFor(st.Repository())
		if err != nil {
			return nil, err
		}
		u, err := a.updater(ctx, st, coord)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// runCycles runs one cycle per updater every interval until ctx is
// done.  Cycle errors are logged and the loop carries on.
func runCycles(ctx context.Context, l hclog.Logger, updaters []*update.Updater, req update.Request, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		for _, u := range updaters {
			if _, err := u.Update(ctx, req); err != nil && ctx.Err() == nil {
				l.Error("Update cycle failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
