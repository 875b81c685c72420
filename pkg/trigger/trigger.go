// Package trigger notifies listeners about the progress of update
// cycles.  A failing listener is logged and never stops the cycle.
package trigger

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/hashicorp/go-hclog"

	"github.com/the-maldridge/nrepo/pkg/types"
)

// NewChain returns a Chain over listeners in call order.
func NewChain(l hclog.Logger, listeners ...Listener) *Chain {
	return &Chain{l: l.Named("trigger"), listeners: listeners}
}

// Add appends a listener.
func (c *Chain) Add(li Listener) { c.listeners = append(c.listeners, li) }

// Len returns the number of listeners.
func (c *Chain) Len() int { return len(c.listeners) }

// OnStart notifies every listener that a cycle begins.
func (c *Chain) OnStart(ctx context.Context, id types.RepositoryID, candidates []types.Package) {
	for _, li := range c.listeners {
		if err := li.OnStart(ctx, id, candidates); err != nil {
			c.l.Warn("Listener failed", "listener", li.Name(), "hook", "start", "error", err)
		}
	}
}

// OnResult hands the result of a cycle to every listener.
func (c *Chain) OnResult(ctx context.Context, id types.RepositoryID, result types.Result) {
	for _, li := range c.listeners {
		if err := li.OnResult(ctx, id, result); err != nil {
			c.l.Warn("Listener failed", "listener", li.Name(), "hook", "result", "error", err)
		}
	}
}

// OnStop notifies every listener that a cycle is over.
func (c *Chain) OnStop(ctx context.Context, id types.RepositoryID) {
	for _, li := range c.listeners {
		if err := li.OnStop(ctx, id); err != nil {
			c.l.Warn("Listener failed", "listener", li.Name(), "hook", "stop", "error", err)
		}
	}
}

// NewConsole reports to w, or stdout when w is nil.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stdout
	}
	return &Console{out: w}
}

// Name implements Listener.
func (c *Console) Name() string { return "console" }

// OnStart implements Listener.
func (c *Console) OnStart(_ context.Context, id types.RepositoryID, candidates []types.Package) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s: building %d package(s)\n", id, len(candidates))
	return err
}

// OnResult implements Listener.
func (c *Console) OnResult(_ context.Context, id types.RepositoryID, r types.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.IsEmpty() && len(r.Untouched) == 0 && r.SyncErr == nil {
		_, err := fmt.Fprintf(c.out, "%s: nothing to do\n", id)
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tBASE\tVERSION\n", id)
	rows := []struct {
		state string
		pkgs  []types.Package
	}{
		{"success", r.Success},
		{"failed", r.Failed},
		{"untouched", r.Untouched},
	}
	for _, row := range rows {
		for _, p := range row.pkgs {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", row.state, p.Base, p.Version)
		}
	}
	if r.SyncErr != nil {
		fmt.Fprintf(tw, "sync\t-\t%s\n", r.SyncErr)
	}
	return tw.Flush()
}

// OnStop implements Listener.
func (c *Console) OnStop(context.Context, types.RepositoryID) error { return nil }
