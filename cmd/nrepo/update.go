package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nrepo/pkg/source"
	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/update"
)

var updateCmd = &cobra.Command{
	Use:   "update [base...]",
	Short: "Run one update cycle per architecture",
	Long: `Run one update cycle per architecture.  Named bases are built
unconditionally.  Without any source flag all sources are checked.`,
	RunE: runUpdate,
}

func init() {
	f := updateCmd.Flags()
	f.Bool("aur", false, "check AUR packages for new versions")
	f.Bool("local", false, "check the local package tree")
	f.Bool("manual", false, "build the manual queue")
	f.Bool("dry-run", false, "print the build plan and exit")
	rootCmd.AddCommand(updateCmd)
}

// request turns the flags and arguments into an update request.
func request(cmd *cobra.Command, args []string) (update.Request, error) {
	var req update.Request
	req.AUR, _ = cmd.Flags().GetBool("aur")
	req.Local, _ = cmd.Flags().GetBool("local")
	req.Manual, _ = cmd.Flags().GetBool("manual")
	if !req.AUR && !req.Local && !req.Manual && len(args) == 0 {
		req.AUR, req.Local, req.Manual = true, true, true
	}
	for _, base := range args {
		p, err := explicit(base)
		if err != nil {
			return req, err
		}
		req.Packages = append(req.Packages, p)
	}
	return req, nil
}

// explicit resolves a base named on the command line.  Bases present
// in the local tree are local, everything else is looked up in the
// AUR.
func explicit(base string) (types.Package, error) {
	if base == "" || base == "." || base == ".." || filepath.Base(base) != base {
		return types.Package{}, types.ErrInvalidOption{Option: "package", Value: base}
	}
	dir := filepath.Join(cfg.PackagesDir(), base)
	if _, err := os.Stat(filepath.Join(dir, source.SRCINFO)); err == nil {
		return types.Package{
			Base:   base,
			Remote: types.RemoteSource{Source: types.SourceLocal, Path: dir},
		}, nil
	}
	return types.Package{Base: base, Remote: types.AURSource(base)}, nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	req, err := request(cmd, args)
	if err != nil {
		return err
	}
	dry, _ := cmd.Flags().GetBool("dry-run")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var failed int
	var errs []error
	for _, st := range a.stores {
		u, err := a.updater(ctx, st, nil)
		if err != nil {
			return err
		}
		if dry {
			plan, err := u.Plan(ctx, req)
			if err != nil {
				return err
			}
			for i, batch := range plan {
				for j, lane := range batch {
					for _, p := range lane {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\tbatch %d\tlane %d\t%s\t%s\t%s\n",
							st.Repository(), i+1, j+1, p.Base, p.Version, p.Remote.Source)
					}
				}
			}
			continue
		}
		res, err := u.Update(ctx, req)
		failed += len(res.Failed)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Repository(), err))
			if ctx.Err() != nil {
				break
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if failed > 0 {
		return fmt.Errorf("%d packages failed to build", failed)
	}
	return nil
}
