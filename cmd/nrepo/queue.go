package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nrepo/pkg/types"
	"github.com/the-maldridge/nrepo/pkg/update"
)

var addCmd = &cobra.Command{
	Use:   "add base...",
	Short: "Queue packages for the next manual cycle",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pkgs []types.Package
		for _, base := range args {
			p, err := explicit(base)
			if err != nil {
				return err
			}
			pkgs = append(pkgs, p)
		}
		for _, id := range cfg.IDs() {
			if err := update.Enqueue(manualDir(id), pkgs...); err != nil {
				return err
			}
			appLogger.Info("Queued packages", "repository", id.String(), "packages", args)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued %d packages, run `nrepo update --manual` to build them\n", len(pkgs))
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove base...",
	Short: "Remove package bases from the repository",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		for _, st := range a.stores {
			u, err := a.updater(ctx, st, nil)
			if err != nil {
				return err
			}
			removed, err := u.Remove(ctx, args)
			if err != nil {
				return fmt.Errorf("%s: %w", st.Repository(), err)
			}
			for _, base := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tremoved %s\n", st.Repository(), base)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(removeCmd)
}
