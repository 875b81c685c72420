package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nrepo/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status [base...]",
	Short: "Show the build status of packages",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		want := make(map[string]bool, len(args))
		for _, b := range args {
			want[b] = true
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "REPOSITORY\tPACKAGE\tVERSION\tSTATUS\tUPDATED")
		for _, st := range a.stores {
			pkgs, err := st.PackagesGet(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range pkgs {
				if len(want) > 0 && !want[p.Package.Base] {
					continue
				}
				version := p.Package.Version
				if version == "" {
					version = "-"
				}
				updated := "-"
				if p.Status.Status != types.StatusUnknown && !p.Status.Timestamp.IsZero() {
					updated = p.Status.Timestamp.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", st.Repository(), p.Package.Base, version, p.Status.Status, updated)
			}
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
