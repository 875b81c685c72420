package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/the-maldridge/nrepo/pkg/remote"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the remote metadata cache",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Drop expired metadata from the cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		all, _ := cmd.Flags().GetBool("all")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		// The cache is shared by every architecture.
		rem := remote.NewService(a.l, nil, nil, a.cache, remote.WithTTL(cfg.Cache.TTL))
		n, err := rem.PurgeCache(all)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d cached entries\n", n)
		return nil
	},
}

func init() {
	cachePurgeCmd.Flags().Bool("all", false, "drop every entry, not only expired ones")

	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}
