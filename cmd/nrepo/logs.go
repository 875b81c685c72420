package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect and prune build logs",
}

var logsShowCmd = &cobra.Command{
	Use:   "show base",
	Short: "Print the build log of a package base",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("version")
		run, _ := cmd.Flags().GetString("run")

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		for _, st := range a.stores {
			text, err := st.LogsGet(cmd.Context(), args[0], version, run)
			if err != nil {
				return err
			}
			if text == "" {
				continue
			}
			if len(a.stores) > 1 {
				fmt.Fprintf(cmd.OutOrStdout(), "==> %s\n", st.Repository())
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
		}
		return nil
	},
}

var logsRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Keep only the most recent build logs of every package",
	RunE: func(cmd *cobra.Command, _ []string) error {
		keep, _ := cmd.Flags().GetInt("keep")
		if keep == 0 {
			keep = cfg.Logs.Keep
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		for _, st := range a.stores {
			n, err := st.LogsRotate(cmd.Context(), keep)
			if err != nil {
				return err
			}
			a.l.Info("Rotated logs", "repository", st.Repository().String(), "removed", n, "keep", keep)
		}
		return nil
	},
}

func init() {
	logsShowCmd.Flags().String("version", "", "only this version")
	logsShowCmd.Flags().String("run", "", "only this update run")
	logsRotateCmd.Flags().Int("keep", 0, "runs to keep per package (default from config)")

	logsCmd.AddCommand(logsShowCmd)
	logsCmd.AddCommand(logsRotateCmd)
	rootCmd.AddCommand(logsCmd)
}
