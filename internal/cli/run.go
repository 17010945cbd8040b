package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run scheduled collection and the query API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query API without collecting",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context())
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one collection cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := getApp().Collect(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: stage=%s attempts=%d fetched=%d inserted=%d duration=%s\n",
			report.ID, report.Stage, report.Attempts, report.Fetched, report.Inserted, report.Duration)
		return nil
	},
}
