package main

import (
	"fmt"

	"labcrm/internal/app"

	"github.com/spf13/cobra"
)

var (
	Commit    = "none"
	BuildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of labcrm",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Version: %s\nCommit: %s\nBuildTime: %s\n", app.Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
