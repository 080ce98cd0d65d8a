package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zgpcy/azure-billing-collector/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (commit %s, built %s, %s)\n",
				version.ApplicationID, info["version"], info["git_commit"], info["build_date"], info["go_version"])
		},
	}
}
