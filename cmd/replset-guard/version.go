package main

import (
	"fmt"

	"github.com/Ajpantuso/replset-guard/internal/config"
	"github.com/spf13/cobra"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print the version, build time, and git commit of replset-guard",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "replset-guard version %s (built %s, commit %s)\n",
				config.Version,
				config.BuildTime,
				config.GitCommit,
			)
		},
	}
}
