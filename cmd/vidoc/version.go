package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/vidoc/internal/cli"
	"github.com/jackzampolin/vidoc/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if output.Structured() {
			return cli.Output(output, map[string]string{
				"version": version.GitRelease,
				"go":      version.GoInfo,
				"commit":  version.GitCommit,
				"date":    version.GitCommitDate,
			})
		}
		fmt.Printf("vidoc %s\n", version.GitRelease)
		fmt.Printf("  Go:     %s\n", version.GoInfo)
		fmt.Printf("  Commit: %s\n", version.GitCommit)
		fmt.Printf("  Date:   %s\n", version.GitCommitDate)
		return nil
	},
}
