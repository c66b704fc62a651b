// Package main is the entry point for the triage server and its
// maintenance commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pitabwire/bugtriage/internal/observability"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

const appName = "triage"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Schema-driven bug triage workflows",
		Long: `triage runs bug assessment workflows defined as YAML schemas.

The serve command exposes the workflow engine over HTTP. The remaining
commands manage the database schema, check definition files, and repair
executions whose snapshot disagrees with their audit trail.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			observability.Version = version
			observability.Commit = commit
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")

	cmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		validateCmd(&configPath),
		repairCmd(&configPath),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (commit: %s)\n", appName, version, commit)
		},
	}
}
