package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentdb9/wsengine/cmd/workspacectl/commands"
	"github.com/agentdb9/wsengine/cmd/workspacectl/config"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "workspacectl",
		Short: "Workspace engine CLI",
		Long: `workspacectl is the command-line interface for the workspaced daemon.

It manages development workspaces, the projects mounted into them, and the
volumes and backups behind those projects.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("server", config.DefaultServer, "Daemon address (env WSENGINE_SERVER)")
	rootCmd.PersistentFlags().String("config", "", "Config file path (default: $HOME/.wsengine/config.yaml)")
	rootCmd.PersistentFlags().StringP("output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().Duration("timeout", config.DefaultTimeout, "Per-command request timeout")

	rootCmd.AddCommand(commands.NewWorkspaceCommand())
	rootCmd.AddCommand(commands.NewProjectCommand())
	rootCmd.AddCommand(commands.NewTypesCommand())
	rootCmd.AddCommand(commands.NewCleanupCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version, BuildTime, GitCommit))

	return rootCmd
}
