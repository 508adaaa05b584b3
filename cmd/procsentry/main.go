package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by all commands
type GlobalFlags struct {
	ConfigPath string
	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds flags for the serve command
type ServeFlags struct {
	Listen   string
	BasePath string
	Metrics  bool
}

// ListFlags holds flags for the ps command
type ListFlags struct {
	Name     string
	Security string
	Sort     string
}

// KillFlags holds flags for termination commands
type KillFlags struct {
	Strategy string
}

// buildRoot creates the root command with all subcommands attached
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	serveFlags := &ServeFlags{}
	listFlags := &ListFlags{}
	killFlags := &KillFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags, serveFlags),
		createPsCommand(globalFlags, listFlags),
		createKillCommand(globalFlags, killFlags),
		createKillAllCommand(globalFlags, killFlags),
		createForceQuitCommand(globalFlags),
		createResultsCommand(globalFlags),
		createHealthCommand(globalFlags),
		createRefreshCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "procsentry",
		Short: "Process lifecycle monitoring and termination tool",
		Long: `Procsentry tracks live processes, classifies how risky each one is
to terminate, and executes graceful-to-forceful termination with learned
behavior feedback.

Examples:
  procsentry serve --config=procsentry.toml   # Start daemon
  procsentry ps --sort=memory                 # List tracked processes
  procsentry kill 12345                       # Terminate with auto strategy
  procsentry force-quit 12345                 # Emergency kill`,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.APIUrl, "api-url", "", "daemon API base URL (default http://localhost:8080/api)")
	root.PersistentFlags().DurationVar(&flags.APITimeout, "api-timeout", 0, "API request timeout")

	return root
}
