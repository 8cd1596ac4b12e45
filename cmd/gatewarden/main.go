package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and its subcommands
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createRunCommand(globalFlags),
		createStatusCommand(statusFlags),
		createKillCommand(statusFlags),
		createCheckConfigCommand(globalFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "gatewarden",
		Short: "Game server lifecycle monitor and port gate",
		Long: `Gatewarden follows a dedicated game server's log to know when it is
starting, ready or shutting down. It keeps the game ports closed until the
server is ready and posts lifecycle notifications. It never restarts the
server; it watches the process and can kill it once it stops responding.

Examples:
  gatewarden run --config=gatewarden.toml
  gatewarden run --config=gatewarden.toml --logs-dir=/srv/conan/Saved/Logs
  gatewarden status --api-url=http://127.0.0.1:8089/api
  gatewarden check-config --config=gatewarden.toml --print`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")

	return root
}
