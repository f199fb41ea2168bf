package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// configPath is the path to the YAML configuration file, shared by
// every subcommand via a persistent flag.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "binderhub",
	Short: "binderhub — build-and-launch request coordinator",
	Long: `binderhub resolves a repository spec to a ref, builds a
container image for it if one doesn't already exist, and asks a hub to
launch it — streaming progress to the client as server-sent events.

  binderhub serve --config /etc/binderhub/config.yaml`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("cli error: %w", err)
	}
	return nil
}
