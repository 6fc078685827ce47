// ABOUTME: cobra command tree for the coreassist binary
// ABOUTME: Every subcommand shares the --config flag

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ndtriplebolt/coreassist-electron/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coreassist",
		Short:         "coreassist routes voice-agent tool calls to pluggable connectors",
		Long:          `coreassist loads connector manifests, serves the merged tool catalog, and dispatches tool calls with per-user credentials.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config file (default $"+configEnvVar+" or $XDG_CONFIG_HOME/coreassist/gateway.yaml)")

	root.AddCommand(
		newServeCmd(),
		newInitCmd(),
		newHealthCmd(),
		newConnectorsCmd(),
		newReloadCmd(),
		newCallCmd(),
		newTokenCmd(),
	)
	return root
}

// loadConfig resolves the config path for cmd and loads it.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	flagValue, _ := cmd.Flags().GetString("config")
	path := getConfigPath(flagValue)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}
