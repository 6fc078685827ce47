// ABOUTME: Entry point for the coreassist tool router
// ABOUTME: Serves connectors over HTTP and offers operator commands against a running server

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                         _     _
  ___ ___  _ __ ___  __ _ ___ ___(_)___| |_
 / __/ _ \| '__/ _ \/ _' / __/ __| / __| __|
| (_| (_) | | |  __/ (_| \__ \__ \ \__ \ |_
 \___\___/|_|  \___|\__,_|___/___/_|___/\__|
`

// configEnvVar overrides the default config location.
const configEnvVar = "COREASSIST_CONFIG"

// getConfigPath returns the path to the config file.
// Priority: --config flag > COREASSIST_CONFIG > XDG_CONFIG_HOME/coreassist/gateway.yaml > ~/.config/coreassist/gateway.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv(configEnvVar); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coreassist", "gateway.yaml")
}

// getDataPath returns the coreassist data directory.
// Priority: XDG_DATA_HOME/coreassist > ~/.local/share/coreassist
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coreassist")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
