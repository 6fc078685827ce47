// ABOUTME: serve command: prints the banner and runs the gateway until interrupted

package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ndtriplebolt/coreassist-electron/internal/config"
	"github.com/ndtriplebolt/coreassist-electron/internal/gateway"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the coreassist server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			cyan := color.New(color.FgCyan)
			cyan.Fprint(out, banner)
			gray := color.New(color.FgHiBlack)
			gray.Fprintf(out, "    version: %s\n\n", version)

			cfg, configPath, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging, out)
			printStartup(out, cfg, configPath)

			logger.Info("starting coreassist",
				"config", configPath,
				"http_addr", cfg.Server.HTTPAddr,
				"grpc_addr", cfg.Server.GRPCAddr,
				"credential_backend", cfg.Credentials.Backend,
			)

			gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
			if err != nil {
				return fmt.Errorf("creating gateway: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func printStartup(out io.Writer, cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "%-12s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("HTTP", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		line("gRPC", cfg.Server.GRPCAddr)
	}
	connectors := "built-in"
	if cfg.Connectors.Dir != "" {
		connectors = cfg.Connectors.Dir
	}
	line("Connectors", connectors)
	line("Credentials", cfg.Credentials.Backend)

	if cfg.MCP.Enabled {
		line("MCP", cfg.MCP.Path)
	}
	if !cfg.BearerTokensEnabled() {
		gray.Fprintln(out, "    (bearer tokens disabled)")
	}
	if cfg.DevEndpoints {
		yellow.Fprintln(out, "    ! development endpoints enabled")
	}
	fmt.Fprintln(out)
}
