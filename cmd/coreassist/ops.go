// ABOUTME: Operator commands that talk to a running server: health, connectors, reload, call, token
// ABOUTME: Output is colorized text, or raw JSON with --json

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ndtriplebolt/coreassist-electron/internal/dispatch"
	"github.com/ndtriplebolt/coreassist-electron/internal/gateway"
)

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var resp gateway.HealthResponse
			if err := newAPIClient(cfg).do(cmd.Context(), http.MethodGet, "/health", nil, &resp, nil); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}

			out := cmd.OutOrStdout()
			color.New(color.FgGreen).Fprintln(out, resp.Status)
			fmt.Fprintf(out, "connectors: %d  tools: %d  users: %d  sessions: %d  credentials: %d\n",
				resp.ConnectorsLoaded, resp.TotalTools,
				resp.AuthStats.TotalUsers, resp.AuthStats.ActiveSessions, resp.AuthStats.TotalConnectorCredentials)
			return nil
		},
	}
}

func newConnectorsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "List loaded connectors and their tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var resp gateway.ConnectorsResponse
			if err := newAPIClient(cfg).do(cmd.Context(), http.MethodGet, "/connectors", nil, &resp, nil); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeIndented(out, resp)
			}
			cyan := color.New(color.FgCyan)
			for _, c := range resp.Connectors {
				cyan.Fprintf(out, "%s", c.Name)
				fmt.Fprintf(out, " (%d tools)\n", c.ToolCount)
				for _, tool := range c.Tools {
					fmt.Fprintf(out, "  %s.%s\n", c.Name, tool)
				}
			}
			fmt.Fprintf(out, "%d connectors\n", resp.TotalConnectors)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload <connector>",
		Short: "Reload one connector from its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var resp gateway.ReloadResponse
			path := "/connectors/" + url.PathEscape(args[0]) + "/reload"
			if err := newAPIClient(cfg).do(cmd.Context(), http.MethodPost, path, nil, &resp, nil); err != nil {
				return err
			}

			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ reloaded %s (%d tools loaded)\n", resp.Connector, resp.TotalTools)
			return nil
		},
	}
}

func newCallCmd() *cobra.Command {
	var (
		rawParams []string
		userID    string
		requestID string
	)
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call a tool, e.g. call slack.send_message -p channel=#general -p text=hi",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(rawParams)
			if err != nil {
				return err
			}
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			req := dispatch.CallRequest{
				ToolName:   args[0],
				Parameters: params,
				UserID:     userID,
				RequestID:  requestID,
			}
			var resp dispatch.CallResponse
			if err := newAPIClient(cfg).do(cmd.Context(), http.MethodPost, "/tools/call", req, &resp, nil); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !resp.Success {
				color.New(color.FgRed).Fprintf(out, "✗ %s: %s\n", resp.Kind, resp.Error)
			}
			if err := writeIndented(out, resp.Result); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("tool call failed")
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&rawParams, "param", "p", nil, "tool parameter as key=value; JSON values are decoded")
	cmd.Flags().StringVar(&userID, "user", "", "user whose stored credentials apply")
	cmd.Flags().StringVar(&requestID, "request-id", "", "idempotency key for retries")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var userID, revokeID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue or revoke a bearer token for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			path := "/api/users/" + url.PathEscape(userID) + "/tokens"
			client := newAPIClient(cfg)

			if revokeID != "" {
				path += "/" + url.PathEscape(revokeID)
				if err := client.do(cmd.Context(), http.MethodDelete, path, nil, nil, nil); err != nil {
					return err
				}
				color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ revoked %s\n", revokeID)
				return nil
			}

			var resp gateway.TokenResponse
			if err := client.do(cmd.Context(), http.MethodPost, path, nil, &resp, nil); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Token)
			color.New(color.FgHiBlack).Fprintf(cmd.ErrOrStderr(), "id %s, expires %s\n",
				resp.TokenID, resp.ExpiresAt.Format("Jan 02, 2006 15:04 MST"))
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id the token belongs to")
	cmd.Flags().StringVar(&revokeID, "revoke", "", "revoke the token with this id instead of issuing one")
	return cmd
}

// parseParams turns key=value pairs into a parameter map. Values that parse
// as JSON (numbers, booleans, objects, quoted strings) keep their type;
// anything else is a string.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q must be key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}

func writeIndented(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
