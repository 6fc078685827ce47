// ABOUTME: The Connector capability interface and an embeddable Base implementation.
// ABOUTME: Also holds the soft-failure result shapes shared by all connectors.

package connector

import (
	"context"
	"fmt"
)

// AuthData is the opaque credential bundle handed to a connector.
type AuthData map[string]any

// AccessToken returns the "access_token" entry, or "" if absent.
func (a AuthData) AccessToken() string {
	if a == nil {
		return ""
	}
	tok, _ := a["access_token"].(string)
	return tok
}

// Connector is a pluggable integration unit. Implementations must be safe
// for concurrent use; the registry never serializes Execute calls.
type Connector interface {
	// Name returns the connector's unique name, used as its namespace.
	Name() string
	// Manifest returns the manifest the connector was built from.
	Manifest() *Manifest
	// Tools returns the bare tool catalog.
	Tools() []ToolDescriptor
	// NamespacedTools returns the catalog with "<name>." prefixes.
	NamespacedTools() []ToolDescriptor
	// Execute runs a tool by its bare name. A result map carrying an
	// "error" key is a soft failure; a returned error is a hard failure.
	Execute(ctx context.Context, tool string, params map[string]any, auth AuthData) (map[string]any, error)
}

// Base implements the catalog half of Connector from a manifest.
// Connectors embed it and supply Execute.
type Base struct {
	manifest *Manifest
}

// NewBase wraps a loaded manifest.
func NewBase(m *Manifest) Base {
	return Base{manifest: m}
}

// Name returns the manifest's connector name.
func (b Base) Name() string { return b.manifest.Unit() }

// Manifest returns the underlying manifest.
func (b Base) Manifest() *Manifest { return b.manifest }

// Tools returns the bare tool catalog.
func (b Base) Tools() []ToolDescriptor { return b.manifest.Tools() }

// NamespacedTools returns every tool renamed "<name>.<tool>".
func (b Base) NamespacedTools() []ToolDescriptor {
	tools := b.manifest.tools
	out := make([]ToolDescriptor, len(tools))
	for i, t := range tools {
		out[i] = t.Namespaced(b.manifest.unit)
	}
	return out
}

// AuthRequired builds the structured response a connector returns when it
// has no usable credentials. service is the human-readable API name. The
// manifest's info.auth_url, when present, tells the caller where to connect.
func (b Base) AuthRequired(service string) map[string]any {
	authURL, _ := b.manifest.info["auth_url"].(string)
	return map[string]any{
		"error":         fmt.Sprintf("OAuth token required for %s API", service),
		"auth_required": true,
		"auth_url":      authURL,
		"message":       fmt.Sprintf("Please authenticate with %s first", service),
	}
}

// UnknownTool builds the soft failure for a tool the connector does not handle.
func UnknownTool(tool string) map[string]any {
	return map[string]any{"error": "Unknown tool: " + tool}
}

// IsAuthRequired reports whether a result is an auth-required response.
func IsAuthRequired(result map[string]any) bool {
	v, _ := result["auth_required"].(bool)
	return v
}

// SoftError returns the message of a soft failure result, if any.
func SoftError(result map[string]any) (string, bool) {
	raw, ok := result["error"]
	if !ok || raw == nil {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	default:
		return fmt.Sprint(v), true
	}
}
