// ABOUTME: Manifest and tool descriptor types plus strict parsing from JSON or YAML.
// ABOUTME: Parsed manifests are immutable; accessors hand out deep copies.

package connector

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a manifest document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ToolDescriptor describes one tool a connector offers.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Namespaced returns a copy of the descriptor named "<unit>.<tool>".
func (d ToolDescriptor) Namespaced(unit string) ToolDescriptor {
	c := d.clone()
	c.Name = unit + "." + d.Name
	return c
}

func (d ToolDescriptor) clone() ToolDescriptor {
	return ToolDescriptor{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  cloneMap(d.Parameters),
	}
}

// Manifest is the parsed declaration of a connector's tools.
type Manifest struct {
	unit  string
	tools []ToolDescriptor
	info  map[string]any
}

// NewManifest builds a manifest directly, for connectors that declare their
// tools in code. The same validation as ParseManifest applies.
func NewManifest(unit string, tools []ToolDescriptor, info map[string]any) (*Manifest, error) {
	m := &Manifest{unit: unit, info: cloneMap(info)}
	seen := make(map[string]struct{}, len(tools))
	for i, t := range tools {
		if err := validateToolName(unit, i, t.Name, seen); err != nil {
			return nil, err
		}
		m.tools = append(m.tools, t.clone())
	}
	return m, nil
}

// Unit returns the connector name the manifest belongs to.
func (m *Manifest) Unit() string { return m.unit }

// Tools returns the declared tools in declaration order.
func (m *Manifest) Tools() []ToolDescriptor {
	out := make([]ToolDescriptor, len(m.tools))
	for i, t := range m.tools {
		out[i] = t.clone()
	}
	return out
}

// ToolNames returns the bare tool names in declaration order.
func (m *Manifest) ToolNames() []string {
	names := make([]string, len(m.tools))
	for i, t := range m.tools {
		names[i] = t.Name
	}
	return names
}

// HasTool reports whether the manifest declares the bare tool name.
func (m *Manifest) HasTool(name string) bool {
	for _, t := range m.tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// Info returns the free-form metadata block, or nil.
func (m *Manifest) Info() map[string]any {
	return cloneMap(m.info)
}

// ParseManifest decodes a manifest document for the named connector.
// Malformed documents wrap ErrManifestInvalid. A document without a
// "tools" key yields a manifest with zero tools.
func ParseManifest(unit string, data []byte, format Format) (*Manifest, error) {
	var doc any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrManifestInvalid, unit, err)
		}
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrManifestInvalid, unit, err)
		}
	}

	root, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: document must be an object", ErrManifestInvalid, unit)
	}

	m := &Manifest{unit: unit}

	if rawInfo, ok := root["info"]; ok && rawInfo != nil {
		info, ok := rawInfo.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: info must be an object", ErrManifestInvalid, unit)
		}
		m.info = cloneMap(info)
	}

	rawTools, ok := root["tools"]
	if !ok || rawTools == nil {
		return m, nil
	}
	list, ok := rawTools.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: tools must be a list", ErrManifestInvalid, unit)
	}

	seen := make(map[string]struct{}, len(list))
	for i, raw := range list {
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: tool %d must be an object", ErrManifestInvalid, unit, i)
		}

		name, _ := entry["name"].(string)
		if err := validateToolName(unit, i, name, seen); err != nil {
			return nil, err
		}

		tool := ToolDescriptor{Name: name}
		if rawDesc, ok := entry["description"]; ok && rawDesc != nil {
			desc, ok := rawDesc.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s: tool %q description must be a string", ErrManifestInvalid, unit, name)
			}
			tool.Description = desc
		}
		if rawParams, ok := entry["parameters"]; ok && rawParams != nil {
			params, ok := rawParams.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s: tool %q parameters must be an object", ErrManifestInvalid, unit, name)
			}
			tool.Parameters = cloneMap(params)
		}
		m.tools = append(m.tools, tool)
	}

	return m, nil
}

func validateToolName(unit string, index int, name string, seen map[string]struct{}) error {
	if name == "" {
		return fmt.Errorf("%w: %s: tool %d has no name", ErrManifestInvalid, unit, index)
	}
	// A dotted bare name would be mistaken for a namespaced call.
	if strings.Contains(name, ".") {
		return fmt.Errorf("%w: %s: tool name %q must not contain '.'", ErrManifestInvalid, unit, name)
	}
	if _, dup := seen[name]; dup {
		return fmt.Errorf("%w: %s: duplicate tool %q", ErrManifestInvalid, unit, name)
	}
	seen[name] = struct{}{}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
