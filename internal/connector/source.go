// ABOUTME: Manifest sources that enumerate connector directories in an fs.FS.
// ABOUTME: Works with os.DirFS for on-disk manifests and embed.FS for built-ins.

package connector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
)

// manifestFiles lists the accepted manifest names in lookup order.
var manifestFiles = []struct {
	name   string
	format Format
}{
	{"manifest.json", FormatJSON},
	{"manifest.yaml", FormatYAML},
	{"manifest.yml", FormatYAML},
}

// Source enumerates candidate connectors and reads their manifests.
type Source interface {
	// Names returns candidate connector names in a stable order.
	Names() ([]string, error)
	// Manifest loads the manifest for one connector.
	Manifest(name string) (*Manifest, error)
}

// FSSource treats each top-level directory of an fs.FS as one connector.
type FSSource struct {
	fsys fs.FS
}

// NewFSSource creates a Source over the given filesystem.
func NewFSSource(fsys fs.FS) *FSSource {
	return &FSSource{fsys: fsys}
}

// NewDirSource creates a Source over an on-disk directory. Manifests are
// re-read on every load, so edits are visible to Reload.
func NewDirSource(dir string) *FSSource {
	return NewFSSource(os.DirFS(dir))
}

// Names returns the directory names that may hold connectors, sorted.
// Names beginning with "_" or "." are private and skipped.
func (s *FSSource) Names() ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading connector directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Manifest loads the named connector's manifest.
func (s *FSSource) Manifest(name string) (*Manifest, error) {
	return LoadManifest(s.fsys, name)
}

// LoadManifest locates and parses <name>/manifest.{json,yaml,yml} in fsys.
// Returns ErrManifestMissing when no manifest file exists.
func LoadManifest(fsys fs.FS, name string) (*Manifest, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	for _, mf := range manifestFiles {
		data, err := fs.ReadFile(fsys, path.Join(name, mf.name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading manifest for %s: %w", name, err)
		}
		return ParseManifest(name, data, mf.format)
	}

	return nil, fmt.Errorf("%w: %s", ErrManifestMissing, name)
}

// ValidateName checks that a connector name is usable as a namespace.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidUnitName)
	}
	if strings.Contains(name, ".") {
		return fmt.Errorf("%w: %q contains '.'", ErrInvalidUnitName, name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidUnitName, name)
	}
	return nil
}

// excludeSource hides disabled connectors from an underlying Source.
type excludeSource struct {
	Source
	disabled map[string]struct{}
}

// Exclude wraps src so the named connectors are never offered or loaded.
func Exclude(src Source, names ...string) Source {
	if len(names) == 0 {
		return src
	}
	disabled := make(map[string]struct{}, len(names))
	for _, n := range names {
		disabled[n] = struct{}{}
	}
	return &excludeSource{Source: src, disabled: disabled}
}

func (s *excludeSource) Names() ([]string, error) {
	names, err := s.Source.Names()
	if err != nil {
		return nil, err
	}
	out := names[:0:0]
	for _, n := range names {
		if _, off := s.disabled[n]; !off {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *excludeSource) Manifest(name string) (*Manifest, error) {
	if _, off := s.disabled[name]; off {
		return nil, fmt.Errorf("%w: %s is disabled", ErrUnitNotFound, name)
	}
	return s.Source.Manifest(name)
}
