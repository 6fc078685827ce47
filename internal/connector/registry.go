// ABOUTME: Thread-safe registry of loaded connectors with ordered tool resolution.
// ABOUTME: Readers use an atomically swapped snapshot; writers are serialized.

package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// entry is one loaded connector plus its precomputed tool set.
type entry struct {
	conn  Connector
	tools map[string]struct{}
	names []string
}

// snapshot is an immutable view of the registry. Writers build a new
// snapshot and swap it in; readers never observe a partial update.
type snapshot struct {
	order   []string
	entries map[string]*entry
}

func emptySnapshot() *snapshot {
	return &snapshot{entries: make(map[string]*entry)}
}

// with returns a copy of s with e inserted. An existing connector of the
// same name keeps its position; a new one is appended.
func (s *snapshot) with(name string, e *entry) *snapshot {
	next := &snapshot{
		order:   make([]string, len(s.order), len(s.order)+1),
		entries: make(map[string]*entry, len(s.entries)+1),
	}
	copy(next.order, s.order)
	for k, v := range s.entries {
		next.entries[k] = v
	}
	if _, exists := next.entries[name]; !exists {
		next.order = append(next.order, name)
	}
	next.entries[name] = e
	return next
}

// without returns a copy of s with name removed.
func (s *snapshot) without(name string) *snapshot {
	next := &snapshot{
		order:   make([]string, 0, len(s.order)),
		entries: make(map[string]*entry, len(s.entries)),
	}
	for _, n := range s.order {
		if n != name {
			next.order = append(next.order, n)
			next.entries[n] = s.entries[n]
		}
	}
	return next
}

// Event describes a change in the set of loaded connectors.
type Event struct {
	Unit      string
	Loaded    bool  // true when the connector became available
	ToolCount int   // tools declared by a loaded connector
	Err       error // load failure, if any
}

// Observer is notified after each registry change, outside any lock.
type Observer func(Event)

// LoadReport summarizes a LoadAll pass.
type LoadReport struct {
	Loaded []string
	Failed map[string]error
	// Err is set when the source itself could not be enumerated.
	Err error
}

// Resolution identifies which connector serves a tool call.
type Resolution struct {
	Unit      string
	Tool      string // bare tool name passed to Execute
	Connector Connector
}

// UnitInfo is the operator view of one loaded connector.
type UnitInfo struct {
	Name      string         `json:"name"`
	ToolCount int            `json:"tools_count"`
	Tools     []string       `json:"tools"`
	Info      map[string]any `json:"manifest_info"`
}

// Registry holds the loaded connectors in registration order.
type Registry struct {
	source    Source
	factories *Factories
	logger    *slog.Logger

	mu       sync.Mutex // serializes writers
	current  atomic.Pointer[snapshot]
	observer Observer
}

// NewRegistry creates an empty registry reading manifests from source and
// constructors from factories.
func NewRegistry(source Source, factories *Factories, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		source:    source,
		factories: factories,
		logger:    logger.With("component", "connectors"),
	}
	r.current.Store(emptySnapshot())
	return r
}

// SetObserver installs a change observer. Call before loading.
func (r *Registry) SetObserver(fn Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = fn
}

// LoadAll loads every connector the source offers. A failing connector is
// logged and skipped; the others still load.
func (r *Registry) LoadAll(ctx context.Context) LoadReport {
	report := LoadReport{Failed: make(map[string]error)}

	names, err := r.source.Names()
	if err != nil {
		r.logger.Error("failed to enumerate connectors", "error", err)
		report.Err = err
		return report
	}

	for _, name := range names {
		if ctx.Err() != nil {
			report.Err = ctx.Err()
			break
		}
		if err := r.LoadOne(ctx, name); err != nil {
			report.Failed[name] = err
			continue
		}
		report.Loaded = append(report.Loaded, name)
	}

	r.logger.Info("connectors loaded",
		"loaded", len(report.Loaded),
		"failed", len(report.Failed),
		"total_tools", r.ToolCount(),
	)
	return report
}

// LoadOne constructs and registers a single connector, replacing any
// connector already registered under the same name.
func (r *Registry) LoadOne(ctx context.Context, name string) error {
	e, err := r.build(name)
	if err != nil {
		r.logger.Warn("failed to load connector", "connector", name, "error", err)
		r.notify(Event{Unit: name, Err: err})
		return err
	}

	r.mu.Lock()
	r.current.Store(r.current.Load().with(name, e))
	r.mu.Unlock()

	r.logger.Info("=== CONNECTOR LOADED ===",
		"connector", name,
		"tool_count", len(e.names),
		"tools", e.names,
	)
	r.notify(Event{Unit: name, Loaded: true, ToolCount: len(e.names)})
	return nil
}

// Reload removes the named connector and loads it again from its current
// manifest. If the load fails the connector stays unavailable until a later
// successful reload. A reloaded connector moves to the end of the order.
func (r *Registry) Reload(ctx context.Context, name string) error {
	r.Remove(name)

	if err := r.LoadOne(ctx, name); err != nil {
		r.logger.Warn("connector unavailable after failed reload", "connector", name, "error", err)
		return fmt.Errorf("reloading %s: %w", name, err)
	}
	return nil
}

// Remove unregisters a connector. Returns false if it was not loaded.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	cur := r.current.Load()
	if _, ok := cur.entries[name]; !ok {
		r.mu.Unlock()
		return false
	}
	r.current.Store(cur.without(name))
	r.mu.Unlock()

	r.logger.Info("connector removed", "connector", name)
	r.notify(Event{Unit: name, Loaded: false})
	return true
}

func (r *Registry) build(name string) (*entry, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	factory, ok := r.factories.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, name)
	}

	manifest, err := r.source.Manifest(name)
	if err != nil {
		return nil, err
	}

	conn, err := construct(factory, manifest)
	if err != nil {
		return nil, fmt.Errorf("constructing %s: %w", name, err)
	}
	if conn == nil {
		return nil, fmt.Errorf("%w: %s: factory returned nil", ErrUnitContractMissing, name)
	}
	if conn.Name() != name {
		return nil, fmt.Errorf("%w: %s: connector reports name %q", ErrUnitContractMissing, name, conn.Name())
	}

	tools := conn.Tools()
	e := &entry{
		conn:  conn,
		tools: make(map[string]struct{}, len(tools)),
		names: make([]string, 0, len(tools)),
	}
	for _, t := range tools {
		e.tools[t.Name] = struct{}{}
		e.names = append(e.names, t.Name)
	}
	return e, nil
}

// construct runs a factory, converting a panic into ErrUnitContractMissing.
func construct(factory Factory, m *Manifest) (conn Connector, err error) {
	defer func() {
		if p := recover(); p != nil {
			conn = nil
			err = fmt.Errorf("%w: factory panicked: %v", ErrUnitContractMissing, p)
		}
	}()
	return factory(m)
}

func (r *Registry) notify(ev Event) {
	r.mu.Lock()
	fn := r.observer
	r.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// GetAllTools returns the merged catalog: for each connector in registration
// order, its namespaced tools followed by its bare tools.
func (r *Registry) GetAllTools() []ToolDescriptor {
	snap := r.current.Load()
	var out []ToolDescriptor
	for _, name := range snap.order {
		conn := snap.entries[name].conn
		out = append(out, conn.NamespacedTools()...)
		out = append(out, conn.Tools()...)
	}
	return out
}

// Resolve finds the connector that serves a tool name. Namespaced names
// ("unit.tool") split on the first dot and require the connector to declare
// the tool. Bare names go to the first connector in registration order that
// declares them.
func (r *Registry) Resolve(toolName string) (Resolution, error) {
	snap := r.current.Load()

	if unit, tool, ok := strings.Cut(toolName, "."); ok {
		e, exists := snap.entries[unit]
		if !exists {
			return Resolution{}, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
		}
		if _, declared := e.tools[tool]; !declared {
			return Resolution{}, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
		}
		return Resolution{Unit: unit, Tool: tool, Connector: e.conn}, nil
	}

	for _, name := range snap.order {
		e := snap.entries[name]
		if _, declared := e.tools[toolName]; declared {
			return Resolution{Unit: name, Tool: toolName, Connector: e.conn}, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
}

// Execute resolves the tool and forwards the bare name to its connector.
func (r *Registry) Execute(ctx context.Context, toolName string, params map[string]any, auth AuthData) (map[string]any, error) {
	res, err := r.Resolve(toolName)
	if err != nil {
		return nil, err
	}
	return res.Connector.Execute(ctx, res.Tool, params, auth)
}

// Get returns the loaded connector with the given name, or nil.
func (r *Registry) Get(name string) Connector {
	if e, ok := r.current.Load().entries[name]; ok {
		return e.conn
	}
	return nil
}

// Units returns loaded connector names in registration order.
func (r *Registry) Units() []string {
	snap := r.current.Load()
	out := make([]string, len(snap.order))
	copy(out, snap.order)
	return out
}

// List returns per-connector info in registration order.
func (r *Registry) List() []UnitInfo {
	snap := r.current.Load()
	out := make([]UnitInfo, 0, len(snap.order))
	for _, name := range snap.order {
		e := snap.entries[name]
		names := make([]string, len(e.names))
		copy(names, e.names)
		out = append(out, UnitInfo{
			Name:      name,
			ToolCount: len(e.names),
			Tools:     names,
			Info:      e.conn.Manifest().Info(),
		})
	}
	return out
}

// Len returns the number of loaded connectors.
func (r *Registry) Len() int {
	return len(r.current.Load().order)
}

// ToolCount returns the number of distinct (connector, tool) pairs loaded.
func (r *Registry) ToolCount() int {
	n := 0
	for _, e := range r.current.Load().entries {
		n += len(e.names)
	}
	return n
}

// IsNotFound reports whether err means a tool or connector could not be found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrToolNotFound) || errors.Is(err, ErrUnitNotFound)
}
