// ABOUTME: Explicit registration table mapping connector names to constructors.
// ABOUTME: Replaces runtime type discovery; connectors register themselves at startup.

package connector

import (
	"fmt"
	"sync"
)

// Factory constructs a connector from its loaded manifest.
type Factory func(m *Manifest) (Connector, error)

// Factories is a thread-safe name -> Factory table.
type Factories struct {
	mu    sync.RWMutex
	byKey map[string]Factory
	order []string
}

// NewFactories creates an empty registration table.
func NewFactories() *Factories {
	return &Factories{byKey: make(map[string]Factory)}
}

// Register adds a constructor under name.
// Returns ErrFactoryExists if the name is taken.
func (f *Factories) Register(name string, factory Factory) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("%w: nil factory for %s", ErrUnitContractMissing, name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.byKey[name]; exists {
		return fmt.Errorf("%w: %s", ErrFactoryExists, name)
	}
	f.byKey[name] = factory
	f.order = append(f.order, name)
	return nil
}

// Lookup returns the constructor registered under name.
func (f *Factories) Lookup(name string) (Factory, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	factory, ok := f.byKey[name]
	return factory, ok
}

// Names returns registered names in registration order.
func (f *Factories) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}
