// Package registry is the adapter registry (C4): name-to-constructor maps
// for source and sink kinds, built once at process start and frozen
// read-only before the control plane starts serving requests.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/saadactin/migrator/pkg/migerr"
	"github.com/saadactin/migrator/pkg/sink"
	"github.com/saadactin/migrator/pkg/source"
)

// Registry holds the process-wide source and sink constructor maps.
// Registration takes the write lock and lookups take the read lock; after
// Freeze no further registration is accepted, so the maps are read-only
// from then on.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]source.Constructor
	sinks    map[string]sink.Constructor
	frozen   bool
}

// New returns an empty, unfrozen Registry.
func New() *Registry {
	return &Registry{
		sources: make(map[string]source.Constructor),
		sinks:   make(map[string]sink.Constructor),
	}
}

// RegisterSource adds a source constructor under kind. Panics if called
// after Freeze — registration is a process-startup concern, not a runtime
// one.
func (r *Registry) RegisterSource(kind string, ctor source.Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("registry: RegisterSource(%q) after Freeze", kind))
	}
	r.sources[kind] = ctor
}

// RegisterSink adds a sink constructor under kind. Panics if called after
// Freeze.
func (r *Registry) RegisterSink(kind string, ctor sink.Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("registry: RegisterSink(%q) after Freeze", kind))
	}
	r.sinks[kind] = ctor
}

// Freeze marks the registry read-only. Called once from main after every
// adapter kind has registered.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// NewSource constructs a source adapter for kind using its config.
func (r *Registry) NewSource(kind string, config map[string]interface{}) (source.Adapter, error) {
	r.mu.RLock()
	ctor, ok := r.sources[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("source kind %q: %w", kind, migerr.ErrUnknownAdapter)
	}
	return ctor(config)
}

// NewSink constructs a sink adapter for kind using its config.
func (r *Registry) NewSink(kind string, config map[string]interface{}) (sink.Adapter, error) {
	r.mu.RLock()
	ctor, ok := r.sinks[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sink kind %q: %w", kind, migerr.ErrUnknownAdapter)
	}
	return ctor(config)
}

// ListSources returns every registered source kind, sorted.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for k := range r.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ListSinks returns every registered sink kind, sorted.
func (r *Registry) ListSinks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sinks))
	for k := range r.sinks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
