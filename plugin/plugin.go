// Package plugin implements the ordered chain of event transformations
// applied between consumption and policy evaluation.
//
// Plugins are looked up either by a short built-in name or by a reference of
// the form "<module path>:<Name>". References resolve against a catalog
// populated at init time with Register, so every loadable plugin is compiled
// into the binary.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gurre/rtap/event"
)

// Plugin transforms one event into another. Implementations must be pure.
type Plugin interface {
	Name() string
	Process(e event.Event) event.Event
}

// Factory builds a new Plugin instance.
type Factory func() Plugin

// ErrPluginNotFound is matched by every *PluginNotFoundError.
var ErrPluginNotFound = errors.New("plugin not found")

// PluginNotFoundError reports a built-in name or catalog reference that
// could not be resolved.
type PluginNotFoundError struct {
	Name    string
	Builtin bool
}

func (e *PluginNotFoundError) Error() string {
	if e.Builtin {
		return fmt.Sprintf("unknown builtin plugin: %s", e.Name)
	}
	return fmt.Sprintf("unresolvable plugin reference: %s", e.Name)
}

// Unwrap lets errors.Is match ErrPluginNotFound.
func (e *PluginNotFoundError) Unwrap() error {
	return ErrPluginNotFound
}

var (
	catalogMu sync.RWMutex
	catalog   = map[string]Factory{}
)

// Register adds a plugin factory to the reference catalog. It panics on a
// duplicate reference, like other init-time registries.
func Register(ref string, f Factory) {
	catalogMu.Lock()
	defer catalogMu.Unlock()
	if _, dup := catalog[ref]; dup {
		panic("plugin: Register called twice for " + ref)
	}
	catalog[ref] = f
}

// References lists the registered catalog references in sorted order.
func References() []string {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	refs := make([]string, 0, len(catalog))
	for ref := range catalog {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

func lookup(ref string) (Factory, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	f, ok := catalog[ref]
	return f, ok
}

// Registry is an ordered plugin chain.
type Registry struct {
	plugins []Plugin
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends p to the chain.
func (r *Registry) Register(p Plugin) {
	r.plugins = append(r.plugins, p)
}

// RegisterBuiltin appends the named built-in plugins in order. It stops at
// the first unknown name and leaves the plugins registered before it.
func (r *Registry) RegisterBuiltin(names ...string) error {
	for _, name := range names {
		f, ok := builtins[name]
		if !ok {
			return &PluginNotFoundError{Name: name, Builtin: true}
		}
		r.Register(f())
	}
	return nil
}

// RegisterRef resolves ref in the catalog and appends the plugin.
func (r *Registry) RegisterRef(ref string) error {
	f, ok := lookup(ref)
	if !ok {
		return &PluginNotFoundError{Name: ref}
	}
	r.Register(f())
	return nil
}

// ProcessAll runs e through every plugin in registration order.
func (r *Registry) ProcessAll(e event.Event) event.Event {
	for _, p := range r.plugins {
		e = p.Process(e)
	}
	return e
}

// Names returns the plugin names in chain order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		names[i] = p.Name()
	}
	return names
}

// Len returns the number of plugins in the chain.
func (r *Registry) Len() int {
	return len(r.plugins)
}
