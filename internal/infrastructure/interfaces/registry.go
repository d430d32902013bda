package interfaces

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/ports"
	pkgerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

// Registry implements ports.InterfaceRegistry with an in-memory map keyed by interface name.
type Registry struct {
	mu         sync.RWMutex
	interfaces map[string]ports.Interface
}

// NewRegistry creates an empty interface registry.
func NewRegistry() *Registry {
	return &Registry{interfaces: make(map[string]ports.Interface)}
}

// NewDefaultRegistry returns a registry holding every built-in interface.
func NewDefaultRegistry() *Registry {
	reg := NewRegistry()
	for _, iface := range Builtins() {
		// Builtins have unique, non-empty names.
		_ = reg.Register(iface)
	}
	return reg
}

// Register stores an interface implementation keyed by its name.
func (r *Registry) Register(iface ports.Interface) error {
	if iface == nil {
		return pkgerrors.NewInterfaceError("", fmt.Errorf("interface is nil"))
	}
	name := iface.Name()
	if name == "" {
		return pkgerrors.NewInterfaceError("", fmt.Errorf("interface name is required"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.interfaces[name]; exists {
		return pkgerrors.NewInterfaceError(name, fmt.Errorf("interface %q already registered", name))
	}
	r.interfaces[name] = iface
	return nil
}

// Get returns the interface registered under name.
func (r *Registry) Get(name string) (ports.Interface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	iface, ok := r.interfaces[name]
	if !ok {
		return nil, &workflow.DomainError{
			Code:    workflow.ErrCodeNotFound,
			Message: "interface not registered",
			Context: map[string]interface{}{"interface": name},
		}
	}
	return iface, nil
}

// List returns all registered interfaces sorted by name.
func (r *Registry) List() []ports.Interface {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.interfaces))
	for name := range r.interfaces {
		names = append(names, name)
	}
	sort.Strings(names)

	result := make([]ports.Interface, 0, len(names))
	for _, name := range names {
		result = append(result, r.interfaces[name])
	}
	return result
}

// Describe returns the boilerplate text for node, or the empty string when
// its interface is unknown or contributes no text.
func (r *Registry) Describe(node *workflow.Node) string {
	iface, err := r.Get(node.Interface)
	if err != nil {
		return ""
	}
	if d, ok := iface.(ports.Describer); ok {
		return d.Describe(node)
	}
	return ""
}

var _ ports.InterfaceRegistry = (*Registry)(nil)
