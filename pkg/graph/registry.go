package graph

import (
	"context"
	"fmt"
	"sort"
)

// NodeFunc is the uniform node signature: it receives a read-only snapshot
// of the session state and returns either a partial update or a typed error
// signal. Node functions must honor context cancellation; the executor
// enforces the per-node timeout through the context deadline.
type NodeFunc func(ctx context.Context, st *State) (*Update, error)

// RegistryBuilder collects named node functions at graph-build time.
type RegistryBuilder struct {
	nodes map[string]NodeFunc
}

// NewRegistryBuilder creates an empty registry builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{nodes: make(map[string]NodeFunc)}
}

// Register adds a named node function. Registering two nodes under the same
// name fails with a duplicate-node configuration error.
func (b *RegistryBuilder) Register(name string, fn NodeFunc) error {
	if name == "" {
		return NewConfigError(KindFatalConfiguration, "node name must not be empty")
	}
	if fn == nil {
		return NewConfigError(KindFatalConfiguration, fmt.Sprintf("node %q has nil function", name))
	}
	if _, exists := b.nodes[name]; exists {
		return NewConfigError(KindDuplicateNode, fmt.Sprintf("node %q registered twice", name))
	}
	b.nodes[name] = fn
	return nil
}

// Build compiles the registered nodes into an immutable registry. The
// builder must not be reused afterwards.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if len(b.nodes) == 0 {
		return nil, NewConfigError(KindFatalConfiguration, "registry has no nodes")
	}
	nodes := make(map[string]NodeFunc, len(b.nodes))
	names := make([]string, 0, len(b.nodes))
	for name, fn := range b.nodes {
		nodes[name] = fn
		names = append(names, name)
	}
	sort.Strings(names)
	return &Registry{nodes: nodes, names: names}, nil
}

// Registry is the compiled, immutable mapping from node name to node
// function. It is read-only after Build and safe for concurrent use
// without locking.
type Registry struct {
	nodes map[string]NodeFunc
	names []string
}

// Lookup returns the node function for a name.
func (r *Registry) Lookup(name string) (NodeFunc, bool) {
	fn, ok := r.nodes[name]
	return fn, ok
}

// Has reports whether a node name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.nodes[name]
	return ok
}

// Names returns all registered node names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}
