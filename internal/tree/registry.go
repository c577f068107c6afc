package tree

import (
	"sync"

	"github.com/weftui/weft/internal/log"
)

// Factory materializes one rendered node into something the host can
// display. Children are materialized before their parent and passed in
// order.
type Factory func(n *Rendered, children []any) (any, error)

// ComponentRegistry is the pluggable type-to-component lookup. An unknown
// type is logged and rendered absent; it never fails materialization of
// the rest of the tree.
type ComponentRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *log.Logger
}

// NewComponentRegistry creates an empty registry.
func NewComponentRegistry(logger *log.Logger) *ComponentRegistry {
	if logger == nil {
		logger = log.Discard()
	}
	return &ComponentRegistry{
		factories: make(map[string]Factory),
		logger:    logger,
	}
}

// Register maps a node type to a factory. A later registration for the
// same type replaces the earlier one.
func (cr *ComponentRegistry) Register(nodeType string, f Factory) {
	cr.mu.Lock()
	defer cr.mu.Unlock()
	cr.factories[nodeType] = f
}

// Lookup returns the factory for nodeType, or nil with ok=false.
func (cr *ComponentRegistry) Lookup(nodeType string) (Factory, bool) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	f, ok := cr.factories[nodeType]
	return f, ok
}

// Materialize builds host components for a rendered tree, depth first.
// Unknown types and factory errors drop that subtree with a log line; the
// host never crashes from a bad component.
func (cr *ComponentRegistry) Materialize(n *Rendered) any {
	if n == nil {
		return nil
	}

	children := make([]any, 0, len(n.Children))
	for _, child := range n.Children {
		if c := cr.Materialize(child); c != nil {
			children = append(children, c)
		}
	}

	f, ok := cr.Lookup(n.Type)
	if !ok {
		cr.logger.Warn("unknown component type %q for node %d", n.Type, n.ID)
		return nil
	}
	c, err := f(n, children)
	if err != nil {
		cr.logger.Warn("materializing %q node %d: %v", n.Type, n.ID, err)
		return nil
	}
	return c
}
