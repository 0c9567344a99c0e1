package asset

import (
	"fmt"
	"slices"
	"sync"

	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
)

// NodeType is the compiled, shared part of a node: everything but the
// per-instance state, which lives in a knowledge container.
type NodeType interface {
	Kind() string
	// StateSize is the number of bytes the node needs in the instance
	// memory chunk. Zero is valid.
	StateSize() int
	// ReleaseState destroys the node's state. It is called by whoever
	// clears the node's relevance bit, and by knowledge.FreeMemory for
	// bits still set.
	ReleaseState(state knowledge.NodeState)
}

// Factory compiles one node definition. bb is the tree's blackboard type,
// possibly nil.
type Factory func(def *NodeDef, bb *blackboard.Type) (NodeType, error)

// Registry maps node kinds to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory, failing with ErrDuplicateKind if kind is taken.
func (r *Registry) Register(kind string, f Factory) error {
	if kind == "" || f == nil {
		return fmt.Errorf("%w: empty kind or nil factory", ErrInvalidDefinition)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[kind]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKind, kind)
	}
	r.factories[kind] = f
	return nil
}

// MustRegister is Register, panicking on error.
func (r *Registry) MustRegister(kind string, f Factory) {
	if err := r.Register(kind, f); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(kind string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[kind]
	return f, ok
}

// Kinds lists the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
