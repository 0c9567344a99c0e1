// Package asset implements the shared behavior tree asset: the authored node
// hierarchy, its compiled node types and the instance memory layout that
// knowledge containers are sized from.
//
// A Tree is immutable while bound. Compile is refused with ErrTreeBound as
// long as any container is initialized against it, so a layout can never
// change under live instance memory.
package asset

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	"gopkg.in/yaml.v3"
)

// Alignment of every node's state within the instance memory chunk.
const Alignment = 8

// Node is one compiled node.
type Node struct {
	Index    int
	Name     string
	Kind     string
	Def      *NodeDef
	Type     NodeType
	Parent   int
	Children []int
	Offset   int
	Size     int
}

// Tree is a compiled tree asset. It implements knowledge.Tree and
// knowledge.Binder.
type Tree struct {
	def    *Definition
	bbType *blackboard.Type

	mu    sync.RWMutex
	nodes []Node
	size  int
	ready bool
	bound map[*knowledge.Knowledge]struct{}
}

var (
	_ knowledge.Tree   = (*Tree)(nil)
	_ knowledge.Binder = (*Tree)(nil)
)

// New validates def and resolves its blackboard type. The tree is not ready
// until compiled.
func New(def *Definition) (*Tree, error) {
	if def == nil || def.Root == nil {
		return nil, fmt.Errorf("%w: missing root node", ErrInvalidDefinition)
	}
	if err := validateNode(def.Root, "root"); err != nil {
		return nil, err
	}
	bbType, err := def.Blackboard.BuildType()
	if err != nil {
		return nil, fmt.Errorf("tree %q blackboard: %w", def.Name, err)
	}
	return &Tree{
		def:    def,
		bbType: bbType,
		bound:  make(map[*knowledge.Knowledge]struct{}),
	}, nil
}

func validateNode(d *NodeDef, path string) error {
	if d == nil {
		return fmt.Errorf("%w: nil node at %s", ErrInvalidDefinition, path)
	}
	if d.Kind == "" {
		return fmt.Errorf("%w: node at %s has no kind", ErrInvalidDefinition, path)
	}
	for i, c := range d.Children {
		if err := validateNode(c, fmt.Sprintf("%s/%d", path, i)); err != nil {
			return err
		}
	}
	return nil
}

// Load decodes a YAML definition. Unknown keys are rejected.
func Load(r io.Reader) (*Tree, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}
	return New(&def)
}

// LoadFile is Load for a file, naming the tree after the path if the
// definition does not.
func LoadFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if t.def.Name == "" {
		t.def.Name = path
	}
	return t, nil
}

// Compile builds every node's type from reg and lays out the instance
// memory: nodes in depth-first preorder, each state at the next Alignment
// boundary. Compile may be repeated while no container is bound.
func (t *Tree) Compile(reg *Registry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n := len(t.bound); n > 0 {
		return fmt.Errorf("%w: %q has %d bound containers", ErrTreeBound, t.def.Name, n)
	}

	var (
		nodes  []Node
		cursor int
	)
	var walk func(d *NodeDef, parent int) (int, error)
	walk = func(d *NodeDef, parent int) (int, error) {
		factory, ok := reg.Lookup(d.Kind)
		if !ok {
			return 0, fmt.Errorf("%w: %q (node %q)", ErrUnknownKind, d.Kind, d.DisplayName())
		}
		nt, err := factory(d, t.bbType)
		if err != nil {
			return 0, fmt.Errorf("node %q: %w", d.DisplayName(), err)
		}
		size := nt.StateSize()
		if size < 0 {
			return 0, fmt.Errorf("%w: node %q state size %d", ErrInvalidDefinition, d.DisplayName(), size)
		}
		index := len(nodes)
		offset := align(cursor)
		cursor = offset + size
		nodes = append(nodes, Node{
			Index:  index,
			Name:   d.DisplayName(),
			Kind:   d.Kind,
			Def:    d,
			Type:   nt,
			Parent: parent,
			Offset: offset,
			Size:   size,
		})
		for _, c := range d.Children {
			ci, err := walk(c, index)
			if err != nil {
				return 0, err
			}
			nodes[index].Children = append(nodes[index].Children, ci)
		}
		return index, nil
	}
	if _, err := walk(t.def.Root, -1); err != nil {
		return err
	}

	t.nodes = nodes
	t.size = align(cursor)
	t.ready = true
	return nil
}

func align(n int) int {
	return (n + Alignment - 1) &^ (Alignment - 1)
}

func (t *Tree) Name() string { return t.def.Name }

// Definition returns the authored definition. It must not be modified.
func (t *Tree) Definition() *Definition { return t.def }

func (t *Tree) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

func (t *Tree) NodeCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

func (t *Tree) InstanceMemorySize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

func (t *Tree) BlackboardType() *blackboard.Type { return t.bbType }

func (t *Tree) NodeRegion(i int) (offset, size int, ok bool) {
	n, ok := t.Node(i)
	if !ok {
		return 0, 0, false
	}
	return n.Offset, n.Size, true
}

// Node returns the compiled node at index i. The returned Children slice
// must not be modified.
func (t *Tree) Node(i int) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.nodes) {
		return Node{}, false
	}
	return t.nodes[i], true
}

// Root returns the root node, false before Compile.
func (t *Tree) Root() (Node, bool) { return t.Node(0) }

// ReleaseNodeState dispatches to the node type's destructor.
func (t *Tree) ReleaseNodeState(state knowledge.NodeState) {
	n, ok := t.Node(state.Index())
	if !ok {
		return
	}
	n.Type.ReleaseState(state)
}

// Bind records k as initialized against the tree. It fails if the tree was
// recompiled to a different layout since k read nodes and size.
func (t *Tree) Bind(k *knowledge.Knowledge, nodes, size int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready || len(t.nodes) != nodes || t.size != size {
		return fmt.Errorf("%w: %q layout changed to %d nodes, %d bytes", knowledge.ErrAssetNotReady, t.def.Name, len(t.nodes), t.size)
	}
	t.bound[k] = struct{}{}
	return nil
}

func (t *Tree) Unbind(k *knowledge.Knowledge) {
	t.mu.Lock()
	delete(t.bound, k)
	t.mu.Unlock()
}

// Bound returns the number of containers initialized against the tree.
func (t *Tree) Bound() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.bound)
}
