// Package knowledge implements the behavior knowledge container: the
// per-instance runtime state of one agent's behavior tree, kept apart from
// the shared tree asset.
//
// A Knowledge owns three things while it is bound to a tree:
//
//   - a raw memory chunk, sized exactly to the tree's instance memory size and
//     subdivided by the tree's own offset table
//   - a relevance bitset with one bit per tree node, set while that node's
//     state in the memory chunk is constructed and valid
//   - a single blackboard value, typed by the tree's blackboard descriptor
//
// The execution scheduler sets a node's bit after constructing its state and
// is responsible for destroying the state when it clears the bit. Clearing a
// bit never destroys anything. FreeMemory is the only place the container
// itself runs node destructors, sweeping whatever bits are still set.
//
// A Knowledge is not safe for concurrent use. Exactly one tick may touch it
// at a time, and FreeMemory must never run while a tick is in progress.
package knowledge

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/relevance"
)

// debugKnowledge enables verbose lifecycle logging.
// Set BTK_DEBUG_KNOWLEDGE=1 to enable.
var debugKnowledge = os.Getenv("BTK_DEBUG_KNOWLEDGE") == "1"

// Knowledge is the behavior knowledge container. Construct with New; the
// container starts uninitialized.
type Knowledge struct {
	owner  Owner
	tree   Tree
	logger *slog.Logger

	memory     []byte
	relevant   *relevance.Bitset
	blackboard blackboard.Value
	// resources holds Go values owned by node state, keyed by node index,
	// which cannot live in the raw memory chunk.
	resources map[int]any
}

// Option configures a Knowledge.
type Option func(*Knowledge)

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Knowledge) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// New creates an uninitialized container. owner may be nil; it is only ever
// used for lookup and logging.
func New(owner Owner, opts ...Option) *Knowledge {
	k := &Knowledge{owner: owner, logger: slog.Default()}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Owner returns the owning component, without transferring ownership.
func (k *Knowledge) Owner() Owner { return k.owner }

// Tree returns the bound tree, nil when uninitialized.
func (k *Knowledge) Tree() Tree { return k.tree }

// Initialized reports whether the container is bound to a tree.
func (k *Knowledge) Initialized() bool { return k.tree != nil }

// InitMemory binds the container to tree, allocating a memory chunk of
// exactly tree.InstanceMemorySize() bytes, a relevance bitset of
// tree.NodeCount() clear bits and a default blackboard of the tree's
// declared type.
//
// It fails with ErrInvalidState if the container is already initialized,
// leaving that initialization untouched, and with ErrAssetNotReady if tree
// is nil or has no compiled layout, leaving the container uninitialized. A
// tree implementing Binder is bound before anything is allocated, and a
// refused Bind also leaves the container uninitialized.
func (k *Knowledge) InitMemory(tree Tree) error {
	if k.tree != nil {
		return fmt.Errorf("%w: already initialized for tree %q", ErrInvalidState, k.tree.Name())
	}
	if tree == nil {
		return fmt.Errorf("%w: nil tree", ErrAssetNotReady)
	}
	if !tree.Ready() {
		return fmt.Errorf("%w: tree %q has no compiled layout", ErrAssetNotReady, tree.Name())
	}
	size, nodes := tree.InstanceMemorySize(), tree.NodeCount()
	if size < 0 || nodes < 0 {
		return fmt.Errorf("%w: tree %q reports size=%d nodes=%d", ErrAssetNotReady, tree.Name(), size, nodes)
	}
	if b, ok := tree.(Binder); ok {
		if err := b.Bind(k, nodes, size); err != nil {
			return fmt.Errorf("bind tree %q: %w", tree.Name(), err)
		}
	}

	k.memory = make([]byte, size)
	k.relevant = relevance.New(nodes)
	k.blackboard = tree.BlackboardType().Zero()
	k.resources = make(map[int]any)
	k.tree = tree

	if debugKnowledge {
		k.logger.Debug("knowledge initialized",
			"owner", k.ownerID(),
			"tree", tree.Name(),
			"memory", size,
			"nodes", nodes,
			"blackboard", tree.BlackboardType().String())
	}
	return nil
}

// FreeMemory releases everything the container owns. The destruction
// callback is invoked for every node whose relevance bit is still set, in
// ascending node order, and the bit is cleared; resources left behind are
// closed and dropped; then the memory chunk, bitset and blackboard are
// released and the tree reference cleared.
//
// FreeMemory is idempotent: on an uninitialized container it does nothing.
// Any slices previously obtained from Memory, NodeMemory or NodeState are
// invalid afterwards.
func (k *Knowledge) FreeMemory() {
	tree := k.tree
	if tree == nil {
		return
	}

	released := 0
	k.relevant.Each(func(i int) bool {
		k.releaseNode(tree, i)
		_ = k.relevant.Clear(i)
		released++
		return true
	})

	for i, r := range k.resources {
		k.closeResource(i, r)
	}

	if b, ok := tree.(Binder); ok {
		b.Unbind(k)
	}
	k.memory = nil
	k.relevant = nil
	k.blackboard = blackboard.Value{}
	k.resources = nil
	k.tree = nil

	if debugKnowledge {
		k.logger.Debug("knowledge released",
			"owner", k.ownerID(),
			"tree", tree.Name(),
			"releasedNodes", released)
	}
}

// releaseNode runs the tree's destructor for node i, containing panics so
// that one faulty node cannot leak the rest of the chunk.
func (k *Knowledge) releaseNode(tree Tree, i int) {
	defer func() {
		if r := recover(); r != nil {
			k.logger.Error("node state destructor panicked",
				"owner", k.ownerID(),
				"tree", tree.Name(),
				"node", i,
				"panic", r)
		}
	}()
	state, err := k.NodeState(i)
	if err != nil {
		k.logger.Error("cannot release node state", "tree", tree.Name(), "node", i, "error", err)
		return
	}
	tree.ReleaseNodeState(state)
}

func (k *Knowledge) closeResource(i int, r any) {
	delete(k.resources, i)
	c, ok := r.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		k.logger.Warn("failed to close node resource", "owner", k.ownerID(), "node", i, "error", err)
	}
}

// Close releases the container, see FreeMemory. It always returns nil.
func (k *Knowledge) Close() error {
	k.FreeMemory()
	return nil
}

// Memory returns the whole memory chunk, nil when uninitialized.
func (k *Knowledge) Memory() []byte { return k.memory }

// MemorySize returns the length of the memory chunk.
func (k *Knowledge) MemorySize() int { return len(k.memory) }

// MemoryRange returns n bytes of the chunk starting at offset.
func (k *Knowledge) MemoryRange(offset, n int) ([]byte, error) {
	if k.tree == nil {
		return nil, fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	if offset < 0 || n < 0 || offset > len(k.memory)-n {
		return nil, fmt.Errorf("%w: range [%d, %d+%d) outside memory of %d bytes", ErrIndexOutOfRange, offset, offset, n, len(k.memory))
	}
	return k.memory[offset : offset+n : offset+n], nil
}

// NodeMemory returns the region of the chunk the tree assigns to node i.
// The slice's capacity is clipped to the region.
func (k *Knowledge) NodeMemory(i int) ([]byte, error) {
	if k.tree == nil {
		return nil, fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	if i < 0 || i >= k.relevant.Len() {
		return nil, fmt.Errorf("%w: node %d not in [0, %d)", ErrIndexOutOfRange, i, k.relevant.Len())
	}
	offset, size, ok := k.tree.NodeRegion(i)
	if !ok {
		return nil, fmt.Errorf("%w: tree %q has no region for node %d", ErrIndexOutOfRange, k.tree.Name(), i)
	}
	return k.MemoryRange(offset, size)
}

// SetRelevant marks node i's state as constructed and valid.
func (k *Knowledge) SetRelevant(i int) error {
	if k.tree == nil {
		return fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	return k.relevant.Set(i)
}

// ClearRelevant marks node i's state as destroyed. The caller must already
// have destroyed it (or be doing so); the container does not.
func (k *Knowledge) ClearRelevant(i int) error {
	if k.tree == nil {
		return fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	return k.relevant.Clear(i)
}

// IsRelevant reports whether node i currently has live state.
func (k *Knowledge) IsRelevant(i int) (bool, error) {
	if k.tree == nil {
		return false, fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	return k.relevant.Test(i)
}

// RelevantLen returns the length of the relevance bitset, equal to the
// bound tree's node count, or zero when uninitialized.
func (k *Knowledge) RelevantLen() int { return k.relevant.Len() }

// RelevantCount returns the number of nodes with live state.
func (k *Knowledge) RelevantCount() int { return k.relevant.Count() }

// EachRelevant calls fn for each relevant node in ascending order until fn
// returns false. fn may clear the bit it is called with.
func (k *Knowledge) EachRelevant(fn func(i int) bool) { k.relevant.Each(fn) }

// Blackboard returns an independent copy of the blackboard value.
func (k *Knowledge) Blackboard() blackboard.Value { return k.blackboard.Clone() }

// SetBlackboard replaces the blackboard. v must have exactly the bound
// tree's declared blackboard type; otherwise ErrTypeMismatch is returned and
// the previous value is kept.
func (k *Knowledge) SetBlackboard(v blackboard.Value) error {
	if k.tree == nil {
		return fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	want := k.tree.BlackboardType()
	if !want.Equal(v.Type()) {
		return fmt.Errorf("%w: tree %q declares %s, got %s", ErrTypeMismatch, k.tree.Name(), want, v.Type())
	}
	k.blackboard = v.Clone()
	return nil
}

// BlackboardGet reads a blackboard field by key.
func (k *Knowledge) BlackboardGet(key string) (blackboard.Value, error) {
	if k.tree == nil {
		return blackboard.Value{}, fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	return k.blackboard.Get(key)
}

// BlackboardSet writes a blackboard field by key, see blackboard.Value.Set.
func (k *Knowledge) BlackboardSet(key string, v blackboard.Value) error {
	if k.tree == nil {
		return fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	return k.blackboard.Set(key, v)
}

// BlackboardSetAny converts x to the declared type of the field key, using
// blackboard.Convert, and writes it.
func (k *Knowledge) BlackboardSetAny(key string, x any) error {
	if k.tree == nil {
		return fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	t := k.blackboard.Type()
	i, ok := t.FieldIndex(key)
	if !ok {
		return fmt.Errorf("%w: %q", blackboard.ErrUnknownKey, key)
	}
	v, err := blackboard.Convert(t.Field(i).Type, x)
	if err != nil {
		return fmt.Errorf("blackboard field %q: %w", key, err)
	}
	return k.blackboard.SetIndex(i, v)
}

// BlackboardEnv returns the blackboard as plain Go data, for expression
// environments. Non-struct blackboards are exposed under the key "value".
func (k *Knowledge) BlackboardEnv() map[string]any {
	switch x := k.blackboard.Interface().(type) {
	case map[string]any:
		return x
	case nil:
		return map[string]any{}
	default:
		return map[string]any{"value": x}
	}
}

func (k *Knowledge) ownerID() string {
	if k.owner == nil {
		return ""
	}
	return k.owner.ID()
}
