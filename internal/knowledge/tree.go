package knowledge

import (
	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
)

// Tree is the view of a behavior tree asset that a Knowledge consumes. The
// asset is shared between any number of containers and must not change its
// layout while one of them is bound to it.
type Tree interface {
	// Name identifies the asset in logs and snapshots.
	Name() string
	// Ready reports whether the asset has a compiled memory layout.
	Ready() bool
	// NodeCount is the number of nodes, one relevance bit each.
	NodeCount() int
	// InstanceMemorySize is the byte size of the per-instance memory chunk.
	InstanceMemorySize() int
	// BlackboardType is the declared blackboard shape, nil for none.
	BlackboardType() *blackboard.Type
	// NodeRegion returns the region of the memory chunk owned by node i.
	NodeRegion(i int) (offset, size int, ok bool)
	// ReleaseNodeState is the destruction callback for node state. It is
	// invoked with a view of a relevant node, and must release anything the
	// node's state owns.
	ReleaseNodeState(state NodeState)
}

// Binder is optionally implemented by a Tree that tracks the containers
// bound to it, so it can refuse layout changes while any are. Bind must
// fail, wrapping ErrAssetNotReady, when the layout no longer has the node
// count and memory size the container was sized from.
type Binder interface {
	Bind(k *Knowledge, nodes, size int) error
	Unbind(k *Knowledge)
}

// Owner is the component a Knowledge belongs to.
type Owner interface {
	ID() string
}
