package knowledge

import (
	"fmt"

	"github.com/dop251/goja"
	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
)

// NodeState is a view of one node's state inside a Knowledge: its region of
// the memory chunk plus at most one owned Go resource. It is only valid while
// the node is relevant and the container stays initialized.
type NodeState struct {
	knowledge *Knowledge
	index     int
	memory    []byte
}

// NodeState returns the state view of node i.
func (k *Knowledge) NodeState(i int) (NodeState, error) {
	mem, err := k.NodeMemory(i)
	if err != nil {
		return NodeState{}, err
	}
	return NodeState{knowledge: k, index: i, memory: mem}, nil
}

// Knowledge returns the container the state lives in.
func (s NodeState) Knowledge() *Knowledge { return s.knowledge }

// Index returns the node index.
func (s NodeState) Index() int { return s.index }

// Memory returns the node's region of the memory chunk.
func (s NodeState) Memory() []byte { return s.memory }

// Resource returns the Go resource owned by the node state, if any.
func (s NodeState) Resource() any {
	if s.knowledge == nil {
		return nil
	}
	return s.knowledge.resources[s.index]
}

// SetResource stores r as the node's owned resource, replacing any previous
// one without closing it. If the node is still holding a resource when the
// container is freed, and that resource implements io.Closer, it is closed.
func (s NodeState) SetResource(r any) error {
	if s.knowledge == nil || s.knowledge.resources == nil {
		return fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	if r == nil {
		delete(s.knowledge.resources, s.index)
		return nil
	}
	s.knowledge.resources[s.index] = r
	return nil
}

// TakeResource removes and returns the node's owned resource, transferring
// its release to the caller.
func (s NodeState) TakeResource() any {
	if s.knowledge == nil || s.knowledge.resources == nil {
		return nil
	}
	r, ok := s.knowledge.resources[s.index]
	if ok {
		delete(s.knowledge.resources, s.index)
	}
	return r
}

// ExposeBlackboardToJS exposes the live blackboard to a script runtime, see
// blackboard.ExposeToJS. The returned object must be dropped before the
// container is freed.
func (k *Knowledge) ExposeBlackboardToJS(vm *goja.Runtime) (goja.Value, error) {
	if k.tree == nil {
		return nil, fmt.Errorf("%w: not initialized", ErrInvalidState)
	}
	if k.blackboard.Kind() != blackboard.KindStruct {
		return nil, fmt.Errorf("%w: tree %q blackboard is %s, not a struct", ErrTypeMismatch, k.tree.Name(), k.blackboard.Type())
	}
	return blackboard.ExposeToJS(vm, &k.blackboard), nil
}
