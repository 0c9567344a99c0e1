package behavior

import (
	"errors"
	"fmt"

	"github.com/joeycumines/behavior-knowledge/internal/asset"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	"github.com/joeycumines/behavior-knowledge/internal/relevance"
	bt "github.com/joeycumines/go-behaviortree"
)

// ErrNotExecutable is returned when a tree contains a node type that does
// not implement Executable.
var ErrNotExecutable = errors.New("behavior: node type is not executable")

// ErrNodePanic wraps a panic raised by a node's InitState or Tick. The node
// is released and the error ends the logic like any other tick error.
var ErrNodePanic = errors.New("behavior: node panicked")

// scheduler drives one knowledge container through a tree. It owns node
// state construction and destruction for the duration of a logic run.
type scheduler struct {
	tree  *asset.Tree
	k     *knowledge.Knowledge
	exec  []Executable
	names []string
	root  bt.Node
	// touched records the nodes ticked during the current root tick.
	touched *relevance.Bitset
	ctx     *TickContext
}

func newScheduler(tree *asset.Tree, k *knowledge.Knowledge, ctx *TickContext) (*scheduler, error) {
	n := tree.NodeCount()
	s := &scheduler{
		tree:    tree,
		k:       k,
		exec:    make([]Executable, n),
		names:   make([]string, n),
		touched: relevance.New(n),
		ctx:     ctx,
	}
	for i := range n {
		node, _ := tree.Node(i)
		e, ok := node.Type.(Executable)
		if !ok {
			return nil, fmt.Errorf("%w: node %q kind %q", ErrNotExecutable, node.Name, node.Kind)
		}
		s.exec[i] = e
		s.names[i] = node.Name
	}
	if n > 0 {
		s.root = s.build(0)
	}
	return s, nil
}

func (s *scheduler) build(i int) bt.Node {
	node, _ := s.tree.Node(i)
	children := make([]bt.Node, len(node.Children))
	for j, c := range node.Children {
		children[j] = s.build(c)
	}
	return bt.New(func(children []bt.Node) (bt.Status, error) {
		return s.tickNode(i, children)
	}, children...)
}

func (s *scheduler) tickNode(i int, children []bt.Node) (bt.Status, error) {
	_ = s.touched.Set(i)
	state, err := s.k.NodeState(i)
	if err != nil {
		return bt.Failure, err
	}
	relevant, err := s.k.IsRelevant(i)
	if err != nil {
		return bt.Failure, err
	}
	exec := s.exec[i]

	prev := s.ctx.Node
	s.ctx.Node = i
	defer func() { s.ctx.Node = prev }()

	if !relevant {
		clear(state.Memory())
		if err := s.initNode(exec, state); err != nil {
			return bt.Failure, fmt.Errorf("node %q init: %w", s.names[i], err)
		}
		if err := s.k.SetRelevant(i); err != nil {
			return bt.Failure, err
		}
	}

	status, err := s.tickExec(exec, state, children)
	if err != nil || status != bt.Running {
		s.release(i)
	}
	if err != nil {
		return bt.Failure, fmt.Errorf("node %q: %w", s.names[i], err)
	}
	return status, nil
}

func (s *scheduler) initNode(exec Executable, state knowledge.NodeState) (err error) {
	defer recoverNode(&err)
	return exec.InitState(s.ctx, state)
}

func (s *scheduler) tickExec(exec Executable, state knowledge.NodeState, children []bt.Node) (_ bt.Status, err error) {
	defer recoverNode(&err)
	return exec.Tick(s.ctx, state, children)
}

func recoverNode(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrNodePanic, r)
	}
}

// release destroys node i's state and clears its bit, in that order.
func (s *scheduler) release(i int) {
	state, err := s.k.NodeState(i)
	if err != nil {
		return
	}
	if relevant, _ := s.k.IsRelevant(i); !relevant {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.ctx.Logger.Error("node state destructor panicked", "node", s.names[i], "panic", r)
		}
		_ = s.k.ClearRelevant(i)
	}()
	s.exec[i].ReleaseState(state)
}

// tick runs one pass from the root, then aborts every node that still holds
// state but was not reached during the pass.
func (s *scheduler) tick() (bt.Status, error) {
	if s.root == nil {
		return bt.Success, nil
	}
	status, err := s.root.Tick()
	s.k.EachRelevant(func(i int) bool {
		if touched, _ := s.touched.Test(i); !touched {
			if debugBehavior {
				s.ctx.Logger.Debug("aborting node", "node", s.names[i], "index", i)
			}
			s.release(i)
		}
		return true
	})
	s.touched.ClearAll()
	return status, err
}
