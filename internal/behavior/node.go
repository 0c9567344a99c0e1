package behavior

import (
	"log/slog"
	"time"

	"github.com/joeycumines/behavior-knowledge/internal/asset"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	bt "github.com/joeycumines/go-behaviortree"
)

// Executable is a node type the scheduler can run.
//
// InitState constructs the node's state before its first tick of an
// activation; the relevance bit is set only if it succeeds. Tick advances
// the node. Once Tick returns anything but bt.Running, or an error, the
// scheduler calls ReleaseState and clears the bit. Nodes left running but
// not reached on a later pass are aborted the same way.
type Executable interface {
	asset.NodeType
	InitState(ctx *TickContext, state knowledge.NodeState) error
	Tick(ctx *TickContext, state knowledge.NodeState, children []bt.Node) (bt.Status, error)
}

// TickContext is shared by every node during one root tick.
type TickContext struct {
	Knowledge *knowledge.Knowledge
	Behavior  *Behavior
	Now       time.Time
	Logger    *slog.Logger
	Node      int
}

// stateless provides the no-op state methods of nodes without memory.
type stateless struct{ kind string }

func (s stateless) Kind() string { return s.kind }
func (stateless) StateSize() int { return 0 }
func (stateless) InitState(*TickContext, knowledge.NodeState) error { return nil }
func (stateless) ReleaseState(knowledge.NodeState) {}
