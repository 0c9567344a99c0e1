package behavior

import (
	"strings"
	"sync"
	"testing"

	"github.com/joeycumines/behavior-knowledge/internal/asset"
	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	bt "github.com/joeycumines/go-behaviortree"
	"github.com/stretchr/testify/require"
)

// probes records the lifecycle of "probe" nodes, keyed by their id param.
type probes struct {
	mu       sync.Mutex
	status   map[string]bt.Status
	inits    map[string]int
	ticks    map[string]int
	releases map[string]int
	onTick   map[string]func(ctx *TickContext)
}

func newProbes() *probes {
	return &probes{
		status:   map[string]bt.Status{},
		inits:    map[string]int{},
		ticks:    map[string]int{},
		releases: map[string]int{},
		onTick:   map[string]func(ctx *TickContext){},
	}
}

func (p *probes) set(id string, status bt.Status) {
	p.mu.Lock()
	p.status[id] = status
	p.mu.Unlock()
}

func (p *probes) counts(id string) (inits, ticks, releases int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inits[id], p.ticks[id], p.releases[id]
}

type probe struct {
	stateless
	id string
	p  *probes
}

func (n *probe) StateSize() int { return 4 }

func (n *probe) InitState(_ *TickContext, state knowledge.NodeState) error {
	n.p.mu.Lock()
	defer n.p.mu.Unlock()
	n.p.inits[n.id]++
	copy(state.Memory(), "live")
	return nil
}

func (n *probe) Tick(ctx *TickContext, state knowledge.NodeState, _ []bt.Node) (bt.Status, error) {
	n.p.mu.Lock()
	n.p.ticks[n.id]++
	status, ok := n.p.status[n.id]
	hook := n.p.onTick[n.id]
	n.p.mu.Unlock()
	if string(state.Memory()) != "live" {
		panic("probe ticked without constructed state")
	}
	if hook != nil {
		hook(ctx)
	}
	if !ok {
		status = bt.Running
	}
	return status, nil
}

func (n *probe) ReleaseState(state knowledge.NodeState) {
	n.p.mu.Lock()
	defer n.p.mu.Unlock()
	n.p.releases[n.id]++
	clear(state.Memory())
}

func testRegistry(t *testing.T, p *probes) *asset.Registry {
	t.Helper()
	reg := DefaultRegistry()
	reg.MustRegister("probe", func(def *asset.NodeDef, _ *blackboard.Type) (asset.NodeType, error) {
		id, err := def.StringParam("id")
		if err != nil {
			return nil, err
		}
		return &probe{stateless: stateless{"probe"}, id: id, p: p}, nil
	})
	return reg
}

func compileTree(t *testing.T, reg *asset.Registry, src string) *asset.Tree {
	t.Helper()
	tree, err := asset.Load(strings.NewReader(src))
	require.NoError(t, err)
	require.NoError(t, tree.Compile(reg))
	return tree
}

func relevantNodes(t *testing.T, b *Behavior) []int {
	t.Helper()
	return b.Snapshot().RelevantNodes
}
