package behavior

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/joeycumines/behavior-knowledge/internal/asset"
	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/exprcache"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	bt "github.com/joeycumines/go-behaviortree"
)

// DefaultRegistry returns a registry holding the builtin node kinds, with
// expressions compiled through exprcache.Default.
func DefaultRegistry() *asset.Registry {
	reg := asset.NewRegistry()
	if err := RegisterBuiltins(reg, exprcache.Default); err != nil {
		panic(err)
	}
	return reg
}

// RegisterBuiltins adds the builtin node kinds to reg:
//
//	sequence, selector   children in order, go-behaviortree semantics
//	invert               one child, success and failure swapped
//	force-success        one child, failure reported as success
//	succeed, fail        leaves with a fixed result
//	delay                running until param duration has elapsed
//	loop                 ticks its child param count times (0 = forever)
//	condition            param expr over the blackboard, optional child
//	set                  writes param expr into blackboard field param key
//	script               JavaScript tick(bb) function, see script.go
//	plan                 PA-BT plan toward param goal, see plan.go
func RegisterBuiltins(reg *asset.Registry, cache *exprcache.Cache) error {
	for kind, f := range map[string]asset.Factory{
		"sequence":      compositeFactory("sequence", bt.Sequence),
		"selector":      compositeFactory("selector", bt.Selector),
		"invert":        decoratorFactory("invert", bt.Not(bt.Sequence)),
		"force-success": decoratorFactory("force-success", forceSuccess),
		"succeed":       leafFactory("succeed", bt.Success),
		"fail":          leafFactory("fail", bt.Failure),
		"delay":         newDelay,
		"loop":          newLoop,
		"condition":     conditionFactory(cache),
		"set":           setFactory(cache),
		"script":        newScript,
		"plan":          newPlan,
	} {
		if err := reg.Register(kind, f); err != nil {
			return err
		}
	}
	return nil
}

func checkChildren(def *asset.NodeDef, lo, hi int) error {
	n := len(def.Children)
	if n < lo || (hi >= 0 && n > hi) {
		want := fmt.Sprintf("%d..%d", lo, hi)
		switch {
		case hi < 0:
			want = fmt.Sprintf("at least %d", lo)
		case lo == hi:
			want = fmt.Sprint(lo)
		}
		return fmt.Errorf("%w: %s node %q needs %s children, has %d", asset.ErrInvalidDefinition, def.Kind, def.DisplayName(), want, n)
	}
	return nil
}

type funcNode struct {
	stateless
	tick bt.Tick
}

func (n *funcNode) Tick(_ *TickContext, _ knowledge.NodeState, children []bt.Node) (bt.Status, error) {
	return n.tick(children)
}

func compositeFactory(kind string, tick bt.Tick) asset.Factory {
	return func(def *asset.NodeDef, _ *blackboard.Type) (asset.NodeType, error) {
		if err := checkChildren(def, 1, -1); err != nil {
			return nil, err
		}
		return &funcNode{stateless{kind}, tick}, nil
	}
}

func decoratorFactory(kind string, tick bt.Tick) asset.Factory {
	return func(def *asset.NodeDef, _ *blackboard.Type) (asset.NodeType, error) {
		if err := checkChildren(def, 1, 1); err != nil {
			return nil, err
		}
		return &funcNode{stateless{kind}, tick}, nil
	}
}

func leafFactory(kind string, status bt.Status) asset.Factory {
	return func(def *asset.NodeDef, _ *blackboard.Type) (asset.NodeType, error) {
		if err := checkChildren(def, 0, 0); err != nil {
			return nil, err
		}
		return &funcNode{stateless{kind}, func([]bt.Node) (bt.Status, error) { return status, nil }}, nil
	}
}

func forceSuccess(children []bt.Node) (bt.Status, error) {
	status, err := children[0].Tick()
	if err != nil || status == bt.Running {
		return status, err
	}
	return bt.Success, nil
}

// delay stores the activation time, as unix nanoseconds, in its state.
type delay struct {
	stateless
	duration time.Duration
}

func newDelay(def *asset.NodeDef, _ *blackboard.Type) (asset.NodeType, error) {
	if err := checkChildren(def, 0, 0); err != nil {
		return nil, err
	}
	d, err := def.DurationParam("duration")
	if err != nil {
		return nil, err
	}
	if d < 0 {
		return nil, fmt.Errorf("%w: delay %q has negative duration", asset.ErrInvalidDefinition, def.DisplayName())
	}
	return &delay{stateless: stateless{"delay"}, duration: d}, nil
}

func (*delay) StateSize() int { return 8 }

func (*delay) InitState(ctx *TickContext, state knowledge.NodeState) error {
	binary.LittleEndian.PutUint64(state.Memory(), uint64(ctx.Now.UnixNano()))
	return nil
}

func (d *delay) Tick(ctx *TickContext, state knowledge.NodeState, _ []bt.Node) (bt.Status, error) {
	start := time.Unix(0, int64(binary.LittleEndian.Uint64(state.Memory())))
	if ctx.Now.Sub(start) >= d.duration {
		return bt.Success, nil
	}
	return bt.Running, nil
}

// loop counts completed iterations of its child in its state.
type loop struct {
	stateless
	count uint64
}

func newLoop(def *asset.NodeDef, _ *blackboard.Type) (asset.NodeType, error) {
	if err := checkChildren(def, 1, 1); err != nil {
		return nil, err
	}
	count, err := def.IntParam("count", 0)
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: loop %q has negative count", asset.ErrInvalidDefinition, def.DisplayName())
	}
	return &loop{stateless: stateless{"loop"}, count: uint64(count)}, nil
}

func (*loop) StateSize() int { return 8 }

// Tick runs at most one child iteration per pass.
func (l *loop) Tick(_ *TickContext, state knowledge.NodeState, children []bt.Node) (bt.Status, error) {
	status, err := children[0].Tick()
	if err != nil || status != bt.Success {
		return status, err
	}
	done := binary.LittleEndian.Uint64(state.Memory()) + 1
	binary.LittleEndian.PutUint64(state.Memory(), done)
	if l.count > 0 && done >= l.count {
		return bt.Success, nil
	}
	return bt.Running, nil
}

type condition struct {
	stateless
	cache *exprcache.Cache
	expr  string
}

func conditionFactory(cache *exprcache.Cache) asset.Factory {
	return func(def *asset.NodeDef, _ *blackboard.Type) (asset.NodeType, error) {
		if err := checkChildren(def, 0, 1); err != nil {
			return nil, err
		}
		src, err := def.StringParam("expr")
		if err != nil {
			return nil, err
		}
		if _, err := cache.Compile(src, true); err != nil {
			return nil, fmt.Errorf("%w: %w", asset.ErrInvalidDefinition, err)
		}
		return &condition{stateless: stateless{"condition"}, cache: cache, expr: src}, nil
	}
}

func (c *condition) Tick(ctx *TickContext, _ knowledge.NodeState, children []bt.Node) (bt.Status, error) {
	ok, err := c.cache.EvalBool(c.expr, ctx.Knowledge.BlackboardEnv())
	if err != nil {
		return bt.Failure, err
	}
	if !ok {
		return bt.Failure, nil
	}
	if len(children) == 0 {
		return bt.Success, nil
	}
	return children[0].Tick()
}

type setNode struct {
	stateless
	cache *exprcache.Cache
	key   string
	expr  string
}

func setFactory(cache *exprcache.Cache) asset.Factory {
	return func(def *asset.NodeDef, bb *blackboard.Type) (asset.NodeType, error) {
		if err := checkChildren(def, 0, 0); err != nil {
			return nil, err
		}
		key, err := def.StringParam("key")
		if err != nil {
			return nil, err
		}
		if _, ok := bb.FieldIndex(key); !ok {
			return nil, fmt.Errorf("%w: set %q: blackboard %s has no field %q", asset.ErrInvalidDefinition, def.DisplayName(), bb, key)
		}
		src, err := def.StringParam("expr")
		if err != nil {
			return nil, err
		}
		if _, err := cache.Compile(src, false); err != nil {
			return nil, fmt.Errorf("%w: %w", asset.ErrInvalidDefinition, err)
		}
		return &setNode{stateless: stateless{"set"}, cache: cache, key: key, expr: src}, nil
	}
}

func (s *setNode) Tick(ctx *TickContext, _ knowledge.NodeState, _ []bt.Node) (bt.Status, error) {
	v, err := s.cache.Eval(s.expr, ctx.Knowledge.BlackboardEnv())
	if err != nil {
		return bt.Failure, err
	}
	if err := ctx.Knowledge.BlackboardSetAny(s.key, v); err != nil {
		return bt.Failure, err
	}
	return bt.Success, nil
}
