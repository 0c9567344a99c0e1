package behavior

import (
	"fmt"

	"github.com/joeycumines/behavior-knowledge/internal/asset"
	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	"github.com/joeycumines/behavior-knowledge/internal/planning"
	bt "github.com/joeycumines/go-behaviortree"
	pabtpkg "github.com/joeycumines/go-pabt"
)

// planParams is the authored form of a plan node. The goal holds when all
// of its conditions do; each action assigns one blackboard field once its
// own conditions hold:
//
//	kind: plan
//	params:
//	  goal: [{key: armed, equals: true}]
//	  actions:
//	    - name: load
//	      when: [{key: ammo, expr: "value > 0"}]
//	      set: {key: loaded, value: true}
type planParams struct {
	Goal    []planCond   `yaml:"goal"`
	Actions []planAction `yaml:"actions"`
}

// planCond is either an equality (equals) or an expr predicate over
// "value" (expr).
type planCond struct {
	Key    string `yaml:"key"`
	Equals any    `yaml:"equals"`
	Expr   string `yaml:"expr"`
}

type planAction struct {
	Name string     `yaml:"name"`
	When []planCond `yaml:"when"`
	Set  struct {
		Key   string `yaml:"key"`
		Value any    `yaml:"value"`
	} `yaml:"set"`
}

// plan runs a PA-BT plan over the blackboard. Each activation plans afresh
// against the current blackboard and keeps the plan as the node's resource
// until it finishes or is aborted.
type plan struct {
	stateless
	name    string
	goal    pabtpkg.IConditions
	actions []planAction
	when    []pabtpkg.IConditions
}

type planInstance struct {
	node bt.Node
}

func newPlan(def *asset.NodeDef, bb *blackboard.Type) (asset.NodeType, error) {
	if err := checkChildren(def, 0, 0); err != nil {
		return nil, err
	}
	var params planParams
	if err := def.DecodeParams(&params); err != nil {
		return nil, err
	}
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: plan %q: %s", asset.ErrInvalidDefinition, def.DisplayName(), fmt.Sprintf(format, args...))
	}
	if len(params.Goal) == 0 {
		return nil, invalid("empty goal")
	}
	goal, err := planConditions(bb, params.Goal)
	if err != nil {
		return nil, invalid("goal: %v", err)
	}

	p := &plan{
		stateless: stateless{"plan"},
		name:      def.DisplayName(),
		goal:      goal,
		actions:   params.Actions,
		when:      make([]pabtpkg.IConditions, len(params.Actions)),
	}
	seen := make(map[string]bool, len(params.Actions))
	for i, a := range params.Actions {
		if a.Name == "" || seen[a.Name] {
			return nil, invalid("action %d: missing or duplicate name %q", i, a.Name)
		}
		seen[a.Name] = true
		fi, ok := bb.FieldIndex(a.Set.Key)
		if !ok {
			return nil, invalid("action %q: blackboard %s has no field %q", a.Name, bb, a.Set.Key)
		}
		if _, err := blackboard.Convert(bb.Field(fi).Type, a.Set.Value); err != nil {
			return nil, invalid("action %q: %v", a.Name, err)
		}
		if p.when[i], err = planConditions(bb, a.When); err != nil {
			return nil, invalid("action %q: %v", a.Name, err)
		}
	}
	return p, nil
}

func planConditions(bb *blackboard.Type, conds []planCond) (pabtpkg.IConditions, error) {
	out := make(pabtpkg.IConditions, 0, len(conds))
	for _, c := range conds {
		if _, ok := bb.FieldIndex(c.Key); !ok {
			return nil, fmt.Errorf("blackboard %s has no field %q", bb, c.Key)
		}
		switch {
		case c.Expr != "" && c.Equals != nil:
			return nil, fmt.Errorf("condition on %q sets both equals and expr", c.Key)
		case c.Expr != "":
			cond, err := planning.NewExprCond(c.Key, c.Expr)
			if err != nil {
				return nil, err
			}
			out = append(out, cond)
		case c.Equals != nil:
			out = append(out, planning.Equal(c.Key, c.Equals))
		default:
			return nil, fmt.Errorf("condition on %q needs equals or expr", c.Key)
		}
	}
	return out, nil
}

func (p *plan) InitState(ctx *TickContext, state knowledge.NodeState) error {
	st := planning.NewState(ctx.Knowledge, ctx.Logger.With("plan", p.name))
	for i, a := range p.actions {
		var conds []pabtpkg.IConditions
		if len(p.when[i]) > 0 {
			conds = []pabtpkg.IConditions{p.when[i]}
		}
		st.RegisterAction(a.Name, planning.NewSetAction(ctx.Knowledge, a.Name, conds, a.Set.Key, a.Set.Value))
	}
	node, err := st.Plan(p.goal)
	if err != nil {
		return err
	}
	return state.SetResource(&planInstance{node: node})
}

func (p *plan) Tick(_ *TickContext, state knowledge.NodeState, _ []bt.Node) (bt.Status, error) {
	inst, ok := state.Resource().(*planInstance)
	if !ok {
		return bt.Failure, fmt.Errorf("plan %q has no plan", p.name)
	}
	return inst.node.Tick()
}

func (*plan) ReleaseState(state knowledge.NodeState) {
	state.TakeResource()
}
