package planning

import (
	"fmt"
	"reflect"

	"github.com/expr-lang/expr/vm"
	"github.com/joeycumines/behavior-knowledge/internal/exprcache"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	bt "github.com/joeycumines/go-behaviortree"
	pabtpkg "github.com/joeycumines/go-pabt"
)

// Cond matches a blackboard field with a Go predicate.
type Cond struct {
	key   string
	match func(any) bool
}

var _ pabtpkg.Condition = (*Cond)(nil)

func NewCond(key string, match func(any) bool) *Cond {
	return &Cond{key: key, match: match}
}

func (c *Cond) Key() any { return c.key }

func (c *Cond) Match(value any) bool { return c.match != nil && c.match(value) }

// EqualityCond matches a field equal to a fixed value. Numbers compare by
// value regardless of their Go type.
type EqualityCond struct {
	key   string
	value any
}

var _ pabtpkg.Condition = (*EqualityCond)(nil)

func Equal(key string, value any) *EqualityCond {
	return &EqualityCond{key: key, value: value}
}

func (c *EqualityCond) Key() any { return c.key }

func (c *EqualityCond) Match(value any) bool {
	if a, ok := number(c.value); ok {
		b, ok := number(value)
		return ok && a == b
	}
	return reflect.DeepEqual(c.value, value)
}

func number(x any) (float64, bool) {
	switch n := x.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ExprCond matches a field with an expr-lang predicate over "value".
type ExprCond struct {
	key        string
	expression string
	program    *vm.Program
}

var _ pabtpkg.Condition = (*ExprCond)(nil)

// NewExprCond compiles expression through the shared expression cache.
func NewExprCond(key, expression string) (*ExprCond, error) {
	program, err := exprcache.Compile(expression, true)
	if err != nil {
		return nil, err
	}
	return &ExprCond{key: key, expression: expression, program: program}, nil
}

func (c *ExprCond) Key() any { return c.key }

// Match reports false for evaluation errors, such as a type mismatch
// between the field and the expression.
func (c *ExprCond) Match(value any) bool {
	out, err := exprcache.Run(c.program, map[string]any{"value": value})
	ok, isBool := out.(bool)
	return err == nil && isBool && ok
}

func (c *ExprCond) String() string { return fmt.Sprintf("%s: %s", c.key, c.expression) }

// Effect declares the value an action assigns to a field.
type Effect struct {
	key   string
	value any
}

var _ pabtpkg.Effect = (*Effect)(nil)

func NewEffect(key string, value any) *Effect { return &Effect{key: key, value: value} }

func (e *Effect) Key() any { return e.key }

func (e *Effect) Value() any { return e.value }

// Action is a named planner action.
type Action struct {
	Name       string
	conditions []pabtpkg.IConditions
	effects    pabtpkg.Effects
	node       bt.Node
}

var _ pabtpkg.IAction = (*Action)(nil)

// NewAction panics on a nil node, which the planner cannot run.
func NewAction(name string, conditions []pabtpkg.IConditions, effects pabtpkg.Effects, node bt.Node) *Action {
	if node == nil {
		panic(fmt.Sprintf("planning.NewAction: nil node for action %q", name))
	}
	return &Action{Name: name, conditions: conditions, effects: effects, node: node}
}

func (a *Action) Conditions() []pabtpkg.IConditions { return a.conditions }

func (a *Action) Effects() pabtpkg.Effects { return a.effects }

func (a *Action) Node() bt.Node { return a.node }

// NewSetAction is an action whose node writes value into field key of k's
// blackboard, converted to the field's type.
func NewSetAction(k *knowledge.Knowledge, name string, conditions []pabtpkg.IConditions, key string, value any) *Action {
	node := bt.New(func([]bt.Node) (bt.Status, error) {
		if err := k.BlackboardSetAny(key, value); err != nil {
			return bt.Failure, fmt.Errorf("action %q: %w", name, err)
		}
		return bt.Success, nil
	})
	return NewAction(name, conditions, pabtpkg.Effects{NewEffect(key, value)}, node)
}
