package behavior

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/joeycumines/behavior-knowledge/internal/asset"
	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	bt "github.com/joeycumines/go-behaviortree"
)

// errScriptReleased interrupts a runtime whose node state was destroyed.
var errScriptReleased = errors.New("behavior: script state released")

// script runs a JavaScript leaf. The program is compiled once per tree; each
// activation gets its own runtime, held as the node's resource:
//
//	function init(bb) { bb.set("seen", 0) }          // optional
//	function tick(bb) { return bb.get("seen") > 3 ? "success" : "running" }
//
// tick may return "success", "failure", "running", a boolean or nothing
// (success). A global log(...) writes to the behavior's logger.
type script struct {
	stateless
	name    string
	program *goja.Program
}

func newScript(def *asset.NodeDef, _ *blackboard.Type) (asset.NodeType, error) {
	if err := checkChildren(def, 0, 0); err != nil {
		return nil, err
	}
	src, err := def.StringParam("source")
	if err != nil {
		return nil, err
	}
	program, err := goja.Compile(def.DisplayName(), src, true)
	if err != nil {
		return nil, fmt.Errorf("%w: script %q: %w", asset.ErrInvalidDefinition, def.DisplayName(), err)
	}
	return &script{stateless: stateless{"script"}, name: def.DisplayName(), program: program}, nil
}

type scriptInstance struct {
	vm   *goja.Runtime
	tick goja.Callable
	bb   goja.Value
}

func (s *scriptInstance) Close() error {
	s.vm.Interrupt(errScriptReleased)
	return nil
}

func (s *script) InitState(ctx *TickContext, state knowledge.NodeState) error {
	vm := goja.New()
	logger := ctx.Logger.With("script", s.name)
	if err := vm.Set("log", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		logger.Info(strings.Join(parts, " "))
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if _, err := vm.RunProgram(s.program); err != nil {
		return err
	}
	tick, ok := goja.AssertFunction(vm.Get("tick"))
	if !ok {
		return fmt.Errorf("script %q does not define tick(bb)", s.name)
	}

	bb := goja.Undefined()
	if ctx.Knowledge.Tree().BlackboardType().Kind() == blackboard.KindStruct {
		exposed, err := ctx.Knowledge.ExposeBlackboardToJS(vm)
		if err != nil {
			return err
		}
		bb = exposed
	}
	inst := &scriptInstance{vm: vm, tick: tick, bb: bb}

	if initFn, ok := goja.AssertFunction(vm.Get("init")); ok {
		if _, err := initFn(goja.Undefined(), bb); err != nil {
			return err
		}
	}
	return state.SetResource(inst)
}

func (s *script) Tick(_ *TickContext, state knowledge.NodeState, _ []bt.Node) (bt.Status, error) {
	inst, ok := state.Resource().(*scriptInstance)
	if !ok {
		return bt.Failure, fmt.Errorf("script %q has no runtime", s.name)
	}
	out, err := inst.tick(goja.Undefined(), inst.bb)
	if err != nil {
		return bt.Failure, err
	}
	switch x := out.Export().(type) {
	case nil:
		return bt.Success, nil
	case bool:
		if x {
			return bt.Success, nil
		}
		return bt.Failure, nil
	case string:
		switch strings.ToLower(x) {
		case "success":
			return bt.Success, nil
		case "failure":
			return bt.Failure, nil
		case "running":
			return bt.Running, nil
		}
	}
	return bt.Failure, fmt.Errorf("script %q: tick returned %v", s.name, out)
}

func (*script) ReleaseState(state knowledge.NodeState) {
	if inst, ok := state.TakeResource().(*scriptInstance); ok {
		_ = inst.Close()
	}
}
