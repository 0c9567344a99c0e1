package behavior

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/joeycumines/behavior-knowledge/internal/asset"
	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	"github.com/joeycumines/behavior-knowledge/internal/testutil"
	bt "github.com/joeycumines/go-behaviortree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const delayTree = `
name: wait-then-mark
blackboard:
  name: Agent
  fields:
    - {name: done, type: bool}
root:
  kind: sequence
  children:
    - {kind: delay, params: {duration: 100ms}}
    - {kind: set, params: {key: done, expr: "true"}}
`

func TestBehavior_DelayKeepsStateUntilComplete(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock()
	tree := compileTree(t, DefaultRegistry(), delayTree)
	b := New(tree, WithClock(clock.Now), WithLoop(true), WithName(testutil.UniqueName("agent", t.Name())))
	require.NoError(t, b.StartLogic())
	require.Equal(t, StateRunning, b.State())

	status, err := b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Running, status)
	require.Equal(t, []int{0, 1}, relevantNodes(t, b))

	clock.Advance(60 * time.Millisecond)
	status, err = b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Running, status, "the start time must survive across ticks")
	require.Equal(t, []int{0, 1}, relevantNodes(t, b))

	clock.Advance(40 * time.Millisecond)
	status, err = b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Success, status)
	require.Empty(t, relevantNodes(t, b))

	done, err := b.Knowledge().BlackboardGet("done")
	require.NoError(t, err)
	require.True(t, done.Equal(blackboard.Bool(true)), "looping keeps the blackboard")
	require.Equal(t, StateRunning, b.State())
	require.Equal(t, Result{Status: bt.Success, Ticks: 3}, b.Result())

	b.StopLogic()
	require.Equal(t, StateStopped, b.State())
	require.Zero(t, tree.Bound())
}

func TestBehavior_FinishReleasesKnowledge(t *testing.T) {
	t.Parallel()

	clock := testutil.NewClock()
	tree := compileTree(t, DefaultRegistry(), delayTree)
	b := New(tree, WithClock(clock.Now))
	require.NoError(t, b.StartLogic())
	require.Equal(t, 1, tree.Bound())

	_, err := b.Tick()
	require.NoError(t, err)
	clock.Advance(time.Second)
	status, err := b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Success, status)

	require.Equal(t, StateFinished, b.State())
	require.False(t, b.Knowledge().Initialized())
	require.Zero(t, tree.Bound())

	final := b.Result().Final
	require.NotNil(t, final)
	assert.True(t, final.Initialized)
	assert.Equal(t, map[string]any{"done": true}, final.Blackboard)

	_, err = b.Tick()
	require.ErrorIs(t, err, ErrNotRunning)
	require.Equal(t, 2, b.Result().Ticks)
}

const chaseTree = `
name: chase-or-patrol
blackboard:
  name: Agent
  fields:
    - {name: alert, type: bool}
root:
  kind: selector
  children:
    - kind: condition
      params: {expr: alert}
      children:
        - {kind: probe, params: {id: chase}}
    - {kind: probe, params: {id: patrol}}
`

func TestBehavior_AbortsBranchesNoLongerTicked(t *testing.T) {
	t.Parallel()

	p := newProbes()
	tree := compileTree(t, testRegistry(t, p), chaseTree)
	b := New(tree)
	require.NoError(t, b.StartLogic())

	status, err := b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Running, status)
	require.Equal(t, []int{0, 3}, relevantNodes(t, b))

	require.NoError(t, b.Knowledge().BlackboardSetAny("alert", true))
	_, err = b.Tick()
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 2}, relevantNodes(t, b))
	inits, _, releases := p.counts("patrol")
	require.Equal(t, 1, inits)
	require.Equal(t, 1, releases, "patrol was aborted when the selector switched branch")

	require.NoError(t, b.Knowledge().BlackboardSetAny("alert", false))
	_, err = b.Tick()
	require.NoError(t, err)
	require.Equal(t, []int{0, 3}, relevantNodes(t, b))
	inits, ticks, releases := p.counts("chase")
	require.Equal(t, []int{1, 1, 1}, []int{inits, ticks, releases})
	inits, _, releases = p.counts("patrol")
	require.Equal(t, 2, inits)
	require.Equal(t, 1, releases)

	b.StopLogic()
	_, _, releases = p.counts("patrol")
	require.Equal(t, 2, releases)
}

func TestBehavior_StopLogicDestroysRunningNodesOnce(t *testing.T) {
	t.Parallel()

	p := newProbes()
	tree := compileTree(t, testRegistry(t, p), chaseTree)
	b := New(tree)
	require.NoError(t, b.StartLogic())
	_, err := b.Tick()
	require.NoError(t, err)

	b.StopLogic()
	b.StopLogic()
	_, _, patrol := p.counts("patrol")
	_, _, chase := p.counts("chase")
	require.Equal(t, 1, patrol)
	require.Zero(t, chase)
	require.Equal(t, StateStopped, b.State())

	_, err = b.Tick()
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestBehavior_StopLogicFromInsideTickIsDeferred(t *testing.T) {
	t.Parallel()

	p := newProbes()
	var initializedDuringTick bool
	p.onTick["patrol"] = func(ctx *TickContext) {
		ctx.Behavior.StopLogic()
		initializedDuringTick = ctx.Knowledge.Initialized()
	}
	tree := compileTree(t, testRegistry(t, p), chaseTree)
	b := New(tree)
	require.NoError(t, b.StartLogic())

	status, err := b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Running, status)
	require.True(t, initializedDuringTick, "memory must not be freed mid-tick")
	require.Equal(t, StateStopped, b.State())
	require.False(t, b.Knowledge().Initialized())
	_, _, releases := p.counts("patrol")
	require.Equal(t, 1, releases)
}

func TestBehavior_ResetLogicFromInsideTick(t *testing.T) {
	t.Parallel()

	p := newProbes()
	p.onTick["patrol"] = func(ctx *TickContext) {
		require.NoError(t, ctx.Behavior.ResetLogic())
	}
	tree := compileTree(t, testRegistry(t, p), chaseTree)
	b := New(tree)
	require.NoError(t, b.StartLogic())

	_, err := b.Tick()
	require.NoError(t, err)
	require.Equal(t, StateRunning, b.State())
	require.Empty(t, relevantNodes(t, b))
	require.Equal(t, 1, b.Result().Ticks)
	_, _, releases := p.counts("patrol")
	require.Equal(t, 1, releases)
}

func TestBehavior_NodePanicEndsLogicAndKeepsLifecycle(t *testing.T) {
	t.Parallel()

	p := newProbes()
	p.onTick["patrol"] = func(*TickContext) { panic("boom") }
	reg := testRegistry(t, p)
	tree := compileTree(t, reg, chaseTree)
	b := New(tree, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, b.StartLogic())

	status, err := b.Tick()
	require.ErrorIs(t, err, ErrNodePanic)
	require.ErrorContains(t, err, "boom")
	require.ErrorContains(t, err, `node "probe"`)
	require.Equal(t, bt.Failure, status)

	require.False(t, b.inTick())
	require.Equal(t, StateFinished, b.State())
	require.False(t, b.Knowledge().Initialized())
	require.Zero(t, tree.Bound())
	inits, _, releases := p.counts("patrol")
	require.Equal(t, 1, inits)
	require.Equal(t, 1, releases)

	p.mu.Lock()
	delete(p.onTick, "patrol")
	p.mu.Unlock()

	require.NoError(t, b.StartLogic())
	status, err = b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Running, status)
	b.StopLogic()
	require.False(t, b.Knowledge().Initialized())
	require.NoError(t, tree.Compile(reg))
}

func TestBehavior_StopLogicWaitsForTick(t *testing.T) {
	t.Parallel()

	p := newProbes()
	entered, unblock := make(chan struct{}), make(chan struct{})
	p.onTick["patrol"] = func(*TickContext) {
		close(entered)
		<-unblock
	}
	tree := compileTree(t, testRegistry(t, p), chaseTree)
	b := New(tree)
	require.NoError(t, b.StartLogic())

	tickDone := make(chan error, 1)
	go func() {
		_, err := b.Tick()
		tickDone <- err
	}()
	<-entered

	stopped := make(chan struct{})
	go func() {
		b.StopLogic()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("StopLogic returned while a tick was in progress")
	case <-time.After(20 * time.Millisecond):
	}

	close(unblock)
	require.NoError(t, <-tickDone)
	<-stopped
	_, _, releases := p.counts("patrol")
	require.Equal(t, 1, releases)
	require.False(t, b.Knowledge().Initialized())
}

func TestBehavior_ScriptRuntimePerActivation(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), `
name: counter
blackboard:
  name: Agent
  fields:
    - {name: inits, type: int}
    - {name: ticks, type: int}
root:
  kind: script
  params:
    source: |
      var local = 0;
      function init(bb) { bb.set("inits", bb.get("inits") + 1) }
      function tick(bb) {
        local++;
        bb.set("ticks", bb.get("ticks") + 1);
        if (local !== bb.get("ticks") - 3 * (bb.get("inits") - 1)) {
          throw new Error("runtime shared between activations");
        }
        return bb.get("ticks") % 3 == 0 ? "success" : "running";
      }
`)
	b := New(tree, WithLoop(true))
	require.NoError(t, b.StartLogic())

	for i := range 2 {
		status, err := b.Tick()
		require.NoError(t, err)
		require.Equal(t, bt.Running, status, "tick %d", i)
		require.Equal(t, 1, b.Snapshot().Resources)
	}
	status, err := b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Success, status)
	require.Zero(t, b.Snapshot().Resources, "runtime released with its node state")

	status, err = b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Running, status)

	env := b.Knowledge().BlackboardEnv()
	assert.Equal(t, 2, env["inits"])
	assert.Equal(t, 4, env["ticks"])

	b.StopLogic()
	require.False(t, b.Knowledge().Initialized())
}

func TestBehavior_ScriptErrorFinishes(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), `
root:
  kind: sequence
  children:
    - kind: script
      params: {source: "function tick() { throw new Error('boom') }"}
`)
	b := New(tree, WithLoop(true))
	require.NoError(t, b.StartLogic())

	status, err := b.Tick()
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
	require.Equal(t, bt.Failure, status)
	require.Equal(t, StateFinished, b.State(), "errors end the logic even when looping")
	require.ErrorContains(t, b.Result().Err, "boom")
	require.Zero(t, tree.Bound())
}

func TestBehavior_LoopNodeCountsInState(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), `
root:
  kind: loop
  params: {count: 3}
  children: [{kind: succeed}]
`)
	b := New(tree)
	require.NoError(t, b.StartLogic())

	for want := range uint64(2) {
		status, err := b.Tick()
		require.NoError(t, err)
		require.Equal(t, bt.Running, status)
		mem, err := b.Knowledge().NodeMemory(0)
		require.NoError(t, err)
		require.Equal(t, want+1, binary.LittleEndian.Uint64(mem))
	}
	status, err := b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Success, status)
	require.Equal(t, StateFinished, b.State())
}

func TestBehavior_Decorators(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), `
root:
  kind: sequence
  children:
    - kind: invert
      children: [{kind: fail}]
    - kind: force-success
      children: [{kind: fail}]
    - {kind: succeed}
`)
	b := New(tree)
	require.NoError(t, b.StartLogic())
	status, err := b.Tick()
	require.NoError(t, err)
	require.Equal(t, bt.Success, status)
}

func TestBehavior_ConditionAndSet(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), `
blackboard:
  name: Agent
  fields:
    - {name: health, type: float}
    - {name: fleeing, type: bool}
    - {name: target, type: vector}
root:
  kind: selector
  children:
    - kind: condition
      params: {expr: "health < 25"}
      children:
        - {kind: set, params: {key: fleeing, expr: "true"}}
    - {kind: set, params: {key: target, expr: '{"x": health, "y": 0, "z": 1}'}}
`)
	b := New(tree, WithLoop(true))
	require.NoError(t, b.StartLogic())
	k := b.Knowledge()

	require.NoError(t, k.BlackboardSetAny("health", 80))
	_, err := b.Tick()
	require.NoError(t, err)
	target, err := k.BlackboardGet("target")
	require.NoError(t, err)
	require.True(t, target.Equal(blackboard.Vec(80, 0, 1)))

	require.NoError(t, k.BlackboardSetAny("health", 10))
	_, err = b.Tick()
	require.NoError(t, err)
	fleeing, err := k.BlackboardGet("fleeing")
	require.NoError(t, err)
	require.True(t, fleeing.Equal(blackboard.Bool(true)))
}

func TestBehavior_PlanReachesGoal(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), `
blackboard:
  name: Turret
  fields:
    - {name: ammo, type: int}
    - {name: loaded, type: bool}
    - {name: armed, type: bool}
root:
  kind: sequence
  children:
    - {kind: set, params: {key: ammo, expr: "2"}}
    - kind: plan
      name: arm turret
      params:
        goal: [{key: armed, equals: true}]
        actions:
          - name: load
            when: [{key: ammo, expr: "value > 0"}]
            set: {key: loaded, value: true}
          - name: arm
            when: [{key: loaded, equals: true}]
            set: {key: armed, value: true}
`)
	b := New(tree, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, b.StartLogic())

	status := bt.Running
	for i := 0; i < 20 && status == bt.Running; i++ {
		var err error
		status, err = b.Tick()
		require.NoError(t, err)
	}
	require.Equal(t, bt.Success, status)
	require.Equal(t, StateFinished, b.State())

	final := b.Result().Final
	require.NotNil(t, final)
	require.Equal(t, map[string]any{"ammo": 2, "loaded": true, "armed": true}, final.Blackboard)
	require.Zero(t, tree.Bound())
}

func TestBehavior_PlanUnreachableGoalNeverActs(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), `
blackboard:
  name: Turret
  fields:
    - {name: ammo, type: int}
    - {name: armed, type: bool}
root:
  kind: plan
  params:
    goal: [{key: armed, equals: true}]
    actions:
      - name: arm
        when: [{key: ammo, expr: "value > 0"}]
        set: {key: armed, value: true}
`)
	b := New(tree, WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, b.StartLogic())

	status := bt.Running
	for i := 0; i < 20 && status == bt.Running; i++ {
		status, _ = b.Tick()
	}
	require.NotEqual(t, bt.Success, status)
	if status == bt.Running {
		armed, err := b.Knowledge().BlackboardGet("armed")
		require.NoError(t, err)
		require.True(t, armed.Equal(blackboard.Bool(false)))
	} else {
		require.Equal(t, false, b.Result().Final.Blackboard.(map[string]any)["armed"])
	}
	b.StopLogic()
	require.Zero(t, tree.Bound())
}

func TestBehavior_StartFailures(t *testing.T) {
	t.Parallel()

	t.Run("uncompiled", func(t *testing.T) {
		t.Parallel()
		tree, err := asset.Load(strings.NewReader("root: {kind: succeed}\n"))
		require.NoError(t, err)
		b := New(tree)
		require.ErrorIs(t, b.StartLogic(), knowledge.ErrAssetNotReady)
		require.Equal(t, StateStopped, b.State())
		_, err = b.Tick()
		require.ErrorIs(t, err, ErrNotRunning)
	})

	t.Run("not executable", func(t *testing.T) {
		t.Parallel()
		reg := asset.NewRegistry()
		reg.MustRegister("inert", func(*asset.NodeDef, *blackboard.Type) (asset.NodeType, error) {
			return inert{}, nil
		})
		tree := compileTree(t, reg, "root: {kind: inert}\n")
		b := New(tree)
		require.ErrorIs(t, b.StartLogic(), ErrNotExecutable)
		require.False(t, b.Knowledge().Initialized())
		require.Zero(t, tree.Bound())
	})
}

type inert struct{}

func (inert) Kind() string { return "inert" }
func (inert) StateSize() int { return 0 }
func (inert) ReleaseState(knowledge.NodeState) {}

func TestBehavior_ResetLogic(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), delayTree)
	b := New(tree)
	require.NoError(t, b.StartLogic())
	require.NoError(t, b.StartLogic(), "starting twice is a no-op")
	require.NoError(t, b.Knowledge().BlackboardSetAny("done", true))

	require.NoError(t, b.ResetLogic())
	done, err := b.Knowledge().BlackboardGet("done")
	require.NoError(t, err)
	require.True(t, done.Equal(blackboard.Bool(false)))
	require.Equal(t, 1, tree.Bound())
	b.StopLogic()
}

func TestBehavior_IndependentInstances(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), delayTree)
	a, b := New(tree), New(tree)
	require.NotEqual(t, a.ID(), b.ID())
	require.NoError(t, a.StartLogic())
	require.NoError(t, b.StartLogic())
	require.Equal(t, 2, tree.Bound())

	require.NoError(t, a.Knowledge().BlackboardSetAny("done", true))
	done, err := b.Knowledge().BlackboardGet("done")
	require.NoError(t, err)
	require.True(t, done.Equal(blackboard.Bool(false)))
	require.Same(t, a, a.Knowledge().Owner())

	a.StopLogic()
	b.StopLogic()
	require.Zero(t, tree.Bound())
}

func TestBehavior_Run(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), `
root:
  kind: loop
  params: {count: 5}
  children: [{kind: succeed}]
`)
	b := New(tree, WithLogger(slog.New(slog.DiscardHandler)))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, b.Run(ctx, time.Millisecond))
	require.Equal(t, StateFinished, b.State())
	res := b.Result()
	require.Equal(t, bt.Success, res.Status)
	require.Equal(t, 5, res.Ticks)
	require.NoError(t, res.Err)
	require.NotNil(t, res.Final)
	require.Empty(t, res.Final.RelevantNodes)

	require.Error(t, b.Run(ctx, 0))
}

func TestBehavior_RunUntilCancelled(t *testing.T) {
	t.Parallel()

	p := newProbes()
	tree := compileTree(t, testRegistry(t, p), "root: {kind: probe, params: {id: idle}}\n")
	b := New(tree)
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() { errs <- b.Run(ctx, time.Millisecond) }()

	_, err := testutil.WaitFor(context.Background(), func() int {
		_, ticks, _ := p.counts("idle")
		return ticks
	}, func(n int) bool { return n >= 3 }, 5*time.Second, testutil.PollingInterval)
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-errs)
	require.Equal(t, StateRunning, b.State())

	b.StopLogic()
	inits, _, releases := p.counts("idle")
	require.Equal(t, 1, inits)
	require.Equal(t, 1, releases)
}

func TestBehavior_RunReturnsTickError(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), `
root:
  kind: script
  params: {source: "function tick() { return 42 }"}
`)
	b := New(tree)
	err := b.Run(context.Background(), time.Millisecond)
	require.Error(t, err)
	require.False(t, errors.Is(err, errLogicFinished))
	require.Contains(t, err.Error(), "tick returned 42")
}

func TestBuiltins_Validation(t *testing.T) {
	t.Parallel()

	bb := `
blackboard:
  name: Agent
  fields: [{name: health, type: float}]
`
	for _, tc := range []struct {
		name string
		root string
	}{
		{"delay without duration", "root: {kind: delay}"},
		{"delay with children", "root: {kind: delay, params: {duration: 1s}, children: [{kind: succeed}]}"},
		{"negative loop", "root: {kind: loop, params: {count: -1}, children: [{kind: succeed}]}"},
		{"loop without child", "root: {kind: loop}"},
		{"invert with two children", "root: {kind: invert, children: [{kind: succeed}, {kind: fail}]}"},
		{"empty sequence", "root: {kind: sequence}"},
		{"bad condition", "root: {kind: condition, params: {expr: 'health <'}}"},
		{"set unknown key", "root: {kind: set, params: {key: mana, expr: '1'}}"},
		{"set without expr", "root: {kind: set, params: {key: health}}"},
		{"script syntax", "root: {kind: script, params: {source: 'function tick( {'}}"},
		{"plan empty goal", "root: {kind: plan, params: {goal: []}}"},
		{"plan unknown goal key", "root: {kind: plan, params: {goal: [{key: mana, equals: 1}]}}"},
		{"plan bad expr", "root: {kind: plan, params: {goal: [{key: health, expr: 'value <'}]}}"},
		{"plan condition without test", "root: {kind: plan, params: {goal: [{key: health}]}}"},
		{"plan unconvertible set", "root: {kind: plan, params: {goal: [{key: health, equals: 1}], actions: [{name: heal, set: {key: health, value: lots}}]}}"},
		{"plan duplicate action", "root: {kind: plan, params: {goal: [{key: health, equals: 1}], actions: [{name: heal, set: {key: health, value: 1}}, {name: heal, set: {key: health, value: 2}}]}}"},
		{"plan unknown param", "root: {kind: plan, params: {goal: [{key: health, equals: 1}], budget: 3}}"},
		{"plan with children", "root: {kind: plan, params: {goal: [{key: health, equals: 1}]}, children: [{kind: succeed}]}"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tree, err := asset.Load(strings.NewReader(bb + tc.root + "\n"))
			require.NoError(t, err)
			require.ErrorIs(t, tree.Compile(DefaultRegistry()), asset.ErrInvalidDefinition)
		})
	}
}

func TestBehavior_Node(t *testing.T) {
	t.Parallel()

	tree := compileTree(t, DefaultRegistry(), "root: {kind: succeed}\n")
	b := New(tree)
	require.NoError(t, b.StartLogic())

	status, err := b.Node().Tick()
	require.ErrorIs(t, err, errLogicFinished)
	require.Equal(t, bt.Success, status)

	_, err = b.Node().Tick()
	require.ErrorIs(t, err, ErrNotRunning)
}
