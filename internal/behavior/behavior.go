// Package behavior implements the component that owns a behavior knowledge
// container and runs a tree asset against it on go-behaviortree.
//
// A Behavior binds its container when logic starts and releases it when
// logic stops or the tree finishes. Ticks and lifecycle calls are
// serialized, so the container is never freed while a tick is in progress.
// A lifecycle call made from inside a tick, e.g. by a node, is deferred
// until that tick returns.
package behavior

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/behavior-knowledge/internal/asset"
	"github.com/joeycumines/behavior-knowledge/internal/goroutineid"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	bt "github.com/joeycumines/go-behaviortree"
)

// debugBehavior enables verbose scheduling logs.
// Set BTK_DEBUG_BEHAVIOR=1 to enable.
var debugBehavior = os.Getenv("BTK_DEBUG_BEHAVIOR") == "1"

// ErrNotRunning is returned by Tick when logic is not started.
var ErrNotRunning = errors.New("behavior: logic not running")

// errLogicFinished stops a ticker once the tree has finished.
var errLogicFinished = errors.New("behavior: logic finished")

// State is the lifecycle state of a Behavior.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Result is the outcome of the most recent tick.
type Result struct {
	Status bt.Status
	Err    error
	Ticks  int
	// Final is the container as it was when the logic finished, captured
	// before it was released.
	Final *knowledge.Snapshot
}

// Behavior runs one tree instance. It implements knowledge.Owner.
type Behavior struct {
	id     uuid.UUID
	name   string
	tree   *asset.Tree
	logger *slog.Logger
	clock  func() time.Time
	loop   bool

	mu     sync.Mutex
	k      *knowledge.Knowledge
	sched  *scheduler
	state  State
	result Result

	// tickGoroutine is the goroutine currently ticking, zero otherwise.
	tickGoroutine atomic.Int64
	// pending lifecycle calls made from inside a tick
	pendingStop  bool
	pendingReset bool
}

var _ knowledge.Owner = (*Behavior)(nil)

// Option configures a Behavior.
type Option func(*Behavior)

// WithLogger sets the logger, slog.Default() otherwise.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Behavior) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock sets the time source passed to nodes.
func WithClock(clock func() time.Time) Option {
	return func(b *Behavior) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithLoop keeps the logic running after the root finishes, starting the
// tree over on the next tick with the blackboard preserved.
func WithLoop(loop bool) Option {
	return func(b *Behavior) { b.loop = loop }
}

// WithName sets a display name, the ID otherwise.
func WithName(name string) Option {
	return func(b *Behavior) { b.name = name }
}

// New creates a stopped behavior for tree.
func New(tree *asset.Tree, opts ...Option) *Behavior {
	b := &Behavior{
		id:     uuid.New(),
		tree:   tree,
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.name == "" {
		b.name = b.id.String()
	}
	b.logger = b.logger.With("behavior", b.name)
	b.k = knowledge.New(b, knowledge.WithLogger(b.logger))
	return b
}

func (b *Behavior) ID() string { return b.id.String() }

func (b *Behavior) Name() string { return b.name }

func (b *Behavior) Tree() *asset.Tree { return b.tree }

// Knowledge returns the behavior's container. It must only be accessed from
// inside a tick, or while no tick can run.
func (b *Behavior) Knowledge() *knowledge.Knowledge { return b.k }

func (b *Behavior) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Behavior) Result() Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result
}

// Snapshot captures the container between ticks.
func (b *Behavior) Snapshot() knowledge.Snapshot {
	if b.inTick() {
		return b.k.Snapshot()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.k.Snapshot()
}

func (b *Behavior) inTick() bool {
	id := b.tickGoroutine.Load()
	return id != 0 && id == goroutineid.Get()
}

// StartLogic initializes the container for the tree and prepares the
// scheduler. It does nothing if logic is already running. On failure the
// behavior stays stopped and will not tick.
func (b *Behavior) StartLogic() error {
	if b.inTick() {
		return fmt.Errorf("%w: StartLogic called from inside a tick", knowledge.ErrInvalidState)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startLocked()
}

func (b *Behavior) startLocked() error {
	if b.state == StateRunning {
		return nil
	}
	if err := b.k.InitMemory(b.tree); err != nil {
		b.logger.Warn("cannot start behavior logic", "error", err)
		return err
	}
	ctx := &TickContext{Knowledge: b.k, Behavior: b, Logger: b.logger}
	sched, err := newScheduler(b.tree, b.k, ctx)
	if err != nil {
		b.k.FreeMemory()
		b.logger.Warn("cannot start behavior logic", "error", err)
		return err
	}
	b.sched = sched
	b.state = StateRunning
	b.result = Result{}
	if debugBehavior {
		b.logger.Debug("behavior logic started", "tree", b.tree.Name())
	}
	return nil
}

// StopLogic releases the container, destroying the state of every node
// still running. Called from inside a tick, it takes effect once the tick
// returns.
func (b *Behavior) StopLogic() {
	if b.inTick() {
		b.pendingStop = true
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked(StateStopped)
}

func (b *Behavior) stopLocked(next State) {
	b.k.FreeMemory()
	b.sched = nil
	b.state = next
	if debugBehavior {
		b.logger.Debug("behavior logic stopped", "state", next)
	}
}

// ResetLogic restarts the logic from a fresh container.
func (b *Behavior) ResetLogic() error {
	if b.inTick() {
		b.pendingReset = true
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked(StateStopped)
	return b.startLocked()
}

// Tick advances the tree by one pass. It fails with ErrNotRunning when
// logic is not running. When the root finishes the logic stops with
// StateFinished, unless the behavior loops.
func (b *Behavior) Tick() (bt.Status, error) {
	if b.inTick() {
		return bt.Failure, fmt.Errorf("%w: re-entrant tick", knowledge.ErrInvalidState)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateRunning || !b.k.Initialized() {
		return bt.Failure, ErrNotRunning
	}

	status, err := b.runTick()

	b.result = Result{Status: status, Err: err, Ticks: b.result.Ticks + 1}
	if err != nil {
		b.logger.Error("behavior tick failed", "error", err)
	}

	switch {
	case b.pendingReset:
		b.pendingReset, b.pendingStop = false, false
		b.stopLocked(StateStopped)
		ticks := b.result.Ticks
		if err := b.startLocked(); err != nil {
			return status, err
		}
		b.result.Ticks = ticks
	case b.pendingStop:
		b.pendingStop = false
		b.stopLocked(StateStopped)
	case status != bt.Running && (err != nil || !b.loop):
		final := b.k.Snapshot()
		b.result.Final = &final
		b.stopLocked(StateFinished)
	}
	return status, err
}

// runTick runs one scheduler pass with the ticking goroutine recorded.
func (b *Behavior) runTick() (bt.Status, error) {
	b.tickGoroutine.Store(goroutineid.Get())
	defer b.tickGoroutine.Store(0)
	b.sched.ctx.Now = b.clock()
	return b.sched.tick()
}

// Node adapts the behavior to a go-behaviortree leaf. Once the logic is no
// longer running the node fails with an error, which stops a bt.Ticker.
func (b *Behavior) Node() bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		status, err := b.Tick()
		if err != nil {
			return status, err
		}
		if b.State() != StateRunning {
			return status, errLogicFinished
		}
		return status, nil
	})
}

// Run starts the logic if needed and ticks it every interval until the
// tree finishes, the logic is stopped or ctx is done. A tick error is
// returned; the other cases return nil.
func (b *Behavior) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("behavior: invalid tick interval %s", interval)
	}
	if err := b.StartLogic(); err != nil {
		return err
	}
	ticker := bt.NewTicker(ctx, interval, b.Node())
	<-ticker.Done()
	err := ticker.Err()
	switch {
	case err == nil,
		errors.Is(err, errLogicFinished),
		errors.Is(err, ErrNotRunning),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return nil
	}
	return err
}
