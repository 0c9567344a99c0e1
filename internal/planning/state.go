// Package planning runs PA-BT planning (go-pabt) against the blackboard of a
// behavior knowledge container. Conditions read blackboard fields by name;
// actions are behavior tree nodes that change them.
package planning

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/knowledge"
	bt "github.com/joeycumines/go-behaviortree"
	pabtpkg "github.com/joeycumines/go-pabt"
)

// debugPlanning enables verbose planner logs.
// Set BTK_DEBUG_PLANNING=1 to enable.
var debugPlanning = os.Getenv("BTK_DEBUG_PLANNING") == "1"

var _ pabtpkg.IState = (*State)(nil)

// State is the planner's view of one container. The container must stay
// initialized for as long as plans built from the State are ticked.
type State struct {
	k      *knowledge.Knowledge
	logger *slog.Logger

	mu      sync.RWMutex
	actions map[string]pabtpkg.IAction
}

// NewState creates a State over k. A nil logger selects slog.Default().
func NewState(k *knowledge.Knowledge, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{k: k, logger: logger, actions: make(map[string]pabtpkg.IAction)}
}

// Knowledge returns the underlying container.
func (s *State) Knowledge() *knowledge.Knowledge { return s.k }

// Variable implements pabtpkg.IState. Keys are blackboard field names; a
// field the blackboard does not have reads as nil.
func (s *State) Variable(key any) (any, error) {
	name, err := keyName(key)
	if err != nil {
		return nil, err
	}
	v, err := s.k.BlackboardGet(name)
	switch {
	case errors.Is(err, blackboard.ErrUnknownKey), errors.Is(err, blackboard.ErrNotStruct):
		return nil, nil
	case err != nil:
		return nil, err
	}
	if debugPlanning {
		s.logger.Debug("planning variable", "key", name, "value", v)
	}
	return v.Interface(), nil
}

func keyName(key any) (string, error) {
	switch k := key.(type) {
	case string:
		return k, nil
	case fmt.Stringer:
		return k.String(), nil
	case nil:
		return "", errors.New("planning: nil variable key")
	}
	return "", fmt.Errorf("planning: unsupported key type %T", key)
}

// RegisterAction adds or replaces a named action.
func (s *State) RegisterAction(name string, action pabtpkg.IAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[name] = action
}

// Actions implements pabtpkg.IState, returning in name order the actions
// with an effect on the failed condition's key that satisfies it.
func (s *State) Actions(failed pabtpkg.Condition) ([]pabtpkg.IAction, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	slices.Sort(names)
	all := make([]pabtpkg.IAction, len(names))
	for i, name := range names {
		all[i] = s.actions[name]
	}
	s.mu.RUnlock()

	if failed == nil {
		return all, nil
	}
	var out []pabtpkg.IAction
	for i, action := range all {
		if satisfies(action, failed) {
			out = append(out, action)
			if debugPlanning {
				s.logger.Debug("planning candidate", "failedKey", failed.Key(), "action", names[i])
			}
		}
	}
	return out, nil
}

func satisfies(action pabtpkg.IAction, failed pabtpkg.Condition) bool {
	for _, e := range action.Effects() {
		if e != nil && e.Key() == failed.Key() && failed.Match(e.Value()) {
			return true
		}
	}
	return false
}

// Plan builds a PA-BT plan for the goal, any one of whose condition groups
// must hold, and returns its root node.
func (s *State) Plan(goal ...pabtpkg.IConditions) (bt.Node, error) {
	plan, err := pabtpkg.INew(s, goal)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	return plan.Node(), nil
}
