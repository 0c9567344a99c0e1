package knowledge

import (
	"errors"

	"github.com/joeycumines/behavior-knowledge/internal/blackboard"
	"github.com/joeycumines/behavior-knowledge/internal/relevance"
)

var (
	// ErrInvalidState is returned when an operation is invoked in the wrong
	// lifecycle phase, e.g. InitMemory on an initialized container.
	ErrInvalidState = errors.New("knowledge: invalid state")
	// ErrAssetNotReady is returned by InitMemory for a tree without a
	// compiled memory layout.
	ErrAssetNotReady = errors.New("knowledge: asset not ready")
	// ErrTypeMismatch is returned when a blackboard assignment does not
	// match the bound tree's declared blackboard type.
	ErrTypeMismatch = blackboard.ErrTypeMismatch
	// ErrIndexOutOfRange is returned for a node index or memory offset
	// outside the bound tree's bounds.
	ErrIndexOutOfRange = relevance.ErrIndexOutOfRange
)

// IsOutOfRange matches every index error the container can surface,
// including those from blackboard field indices.
func IsOutOfRange(err error) bool {
	return errors.Is(err, ErrIndexOutOfRange) || errors.Is(err, blackboard.ErrIndexOutOfRange)
}
