package asset

import "errors"

var (
	// ErrInvalidDefinition is returned for malformed asset definitions.
	ErrInvalidDefinition = errors.New("asset: invalid definition")
	// ErrUnknownKind is returned by Compile for a node kind with no factory.
	ErrUnknownKind = errors.New("asset: unknown node kind")
	// ErrDuplicateKind is returned by Registry.Register.
	ErrDuplicateKind = errors.New("asset: duplicate node kind")
	// ErrTreeBound is returned by Compile while any knowledge container is
	// bound to the tree.
	ErrTreeBound = errors.New("asset: tree is bound")
)
