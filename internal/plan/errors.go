package plan

import "errors"

var (
	// ErrNotFound marks lookups of unknown sessions or referenced task ids.
	ErrNotFound = errors.New("not found")

	// ErrCycle marks a dependency set that cannot be ordered. The whole
	// plan is rejected; a partial order is never returned.
	ErrCycle = errors.New("graph has cycles")

	// ErrUnsupportedRelation marks a dependency relation outside the four
	// supported kinds. The computation that hits it aborts entirely.
	ErrUnsupportedRelation = errors.New("unsupported dependency relation")

	// ErrHorizonExceeded marks a leveling pass that ran out of candidate
	// slots. Leveling reports this instead of searching forever.
	ErrHorizonExceeded = errors.New("leveling horizon exceeded")
)
