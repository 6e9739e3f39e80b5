package bench

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyEnabled  = errors.New("benchmark already enabled")
	ErrDuplicateModels = errors.New("duplicate models")
	ErrNoModels        = errors.New("no models given")
	ErrNestedBenchmark = errors.New("session is a benchmark child")
	ErrNotChild        = errors.New("not a benchmark child")
	ErrNoChildren      = errors.New("benchmark has no children")
	ErrNoBenchmark     = errors.New("no benchmark on session")
	ErrNotEnabled      = errors.New("benchmark is stopped")
	ErrAlreadyApplied  = errors.New("another child is already applied; undo it first")
	ErrNotApplied      = errors.New("no child is applied")
	ErrSessionNotFound = errors.New("session not found")
)

var (
	// ErrWorkingTreeDirty blocks apply or undo when the tree has unrelated
	// uncommitted changes. Retrying with allowDirty overrides it.
	ErrWorkingTreeDirty = errors.New("working tree has uncommitted changes")

	// ErrConflict means the patch no longer applies to the working tree,
	// usually because HEAD moved since the child was captured.
	ErrConflict = errors.New("patch does not apply to working tree")

	// ErrSnapshotUnavailable means the child has no pre-prompt snapshot.
	ErrSnapshotUnavailable = errors.New("snapshot unavailable for session")
)

// StateError reports an operation that is invalid for the benchmark's
// current state.
type StateError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("bench %s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

func stateErr(op, sessionID string, err error) error {
	return &StateError{Op: op, SessionID: sessionID, Err: err}
}
