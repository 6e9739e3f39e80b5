// Package bench runs one prompt against several models in sibling child
// sessions and lets the user adopt exactly one child's changes.
package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/theirongolddev/cbench/internal/model"
)

// SessionStore persists sessions. Get returns ErrSessionNotFound for unknown ids.
type SessionStore interface {
	Get(ctx context.Context, id string) (model.Session, error)
	// Create stores s, assigning an ID when empty.
	Create(ctx context.Context, s model.Session) (model.Session, error)
	// Update applies fn to the stored session and saves the result.
	// If fn returns an error nothing is written.
	Update(ctx context.Context, id string, fn func(*model.Session) error) (model.Session, error)
}

// Snapshotter captures and moves working-tree changes between sessions.
type Snapshotter interface {
	// Capture records the pre-prompt state for a child session.
	Capture(ctx context.Context, sessionID string) (string, error)
	// ApplyDiff lays the child's changes since ref onto the working tree.
	// It returns ErrWorkingTreeDirty, ErrConflict or ErrSnapshotUnavailable.
	ApplyDiff(ctx context.Context, ref string, allowDirty bool) error
	// RevertDiff removes changes previously applied by ApplyDiff.
	RevertDiff(ctx context.Context, ref string, allowDirty bool) error
	// IsDirty reports uncommitted changes in the working tree.
	IsDirty(ctx context.Context) (bool, error)
}

// Orchestrator owns the benchmark state machine for every parent session.
// apply and undo are serialized per parent.
type Orchestrator struct {
	sessions  SessionStore
	snapshots Snapshotter
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Orchestrator. A nil logger uses slog.Default().
func New(sessions SessionStore, snapshots Snapshotter, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sessions:  sessions,
		snapshots: snapshots,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (o *Orchestrator) lock(parentID string) func() {
	o.mu.Lock()
	l, ok := o.locks[parentID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[parentID] = l
	}
	o.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Start attaches a new benchmark to sessionID with one child per model, in
// input order. A child whose snapshot cannot be captured is still created
// with its Error set.
func (o *Orchestrator) Start(ctx context.Context, sessionID string, models []model.ModelRef, allowDuplicates bool) (model.BenchmarkParent, error) {
	const op = "start"
	if len(models) == 0 {
		return model.BenchmarkParent{}, stateErr(op, sessionID, ErrNoModels)
	}
	if !allowDuplicates {
		seen := make(map[model.ModelRef]bool, len(models))
		for _, m := range models {
			if seen[m] {
				return model.BenchmarkParent{}, stateErr(op, sessionID, fmt.Errorf("%w: %s", ErrDuplicateModels, m))
			}
			seen[m] = true
		}
	}

	defer o.lock(sessionID)()

	parent, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return model.BenchmarkParent{}, err
	}
	if parent.BenchmarkChild != nil {
		return model.BenchmarkParent{}, stateErr(op, sessionID, ErrNestedBenchmark)
	}
	if b := parent.Benchmark; b != nil {
		if b.Enabled {
			return model.BenchmarkParent{}, stateErr(op, sessionID, ErrAlreadyEnabled)
		}
		if b.AppliedSessionID != "" {
			return model.BenchmarkParent{}, stateErr(op, sessionID, ErrAlreadyApplied)
		}
	}

	refs := make([]model.BenchmarkChildRef, 0, len(models))
	for _, m := range models {
		child, err := o.createChild(ctx, parent, m)
		if err != nil {
			return model.BenchmarkParent{}, fmt.Errorf("bench start %s: creating child for %s: %w", sessionID, m, err)
		}
		refs = append(refs, model.BenchmarkChildRef{SessionID: child.ID, Model: m})
	}

	bp := model.BenchmarkParent{Enabled: true, Children: refs}
	if _, err := o.sessions.Update(ctx, sessionID, func(s *model.Session) error {
		s.Benchmark = &bp
		return nil
	}); err != nil {
		return model.BenchmarkParent{}, fmt.Errorf("bench start %s: %w", sessionID, err)
	}

	o.logger.Info("benchmark started",
		slog.String("session", sessionID),
		slog.Int("children", len(refs)))
	return bp, nil
}

func (o *Orchestrator) createChild(ctx context.Context, parent model.Session, m model.ModelRef) (model.Session, error) {
	child, err := o.sessions.Create(ctx, model.Session{
		Title:     fmt.Sprintf("%s [%s]", parent.Title, m),
		Directory: parent.Directory,
		BenchmarkChild: &model.BenchmarkChild{
			ParentID: parent.ID,
			Model:    m,
		},
	})
	if err != nil {
		return model.Session{}, err
	}

	ref, captureErr := o.snapshots.Capture(ctx, child.ID)
	if captureErr != nil {
		o.logger.Warn("snapshot capture failed",
			slog.String("session", child.ID),
			slog.String("error", captureErr.Error()))
	}
	return o.sessions.Update(ctx, child.ID, func(s *model.Session) error {
		if captureErr != nil {
			s.BenchmarkChild.Error = "snapshot: " + captureErr.Error()
			return nil
		}
		s.BenchmarkChild.SnapshotRef = ref
		return nil
	})
}

// Stop disables fan-out for the benchmark that sessionID owns or belongs
// to. Stopping a stopped benchmark is a no-op.
func (o *Orchestrator) Stop(ctx context.Context, sessionID string) error {
	const op = "stop"
	parentID, err := o.parentID(ctx, sessionID)
	if err != nil {
		return err
	}

	defer o.lock(parentID)()

	_, err = o.sessions.Update(ctx, parentID, func(s *model.Session) error {
		if s.Benchmark == nil {
			return stateErr(op, parentID, ErrNoBenchmark)
		}
		s.Benchmark.Enabled = false
		return nil
	})
	if err != nil {
		return err
	}
	o.logger.Info("benchmark stopped", slog.String("session", parentID))
	return nil
}

// Next returns the sibling after sessionID, wrapping to slot 0. A session
// that is not a child (such as the parent) maps to slot 0.
func (o *Orchestrator) Next(ctx context.Context, sessionID string) (string, error) {
	return o.cycle(ctx, "next", sessionID, 1)
}

// Prev returns the sibling before sessionID, wrapping to the last slot. A
// session that is not a child maps to the last slot.
func (o *Orchestrator) Prev(ctx context.Context, sessionID string) (string, error) {
	return o.cycle(ctx, "prev", sessionID, -1)
}

func (o *Orchestrator) cycle(ctx context.Context, op, sessionID string, step int) (string, error) {
	parentID, err := o.parentID(ctx, sessionID)
	if err != nil {
		return "", err
	}
	parent, err := o.sessions.Get(ctx, parentID)
	if err != nil {
		return "", err
	}
	if parent.Benchmark == nil || len(parent.Benchmark.Children) == 0 {
		return "", stateErr(op, sessionID, ErrNoChildren)
	}

	children := parent.Benchmark.Children
	n := len(children)
	idx := parent.Benchmark.IndexOf(sessionID)
	switch {
	case idx < 0 && step > 0:
		idx = 0
	case idx < 0:
		idx = n - 1
	default:
		idx = ((idx+step)%n + n) % n
	}
	return children[idx].SessionID, nil
}

// Apply lays childID's changes onto the working tree and marks it applied.
// Re-applying the applied child is a no-op. A different applied child must
// be undone first. The applied slot is claimed inside the store transaction,
// so when another process wins the race this call reverts its diff and
// returns ErrAlreadyApplied.
func (o *Orchestrator) Apply(ctx context.Context, childID string, allowDirty bool) error {
	const op = "apply"
	child, err := o.sessions.Get(ctx, childID)
	if err != nil {
		return err
	}
	if child.BenchmarkChild == nil {
		return stateErr(op, childID, ErrNotChild)
	}
	parentID := child.BenchmarkChild.ParentID

	defer o.lock(parentID)()

	parent, err := o.sessions.Get(ctx, parentID)
	if err != nil {
		return err
	}
	bp := parent.Benchmark
	if bp == nil || bp.IndexOf(childID) < 0 {
		return stateErr(op, childID, ErrNotChild)
	}
	switch bp.AppliedSessionID {
	case childID:
		return nil
	case "":
	default:
		return stateErr(op, childID, fmt.Errorf("%w (applied: %s)", ErrAlreadyApplied, bp.AppliedSessionID))
	}

	ref := child.BenchmarkChild.SnapshotRef
	if ref == "" {
		return fmt.Errorf("bench apply %s: %w", childID, ErrSnapshotUnavailable)
	}
	if err := o.snapshots.ApplyDiff(ctx, ref, allowDirty); err != nil {
		return fmt.Errorf("bench apply %s: %w", childID, err)
	}

	_, err = o.sessions.Update(ctx, parentID, func(s *model.Session) error {
		if s.Benchmark == nil {
			return stateErr(op, parentID, ErrNoBenchmark)
		}
		// Another process may have applied a sibling since the check above.
		if cur := s.Benchmark.AppliedSessionID; cur != "" && cur != childID {
			return stateErr(op, childID, fmt.Errorf("%w (applied: %s)", ErrAlreadyApplied, cur))
		}
		s.Benchmark.AppliedSessionID = childID
		return nil
	})
	if err != nil {
		if rbErr := o.snapshots.RevertDiff(ctx, ref, true); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rolling back apply: %w", rbErr))
		}
		return fmt.Errorf("bench apply %s: %w", childID, err)
	}

	o.logger.Info("benchmark child applied",
		slog.String("parent", parentID),
		slog.String("child", childID),
		slog.Bool("allow_dirty", allowDirty))
	return nil
}

// Undo reverts the applied child's changes for the benchmark that
// sessionID owns or belongs to.
func (o *Orchestrator) Undo(ctx context.Context, sessionID string, allowDirty bool) error {
	const op = "undo"
	parentID, err := o.parentID(ctx, sessionID)
	if err != nil {
		return err
	}

	defer o.lock(parentID)()

	parent, err := o.sessions.Get(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Benchmark == nil {
		return stateErr(op, parentID, ErrNoBenchmark)
	}
	appliedID := parent.Benchmark.AppliedSessionID
	if appliedID == "" {
		return stateErr(op, parentID, ErrNotApplied)
	}

	applied, err := o.sessions.Get(ctx, appliedID)
	if err != nil {
		return err
	}
	var ref string
	if applied.BenchmarkChild != nil {
		ref = applied.BenchmarkChild.SnapshotRef
	}
	if ref == "" {
		return fmt.Errorf("bench undo %s: %w", appliedID, ErrSnapshotUnavailable)
	}
	if err := o.snapshots.RevertDiff(ctx, ref, allowDirty); err != nil {
		return fmt.Errorf("bench undo %s: %w", appliedID, err)
	}

	_, err = o.sessions.Update(ctx, parentID, func(s *model.Session) error {
		if s.Benchmark == nil || s.Benchmark.AppliedSessionID != appliedID {
			return stateErr(op, parentID, ErrNotApplied)
		}
		s.Benchmark.AppliedSessionID = ""
		return nil
	})
	if err != nil {
		if rbErr := o.snapshots.ApplyDiff(ctx, ref, true); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("rolling back undo: %w", rbErr))
		}
		return fmt.Errorf("bench undo %s: %w", appliedID, err)
	}

	o.logger.Info("benchmark child undone",
		slog.String("parent", parentID),
		slog.String("child", appliedID))
	return nil
}

// parentID resolves sessionID to its benchmark parent: a child maps to its
// parent, anything else to itself.
func (o *Orchestrator) parentID(ctx context.Context, sessionID string) (string, error) {
	s, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s.BenchmarkChild != nil {
		return s.BenchmarkChild.ParentID, nil
	}
	return s.ID, nil
}
