package bench

import (
	"context"
	"log/slog"

	"github.com/theirongolddev/cbench/internal/model"
)

// Benchmark states.
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

// ChildStatus describes one slot.
type ChildStatus struct {
	Slot        int            `json:"slot" yaml:"slot"`
	SessionID   string         `json:"session_id" yaml:"session_id"`
	Model       model.ModelRef `json:"model" yaml:"model"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	HasSnapshot bool           `json:"has_snapshot" yaml:"has_snapshot"`
	Applied     bool           `json:"applied" yaml:"applied"`
}

// Status is a read-only view of a benchmark.
type Status struct {
	ParentID string        `json:"parent_id" yaml:"parent_id"`
	Title    string        `json:"title" yaml:"title"`
	State    string        `json:"state" yaml:"state"`
	Applied  string        `json:"applied_session_id,omitempty" yaml:"applied_session_id,omitempty"`
	Children []ChildStatus `json:"children" yaml:"children"`

	// TreeDirty reports uncommitted changes in the working tree that an
	// apply or undo would have to override.
	TreeDirty bool `json:"tree_dirty" yaml:"tree_dirty"`
}

// Status returns the benchmark that sessionID owns or belongs to.
func (o *Orchestrator) Status(ctx context.Context, sessionID string) (Status, error) {
	parentID, err := o.parentID(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	parent, err := o.sessions.Get(ctx, parentID)
	if err != nil {
		return Status{}, err
	}
	bp := parent.Benchmark
	if bp == nil {
		return Status{}, stateErr("status", sessionID, ErrNoBenchmark)
	}

	st := Status{
		ParentID: parent.ID,
		Title:    parent.Title,
		State:    StateStopped,
		Applied:  bp.AppliedSessionID,
	}
	if bp.Enabled {
		st.State = StateRunning
	}
	if dirty, err := o.snapshots.IsDirty(ctx); err != nil {
		o.logger.Warn("checking working tree", slog.String("error", err.Error()))
	} else {
		st.TreeDirty = dirty
	}

	for i, ref := range bp.Children {
		cs := ChildStatus{
			Slot:      i,
			SessionID: ref.SessionID,
			Model:     ref.Model,
			Applied:   ref.SessionID == bp.AppliedSessionID,
		}
		child, err := o.sessions.Get(ctx, ref.SessionID)
		switch {
		case err != nil:
			cs.Error = err.Error()
		case child.BenchmarkChild != nil:
			cs.Error = child.BenchmarkChild.Error
			cs.HasSnapshot = child.BenchmarkChild.SnapshotRef != ""
		}
		st.Children = append(st.Children, cs)
	}
	return st, nil
}
