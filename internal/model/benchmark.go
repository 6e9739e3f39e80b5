package model

import (
	"fmt"
	"strings"
	"time"
)

// ModelRef identifies a model at a provider.
type ModelRef struct {
	ProviderID string `json:"provider_id" yaml:"provider_id"`
	ModelID    string `json:"model_id" yaml:"model_id"`
}

// String returns the "provider/model" form.
func (m ModelRef) String() string {
	return m.ProviderID + "/" + m.ModelID
}

// ParseModelRef parses "provider/model". The model part may itself contain slashes.
func ParseModelRef(s string) (ModelRef, error) {
	provider, modelID, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || provider == "" || modelID == "" {
		return ModelRef{}, fmt.Errorf("invalid model %q (expected provider/model)", s)
	}
	return ModelRef{ProviderID: provider, ModelID: modelID}, nil
}

// Session is a conversation thread. A session may own a benchmark (parent)
// or be one of a benchmark's spawned children, never both.
type Session struct {
	ID        string    `json:"id" yaml:"id"`
	Title     string    `json:"title" yaml:"title"`
	Directory string    `json:"directory,omitempty" yaml:"directory,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`

	Benchmark      *BenchmarkParent `json:"benchmark,omitempty" yaml:"benchmark,omitempty"`
	BenchmarkChild *BenchmarkChild  `json:"benchmark_child,omitempty" yaml:"benchmark_child,omitempty"`
}

// BenchmarkParent is attached to the primary session of a benchmark.
// Children keep slot order from creation; AppliedSessionID names at most one child.
type BenchmarkParent struct {
	Enabled          bool                `json:"enabled" yaml:"enabled"`
	Children         []BenchmarkChildRef `json:"children" yaml:"children"`
	AppliedSessionID string              `json:"applied_session_id,omitempty" yaml:"applied_session_id,omitempty"`
}

// BenchmarkChildRef is one slot in a benchmark.
type BenchmarkChildRef struct {
	SessionID string   `json:"session_id" yaml:"session_id"`
	Model     ModelRef `json:"model" yaml:"model"`
}

// IndexOf returns the slot index of sessionID, or -1.
func (p *BenchmarkParent) IndexOf(sessionID string) int {
	for i, c := range p.Children {
		if c.SessionID == sessionID {
			return i
		}
	}
	return -1
}

// BenchmarkChild is attached to each spawned child session.
type BenchmarkChild struct {
	ParentID    string   `json:"parent_id" yaml:"parent_id"`
	Model       ModelRef `json:"model" yaml:"model"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
	SnapshotRef string   `json:"snapshot_ref,omitempty" yaml:"snapshot_ref,omitempty"`
}
