package bench

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/theirongolddev/cbench/internal/model"
)

type memStore struct {
	mu       sync.Mutex
	next     int
	sessions map[string]model.Session
	failOn   func(id string) error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]model.Session)}
}

func (m *memStore) Get(_ context.Context, id string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return clone(s), nil
}

func (m *memStore) Create(_ context.Context, s model.Session) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		m.next++
		s.ID = fmt.Sprintf("s%d", m.next)
	}
	m.sessions[s.ID] = clone(s)
	return s, nil
}

func (m *memStore) Update(_ context.Context, id string, fn func(*model.Session) error) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		if err := m.failOn(id); err != nil {
			return model.Session{}, err
		}
	}
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s = clone(s)
	if err := fn(&s); err != nil {
		return model.Session{}, err
	}
	m.sessions[id] = s
	return clone(s), nil
}

func clone(s model.Session) model.Session {
	if s.Benchmark != nil {
		b := *s.Benchmark
		b.Children = append([]model.BenchmarkChildRef(nil), b.Children...)
		s.Benchmark = &b
	}
	if s.BenchmarkChild != nil {
		c := *s.BenchmarkChild
		s.BenchmarkChild = &c
	}
	return s
}

type fakeSnapshots struct {
	mu         sync.Mutex
	dirty      bool
	captureErr map[string]error
	applied    map[string]bool
	calls      []string
	onApply    func(ref string)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{captureErr: map[string]error{}, applied: map[string]bool{}}
}

func (f *fakeSnapshots) Capture(_ context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.captureErr[sessionID]; err != nil {
		return "", err
	}
	return "ref-" + sessionID, nil
}

func (f *fakeSnapshots) track() func() {
	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeSnapshots) ApplyDiff(_ context.Context, ref string, allowDirty bool) error {
	defer f.track()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "apply "+ref)
	if f.dirty && !allowDirty {
		return ErrWorkingTreeDirty
	}
	f.applied[ref] = true
	if f.onApply != nil {
		f.onApply(ref)
	}
	return nil
}

func (f *fakeSnapshots) RevertDiff(_ context.Context, ref string, allowDirty bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "revert "+ref)
	if f.dirty && !allowDirty {
		return ErrWorkingTreeDirty
	}
	delete(f.applied, ref)
	return nil
}

func (f *fakeSnapshots) IsDirty(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty, nil
}

var (
	gpt    = model.ModelRef{ProviderID: "openai", ModelID: "gpt-5"}
	sonnet = model.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4-5"}
	gemini = model.ModelRef{ProviderID: "google", ModelID: "gemini-2.5-pro"}
)

type fixture struct {
	ctx    context.Context
	store  *memStore
	snaps  *fakeSnapshots
	orch   *Orchestrator
	parent string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	parent, err := store.Create(context.Background(), model.Session{ID: "parent", Title: "Fix bug", Directory: "/repo"})
	require.NoError(t, err)
	snaps := newFakeSnapshots()
	return &fixture{
		ctx:    context.Background(),
		store:  store,
		snaps:  snaps,
		orch:   New(store, snaps, nil),
		parent: parent.ID,
	}
}

func (f *fixture) start(t *testing.T, models ...model.ModelRef) model.BenchmarkParent {
	t.Helper()
	bp, err := f.orch.Start(f.ctx, f.parent, models, false)
	require.NoError(t, err)
	return bp
}

func TestStartCreatesChildrenInSlotOrder(t *testing.T) {
	f := newFixture(t)
	bp := f.start(t, gpt, sonnet, gemini)

	assert.True(t, bp.Enabled)
	require.Len(t, bp.Children, 3)
	for i, want := range []model.ModelRef{gpt, sonnet, gemini} {
		assert.Equal(t, want, bp.Children[i].Model)

		child, err := f.store.Get(f.ctx, bp.Children[i].SessionID)
		require.NoError(t, err)
		require.NotNil(t, child.BenchmarkChild)
		assert.Equal(t, f.parent, child.BenchmarkChild.ParentID)
		assert.Equal(t, want, child.BenchmarkChild.Model)
		assert.Equal(t, "ref-"+child.ID, child.BenchmarkChild.SnapshotRef)
		assert.Equal(t, "/repo", child.Directory)
	}

	parent, err := f.store.Get(f.ctx, f.parent)
	require.NoError(t, err)
	assert.Equal(t, bp, *parent.Benchmark)
}

func TestStartRejectsDuplicateModels(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Start(f.ctx, f.parent, []model.ModelRef{gpt, sonnet, gpt}, false)
	require.ErrorIs(t, err, ErrDuplicateModels)

	var se *StateError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "start", se.Op)

	parent, err := f.store.Get(f.ctx, f.parent)
	require.NoError(t, err)
	assert.Nil(t, parent.Benchmark)

	bp, err := f.orch.Start(f.ctx, f.parent, []model.ModelRef{gpt, sonnet, gpt}, true)
	require.NoError(t, err)
	require.Len(t, bp.Children, 3)
	assert.Equal(t, gpt, bp.Children[2].Model)
	assert.NotEqual(t, bp.Children[0].SessionID, bp.Children[2].SessionID)
}

func TestStartRejectsWhenEnabled(t *testing.T) {
	f := newFixture(t)
	f.start(t, gpt)

	_, err := f.orch.Start(f.ctx, f.parent, []model.ModelRef{sonnet}, false)
	assert.ErrorIs(t, err, ErrAlreadyEnabled)

	require.NoError(t, f.orch.Stop(f.ctx, f.parent))
	bp := f.start(t, sonnet)
	assert.Equal(t, sonnet, bp.Children[0].Model)
}

func TestStartRejectsEmptyAndChildSessions(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Start(f.ctx, f.parent, nil, false)
	assert.ErrorIs(t, err, ErrNoModels)

	bp := f.start(t, gpt)
	_, err = f.orch.Start(f.ctx, bp.Children[0].SessionID, []model.ModelRef{sonnet}, false)
	assert.ErrorIs(t, err, ErrNestedBenchmark)

	_, err = f.orch.Start(f.ctx, "missing", []model.ModelRef{sonnet}, false)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStartRecordsCaptureFailure(t *testing.T) {
	f := newFixture(t)
	// Children are created as s1, s2 by the store.
	f.snaps.captureErr["s2"] = errors.New("no git repo")

	bp := f.start(t, gpt, sonnet)
	child, err := f.store.Get(f.ctx, bp.Children[1].SessionID)
	require.NoError(t, err)
	assert.Empty(t, child.BenchmarkChild.SnapshotRef)
	assert.Contains(t, child.BenchmarkChild.Error, "no git repo")

	next, err := f.orch.Next(f.ctx, bp.Children[0].SessionID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, next, "errored child stays navigable")

	err = f.orch.Apply(f.ctx, child.ID, false)
	assert.ErrorIs(t, err, ErrSnapshotUnavailable)
}

func TestStopIsIdempotentAndResolvesChild(t *testing.T) {
	f := newFixture(t)
	bp := f.start(t, gpt, sonnet)

	require.NoError(t, f.orch.Stop(f.ctx, bp.Children[1].SessionID))
	require.NoError(t, f.orch.Stop(f.ctx, f.parent))

	parent, err := f.store.Get(f.ctx, f.parent)
	require.NoError(t, err)
	assert.False(t, parent.Benchmark.Enabled)
	assert.Len(t, parent.Benchmark.Children, 2, "children survive stop")

	other, err := f.store.Create(f.ctx, model.Session{Title: "plain"})
	require.NoError(t, err)
	assert.ErrorIs(t, f.orch.Stop(f.ctx, other.ID), ErrNoBenchmark)
}

func TestNextPrevWrap(t *testing.T) {
	f := newFixture(t)
	bp := f.start(t, gpt, sonnet, gemini)
	ids := []string{bp.Children[0].SessionID, bp.Children[1].SessionID, bp.Children[2].SessionID}

	for i, id := range ids {
		next, err := f.orch.Next(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ids[(i+1)%3], next)

		prev, err := f.orch.Prev(f.ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ids[(i+2)%3], prev)
	}

	next, err := f.orch.Next(f.ctx, f.parent)
	require.NoError(t, err)
	assert.Equal(t, ids[0], next)

	prev, err := f.orch.Prev(f.ctx, f.parent)
	require.NoError(t, err)
	assert.Equal(t, ids[2], prev)

	// Cycling still works after stop.
	require.NoError(t, f.orch.Stop(f.ctx, f.parent))
	next, err = f.orch.Next(f.ctx, ids[2])
	require.NoError(t, err)
	assert.Equal(t, ids[0], next)
}

func TestNextWithoutBenchmark(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.Next(f.ctx, f.parent)
	assert.ErrorIs(t, err, ErrNoChildren)
	_, err = f.orch.Prev(f.ctx, f.parent)
	assert.ErrorIs(t, err, ErrNoChildren)
}

func TestApplyRequiresUndoBeforeSwitching(t *testing.T) {
	f := newFixture(t)
	bp := f.start(t, gpt, sonnet)
	a, b := bp.Children[0].SessionID, bp.Children[1].SessionID

	require.NoError(t, f.orch.Apply(f.ctx, a, false))
	require.NoError(t, f.orch.Apply(f.ctx, a, false), "re-applying the applied child is a no-op")

	err := f.orch.Apply(f.ctx, b, false)
	require.ErrorIs(t, err, ErrAlreadyApplied)

	require.NoError(t, f.orch.Undo(f.ctx, f.parent, false))
	require.NoError(t, f.orch.Apply(f.ctx, b, false))

	parent, err := f.store.Get(f.ctx, f.parent)
	require.NoError(t, err)
	assert.Equal(t, b, parent.Benchmark.AppliedSessionID)
	assert.Equal(t, []string{"apply ref-" + a, "revert ref-" + a, "apply ref-" + b}, f.snaps.calls)
}

func TestApplyRejectsNonChild(t *testing.T) {
	f := newFixture(t)
	f.start(t, gpt)
	err := f.orch.Apply(f.ctx, f.parent, false)
	assert.ErrorIs(t, err, ErrNotChild)
}

func TestApplyAndUndoDirtyTree(t *testing.T) {
	f := newFixture(t)
	bp := f.start(t, gpt)
	child := bp.Children[0].SessionID
	f.snaps.dirty = true

	err := f.orch.Apply(f.ctx, child, false)
	require.ErrorIs(t, err, ErrWorkingTreeDirty)
	assert.NotErrorIs(t, err, ErrSnapshotUnavailable)

	parent, _ := f.store.Get(f.ctx, f.parent)
	assert.Empty(t, parent.Benchmark.AppliedSessionID)

	require.NoError(t, f.orch.Apply(f.ctx, child, true))

	err = f.orch.Undo(f.ctx, f.parent, false)
	require.ErrorIs(t, err, ErrWorkingTreeDirty)
	parent, _ = f.store.Get(f.ctx, f.parent)
	assert.Equal(t, child, parent.Benchmark.AppliedSessionID)

	require.NoError(t, f.orch.Undo(f.ctx, child, true))
	parent, _ = f.store.Get(f.ctx, f.parent)
	assert.Empty(t, parent.Benchmark.AppliedSessionID)
}

func TestUndoWithoutApplied(t *testing.T) {
	f := newFixture(t)
	f.start(t, gpt)
	assert.ErrorIs(t, f.orch.Undo(f.ctx, f.parent, false), ErrNotApplied)
}

func TestApplyRollsBackWhenStoreFails(t *testing.T) {
	f := newFixture(t)
	bp := f.start(t, gpt)
	child := bp.Children[0].SessionID

	f.store.failOn = func(id string) error {
		if id == f.parent {
			return errors.New("disk full")
		}
		return nil
	}
	err := f.orch.Apply(f.ctx, child, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []string{"apply ref-" + child, "revert ref-" + child}, f.snaps.calls)
	assert.Empty(t, f.snaps.applied)
}

func TestConcurrentApplyIsSerialized(t *testing.T) {
	f := newFixture(t)
	bp := f.start(t, gpt, sonnet, gemini)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		conflicts atomic.Int32
	)
	for _, c := range bp.Children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.orch.Apply(f.ctx, c.SessionID, false)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, ErrAlreadyApplied):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, int32(2), conflicts.Load())
	assert.Equal(t, int32(1), f.snaps.maxInFlight.Load())
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.snaps.captureErr["s2"] = errors.New("capture failed")
	bp := f.start(t, gpt, sonnet)
	require.NoError(t, f.orch.Apply(f.ctx, bp.Children[0].SessionID, false))

	st, err := f.orch.Status(f.ctx, bp.Children[1].SessionID)
	require.NoError(t, err)
	assert.Equal(t, f.parent, st.ParentID)
	assert.Equal(t, StateRunning, st.State)
	require.Len(t, st.Children, 2)
	assert.True(t, st.Children[0].Applied)
	assert.True(t, st.Children[0].HasSnapshot)
	assert.False(t, st.Children[1].HasSnapshot)
	assert.Contains(t, st.Children[1].Error, "capture failed")
	assert.False(t, st.TreeDirty)

	f.snaps.dirty = true
	st, err = f.orch.Status(f.ctx, f.parent)
	require.NoError(t, err)
	assert.True(t, st.TreeDirty)
}

func TestApplyRevertsWhenSiblingClaimedSlotFirst(t *testing.T) {
	f := newFixture(t)
	bp := f.start(t, gpt, sonnet)
	first, second := bp.Children[0].SessionID, bp.Children[1].SessionID

	// Another process claims the slot while this apply is touching the tree.
	f.snaps.onApply = func(string) {
		_, err := f.store.Update(f.ctx, f.parent, func(s *model.Session) error {
			s.Benchmark.AppliedSessionID = second
			return nil
		})
		require.NoError(t, err)
	}

	err := f.orch.Apply(f.ctx, first, false)
	require.ErrorIs(t, err, ErrAlreadyApplied)
	assert.Equal(t, []string{"apply ref-" + first, "revert ref-" + first}, f.snaps.calls)
	assert.False(t, f.snaps.applied["ref-"+first])

	parent, err := f.store.Get(f.ctx, f.parent)
	require.NoError(t, err)
	assert.Equal(t, second, parent.Benchmark.AppliedSessionID)
}

type recordingExecutor struct {
	mu   sync.Mutex
	reqs []PromptRequest
	fail map[string]error
}

func (r *recordingExecutor) Execute(_ context.Context, req PromptRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return r.fail[req.SessionID]
}

func TestFanout(t *testing.T) {
	f := newFixture(t)
	bp := f.start(t, gpt, sonnet, gemini)
	failing := bp.Children[1].SessionID
	exec := &recordingExecutor{fail: map[string]error{failing: errors.New("queue full")}}

	results, err := f.orch.Fanout(f.ctx, f.parent, []string{"fix the bug"}, exec, rate.NewLimiter(rate.Inf, 1))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Len(t, exec.reqs, 3)

	for i, r := range results {
		assert.Equal(t, bp.Children[i].SessionID, r.SessionID)
		assert.Equal(t, bp.Children[i].Model, r.Model)
	}
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "queue full")

	child, err := f.store.Get(f.ctx, failing)
	require.NoError(t, err)
	assert.Equal(t, "queue full", child.BenchmarkChild.Error)
}

func TestFanoutRequiresRunningBenchmark(t *testing.T) {
	f := newFixture(t)
	exec := &recordingExecutor{}

	_, err := f.orch.Fanout(f.ctx, f.parent, []string{"hi"}, exec, nil)
	assert.ErrorIs(t, err, ErrNoBenchmark)

	f.start(t, gpt)
	require.NoError(t, f.orch.Stop(f.ctx, f.parent))
	_, err = f.orch.Fanout(f.ctx, f.parent, []string{"hi"}, exec, nil)
	assert.ErrorIs(t, err, ErrNotEnabled)
	assert.Empty(t, exec.reqs)
}
