package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/cbench/internal/model"
	"github.com/theirongolddev/cbench/internal/usage"
)

type stubFetcher struct {
	mu      sync.Mutex
	records []model.UsageRecord
	err     error
	calls   int
}

func (f *stubFetcher) Fetch(context.Context, string, usage.Scope) ([]model.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.UsageRecord, len(f.records))
	copy(out, f.records)
	return out, nil
}

func (f *stubFetcher) set(records []model.UsageRecord) {
	f.mu.Lock()
	f.records = records
	f.mu.Unlock()
}

func codexRecord(used float64, at time.Time) model.UsageRecord {
	return model.UsageRecord{
		ProviderID:   "codex",
		ProviderName: "Codex",
		PlanType:     "pro",
		Allowed:      model.Ptr(true),
		LimitReached: model.Ptr(false),
		Limits: &model.RateLimits{
			Primary: &model.RateLimitWindow{
				UsedPercent:   model.Ptr(used),
				WindowMinutes: model.Ptr(300),
				ResetsAt:      model.Ptr(at.Add(90 * time.Minute).Unix()),
			},
		},
		CostSummary: &model.CostSummary{TotalCost: model.Ptr(1.25)},
		FetchedAt:   at,
	}
}

func newTestService(t *testing.T, f Fetcher) *Service {
	t.Helper()
	s := New(Config{Interval: 10 * time.Second, EventsBuffer: 10}, f)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s
}

func TestDiffRecords(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := []model.UsageRecord{codexRecord(40, at), {ProviderID: "copilot", Error: "timed out"}}

	t.Run("fetch time ignored", func(t *testing.T) {
		curr := []model.UsageRecord{codexRecord(40, at), {ProviderID: "copilot", Error: "timed out", FetchedAt: at.Add(time.Minute)}}
		curr[0].FetchedAt = at.Add(time.Minute)
		assert.Empty(t, diffRecords(prev, curr))
	})

	t.Run("changed usage", func(t *testing.T) {
		curr := []model.UsageRecord{codexRecord(41, at), {ProviderID: "copilot", Error: "timed out"}}
		assert.Equal(t, []string{"codex"}, diffRecords(prev, curr))
	})

	t.Run("added and removed providers", func(t *testing.T) {
		curr := []model.UsageRecord{codexRecord(40, at), {ProviderID: "quota"}}
		assert.ElementsMatch(t, []string{"quota", "copilot"}, diffRecords(prev, curr))
	})
}

func TestPublishEventRingBuffer(t *testing.T) {
	s := New(Config{
		Interval:     10 * time.Second,
		EventsBuffer: 2,
	}, &stubFetcher{})

	s.publishEvent(Event{ID: 1})
	s.publishEvent(Event{ID: 2})
	s.publishEvent(Event{ID: 3})

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) != 2 {
		t.Fatalf("events len = %d, want 2", len(s.events))
	}
	if s.events[0].ID != 2 || s.events[1].ID != 3 {
		t.Fatalf("events ring contains IDs [%d, %d], want [2, 3]", s.events[0].ID, s.events[1].ID)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s := New(Config{Interval: time.Second}, &stubFetcher{})
	assert.Equal(t, 60*time.Second, s.cfg.Interval)
	assert.Equal(t, 200, s.cfg.EventsBuffer)
	assert.Equal(t, "127.0.0.1:8788", s.cfg.Addr)
}

func TestPollOncePublishesOnlyOnChange(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := &stubFetcher{records: []model.UsageRecord{codexRecord(40, at)}}
	s := newTestService(t, f)
	ctx := context.Background()

	s.PollOnce(ctx)
	s.PollOnce(ctx)
	f.set([]model.UsageRecord{codexRecord(55, at)})
	s.PollOnce(ctx)

	s.mu.RLock()
	defer s.mu.RUnlock()
	require.Len(t, s.events, 2)
	assert.Equal(t, "snapshot", s.events[0].Type)
	assert.Equal(t, "usage_changed", s.events[1].Type)
	assert.Equal(t, []string{"codex"}, s.events[1].Changed)
	assert.Equal(t, int64(3), s.pollCount)
	assert.Empty(t, s.lastError)
}

func TestPollOnceKeepsRecordsOnError(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := &stubFetcher{records: []model.UsageRecord{codexRecord(40, at)}}
	s := newTestService(t, f)

	s.PollOnce(context.Background())
	f.mu.Lock()
	f.err = errors.New("boom")
	f.mu.Unlock()
	s.PollOnce(context.Background())

	st := s.snapshotStatus()
	assert.Equal(t, "boom", st.LastError)
	assert.Equal(t, 1, st.Providers)
	assert.Len(t, s.currentRecords(), 1)
}

func TestHandlers(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := &stubFetcher{records: []model.UsageRecord{
		codexRecord(42.4, at),
		{ProviderID: "copilot", ProviderName: "Copilot", Error: "timed out", FetchedAt: at},
	}}
	s := newTestService(t, f)
	s.PollOnce(context.Background())

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	get := func(t *testing.T, path string) (int, string) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	t.Run("healthz", func(t *testing.T) {
		code, body := get(t, "/healthz")
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "ok\n", body)
	})

	t.Run("status", func(t *testing.T) {
		code, body := get(t, "/v1/status")
		require.Equal(t, http.StatusOK, code)
		var st Status
		require.NoError(t, json.Unmarshal([]byte(body), &st))
		assert.Equal(t, 2, st.Providers)
		assert.Equal(t, []string{"copilot"}, st.Failing)
		assert.Equal(t, 10, st.PollIntervalSec)
		assert.Equal(t, 1, st.EventCount)
	})

	t.Run("usage json", func(t *testing.T) {
		code, body := get(t, "/v1/usage?provider=codex")
		require.Equal(t, http.StatusOK, code)
		var recs []model.UsageRecord
		require.NoError(t, json.Unmarshal([]byte(body), &recs))
		require.Len(t, recs, 1)
		assert.Equal(t, "codex", recs[0].ProviderID)

		code, _ = get(t, "/v1/usage?provider=nope")
		assert.Equal(t, http.StatusNotFound, code)
	})

	t.Run("usage text", func(t *testing.T) {
		code, body := get(t, "/v1/usage.txt")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, "Codex (pro)")
		assert.Contains(t, body, "57.6% left")
		assert.Contains(t, body, "timed out")
	})

	t.Run("events", func(t *testing.T) {
		code, body := get(t, "/v1/events")
		require.Equal(t, http.StatusOK, code)
		var evs []Event
		require.NoError(t, json.Unmarshal([]byte(body), &evs))
		require.Len(t, evs, 1)
		assert.Equal(t, "snapshot", evs[0].Type)
	})

	t.Run("metrics", func(t *testing.T) {
		code, body := get(t, "/metrics")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, body, `cbench_usage_used_percent{provider="codex",window="primary"} 42.4`)
		assert.Contains(t, body, `cbench_usage_cost_usd{provider="codex"} 1.25`)
		assert.Contains(t, body, `cbench_usage_limit_reached{provider="codex"} 0`)
		assert.Contains(t, body, `cbench_usage_fetch_errors_total{provider="copilot"} 1`)
		assert.Contains(t, body, "cbench_daemon_polls_total 1")
	})
}

func TestStreamSendsInitialSnapshot(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := newTestService(t, &stubFetcher{records: []model.UsageRecord{codexRecord(40, at)}})
	s.PollOnce(context.Background())

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, "event: snapshot", sc.Text())
	require.True(t, sc.Scan())
	assert.True(t, strings.HasPrefix(sc.Text(), "data: "))
	assert.Contains(t, sc.Text(), `"provider_id":"codex"`)
}

func TestWatchConfigSignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("a = 1\n"), 0o600))

	s := New(Config{ConfigPath: path}, &stubFetcher{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloadCh := make(chan struct{}, 1)
	go s.watchConfig(ctx, reloadCh)

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-reloadCh:
			return
		case <-tick.C:
			// Keep writing until the watcher is registered.
			require.NoError(t, os.WriteFile(path, []byte("a = 2\n"), 0o600))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
		case <-deadline:
			t.Fatal("no reload signal after config write")
		}
	}
}

func TestReloadSwapsFetcher(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	next := &stubFetcher{records: []model.UsageRecord{codexRecord(10, at)}}
	s := newTestService(t, &stubFetcher{})
	s.cfg.Reload = func() (Fetcher, error) { return next, nil }

	s.reload()
	s.PollOnce(context.Background())
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, 1, s.snapshotStatus().Reloads)

	s.cfg.Reload = func() (Fetcher, error) { return nil, errors.New("bad toml") }
	s.reload()
	assert.Equal(t, "reload: bad toml", s.snapshotStatus().LastError)
	s.PollOnce(context.Background())
	assert.Equal(t, 2, next.calls)
}
