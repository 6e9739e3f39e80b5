package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/cbench/internal/bench"
	"github.com/theirongolddev/cbench/internal/config"
	"github.com/theirongolddev/cbench/internal/model"
	"github.com/theirongolddev/cbench/internal/usage"
)

type fakeUsage struct {
	filter  string
	records []model.UsageRecord
	err     error
}

func (f *fakeUsage) Fetch(_ context.Context, filter string, _ usage.Scope) ([]model.UsageRecord, error) {
	f.filter = filter
	return f.records, f.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestApp(opts Options) App {
	a := NewApp(opts)
	a.now = func() time.Time { return fixedNow }
	m, _ := a.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return m.(App)
}

func update(t *testing.T, a App, msg tea.Msg) (App, tea.Cmd) {
	t.Helper()
	m, cmd := a.Update(msg)
	out, ok := m.(App)
	require.True(t, ok)
	return out, cmd
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestFetchUsageCmdPassesProviderFilter(t *testing.T) {
	src := &fakeUsage{records: []model.UsageRecord{{ProviderID: "codex", ProviderName: "Codex"}}}
	a := newTestApp(Options{Usage: src, Provider: "codex"})

	msg := a.fetchUsageCmd()()
	loaded, ok := msg.(UsageLoadedMsg)
	require.True(t, ok)
	assert.Equal(t, "codex", src.filter)
	assert.Len(t, loaded.Records, 1)
	assert.Equal(t, fixedNow, loaded.At)
}

func TestViewShowsUsageCard(t *testing.T) {
	a := newTestApp(Options{})
	assert.Contains(t, a.View(), "Fetching usage")

	a, _ = update(t, a, UsageLoadedMsg{
		Records: []model.UsageRecord{{ProviderID: "codex", ProviderName: "Codex", PlanType: "pro"}},
		At:      fixedNow,
	})
	view := a.View()
	assert.Contains(t, view, "Codex (pro)")
	assert.Contains(t, view, "[b]ench")
}

func TestUsageErrorKeepsPreviousRecords(t *testing.T) {
	a := newTestApp(Options{})
	a, _ = update(t, a, UsageLoadedMsg{Records: []model.UsageRecord{{ProviderID: "codex", ProviderName: "Codex"}}, At: fixedNow})
	a, _ = update(t, a, UsageLoadedMsg{Err: errors.New("network down"), At: fixedNow})

	assert.Len(t, a.records, 1)
	assert.Contains(t, a.View(), "Codex")
}

func TestTabSwitchingAndBenchView(t *testing.T) {
	a := newTestApp(Options{})
	a, _ = update(t, a, BenchLoadedMsg{Benchmarks: []bench.Status{{
		ParentID: "parent-session-id",
		Title:    "refactor auth",
		State:    bench.StateRunning,
		Applied:  "child-a",
		Children: []bench.ChildStatus{
			{Slot: 0, SessionID: "child-a", Model: model.ModelRef{ProviderID: "openai", ModelID: "gpt-5"}, HasSnapshot: true, Applied: true},
			{Slot: 1, SessionID: "child-b", Model: model.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4-5"}, Error: "snapshot: not a git repository"},
		},
	}}})

	a, _ = update(t, a, key("b"))
	assert.Equal(t, tabBench, a.activeTab)
	view := a.View()
	assert.Contains(t, view, "refactor auth")
	assert.Contains(t, view, "openai/gpt-5")
	assert.Contains(t, view, "snapshot: not a git repository")

	a, _ = update(t, a, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, tabUsage, a.activeTab)
}

func TestBenchEmptyState(t *testing.T) {
	assert.Contains(t, renderBenchmarks(nil, nil), "No benchmarks")
	assert.Contains(t, renderBenchmarks(nil, errors.New("db locked")), "db locked")
}

func TestRefreshKeyIsDebounced(t *testing.T) {
	a := newTestApp(Options{Usage: &fakeUsage{}})
	a, cmd := update(t, a, key("r"))
	assert.True(t, a.refreshing)
	assert.NotNil(t, cmd)

	_, cmd = update(t, a, key("r"))
	assert.Nil(t, cmd)
}

func TestQuitKey(t *testing.T) {
	a := newTestApp(Options{})
	_, cmd := update(t, a, key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestSetupValuesApply(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers = []config.ProviderConfig{{ID: "codex", Family: config.FamilyChatGPT, BaseURL: "http://localhost:9"}}

	v := NewSetupValues(cfg)
	assert.Equal(t, "codex", v.ProviderID)
	assert.Equal(t, "5", v.MaxAttempts)

	v.TokenEnv = "CODEX_TOKEN"
	v.MaxAttempts = "7"
	v.Theme = "tokyo-night"
	v.Apply(&cfg)

	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "CODEX_TOKEN", cfg.Providers[0].TokenEnv)
	assert.Equal(t, "http://localhost:9", cfg.Providers[0].BaseURL)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, "tokyo-night", cfg.Appearance.Theme)

	v.ProviderID = "copilot"
	v.Family = config.FamilyCopilot
	v.Apply(&cfg)
	assert.Len(t, cfg.Providers, 2)
}

func TestScrollLines(t *testing.T) {
	assert.Equal(t, "b\nc", scrollLines("a\nb\nc\nd", 1, 2))
	assert.Equal(t, "d", scrollLines("a\nb\nc\nd", 10, 2))
}
