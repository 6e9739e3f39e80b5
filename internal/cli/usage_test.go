package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/cbench/internal/model"
)

var cardNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func codexRecord() model.UsageRecord {
	return model.UsageRecord{
		ProviderID:   "codex",
		ProviderName: "Codex",
		PlanType:     "pro",
		Allowed:      model.Ptr(true),
		TokenUsage: &model.TokenUsage{
			Total:  model.Ptr[int64](1890),
			Input:  model.Ptr[int64](1234),
			Output: model.Ptr[int64](567),
			Cached: model.Ptr[int64](89),
		},
		Limits: &model.RateLimits{
			Primary: &model.RateLimitWindow{
				UsedPercent:   model.Ptr(42.4),
				WindowMinutes: model.Ptr(300),
				ResetsAt:      model.Ptr(cardNow.Unix() + 5400),
			},
			Secondary: &model.RateLimitWindow{
				UsedPercent: model.Ptr(12.0),
				ResetsAt:    model.Ptr(cardNow.Unix() + 900),
			},
		},
		Credits: &model.Credits{HasCredits: true, Balance: "$18.00"},
	}
}

func TestFormatUsageCodexCard(t *testing.T) {
	out := FormatUsage([]model.UsageRecord{codexRecord()}, cardNow)

	for _, want := range []string{
		"Codex (pro)",
		"Access  : allowed",
		"Credits : balance $18.00",
		"Tokens  : total 1.9k · input 1.2k · output 567 · cached 89",
		"Primary (5h)",
		"57.6% left [" + strings.Repeat("█", 12) + strings.Repeat("░", 8) + "]",
		"resets in 1h 30m (2025-06-01T13:30:00Z)",
		"Secondary",
		"88% left [",
		"resets in 15m (2025-06-01T12:15:00Z)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("card missing %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "Cost") {
		t.Errorf("card has a cost line without cost data\n%s", out)
	}
}

func TestFormatUsageIsDeterministic(t *testing.T) {
	recs := []model.UsageRecord{codexRecord(), {ProviderID: "x", Error: "boom"}}
	a := FormatUsage(recs, cardNow)
	b := FormatUsage(recs, cardNow)
	if a != b {
		t.Fatalf("FormatUsage output differs between calls:\n%s\n---\n%s", a, b)
	}
}

func TestFormatUsageBorderIsRectangular(t *testing.T) {
	out := FormatUsage([]model.UsageRecord{codexRecord(), {ProviderID: "copilot", Allowed: model.Ptr(false)}}, cardNow)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")

	if !strings.HasPrefix(lines[0], "╭") || !strings.HasPrefix(lines[len(lines)-1], "╰") {
		t.Fatalf("card is not bordered:\n%s", out)
	}
	width := lipgloss.Width(lines[0])
	for i, l := range lines {
		if w := lipgloss.Width(l); w != width {
			t.Errorf("line %d width = %d, want %d: %q", i, w, width, l)
		}
	}
	if !strings.Contains(out, "├") {
		t.Errorf("records are not separated:\n%s", out)
	}
}

func TestFormatUsageErrorShortCircuits(t *testing.T) {
	rec := codexRecord()
	rec.Error = "unauthorized"
	out := FormatUsage([]model.UsageRecord{rec}, cardNow)

	if !strings.Contains(out, "Error   : unauthorized") {
		t.Fatalf("missing error line:\n%s", out)
	}
	for _, absent := range []string{"Access", "Tokens", "Primary"} {
		if strings.Contains(out, absent) {
			t.Errorf("error record still renders %q:\n%s", absent, out)
		}
	}
}

func TestFormatUsageEmpty(t *testing.T) {
	if got := FormatUsage(nil, cardNow); got != NoUsageData+"\n" {
		t.Fatalf("FormatUsage(nil) = %q", got)
	}
}

func TestAccessText(t *testing.T) {
	yes, no := model.Ptr(true), model.Ptr(false)
	cases := []struct {
		allowed, reached *bool
		want             string
	}{
		{yes, nil, "allowed"},
		{yes, no, "allowed"},
		{yes, yes, "allowed, limit reached"},
		{no, nil, "blocked"},
		{no, yes, "blocked, limit reached"},
		{nil, yes, "unknown"},
		{nil, nil, "unknown"},
	}
	for _, c := range cases {
		if got := accessText(c.allowed, c.reached); got != c.want {
			t.Errorf("accessText = %q, want %q", got, c.want)
		}
	}
}

func TestCostText(t *testing.T) {
	got := costText(&model.CostSummary{TotalCost: model.Ptr(1.5), InputCost: model.Ptr(0.004), CacheReadCost: model.Ptr(0.0)})
	want := "total $1.50 · input $0.00400 · cache read $0.00"
	if got != want {
		t.Fatalf("costText = %q, want %q", got, want)
	}
}
