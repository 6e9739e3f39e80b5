package cli

import (
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/theirongolddev/cbench/internal/model"
)

// NoUsageData is rendered when there are no records.
const NoUsageData = "No usage data available."

const limitBarWidth = 20

// FormatUsage renders usage records as a single bordered card. Output
// depends only on records and now.
func FormatUsage(records []model.UsageRecord, now time.Time) string {
	if len(records) == 0 {
		return NoUsageData + "\n"
	}

	var sections [][]string
	for _, r := range records {
		sections = append(sections, usageLines(r, now))
	}
	return renderCard(sections)
}

func usageLines(r model.UsageRecord, now time.Time) []string {
	lines := []string{usageHeading(r)}

	if r.Error != "" {
		return append(lines, field("Error", r.Error))
	}

	lines = append(lines, field("Access", accessText(r.Allowed, r.LimitReached)))
	if r.Credits != nil {
		lines = append(lines, field("Credits", creditsText(*r.Credits)))
	}
	if t := tokensText(r.TokenUsage); t != "" {
		lines = append(lines, field("Tokens", t))
	}
	if c := costText(r.CostSummary); c != "" {
		lines = append(lines, field("Cost", c))
	}

	if r.Limits != nil {
		lines = append(lines, windowLines("Primary", r.Limits.Primary, now)...)
		lines = append(lines, windowLines("Secondary", r.Limits.Secondary, now)...)
	}
	return lines
}

func usageHeading(r model.UsageRecord) string {
	name := r.ProviderName
	if name == "" {
		name = r.ProviderID
	}
	if r.PlanType != "" {
		return name + " (" + r.PlanType + ")"
	}
	return name
}

// field renders "Label   : value" with labels padded to a common width.
func field(label, value string) string {
	const labelWidth = 8
	if pad := labelWidth - len(label); pad > 0 {
		label += strings.Repeat(" ", pad)
	}
	return label + ": " + value
}

func accessText(allowed, limitReached *bool) string {
	if allowed == nil {
		return "unknown"
	}
	reached := limitReached != nil && *limitReached
	switch {
	case *allowed && reached:
		return "allowed, limit reached"
	case *allowed:
		return "allowed"
	case reached:
		return "blocked, limit reached"
	default:
		return "blocked"
	}
}

func creditsText(c model.Credits) string {
	switch {
	case c.Unlimited:
		return "unlimited"
	case c.Balance != "":
		return "balance " + c.Balance
	case c.HasCredits:
		return "available"
	default:
		return "none"
	}
}

func tokensText(t *model.TokenUsage) string {
	if t == nil {
		return ""
	}
	var parts []string
	add := func(label string, v *int64) {
		if v != nil {
			parts = append(parts, label+" "+FormatCompact(*v))
		}
	}
	add("total", t.Total)
	add("input", t.Input)
	add("output", t.Output)
	add("cached", t.Cached)
	add("cache write", t.CacheCreation)
	return strings.Join(parts, " · ")
}

func costText(c *model.CostSummary) string {
	if c == nil {
		return ""
	}
	var parts []string
	add := func(label string, v *float64) {
		if v != nil {
			parts = append(parts, label+" "+FormatCurrency(*v))
		}
	}
	add("total", c.TotalCost)
	add("input", c.InputCost)
	add("output", c.OutputCost)
	add("cache read", c.CacheReadCost)
	add("cache write", c.CacheCreationCost)
	return strings.Join(parts, " · ")
}

func windowLines(name string, w *model.RateLimitWindow, now time.Time) []string {
	if w == nil {
		return nil
	}

	title := name
	if w.WindowMinutes != nil {
		if label := FormatWindow(*w.WindowMinutes); label != "" {
			title += " (" + label + ")"
		}
	}
	lines := []string{"", title}

	if w.UsedPercent != nil {
		remaining := 100 - clampPercent(*w.UsedPercent)
		lines = append(lines, "  "+FormatPercent(remaining)+"% left ["+RenderBar(remaining, limitBarWidth)+"]")
	} else {
		lines = append(lines, "  usage unknown")
	}

	if w.ResetsAt != nil {
		at := time.Unix(*w.ResetsAt, 0).UTC()
		lines = append(lines, "  resets in "+FormatDuration(at.Sub(now))+" ("+at.Format(time.RFC3339)+")")
	}
	return lines
}

// renderCard draws sections inside a rounded border, separating sections
// with a horizontal rule.
func renderCard(sections [][]string) string {
	width := 0
	for _, lines := range sections {
		for _, l := range lines {
			width = max(width, lipgloss.Width(l))
		}
	}

	rule := strings.Repeat("─", width+2)
	var b strings.Builder
	b.WriteString("╭" + rule + "╮\n")
	for i, lines := range sections {
		if i > 0 {
			b.WriteString("├" + rule + "┤\n")
		}
		for _, l := range lines {
			b.WriteString("│ " + l + strings.Repeat(" ", width-lipgloss.Width(l)) + " │\n")
		}
	}
	b.WriteString("╰" + rule + "╯\n")
	return b.String()
}
