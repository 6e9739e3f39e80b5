// Package cli provides formatting and rendering utilities for terminal output.
package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var compactUnits = []struct {
	scale  float64
	suffix string
}{
	{1e3, "k"},
	{1e6, "M"},
	{1e9, "B"},
	{1e12, "T"},
}

// FormatCompact abbreviates a count. Values under 1000 are printed as-is;
// larger values get a k/M/B/T suffix, with one decimal while the scaled
// value is below 10.
// e.g., 567 -> "567", 1890 -> "1.9k", 45678 -> "46k", 2500000 -> "2.5M"
func FormatCompact(n int64) string {
	if n < 0 {
		return "-" + formatCompact(absUint(n))
	}
	return formatCompact(uint64(n))
}

func formatCompact(n uint64) string {
	if n < 1000 {
		return strconv.FormatUint(n, 10)
	}

	v := float64(n)
	for i := len(compactUnits) - 1; i >= 0; i-- {
		u := compactUnits[i]
		if v < u.scale {
			continue
		}
		scaled := v / u.scale
		if scaled < 10 {
			if s := strconv.FormatFloat(scaled, 'f', 1, 64); s != "10.0" {
				return s + u.suffix
			}
		}
		rounded := math.Round(scaled)
		if rounded >= 1000 && i < len(compactUnits)-1 {
			next := compactUnits[i+1]
			return strconv.FormatFloat(v/next.scale, 'f', 1, 64) + next.suffix
		}
		return strconv.FormatFloat(rounded, 'f', 0, 64) + u.suffix
	}
	return strconv.FormatUint(n, 10)
}

// FormatCurrency formats a USD amount with precision scaled to its size.
// e.g., 0 -> "$0.00", 0.000001 -> "<$0.00001", 0.0042 -> "$0.00420", 0.5 -> "$0.500", 18 -> "$18.00"
func FormatCurrency(v float64) string {
	switch {
	case v < 0:
		return "-" + FormatCurrency(-v)
	case v == 0:
		return "$0.00"
	case v < 0.00001:
		return "<$0.00001"
	case v < 0.01:
		return fmt.Sprintf("$%.5f", v)
	case v < 1:
		return fmt.Sprintf("$%.3f", v)
	default:
		return fmt.Sprintf("$%.2f", v)
	}
}

// FormatDuration formats a duration as hours and minutes.
// e.g., 1h30m -> "1h 30m", 15m -> "15m", negative -> "0m"
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}

	secs := int64(d / time.Second)
	hours := secs / 3600
	mins := (secs % 3600) / 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

// FormatWindow labels a rate-limit window length.
// e.g., 300 -> "5h", 10080 -> "7d", 90 -> "90m"
func FormatWindow(minutes int) string {
	switch {
	case minutes <= 0:
		return ""
	case minutes%(24*60) == 0:
		return fmt.Sprintf("%dd", minutes/(24*60))
	case minutes%60 == 0:
		return fmt.Sprintf("%dh", minutes/60)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// FormatPercent formats a 0-100 value rounded to one decimal, dropping the
// decimal for whole numbers.
// e.g., 57.6 -> "57.6", 88 -> "88", 99.96 -> "100"
func FormatPercent(p float64) string {
	r := math.Round(p*10) / 10
	if r == math.Trunc(r) {
		return strconv.FormatFloat(r, 'f', 0, 64)
	}
	return strconv.FormatFloat(r, 'f', 1, 64)
}

// FormatNumber adds comma separators to an integer.
// e.g., 1234567 -> "1,234,567"
func FormatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(absUint(n))
	}
	return formatNumber(uint64(n))
}

func formatNumber(n uint64) string {
	s := strconv.FormatUint(n, 10)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// absUint returns |n|, which for math.MinInt64 does not fit in an int64.
func absUint(n int64) uint64 {
	return uint64(-(n + 1)) + 1
}

// RenderBar renders a fixed-width filled/empty bar for a 0-100 value.
func RenderBar(pct float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := int(math.Round(clampPercent(pct) / 100 * float64(width)))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func clampPercent(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
