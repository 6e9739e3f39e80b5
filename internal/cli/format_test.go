package cli

import (
	"math"
	"testing"
	"time"
)

func TestFormatCompact(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{567, "567"},
		{999, "999"},
		{1000, "1.0k"},
		{1234, "1.2k"},
		{1890, "1.9k"},
		{9960, "10k"},
		{45678, "46k"},
		{999_950, "1.0M"},
		{2_500_000, "2.5M"},
		{12_300_000_000, "12B"},
		{3_000_000_000_000, "3.0T"},
		{-1500, "-1.5k"},
		{math.MinInt64, "-9223372T"},
	}
	for _, c := range cases {
		if got := FormatCompact(c.in); got != c.want {
			t.Errorf("FormatCompact(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
		{-45678, "-45,678"},
		{math.MaxInt64, "9,223,372,036,854,775,807"},
		{math.MinInt64, "-9,223,372,036,854,775,808"},
	}
	for _, c := range cases {
		if got := FormatNumber(c.in); got != c.want {
			t.Errorf("FormatNumber(%d) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatCurrency(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{0.000001, "<$0.00001"},
		{0.0042, "$0.00420"},
		{0.5, "$0.500"},
		{1, "$1.00"},
		{18, "$18.00"},
		{1234.567, "$1234.57"},
	}
	for _, c := range cases {
		if got := FormatCurrency(c.in); got != c.want {
			t.Errorf("FormatCurrency(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{90 * time.Minute, "1h 30m"},
		{15 * time.Minute, "15m"},
		{30 * time.Second, "0m"},
		{-time.Minute, "0m"},
		{49*time.Hour + 5*time.Minute, "49h 5m"},
	}
	for _, c := range cases {
		if got := FormatDuration(c.in); got != c.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFormatPercent(t *testing.T) {
	cases := map[float64]string{
		57.6:  "57.6",
		88:    "88",
		99.96: "100",
		0:     "0",
		33.33: "33.3",
	}
	for in, want := range cases {
		if got := FormatPercent(in); got != want {
			t.Errorf("FormatPercent(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatWindow(t *testing.T) {
	cases := map[int]string{300: "5h", 10080: "7d", 90: "90m", 0: ""}
	for in, want := range cases {
		if got := FormatWindow(in); got != want {
			t.Errorf("FormatWindow(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderBar(t *testing.T) {
	cases := []struct {
		pct    float64
		filled int
	}{
		{57.6, 12},
		{0, 0},
		{100, 20},
		{150, 20},
		{-5, 0},
	}
	for _, c := range cases {
		bar := []rune(RenderBar(c.pct, 20))
		if len(bar) != 20 {
			t.Fatalf("RenderBar(%v) has %d segments, want 20", c.pct, len(bar))
		}
		got := 0
		for _, r := range bar {
			if r == '█' {
				got++
			}
		}
		if got != c.filled {
			t.Errorf("RenderBar(%v) filled = %d, want %d", c.pct, got, c.filled)
		}
	}
}
