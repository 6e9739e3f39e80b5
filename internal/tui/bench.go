package tui

import (
	"fmt"
	"strings"

	"github.com/theirongolddev/cbench/internal/bench"
	"github.com/theirongolddev/cbench/internal/tui/theme"

	"github.com/charmbracelet/lipgloss"
)

func renderBenchmarks(list []bench.Status, err error) string {
	t := theme.Active
	muted := lipgloss.NewStyle().Foreground(t.TextMuted)

	if err != nil {
		return lipgloss.NewStyle().Foreground(t.Red).Render("  " + err.Error())
	}
	if len(list) == 0 {
		return muted.Render("  No benchmarks. Start one with `cbench bench start <session> <provider/model>...`")
	}

	titleStyle := lipgloss.NewStyle().Foreground(t.TextPrimary).Bold(true)
	okStyle := lipgloss.NewStyle().Foreground(t.Green)
	errStyle := lipgloss.NewStyle().Foreground(t.Red)
	accent := lipgloss.NewStyle().Foreground(t.Accent)

	var b strings.Builder
	for i, st := range list {
		if i > 0 {
			b.WriteString("\n")
		}
		state := muted.Render(st.State)
		if st.State == bench.StateRunning {
			state = okStyle.Render(st.State)
		}
		fmt.Fprintf(&b, "  %s %s %s\n", titleStyle.Render(st.Title), muted.Render(shortID(st.ParentID)), state)

		for _, c := range st.Children {
			marker := " "
			if c.Applied {
				marker = accent.Render("●")
			}
			line := fmt.Sprintf("    %s [%d] %-32s %s", marker, c.Slot+1, c.Model.String(), muted.Render(shortID(c.SessionID)))
			switch {
			case c.Error != "":
				line += "  " + errStyle.Render(c.Error)
			case !c.HasSnapshot:
				line += "  " + muted.Render("no snapshot")
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
