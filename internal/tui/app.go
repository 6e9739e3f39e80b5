// Package tui provides the interactive Bubble Tea dashboard for cbench.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/theirongolddev/cbench/internal/bench"
	"github.com/theirongolddev/cbench/internal/cli"
	"github.com/theirongolddev/cbench/internal/model"
	"github.com/theirongolddev/cbench/internal/tui/components"
	"github.com/theirongolddev/cbench/internal/tui/theme"
	"github.com/theirongolddev/cbench/internal/usage"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// UsageSource fetches provider usage records.
type UsageSource interface {
	Fetch(ctx context.Context, filter string, scope usage.Scope) ([]model.UsageRecord, error)
}

// BenchSource lists the benchmarks shown in the Bench tab.
type BenchSource func(ctx context.Context) ([]bench.Status, error)

// Options configures a new App.
type Options struct {
	Usage           UsageSource
	Bench           BenchSource
	Provider        string
	RefreshInterval time.Duration
	AutoRefresh     bool

	// Setup, when non-nil, shows the first-run wizard and is called with
	// the completed values.
	Setup func(*SetupValues) error
	// SetupValues seeds the wizard.
	SetupValues *SetupValues
}

// UsageLoadedMsg is sent when a usage fetch finishes.
type UsageLoadedMsg struct {
	Records []model.UsageRecord
	Err     error
	At      time.Time
}

// BenchLoadedMsg is sent when the benchmark list finishes loading.
type BenchLoadedMsg struct {
	Benchmarks []bench.Status
	Err        error
}

type tickMsg time.Time

const (
	minTerminalWidth = 60
	fetchTimeout     = 30 * time.Second
	tabUsage         = 0
	tabBench         = 1
)

// App is the root Bubble Tea model.
type App struct {
	opts Options
	now  func() time.Time

	// Data
	records    []model.UsageRecord
	usageErr   error
	loaded     bool
	lastFetch  time.Time
	refreshing bool
	benchmarks []bench.Status
	benchErr   error

	// UI state
	width     int
	height    int
	activeTab int
	showHelp  bool
	scroll    int
	spinner   spinner.Model

	// First-run setup (huh form)
	setupForm *huh.Form
	setupErr  error
}

// NewApp creates a new TUI app model.
func NewApp(opts Options) App {
	if opts.RefreshInterval < 10*time.Second {
		opts.RefreshInterval = 60 * time.Second
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent)

	if opts.Setup != nil && opts.SetupValues == nil {
		opts.SetupValues = &SetupValues{}
	}

	a := App{
		opts:    opts,
		now:     time.Now,
		spinner: sp,
	}
	if opts.Setup != nil {
		a.setupForm = NewSetupForm(opts.SetupValues)
	}
	return a
}

// Init implements tea.Model.
func (a App) Init() tea.Cmd {
	cmds := []tea.Cmd{
		tea.EnableMouseCellMotion,
		a.spinner.Tick,
		tickCmd(a.opts.RefreshInterval),
	}
	if a.setupForm != nil {
		cmds = append(cmds, a.setupForm.Init())
	} else {
		cmds = append(cmds, a.fetchUsageCmd(), a.loadBenchCmd())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		if a.setupForm != nil {
			a.setupForm = a.setupForm.WithWidth(msg.Width).WithHeight(msg.Height)
		}
		return a, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return a, tea.Quit
		}
		if a.setupForm != nil {
			return a.updateSetupForm(msg)
		}
		return a.updateKey(msg.String())

	case tea.MouseMsg:
		if a.setupForm != nil || a.showHelp {
			return a, nil
		}
		switch msg.Button {
		case tea.MouseButtonLeft:
			if msg.Y == 0 {
				if tab := components.TabAtX(msg.X, a.activeTab); tab >= 0 {
					a.activeTab = tab
					a.scroll = 0
				}
			}
		case tea.MouseButtonWheelUp:
			if a.scroll > 0 {
				a.scroll--
			}
		case tea.MouseButtonWheelDown:
			a.scroll++
		}
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tickMsg:
		cmds := []tea.Cmd{tickCmd(a.opts.RefreshInterval)}
		if a.opts.AutoRefresh && a.setupForm == nil && !a.refreshing {
			a.refreshing = true
			cmds = append(cmds, a.fetchUsageCmd(), a.loadBenchCmd())
		}
		return a, tea.Batch(cmds...)

	case UsageLoadedMsg:
		a.refreshing = false
		a.loaded = true
		a.lastFetch = msg.At
		a.usageErr = msg.Err
		if msg.Err == nil {
			a.records = msg.Records
		}
		return a, nil

	case BenchLoadedMsg:
		a.benchmarks = msg.Benchmarks
		a.benchErr = msg.Err
		return a, nil
	}

	if a.setupForm != nil {
		return a.updateSetupForm(msg)
	}
	return a, nil
}

func (a App) updateKey(key string) (tea.Model, tea.Cmd) {
	if key == "?" {
		a.showHelp = !a.showHelp
		return a, nil
	}
	if a.showHelp {
		a.showHelp = false
		return a, nil
	}

	switch key {
	case "q":
		return a, tea.Quit
	case "r":
		if a.refreshing {
			return a, nil
		}
		a.refreshing = true
		return a, tea.Batch(a.fetchUsageCmd(), a.loadBenchCmd())
	case "R":
		a.opts.AutoRefresh = !a.opts.AutoRefresh
	case "tab", "right", "l":
		a.activeTab = (a.activeTab + 1) % len(components.Tabs)
		a.scroll = 0
	case "shift+tab", "left", "h":
		a.activeTab = (a.activeTab - 1 + len(components.Tabs)) % len(components.Tabs)
		a.scroll = 0
	case "j", "down":
		a.scroll++
	case "k", "up":
		if a.scroll > 0 {
			a.scroll--
		}
	case "g":
		a.scroll = 0
	default:
		if r := []rune(key); len(r) == 1 {
			if tab := components.TabIdxByKey(r[0]); tab >= 0 {
				a.activeTab = tab
				a.scroll = 0
			}
		}
	}
	return a, nil
}

func (a App) updateSetupForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	form, cmd := a.setupForm.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		a.setupForm = f
	}

	switch a.setupForm.State {
	case huh.StateCompleted:
		a.setupErr = a.opts.Setup(a.opts.SetupValues)
		theme.SetActive(a.opts.SetupValues.Theme)
		a.setupForm = nil
		return a, tea.Batch(a.fetchUsageCmd(), a.loadBenchCmd())
	case huh.StateAborted:
		a.setupForm = nil
		return a, tea.Batch(a.fetchUsageCmd(), a.loadBenchCmd())
	}
	return a, cmd
}

// View implements tea.Model.
func (a App) View() string {
	if a.width == 0 {
		return ""
	}
	if a.width < minTerminalWidth {
		return fmt.Sprintf("\n  Terminal too narrow (%d cols)\n\n  cbench needs at least %d columns.\n", a.width, minTerminalWidth)
	}
	if a.setupForm != nil {
		return a.setupForm.View()
	}
	if a.showHelp {
		return a.viewHelp()
	}
	return a.viewMain()
}

func (a App) viewMain() string {
	t := theme.Active

	header := components.RenderTabBar(a.activeTab, a.width)

	var body string
	switch {
	case a.activeTab == tabBench:
		body = renderBenchmarks(a.benchmarks, a.benchErr)
	case !a.loaded:
		body = lipgloss.NewStyle().Foreground(t.TextMuted).
			Render(a.spinner.View() + " Fetching usage...")
	case a.usageErr != nil && len(a.records) == 0:
		body = lipgloss.NewStyle().Foreground(t.Red).Render("  " + a.usageErr.Error())
	default:
		body = cli.FormatUsage(a.records, a.now())
		if a.setupErr != nil {
			body = lipgloss.NewStyle().Foreground(t.Orange).
				Render("  Could not save config: "+a.setupErr.Error()) + "\n\n" + body
		}
	}

	contentH := a.height - 2
	if contentH < 1 {
		contentH = 1
	}
	body = scrollLines(body, a.scroll, contentH)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		lipgloss.NewStyle().Height(contentH).Render(body),
		components.RenderStatusBar(a.width, a.statusText()),
	)
}

func (a App) statusText() string {
	var parts []string
	if a.refreshing {
		parts = append(parts, a.spinner.View()+" refreshing")
	}
	if !a.lastFetch.IsZero() {
		parts = append(parts, "updated "+cli.FormatDuration(a.now().Sub(a.lastFetch))+" ago")
	}
	if a.opts.AutoRefresh {
		parts = append(parts, "auto "+cli.FormatDuration(a.opts.RefreshInterval))
	}
	return strings.Join(parts, " · ")
}

func (a App) viewHelp() string {
	t := theme.Active

	keys := []struct{ key, desc string }{
		{"u / b", "Usage / Bench tab"},
		{"tab", "Next tab"},
		{"r", "Refresh now"},
		{"R", "Toggle auto-refresh"},
		{"j / k", "Scroll"},
		{"?", "Toggle help"},
		{"q", "Quit"},
	}

	keyStyle := lipgloss.NewStyle().Foreground(t.Accent).Bold(true).Width(8)
	descStyle := lipgloss.NewStyle().Foreground(t.TextPrimary)

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(t.Accent).Bold(true).Render("Keybindings"))
	b.WriteString("\n\n")
	for _, k := range keys {
		b.WriteString(keyStyle.Render(k.key))
		b.WriteString(descStyle.Render(k.desc))
		b.WriteString("\n")
	}

	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.BorderAccent).
		Padding(1, 3).
		Render(strings.TrimRight(b.String(), "\n"))

	return lipgloss.Place(a.width, a.height, lipgloss.Center, lipgloss.Center, card)
}

func scrollLines(s string, offset, height int) string {
	lines := strings.Split(s, "\n")
	if offset > len(lines)-1 {
		offset = len(lines) - 1
	}
	if offset < 0 {
		offset = 0
	}
	lines = lines[offset:]
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a App) fetchUsageCmd() tea.Cmd {
	src, filter, now := a.opts.Usage, a.opts.Provider, a.now
	return func() tea.Msg {
		if src == nil {
			return UsageLoadedMsg{At: now()}
		}
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		records, err := src.Fetch(ctx, filter, usage.Scope{})
		return UsageLoadedMsg{Records: records, Err: err, At: now()}
	}
}

func (a App) loadBenchCmd() tea.Cmd {
	src := a.opts.Bench
	return func() tea.Msg {
		if src == nil {
			return BenchLoadedMsg{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		list, err := src(ctx)
		return BenchLoadedMsg{Benchmarks: list, Err: err}
	}
}
