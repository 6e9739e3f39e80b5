package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/theirongolddev/cbench/internal/bench"
	"github.com/theirongolddev/cbench/internal/config"
	"github.com/theirongolddev/cbench/internal/model"
	"github.com/theirongolddev/cbench/internal/tui"
	"github.com/theirongolddev/cbench/internal/tui/theme"
	"github.com/theirongolddev/cbench/internal/usage"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var flagTUIAutoRefresh bool

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Launch interactive TUI dashboard",
	RunE:  runTUI,
}

func init() {
	tuiCmd.Flags().StringVarP(&flagProvider, "provider", "p", "", "Only this provider id")
	tuiCmd.Flags().BoolVar(&flagTUIAutoRefresh, "auto-refresh", true, "Refetch usage on the daemon interval")
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(_ *cobra.Command, _ []string) error {
	theme.SetActive(appCfg.Appearance.Theme)
	lipgloss.SetColorProfile(theme.Profile())

	// Log lines would corrupt the alt screen.
	logFile, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	if err == nil {
		defer logFile.Close()
		slog.SetDefault(newLogger(logFile))
	}

	if _, err := newAggregator(); err != nil {
		return err
	}

	opts := tui.Options{
		Usage:           liveUsage{},
		Provider:        flagProvider,
		RefreshInterval: appCfg.Daemon.Interval(),
		AutoRefresh:     flagTUIAutoRefresh,
	}

	env, err := openBench()
	if err == nil {
		defer env.Close()
		opts.Bench = func(ctx context.Context) ([]bench.Status, error) {
			return benchStatuses(ctx, env)
		}
	}

	if !config.Exists() && flagConfig == "" {
		opts.SetupValues = tui.NewSetupValues(appCfg)
		opts.Setup = func(v *tui.SetupValues) error {
			v.Apply(&appCfg)
			if err := config.Validate(appCfg); err != nil {
				return err
			}
			return config.Save(appCfg)
		}
	}

	p := tea.NewProgram(tui.NewApp(opts), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// liveUsage rebuilds the provider registry from appCfg on every fetch so
// providers added in the setup wizard are picked up.
type liveUsage struct{}

func (liveUsage) Fetch(ctx context.Context, filter string, scope usage.Scope) ([]model.UsageRecord, error) {
	agg, err := newAggregator()
	if err != nil {
		return nil, err
	}
	return agg.Fetch(ctx, filter, scope)
}
