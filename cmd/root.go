// Package cmd implements the cbench CLI commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/theirongolddev/cbench/internal/bench"
	"github.com/theirongolddev/cbench/internal/config"
	"github.com/theirongolddev/cbench/internal/snapshot"
	"github.com/theirongolddev/cbench/internal/store"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	flagConfig  string
	flagDir     string
	flagOutput  string
	flagQuiet   bool
	flagVerbose bool
)

// appCfg is loaded once per invocation in PersistentPreRunE.
var appCfg = config.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "cbench",
	Short: "Provider usage and multi-model benchmark CLI",
	Long: "Inspect quota, cost and rate limits across connected AI providers, and\n" +
		"run the same session against several models to compare and apply their diffs.",
	SilenceUsage:      true,
	PersistentPreRunE: preRun,
	RunE:              runUsage,
}

// Execute is the main entry point called from main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	wd, _ := os.Getwd()

	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Config file (default "+config.Path()+")")
	rootCmd.PersistentFlags().StringVarP(&flagDir, "dir", "C", wd, "Project directory (git work tree for benchmarks)")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "Suppress progress output")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")
}

func preRun(_ *cobra.Command, _ []string) error {
	slog.SetDefault(newLogger(os.Stderr))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	appCfg = cfg
	config.ApplyPricingOverrides(cfg.Pricing)

	switch flagOutput {
	case "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", flagOutput)
	}
}

func configPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	return config.Path()
}

func loadConfig() (config.Config, error) {
	return config.LoadFile(configPath())
}

// newLogger logs text to w. Warnings only unless --verbose; nothing with --quiet.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case flagVerbose:
		level = slog.LevelDebug
	case flagQuiet:
		level = slog.LevelError + 4
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func isTTY(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// printResult writes v as JSON or YAML when requested, otherwise text.
func printResult(v any, text string) error {
	switch flagOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		fmt.Print(text)
		return nil
	}
}

func dbPath(cfg config.Config) string {
	return filepath.Join(config.StateDir(cfg), "cbench.db")
}

func openStore() (*store.Store, error) {
	return store.Open(dbPath(appCfg))
}

// benchEnv bundles what the bench commands need. Close releases the store.
type benchEnv struct {
	store *store.Store
	git   *snapshot.Git
	orch  *bench.Orchestrator
}

func openBench() (*benchEnv, error) {
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	git := snapshot.NewGit(flagDir, config.StateDir(appCfg), slog.Default())
	return &benchEnv{
		store: st,
		git:   git,
		orch:  bench.New(st, git, slog.Default()),
	}, nil
}

func (e *benchEnv) Close() error {
	return e.store.Close()
}
