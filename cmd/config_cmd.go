package cmd

import (
	"fmt"
	"os"

	"github.com/theirongolddev/cbench/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	RunE:  runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg := appCfg
	if flagOutput != "text" {
		redacted := cfg
		redacted.Providers = append([]config.ProviderConfig(nil), cfg.Providers...)
		for i := range redacted.Providers {
			if redacted.Providers[i].Token != "" {
				redacted.Providers[i].Token = maskToken(redacted.Providers[i].Token)
			}
		}
		return printResult(redacted, "")
	}

	path := configPath()
	fmt.Printf("  Config file: %s\n", path)
	if _, err := os.Stat(path); err == nil {
		fmt.Println("  Status: loaded")
	} else {
		fmt.Println("  Status: using defaults (no config file)")
	}
	fmt.Printf("  State dir:   %s\n", config.StateDir(cfg))
	fmt.Println()

	fmt.Println("  [Providers]")
	if len(cfg.Providers) == 0 {
		fmt.Println("    none configured")
	}
	for _, p := range cfg.Providers {
		token := "not set"
		if t := config.ProviderToken(p); t != "" {
			token = maskToken(t)
		}
		fmt.Printf("    %-12s %-8s token: %s\n", p.ID, p.Family, token)
	}
	fmt.Println()

	fmt.Println("  [Retry]")
	fmt.Printf("    Max attempts:  %d\n", cfg.Retry.MaxAttempts)
	fmt.Printf("    Initial delay: %dms\n", cfg.Retry.InitialDelayMs)
	fmt.Printf("    Backoff:       x%g\n", cfg.Retry.BackoffFactor)
	fmt.Printf("    Max delay:     %dms\n", cfg.Retry.MaxDelayMs)
	fmt.Println()

	fmt.Println("  [Usage]")
	fmt.Printf("    Timeout: %s\n", cfg.Usage.UsageTimeout())
	fmt.Printf("    Retries: %d\n", cfg.Usage.Retries)
	fmt.Println()

	fmt.Println("  [Bench]")
	fmt.Printf("    Allow duplicates: %v\n", cfg.Bench.AllowDuplicates)
	if cfg.Bench.RatePerSecond > 0 {
		fmt.Printf("    Fanout rate:      %g/s (burst %d)\n", cfg.Bench.RatePerSecond, cfg.Bench.Burst)
	} else {
		fmt.Println("    Fanout rate:      unlimited")
	}
	fmt.Println()

	fmt.Println("  [Daemon]")
	fmt.Printf("    Address:  %s\n", cfg.Daemon.Addr)
	fmt.Printf("    Interval: %s\n", cfg.Daemon.Interval())
	fmt.Println()

	fmt.Println("  [Appearance]")
	fmt.Printf("    Theme: %s\n", cfg.Appearance.Theme)
	fmt.Println()

	if n := len(cfg.Pricing.Overrides); n > 0 {
		fmt.Printf("  Pricing overrides: %d models\n\n", n)
	}

	fmt.Println("  Run `cbench setup` to reconfigure.")
	return nil
}
