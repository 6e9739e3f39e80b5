package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/theirongolddev/cbench/internal/cli"
	"github.com/theirongolddev/cbench/internal/usage"

	"github.com/spf13/cobra"
)

var flagProvider string

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show quota, cost and rate limits for connected providers",
	RunE:  runUsage,
}

func init() {
	for _, c := range []*cobra.Command{rootCmd, usageCmd} {
		c.Flags().StringVarP(&flagProvider, "provider", "p", "", "Only this provider id")
	}
	rootCmd.AddCommand(usageCmd)
}

func newAggregator() (*usage.Aggregator, error) {
	return usage.FromConfig(appCfg, &http.Client{}, slog.Default())
}

func runUsage(_ *cobra.Command, _ []string) error {
	if len(appCfg.Providers) == 0 {
		fmt.Println()
		fmt.Println("  No providers configured.")
		fmt.Println()
		fmt.Println("  Add one interactively:")
		fmt.Println("    cbench setup")
		fmt.Println()
		fmt.Printf("  or edit %s:\n", configPath())
		fmt.Println()
		fmt.Println("    [[providers]]")
		fmt.Println(`    id = "codex"`)
		fmt.Println(`    family = "chatgpt"`)
		fmt.Println(`    token_env = "CODEX_TOKEN"`)
		fmt.Println()
		return nil
	}

	agg, err := newAggregator()
	if err != nil {
		return err
	}

	if !flagQuiet && flagOutput == "text" {
		fmt.Fprintf(os.Stderr, "  Fetching usage...\n")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*appCfg.Usage.UsageTimeout()+5*time.Second)
	defer cancel()

	wd, _ := os.Getwd()
	records, err := agg.Fetch(ctx, flagProvider, usage.Scope{Directory: wd})
	if err != nil {
		if errors.Is(err, usage.ErrUnknownProvider) {
			return fmt.Errorf("no provider %q configured", flagProvider)
		}
		return err
	}

	return printResult(records, cli.FormatUsage(records, time.Now()))
}
