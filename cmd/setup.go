package cmd

import (
	"fmt"

	"github.com/theirongolddev/cbench/internal/config"
	"github.com/theirongolddev/cbench/internal/tui"

	"github.com/spf13/cobra"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(_ *cobra.Command, _ []string) error {
	cfg := appCfg
	vals := tui.NewSetupValues(cfg)

	if err := tui.NewSetupForm(vals).Run(); err != nil {
		return err
	}

	vals.Apply(&cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Printf("  Saved to %s\n", config.Path())
	if vals.TokenEnv != "" {
		fmt.Printf("  Export %s before running `cbench usage`.\n", vals.TokenEnv)
	}
	fmt.Println("  Run `cbench setup` anytime to reconfigure.")
	fmt.Println()
	return nil
}

func maskToken(key string) string {
	if len(key) > 16 {
		return key[:8] + "..." + key[len(key)-4:]
	}
	if len(key) > 4 {
		return key[:4] + "..."
	}
	return "****"
}
