package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/theirongolddev/cbench/internal/config"
	"github.com/theirongolddev/cbench/internal/tui/theme"

	"github.com/charmbracelet/huh"
)

// SetupValues holds the editable fields of the setup wizard.
type SetupValues struct {
	Theme       string
	Family      string
	ProviderID  string
	TokenEnv    string
	AccountID   string
	MaxAttempts string
}

// NewSetupValues seeds the wizard from cfg.
func NewSetupValues(cfg config.Config) *SetupValues {
	v := &SetupValues{
		Theme:       cfg.Appearance.Theme,
		Family:      config.FamilyChatGPT,
		MaxAttempts: strconv.Itoa(cfg.Retry.MaxAttempts),
	}
	if len(cfg.Providers) > 0 {
		p := cfg.Providers[0]
		v.Family = p.Family
		v.ProviderID = p.ID
		v.TokenEnv = p.TokenEnv
		v.AccountID = p.AccountID
	}
	return v
}

// NewSetupForm builds the first-run wizard. Values are written into v.
func NewSetupForm(v *SetupValues) *huh.Form {
	themeOpts := make([]huh.Option[string], 0, len(theme.All))
	for _, name := range theme.Names() {
		themeOpts = append(themeOpts, huh.NewOption(name, name))
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Welcome to cbench").
				Description("Connect a provider account to see quota and cost usage.\nRun `cbench setup` anytime to reconfigure."),
			huh.NewSelect[string]().
				Title("Provider family").
				Options(
					huh.NewOption("ChatGPT / Codex", config.FamilyChatGPT),
					huh.NewOption("GitHub Copilot", config.FamilyCopilot),
					huh.NewOption("Quota API (Anthropic OAuth)", config.FamilyQuota),
				).
				Value(&v.Family),
			huh.NewInput().
				Title("Provider id").
				Description("Short name used with --provider (e.g. codex)").
				Value(&v.ProviderID).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("provider id is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Token environment variable").
				Description("Tokens are read from the environment, never stored").
				Value(&v.TokenEnv),
			huh.NewInput().
				Title("Account id (optional)").
				Value(&v.AccountID),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Max retry attempts").
				Value(&v.MaxAttempts).
				Validate(func(s string) error {
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 1 || n > 50 {
						return fmt.Errorf("enter a number between 1 and 50")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Color theme").
				Options(themeOpts...).
				Value(&v.Theme),
		),
	).WithTheme(huh.ThemeCatppuccin())
}

// Apply copies wizard values into cfg. An existing provider with the same
// id is replaced; otherwise the provider is appended.
func (v *SetupValues) Apply(cfg *config.Config) {
	cfg.Appearance.Theme = v.Theme
	if n, err := strconv.Atoi(strings.TrimSpace(v.MaxAttempts)); err == nil {
		cfg.Retry.MaxAttempts = n
	}

	id := strings.TrimSpace(v.ProviderID)
	if id == "" {
		return
	}
	p := config.ProviderConfig{
		ID:        id,
		Family:    v.Family,
		TokenEnv:  strings.TrimSpace(v.TokenEnv),
		AccountID: strings.TrimSpace(v.AccountID),
	}
	for i := range cfg.Providers {
		if cfg.Providers[i].ID == id {
			p.Name = cfg.Providers[i].Name
			p.BaseURL = cfg.Providers[i].BaseURL
			p.Token = cfg.Providers[i].Token
			cfg.Providers[i] = p
			return
		}
	}
	cfg.Providers = append(cfg.Providers, p)
}
