// Package config loads and saves cbench configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Provider families understood by the usage fetchers.
const (
	FamilyChatGPT = "chatgpt"
	FamilyCopilot = "copilot"
	FamilyQuota   = "quota"
)

// Config holds all cbench configuration.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Retry      RetryConfig      `toml:"retry"`
	Usage      UsageConfig      `toml:"usage"`
	Providers  []ProviderConfig `toml:"providers" validate:"dive"`
	Bench      BenchConfig      `toml:"bench"`
	Daemon     DaemonConfig     `toml:"daemon"`
	Appearance AppearanceConfig `toml:"appearance"`
	Pricing    PricingOverrides `toml:"pricing"`
}

// GeneralConfig holds general preferences.
type GeneralConfig struct {
	StateDir string `toml:"state_dir,omitempty"`
}

// RetryConfig tunes the backoff schedule used when no provider hint is present.
type RetryConfig struct {
	MaxAttempts    int     `toml:"max_attempts" validate:"gte=1,lte=50"`
	InitialDelayMs int     `toml:"initial_delay_ms" validate:"gte=1"`
	BackoffFactor  float64 `toml:"backoff_factor" validate:"gte=1"`
	MaxDelayMs     int     `toml:"max_delay_ms" validate:"gte=0"`
}

// UsageConfig controls provider usage fetching.
type UsageConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds" validate:"gte=1,lte=300"`
	Retries        int `toml:"retries" validate:"gte=0,lte=5"`
}

// ProviderConfig is one connected provider account.
type ProviderConfig struct {
	ID        string `toml:"id" validate:"required"`
	Name      string `toml:"name,omitempty"`
	Family    string `toml:"family" validate:"required,oneof=chatgpt copilot quota"`
	BaseURL   string `toml:"base_url,omitempty" validate:"omitempty,url"`
	Token     string `toml:"token,omitempty"`
	TokenEnv  string `toml:"token_env,omitempty"`
	AccountID string `toml:"account_id,omitempty"`
}

// BenchConfig holds benchmark defaults.
type BenchConfig struct {
	AllowDuplicates bool    `toml:"allow_duplicates"`
	RatePerSecond   float64 `toml:"rate_per_second" validate:"gte=0"`
	Burst           int     `toml:"burst" validate:"gte=0"`
}

// DaemonConfig holds background poller settings.
type DaemonConfig struct {
	Addr            string `toml:"addr,omitempty" validate:"omitempty,hostname_port"`
	IntervalSeconds int    `toml:"interval_seconds" validate:"gte=0"`
	EventsBuffer    int    `toml:"events_buffer" validate:"gte=0"`
}

// AppearanceConfig holds theme settings.
type AppearanceConfig struct {
	Theme string `toml:"theme"`
}

// PricingOverrides allows user-defined pricing for specific models.
type PricingOverrides struct {
	Overrides map[string]ModelPricingOverride `toml:"overrides,omitempty"`
}

// ModelPricingOverride holds per-model pricing overrides.
type ModelPricingOverride struct {
	InputPerMTok      *float64 `toml:"input_per_mtok,omitempty"`
	OutputPerMTok     *float64 `toml:"output_per_mtok,omitempty"`
	CacheWritePerMTok *float64 `toml:"cache_write_per_mtok,omitempty"`
	CacheReadPerMTok  *float64 `toml:"cache_read_per_mtok,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Retry: RetryConfig{
			MaxAttempts:    5,
			InitialDelayMs: 2000,
			BackoffFactor:  2,
			MaxDelayMs:     30000,
		},
		Usage: UsageConfig{
			TimeoutSeconds: 10,
		},
		Daemon: DaemonConfig{
			Addr:            "127.0.0.1:8788",
			IntervalSeconds: 60,
			EventsBuffer:    200,
		},
		Appearance: AppearanceConfig{
			Theme: "flexoki-dark",
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "cbench")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cbench")
}

// Path returns the full path to the config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// StateDir returns the directory for the session database, snapshots and daemon files.
func StateDir(cfg Config) string {
	if cfg.General.StateDir != "" {
		return cfg.General.StateDir
	}
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "cbench")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "cbench")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFile(Path())
}

// LoadFile reads and validates the config at path.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path) //nolint:gosec // path is the user's own config file
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(Path(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(Path())
	return err == nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and that provider ids are unique.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]struct{}, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("invalid config: duplicate provider id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// ProviderToken returns the provider's credential from its env var or the file, in that order.
func ProviderToken(p ProviderConfig) string {
	if p.TokenEnv != "" {
		if v := os.Getenv(p.TokenEnv); v != "" {
			return v
		}
	}
	return p.Token
}

// DisplayName returns the provider's name, falling back to its id.
func (p ProviderConfig) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// UsageTimeout returns the per-provider fetch budget.
func (u UsageConfig) UsageTimeout() time.Duration {
	if u.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// Interval returns the daemon polling interval.
func (d DaemonConfig) Interval() time.Duration {
	return time.Duration(d.IntervalSeconds) * time.Second
}
