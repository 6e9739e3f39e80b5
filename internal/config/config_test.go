package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_MissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Usage.TimeoutSeconds != 10 {
		t.Errorf("TimeoutSeconds = %d, want 10", cfg.Usage.TimeoutSeconds)
	}
	if cfg.Retry.MaxDelayMs != 30000 {
		t.Errorf("MaxDelayMs = %d, want 30000", cfg.Retry.MaxDelayMs)
	}
}

func TestLoadFile_Providers(t *testing.T) {
	path := writeConfig(t, `
[usage]
timeout_seconds = 5

[[providers]]
id = "codex"
name = "Codex"
family = "chatgpt"
token_env = "CBENCH_TEST_CODEX_TOKEN"

[[providers]]
id = "copilot"
family = "copilot"
base_url = "https://api.github.com"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("len(Providers) = %d, want 2", len(cfg.Providers))
	}
	if cfg.Providers[1].DisplayName() != "copilot" {
		t.Errorf("DisplayName = %q, want fallback to id", cfg.Providers[1].DisplayName())
	}
	if cfg.Usage.UsageTimeout().Seconds() != 5 {
		t.Errorf("UsageTimeout = %v, want 5s", cfg.Usage.UsageTimeout())
	}
	// defaults survive partial files
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Retry.MaxAttempts)
	}
}

func TestLoadFile_RejectsUnknownFamily(t *testing.T) {
	path := writeConfig(t, `
[[providers]]
id = "x"
family = "carrier-pigeon"
`)
	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "Family") {
		t.Fatalf("err = %v, want family validation error", err)
	}
}

func TestValidate_DuplicateProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{ID: "a", Family: FamilyQuota},
		{ID: "a", Family: FamilyCopilot},
	}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("err = %v, want duplicate provider error", err)
	}
}

func TestProviderToken_EnvWins(t *testing.T) {
	t.Setenv("CBENCH_TEST_TOKEN", "from-env")
	p := ProviderConfig{Token: "from-file", TokenEnv: "CBENCH_TEST_TOKEN"}
	if got := ProviderToken(p); got != "from-env" {
		t.Errorf("ProviderToken = %q, want from-env", got)
	}

	p.TokenEnv = "CBENCH_TEST_TOKEN_UNSET"
	if got := ProviderToken(p); got != "from-file" {
		t.Errorf("ProviderToken = %q, want from-file", got)
	}
}
