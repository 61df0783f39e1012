package config

import (
	"os"
	"path/filepath"
	"testing"
)

func withHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TELECORE_HOME", dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	withHome(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LeaseTTLMillis != 30_000 {
		t.Fatalf("expected default lease TTL 30000ms, got %d", cfg.LeaseTTLMillis)
	}
	if cfg.PollInterval.Milliseconds() != 250 {
		t.Fatalf("expected default poll interval 250ms, got %v", cfg.PollInterval)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	withHome(t)
	t.Setenv("TELECORE_LEASE_TTL_MS", "5000")
	t.Setenv("TELECORE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LeaseTTLMillis != 5000 {
		t.Fatalf("expected env override 5000, got %d", cfg.LeaseTTLMillis)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.LogLevel)
	}
}

func TestLoad_BotsFile(t *testing.T) {
	home := withHome(t)
	t.Setenv("MY_BOT_TOKEN", "secret-token-value")

	yamlDoc := `
bots:
  - id: bot1
    display_name: "Test Bot"
    owner_user_id: 12345
    token_env: MY_BOT_TOKEN
    default_adapter: claude
    mode: embedded
`
	if err := os.WriteFile(filepath.Join(home, "bots.yaml"), []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write bots.yaml: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Bots) != 1 {
		t.Fatalf("expected 1 bot, got %d", len(cfg.Bots))
	}
	bot := cfg.Bots[0]
	if bot.ResolvedToken() != "secret-token-value" {
		t.Fatalf("expected token resolved from env, got %q", bot.ResolvedToken())
	}
	if bot.DefaultAdapter != "claude" {
		t.Fatalf("expected default_adapter claude, got %q", bot.DefaultAdapter)
	}
}

func TestLoad_InvalidSandboxSchemaRejected(t *testing.T) {
	home := withHome(t)
	yamlDoc := `
bots:
  - id: bot1
    owner_user_id: 1
    sandbox:
      timeout_seconds: "not-an-integer"
`
	if err := os.WriteFile(filepath.Join(home, "bots.yaml"), []byte(yamlDoc), 0o644); err != nil {
		t.Fatalf("write bots.yaml: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error for malformed sandbox block")
	}
}

func TestFingerprint_Stable(t *testing.T) {
	withHome(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Fingerprint() != cfg.Fingerprint() {
		t.Fatalf("expected stable fingerprint")
	}
}
