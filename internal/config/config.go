// Package config loads telecore's process-wide defaults (environment
// variables) and its YAML bots file, using a config-plus-env-override
// layering: values from bots.yaml are applied first, then overridden by
// any matching TELECORE_* environment variable.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// Config holds the process-wide defaults named by spec §6: DB connection,
// log level, lease TTL, poll interval, supervisor backoff, platform base
// URL, bootstrap owner/bot identity, and webhook defaults.
type Config struct {
	HomeDir string `yaml:"-"`

	DBPath           string        `yaml:"-"`
	LogLevel         string        `yaml:"log_level"`
	LeaseTTL         time.Duration `yaml:"-"`
	LeaseTTLMillis   int           `yaml:"lease_ttl_ms"`
	PollInterval     time.Duration `yaml:"-"`
	PollIntervalMs   int           `yaml:"poll_interval_ms"`
	SupervisorBackoffMs int        `yaml:"supervisor_backoff_ms"`
	PlatformBaseURL  string        `yaml:"platform_base_url"`
	RunTimeoutSeconds int          `yaml:"run_timeout_seconds"`
	BindAddr         string        `yaml:"bind_addr"`

	BootstrapOwnerID int64  `yaml:"bootstrap_owner_id"`
	BootstrapBotID   string `yaml:"bootstrap_bot_id"`

	JanitorCron string `yaml:"janitor_cron"`

	Bots []BotEntry `yaml:"bots"`
}

// BotEntry is one row of the spec's "YAML file listing bots": identity,
// owner, adapter default, webhook settings, and per-agent model-sandbox
// options. A Token may be given literally or indirectly via TokenEnv — the
// teacher's AgentConfigEntry.APIKeyEnv pattern, resolved at load time.
type BotEntry struct {
	ID             string            `yaml:"id"`
	DisplayName    string            `yaml:"display_name"`
	OwnerUserID    int64             `yaml:"owner_user_id"`
	Token          string            `yaml:"token"`
	TokenEnv       string            `yaml:"token_env"`
	DefaultAdapter string            `yaml:"default_adapter"`
	WebhookPublicURL  string         `yaml:"webhook_public_url"`
	WebhookPathSecret string         `yaml:"webhook_path_secret"`
	WebhookHeaderSecret string       `yaml:"webhook_header_secret"`
	Mode           string            `yaml:"mode"` // "embedded" (long-poll) or "gateway" (webhook)
	Sandbox        map[string]any    `yaml:"sandbox"`
	Agents         map[string]string `yaml:"agents"` // name -> adapter binary
}

// ResolvedToken returns the bot's Telegram token, preferring a literal
// Token and falling back to the named environment variable.
func (b BotEntry) ResolvedToken() string {
	if b.Token != "" {
		return b.Token
	}
	if b.TokenEnv != "" {
		return os.Getenv(b.TokenEnv)
	}
	return ""
}

func defaultConfig() Config {
	return Config{
		LogLevel:            "info",
		LeaseTTLMillis:      30_000,
		PollIntervalMs:      250,
		SupervisorBackoffMs: 1_000,
		RunTimeoutSeconds:   900,
		BindAddr:            "127.0.0.1:8089",
		JanitorCron:         "@every 1m",
	}
}

// HomeDir resolves the data directory, checking TELECORE_HOME like the
// teacher checks GOCLAW_HOME.
func HomeDir() string {
	if override := os.Getenv("TELECORE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".telecore")
}

// Load reads the bots.yaml file from HomeDir, layers environment overrides
// on top, validates bot sandbox blocks against botsSchema, and returns the
// ready-to-use Config.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create telecore home: %w", err)
	}
	cfg.DBPath = filepath.Join(cfg.HomeDir, "telecore.db")

	path := filepath.Join(cfg.HomeDir, "bots.yaml")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read bots.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse bots.yaml: %w", err)
		}
		if err := validateBots(data); err != nil {
			return cfg, fmt.Errorf("validate bots.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TELECORE_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TELECORE_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TELECORE_DB_PATH"); raw != "" {
		cfg.DBPath = raw
	}
	if raw := os.Getenv("TELECORE_LEASE_TTL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.LeaseTTLMillis = v
		}
	}
	if raw := os.Getenv("TELECORE_POLL_INTERVAL_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.PollIntervalMs = v
		}
	}
	if raw := os.Getenv("TELECORE_SUPERVISOR_BACKOFF_MS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.SupervisorBackoffMs = v
		}
	}
	if raw := os.Getenv("TELECORE_PLATFORM_BASE_URL"); raw != "" {
		cfg.PlatformBaseURL = raw
	}
	if raw := os.Getenv("TELECORE_RUN_TIMEOUT_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.RunTimeoutSeconds = v
		}
	}
	if raw := os.Getenv("TELECORE_BOOTSTRAP_OWNER_ID"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.BootstrapOwnerID = v
		}
	}
	if raw := os.Getenv("TELECORE_BOOTSTRAP_BOT_ID"); raw != "" {
		cfg.BootstrapBotID = raw
	}
}

func normalize(cfg *Config) {
	if cfg.LeaseTTLMillis <= 0 {
		cfg.LeaseTTLMillis = 30_000
	}
	if cfg.PollIntervalMs <= 0 {
		cfg.PollIntervalMs = 250
	}
	if cfg.RunTimeoutSeconds <= 0 {
		cfg.RunTimeoutSeconds = 900
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	cfg.LeaseTTL = time.Duration(cfg.LeaseTTLMillis) * time.Millisecond
	cfg.PollInterval = time.Duration(cfg.PollIntervalMs) * time.Millisecond
	for i := range cfg.Bots {
		if cfg.Bots[i].DefaultAdapter == "" {
			cfg.Bots[i].DefaultAdapter = "default"
		}
		if cfg.Bots[i].Mode == "" {
			cfg.Bots[i].Mode = "embedded"
		}
	}
}

// Fingerprint gives a short stable hash of the loaded config, used in
// startup log lines and the /metrics readout for provenance, the way the
// teacher's Config.Fingerprint does.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|lease=%d|poll=%d|bind=%s|bots=%d",
		c.LogLevel, c.LeaseTTLMillis, c.PollIntervalMs, c.BindAddr, len(c.Bots))
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// botsSandboxSchema validates the per-agent sandbox option block (model
// name, resource limits) any bot entry may declare, catching malformed
// config documents at load time rather than at first use.
const botsSandboxSchema = `{
	"type": "object",
	"properties": {
		"model": {"type": "string"},
		"timeout_seconds": {"type": "integer", "minimum": 1},
		"max_output_bytes": {"type": "integer", "minimum": 1}
	},
	"additionalProperties": true
}`

func validateBots(raw []byte) error {
	var doc struct {
		Bots []struct {
			Sandbox map[string]any `yaml:"sandbox"`
		} `yaml:"bots"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(botsSandboxSchema))
	if err != nil {
		return fmt.Errorf("unmarshal sandbox schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("sandbox.json", schemaDoc); err != nil {
		return fmt.Errorf("add sandbox schema resource: %w", err)
	}
	schema, err := compiler.Compile("sandbox.json")
	if err != nil {
		return fmt.Errorf("compile sandbox schema: %w", err)
	}

	for i, bot := range doc.Bots {
		if bot.Sandbox == nil {
			continue
		}
		if err := schema.Validate(toJSONCompatible(bot.Sandbox)); err != nil {
			return fmt.Errorf("bot[%d].sandbox: %w", i, err)
		}
	}
	return nil
}

func toJSONCompatible(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch vv := v.(type) {
		case map[any]any:
			conv := make(map[string]any, len(vv))
			for kk, vvv := range vv {
				conv[fmt.Sprint(kk)] = vvv
			}
			out[k] = conv
		default:
			out[k] = v
		}
	}
	return out
}
