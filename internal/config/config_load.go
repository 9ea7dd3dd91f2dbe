package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider:          "anthropic",
				Model:             "claude-sonnet-4-5-20250929",
				MaxTokens:         4096,
				Temperature:       0.2,
				MaxToolIterations: 10,
				ContextWindow:     200000,
			},
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Path:            "~/.askdb/app_portfolio.db",
			Table:           "app_portfolio",
			MaxRows:         1000,
			QueryTimeoutSec: 30,
		},
		Conversation: ConversationConfig{
			MaxMessages:      10,
			MaxTokens:        4000,
			CompressionRatio: 0.8,
			KeepRecent:       5,
			MaxQueries:       10,
			ReplyTimeoutSec:  60,
			IdleTTLMin:       120,
		},
		Exports: ExportsConfig{
			Dir:           "~/.askdb/exports",
			TTLHours:      24,
			SweepEveryMin: 30,
		},
	}
}

// LoadDotenv loads a .env file from the working directory if present.
// Variables already set in the environment are never overridden.
func LoadDotenv() {
	_ = godotenv.Load()
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("ASKDB_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("ASKDB_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("ASKDB_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("ASKDB_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("ASKDB_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("ASKDB_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("ASKDB_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("ASKDB_DISCORD_TOKEN", &c.Channels.Discord.Token)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	// Allow overriding default provider/model
	envStr("ASKDB_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("ASKDB_MODEL", &c.Agents.Defaults.Model)

	// Gateway host/port
	envStr("ASKDB_HOST", &c.Gateway.Host)
	if v := os.Getenv("ASKDB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Database
	envStr("ASKDB_DATABASE_DRIVER", &c.Database.Driver)
	envStr("ASKDB_DATABASE_PATH", &c.Database.Path)
	envStr("ASKDB_POSTGRES_DSN", &c.Database.PostgresDSN)

	// Exports
	envStr("ASKDB_EXPORTS_DIR", &c.Exports.Dir)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after modifying config to restore runtime secrets from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// SQLitePath returns the expanded sqlite database path.
func (c *Config) SQLitePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Database.Path)
}

// ExportDir returns the expanded CSV export directory.
func (c *Config) ExportDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Exports.Dir)
}

// ResolveAgent returns the effective LLM settings for a given agent ID,
// merging defaults with per-agent overrides.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.MaxToolIterations > 0 {
			d.MaxToolIterations = spec.MaxToolIterations
		}
	}

	return d
}

// ResolveDisplayName returns the display name for an agent.
// Falls back to "AskDB" if not configured.
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return "AskDB"
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by status reporting to avoid exposing secrets to WebSocket clients.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Deep copy via JSON round-trip
	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.Providers.Anthropic.APIKey)
	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.Providers.OpenRouter.APIKey)
	maskNonEmpty(&cp.Providers.Groq.APIKey)
	maskNonEmpty(&cp.Providers.DeepSeek.APIKey)

	maskNonEmpty(&cp.Gateway.Token)

	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Discord.Token)

	return cp
}

// StripSecrets zeros out all secret fields in the config.
// Used before saving to disk so secrets never persist in config.json.
func (c *Config) StripSecrets() {
	c.Providers.Anthropic.APIKey = ""
	c.Providers.OpenAI.APIKey = ""
	c.Providers.OpenRouter.APIKey = ""
	c.Providers.Groq.APIKey = ""
	c.Providers.DeepSeek.APIKey = ""

	c.Gateway.Token = ""

	c.Channels.Telegram.Token = ""
	c.Channels.Discord.Token = ""
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
