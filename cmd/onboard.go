package cmd

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/logging"
)

// providerInfo describes how a provider is detected from the environment
// and which model it defaults to.
type providerInfo struct {
	envKey    string
	apiBase   string
	modelHint string
}

var providerMap = map[string]providerInfo{
	"anthropic":  {envKey: "ASKDB_ANTHROPIC_API_KEY", modelHint: "claude-sonnet-4-5-20250929"},
	"openai":     {envKey: "ASKDB_OPENAI_API_KEY", apiBase: "https://api.openai.com/v1", modelHint: "gpt-4o"},
	"openrouter": {envKey: "ASKDB_OPENROUTER_API_KEY", apiBase: "https://openrouter.ai/api/v1", modelHint: "anthropic/claude-sonnet-4-5"},
	"groq":       {envKey: "ASKDB_GROQ_API_KEY", apiBase: "https://api.groq.com/openai/v1", modelHint: "llama-3.3-70b-versatile"},
	"deepseek":   {envKey: "ASKDB_DEEPSEEK_API_KEY", apiBase: "https://api.deepseek.com/v1", modelHint: "deepseek-chat"},
}

// providerPriority defines the order in which providers are auto-detected
// from environment variables. First match wins.
var providerPriority = []string{"anthropic", "openai", "openrouter", "groq", "deepseek"}

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Set up askdb interactively or from environment variables",
		Long: `Detect provider API keys in the environment (or ask for one when
running in a terminal), verify them, write a clean config.json, run
database migrations, and seed sample data when the analytics table is
empty.

For non-interactive setup, export a provider key first:

  export ASKDB_ANTHROPIC_API_KEY=sk-ant-...`,
		Run: func(cmd *cobra.Command, args []string) {
			logging.Setup(verbose)
			config.LoadDotenv()

			if !canAutoOnboard() {
				if !isInteractiveTerminal() {
					fmt.Println("No provider API key found in the environment.")
					fmt.Println()
					fmt.Println("  export ASKDB_ANTHROPIC_API_KEY=sk-ant-...   (or another ASKDB_*_API_KEY)")
					fmt.Println()
					fmt.Println("Then re-run:  askdb onboard")
					os.Exit(1)
				}
				if err := runInteractiveOnboard(); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						fmt.Println("Setup cancelled.")
					} else {
						fmt.Printf("Setup failed: %v\n", err)
					}
					os.Exit(1)
				}
			}
			if !runAutoOnboard(resolveConfigPath()) {
				os.Exit(1)
			}
		},
	}
}

// canAutoOnboard returns true if any ASKDB_*_API_KEY env var is set,
// indicating the user wants non-interactive configuration (e.g. Docker).
func canAutoOnboard() bool {
	for _, name := range providerPriority {
		if os.Getenv(providerMap[name].envKey) != "" {
			return true
		}
	}
	return false
}

// runAutoOnboard performs setup from environment variables (the
// interactive form funnels into the same path after exporting its
// answers). Returns true on success, false on fatal error.
func runAutoOnboard(cfgPath string) bool {
	fmt.Println("Setting up askdb...")

	cfg := config.Default()
	cfg.ApplyEnvOverrides()

	// Resolve provider: respect ASKDB_PROVIDER when its key is present,
	// otherwise auto-detect from available keys.
	provider := cfg.Agents.Defaults.Provider
	if resolveProviderAPIKey(cfg, provider) == "" {
		provider = detectProvider(cfg)
	}
	if provider == "" {
		fmt.Println("  No provider API key found in environment")
		return false
	}
	cfg.Agents.Defaults.Provider = provider

	// Use the model hint unless ASKDB_MODEL overrides it.
	if os.Getenv("ASKDB_MODEL") == "" {
		if pi, ok := providerMap[provider]; ok && pi.modelHint != "" {
			cfg.Agents.Defaults.Model = pi.modelHint
		}
	}
	fmt.Printf("  Provider: %s (model: %s)\n", provider, cfg.Agents.Defaults.Model)

	// Verify keys before anything is written. Only the primary
	// provider's auth failure blocks setup.
	fmt.Println("  Verifying provider keys...")
	if fatalErrors := verifyAllProviders(cfg, provider); len(fatalErrors) > 0 {
		fmt.Printf("  Provider verification FAILED: primary provider %q has an invalid API key\n", provider)
		return false
	}

	// Generate a gateway token so the WebSocket endpoint is never open
	// by accident. It is persisted in config.json (mode 0600);
	// ASKDB_GATEWAY_TOKEN takes precedence when set.
	generatedToken := false
	if cfg.Gateway.Token == "" {
		cfg.Gateway.Token = onboardGenerateToken(16)
		generatedToken = true
		fmt.Printf("  Gateway token: %s\n", cfg.Gateway.Token)
	}

	// Schema first, then sample rows so the assistant has data to
	// answer questions about out of the box.
	fmt.Print("  Running migrations...")
	if m, err := newMigrator(); err != nil {
		fmt.Printf(" error: %v\n", err)
		fmt.Println("  Continuing without migration (run manually: askdb migrate up)")
	} else {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			fmt.Printf(" error: %v\n", err)
			fmt.Println("  Continuing without migration (run manually: askdb migrate up)")
		} else {
			v, _, _ := m.Version()
			fmt.Printf(" OK (version: %d)\n", v)
		}
		m.Close()
	}

	if err := seedIfEmpty(cfg); err != nil {
		fmt.Printf("  Seeding skipped: %v\n", err)
	}

	// Save a clean, minimal config. API keys stay in the environment.
	if err := saveCleanConfig(cfgPath, cfg, generatedToken); err != nil {
		fmt.Printf("  Warning: could not save config: %v\n", err)
	} else {
		fmt.Printf("  Config saved to %s\n", cfgPath)
	}

	fmt.Println("Setup complete. Start the assistant with:  askdb serve")
	return true
}

// detectProvider finds the first provider with an API key configured.
func detectProvider(cfg *config.Config) string {
	for _, name := range providerPriority {
		if resolveProviderAPIKey(cfg, name) != "" {
			return name
		}
	}
	return ""
}

// resolveProviderAPIKey returns the configured API key for a provider.
func resolveProviderAPIKey(cfg *config.Config, name string) string {
	switch name {
	case "anthropic":
		return cfg.Providers.Anthropic.APIKey
	case "openai":
		return cfg.Providers.OpenAI.APIKey
	case "openrouter":
		return cfg.Providers.OpenRouter.APIKey
	case "groq":
		return cfg.Providers.Groq.APIKey
	case "deepseek":
		return cfg.Providers.DeepSeek.APIKey
	}
	return ""
}

// onboardGenerateToken returns a random hex token of 2n characters.
func onboardGenerateToken(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means something is deeply wrong; fall back
		// to a time-derived value rather than an empty token.
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

// seedIfEmpty inserts sample rows on first setup so there is something
// to query before any real data import happens.
func seedIfEmpty(cfg *config.Config) error {
	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var count int
	if err := db.Conn().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+db.Table()).Scan(&count); err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	if count > 0 {
		fmt.Printf("  Sample data: table %s already has %d rows\n", db.Table(), count)
		return nil
	}

	n, err := db.Seed(ctx, database.SeedOptions{})
	if err != nil {
		return err
	}
	fmt.Printf("  Sample data: %d rows inserted into %s\n", n, db.Table())
	return nil
}

// saveCleanConfig writes a minimal config.json without noise: empty
// providers and disabled channels are omitted, API keys are never
// persisted. The gateway token is kept only when generated here, since
// losing it would leave the gateway unauthenticated.
func saveCleanConfig(cfgPath string, cfg *config.Config, keepToken bool) error {
	gateway := map[string]interface{}{
		"host":                cfg.Gateway.Host,
		"port":                cfg.Gateway.Port,
		"max_message_chars":   nonZero(cfg.Gateway.MaxMessageChars, 32000),
		"rate_limit_rpm":      nonZero(cfg.Gateway.RateLimitRPM, 20),
		"inbound_debounce_ms": nonZero(cfg.Gateway.InboundDebounceMs, 1000),
	}
	if keepToken {
		gateway["token"] = cfg.Gateway.Token
	}

	root := map[string]interface{}{
		"agents": map[string]interface{}{
			"defaults": map[string]interface{}{
				"provider":            cfg.Agents.Defaults.Provider,
				"model":               cfg.Agents.Defaults.Model,
				"max_tokens":          cfg.Agents.Defaults.MaxTokens,
				"temperature":         cfg.Agents.Defaults.Temperature,
				"max_tool_iterations": cfg.Agents.Defaults.MaxToolIterations,
			},
		},
		"gateway": gateway,
		"database": map[string]interface{}{
			"driver":            nonEmpty(cfg.Database.Driver, "sqlite"),
			"path":              cfg.Database.Path,
			"table":             cfg.Database.Table,
			"max_rows":          nonZero(cfg.Database.MaxRows, 1000),
			"query_timeout_sec": nonZero(cfg.Database.QueryTimeoutSec, 30),
		},
		"exports": map[string]interface{}{
			"dir":             cfg.Exports.Dir,
			"ttl_hours":       nonZero(cfg.Exports.TTLHours, 24),
			"sweep_every_min": nonZero(cfg.Exports.SweepEveryMin, 30),
		},
	}

	// Only include channels that are actually enabled.
	channels := make(map[string]interface{})
	if cfg.Channels.Telegram.Enabled {
		channels["telegram"] = map[string]interface{}{
			"enabled":     true,
			"stream_mode": nonEmpty(cfg.Channels.Telegram.StreamMode, "off"),
		}
	}
	if cfg.Channels.Discord.Enabled {
		channels["discord"] = map[string]interface{}{"enabled": true}
	}
	if len(channels) > 0 {
		root["channels"] = channels
	}

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(cfgPath, data, 0600)
}

// nonEmpty returns val if non-empty, otherwise fallback.
func nonEmpty(val, fallback string) string {
	if val != "" {
		return val
	}
	return fallback
}

// nonZero returns val if non-zero, otherwise fallback.
func nonZero(val, fallback int) int {
	if val != 0 {
		return val
	}
	return fallback
}
