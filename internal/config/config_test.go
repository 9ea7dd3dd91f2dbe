package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConversationLimits(t *testing.T) {
	cfg := Default()

	if cfg.Conversation.MaxMessages != 10 {
		t.Errorf("MaxMessages = %d, want 10", cfg.Conversation.MaxMessages)
	}
	if cfg.Conversation.MaxTokens != 4000 {
		t.Errorf("MaxTokens = %d, want 4000", cfg.Conversation.MaxTokens)
	}
	if cfg.Conversation.CompressionRatio != 0.8 {
		t.Errorf("CompressionRatio = %v, want 0.8", cfg.Conversation.CompressionRatio)
	}
	if cfg.Conversation.KeepRecent != 5 {
		t.Errorf("KeepRecent = %d, want 5", cfg.Conversation.KeepRecent)
	}
	if cfg.Conversation.MaxQueries != 10 {
		t.Errorf("MaxQueries = %d, want 10", cfg.Conversation.MaxQueries)
	}
	if cfg.Database.Table != "app_portfolio" {
		t.Errorf("Database.Table = %q, want %q", cfg.Database.Table, "app_portfolio")
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want %q", cfg.Database.Driver, "sqlite")
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18790 {
		t.Errorf("Gateway.Port = %d, want default 18790", cfg.Gateway.Port)
	}
}

// Config files are JSON5: comments and trailing commas must parse.
func TestLoadJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		// analytics source
		"database": {
			"driver": "sqlite",
			"max_rows": 500,
		},
		"conversation": {
			"max_messages": 6,
		},
	}`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.MaxRows != 500 {
		t.Errorf("MaxRows = %d, want 500", cfg.Database.MaxRows)
	}
	if cfg.Conversation.MaxMessages != 6 {
		t.Errorf("MaxMessages = %d, want 6", cfg.Conversation.MaxMessages)
	}
	// Untouched fields keep defaults.
	if cfg.Conversation.KeepRecent != 5 {
		t.Errorf("KeepRecent = %d, want 5", cfg.Conversation.KeepRecent)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ASKDB_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("ASKDB_ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("ASKDB_PORT", "9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Channels.Telegram.Token != "123:abc" {
		t.Errorf("Telegram.Token = %q, want %q", cfg.Channels.Telegram.Token, "123:abc")
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Error("Telegram channel not auto-enabled by env token")
	}
	if cfg.Providers.Anthropic.APIKey != "sk-test" {
		t.Errorf("Anthropic.APIKey = %q, want %q", cfg.Providers.Anthropic.APIKey, "sk-test")
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("Gateway.Port = %d, want 9999", cfg.Gateway.Port)
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Providers.OpenAI.APIKey = "sk-secret"
	cfg.Channels.Discord.Token = "discord-token"
	cfg.Gateway.Token = "gw-token"

	cp := cfg.MaskedCopy()
	if cp.Providers.OpenAI.APIKey != "***" {
		t.Errorf("OpenAI.APIKey = %q, want masked", cp.Providers.OpenAI.APIKey)
	}
	if cp.Channels.Discord.Token != "***" {
		t.Errorf("Discord.Token = %q, want masked", cp.Channels.Discord.Token)
	}
	if cp.Gateway.Token != "***" {
		t.Errorf("Gateway.Token = %q, want masked", cp.Gateway.Token)
	}
	// Empty secrets stay empty, not masked.
	if cp.Providers.Groq.APIKey != "" {
		t.Errorf("Groq.APIKey = %q, want empty", cp.Providers.Groq.APIKey)
	}
	// Original untouched.
	if cfg.Providers.OpenAI.APIKey != "sk-secret" {
		t.Error("MaskedCopy mutated the original config")
	}
}

func TestStripSecrets(t *testing.T) {
	cfg := Default()
	cfg.Providers.Anthropic.APIKey = "sk-a"
	cfg.Channels.Telegram.Token = "tg"
	cfg.StripSecrets()

	if cfg.Providers.Anthropic.APIKey != "" || cfg.Channels.Telegram.Token != "" {
		t.Error("StripSecrets left secrets behind")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tilde slash", "~/.askdb/exports", home + "/.askdb/exports"},
		{"bare tilde", "~", home},
		{"absolute", "/tmp/x", "/tmp/x"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandHome(tt.in); got != tt.want {
				t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"strings", `["a","b"]`, []string{"a", "b"}},
		{"numbers", `[123, 456]`, []string{"123", "456"}},
		{"mixed", `["a", 7]`, []string{"a", "7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FlexibleStringSlice
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestResolveAgent(t *testing.T) {
	cfg := Default()
	cfg.Agents.List = map[string]AgentSpec{
		"router": {Model: "claude-haiku-4-5", Temperature: 0.1},
	}

	got := cfg.ResolveAgent("router")
	if got.Model != "claude-haiku-4-5" {
		t.Errorf("Model = %q, want override", got.Model)
	}
	if got.Temperature != 0.1 {
		t.Errorf("Temperature = %v, want 0.1", got.Temperature)
	}
	// Unset fields inherit defaults.
	if got.Provider != cfg.Agents.Defaults.Provider {
		t.Errorf("Provider = %q, want default %q", got.Provider, cfg.Agents.Defaults.Provider)
	}

	// Unknown agent gets pure defaults.
	def := cfg.ResolveAgent("sql_query")
	if def.Model != cfg.Agents.Defaults.Model {
		t.Errorf("Model = %q, want default", def.Model)
	}
}
