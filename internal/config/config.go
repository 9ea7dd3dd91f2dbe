package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the AskDB assistant.
type Config struct {
	Agents       AgentsConfig       `json:"agents"`
	Channels     ChannelsConfig     `json:"channels"`
	Providers    ProvidersConfig    `json:"providers"`
	Gateway      GatewayConfig      `json:"gateway"`
	Database     DatabaseConfig     `json:"database"`
	Conversation ConversationConfig `json:"conversation"`
	Exports      ExportsConfig      `json:"exports"`
	Reports      []ReportConfig     `json:"reports,omitempty"`
	mu           sync.RWMutex
}

// ReportConfig is one scheduled report: at every cron match the
// question is run through the assistant and the answer is delivered to
// the named channel chat.
type ReportConfig struct {
	Name     string `json:"name"`               // unique label, also the report's thread identity
	Cron     string `json:"cron"`               // five-field cron expression, e.g. "0 9 * * 1-5"
	Question string `json:"question"`           // the question to ask
	Channel  string `json:"channel"`            // delivery channel, e.g. "telegram"
	ChatID   string `json:"chat_id"`            // delivery chat within the channel
	NoCSV    bool   `json:"no_csv,omitempty"`   // suppress CSV attachments
	Disabled bool   `json:"disabled,omitempty"` // keep the entry but skip scheduling
}

// DatabaseConfig configures the read-only analytics database.
// PostgresDSN is NEVER read from config.json (secret), only from env ASKDB_POSTGRES_DSN.
type DatabaseConfig struct {
	Driver          string `json:"driver,omitempty"`            // "sqlite" (default) or "postgres"
	Path            string `json:"path,omitempty"`              // sqlite file path (default ~/.askdb/app_portfolio.db)
	PostgresDSN     string `json:"-"`                           // from env ASKDB_POSTGRES_DSN only
	Table           string `json:"table,omitempty"`             // analytics table name (default "app_portfolio")
	MaxRows         int    `json:"max_rows,omitempty"`          // cap on rows returned per query (default 1000)
	QueryTimeoutSec int    `json:"query_timeout_sec,omitempty"` // per-query timeout in seconds (default 30)
}

// ConversationConfig bounds per-thread conversation state.
type ConversationConfig struct {
	MaxMessages      int     `json:"max_messages,omitempty"`      // history cap per thread (default 10)
	MaxTokens        int     `json:"max_tokens,omitempty"`        // approximate token budget per thread (default 4000)
	CompressionRatio float64 `json:"compression_ratio,omitempty"` // compress when usage crosses this share of the budget (default 0.8)
	KeepRecent       int     `json:"keep_recent,omitempty"`       // messages kept verbatim after compression (default 5)
	MaxQueries       int     `json:"max_queries,omitempty"`       // stored query results per thread (default 10)
	ReplyTimeoutSec  int     `json:"reply_timeout_sec,omitempty"` // end-to-end turn timeout in seconds (default 60)
	IdleTTLMin       int     `json:"idle_ttl_min,omitempty"`      // drop idle thread state after N minutes (default 120)
}

// ExportsConfig controls CSV export storage.
type ExportsConfig struct {
	Dir           string `json:"dir,omitempty"`             // export directory (default ~/.askdb/exports)
	TTLHours      int    `json:"ttl_hours,omitempty"`       // delete exports older than N hours (default 24)
	SweepEveryMin int    `json:"sweep_every_min,omitempty"` // cleanup interval in minutes (default 30)
}

// AgentsConfig contains agent defaults and per-agent overrides.
type AgentsConfig struct {
	Defaults AgentDefaults        `json:"defaults"`
	List     map[string]AgentSpec `json:"list,omitempty"`
}

// AgentDefaults are default LLM settings for all agents.
type AgentDefaults struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	MaxToolIterations int     `json:"max_tool_iterations"`
	ContextWindow     int     `json:"context_window"`
}

// AgentSpec is the per-agent configuration override.
// All fields optional; zero values inherit from defaults.
type AgentSpec struct {
	DisplayName       string  `json:"displayName,omitempty"`
	Provider          string  `json:"provider,omitempty"`
	Model             string  `json:"model,omitempty"`
	MaxTokens         int     `json:"max_tokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	MaxToolIterations int     `json:"max_tool_iterations,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Agents = src.Agents
	c.Channels = src.Channels
	c.Providers = src.Providers
	c.Gateway = src.Gateway
	c.Database = src.Database
	c.Conversation = src.Conversation
	c.Exports = src.Exports
	c.Reports = src.Reports
}
