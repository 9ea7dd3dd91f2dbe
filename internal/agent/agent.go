// Package agent implements the four specialized agents behind the bot:
// SQL querying over an LLM tool loop, CSV export, retrieval of stored
// SQL, and an off-topic fallback. The orchestrator picks one per
// message based on the routed intent.
package agent

import (
	"context"
	"strings"

	"github.com/hatchdata/askdb/internal/providers"
)

// Request carries one inbound message into an agent run.
type Request struct {
	ThreadKey string
	Message   string
	History   []providers.Message // thread log, newest last
	RunID     string
	Channel   string
	ChatID    string
}

// Result is the outcome of a completed agent run.
type Result struct {
	Text      string   // final user-facing text, never empty on success
	Steps     int      // model iterations consumed; 0 for deterministic agents
	ToolCalls []string // tool names in invocation order
	FilePath  string   // produced file for the transport to upload, if any
	Stored    bool     // a query record was persisted during this run
	Usage     *providers.Usage
}

// Agent handles messages of one intent.
type Agent interface {
	Name() string
	Run(ctx context.Context, req Request) (*Result, error)
}

// historyWindow renders the last n history entries as "User:" /
// "Assistant:" lines for prompt context. Summary messages read as
// assistant turns.
func historyWindow(history []providers.Message, n int) []string {
	start := len(history) - n
	if start < 0 {
		start = 0
	}
	out := make([]string, 0, len(history)-start)
	for _, m := range history[start:] {
		label := "Assistant"
		if m.Role == "user" {
			label = "User"
		}
		out = append(out, label+": "+m.Content)
	}
	return out
}

// firstNonEmpty returns the first non-blank string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
