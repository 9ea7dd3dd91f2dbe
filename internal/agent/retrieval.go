package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hatchdata/askdb/internal/memory"
	"github.com/hatchdata/askdb/internal/tools"
)

// SQLRetrieval shows previously executed SQL back to the user. It
// extracts a description fragment from the request, looks the query up
// in the thread history, and renders it as a fenced code block. Stored
// SQL is never regenerated.
type SQLRetrieval struct {
	registry *tools.Registry
}

func NewSQLRetrieval(mem *memory.Store) (*SQLRetrieval, error) {
	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewGetSQLHistoryTool(mem)); err != nil {
		return nil, err
	}
	return &SQLRetrieval{registry: registry}, nil
}

func (a *SQLRetrieval) Name() string { return "sql_retrieval" }

func (a *SQLRetrieval) Run(ctx context.Context, req Request) (*Result, error) {
	args := "{}"
	if desc := ExtractDescription(req.Message); desc != "" {
		raw, err := json.Marshal(map[string]string{"description": desc})
		if err != nil {
			return nil, fmt.Errorf("marshal description: %w", err)
		}
		args = string(raw)
	}

	out := a.registry.ExecuteWithContext(ctx, "get_sql_history", args, req.Channel, req.ChatID, req.ThreadKey)
	res := &Result{ToolCalls: []string{"get_sql_history"}}
	if out.IsError {
		return nil, fmt.Errorf("get_sql_history: %s", out.ForLLM)
	}

	var env struct {
		SQLFound bool   `json:"sql_found"`
		SQL      string `json:"sql_statement"`
		Question string `json:"question"`
	}
	if err := json.Unmarshal([]byte(out.ForLLM), &env); err != nil {
		return nil, fmt.Errorf("get_sql_history envelope: %w", err)
	}

	if !env.SQLFound {
		res.Text = tools.NoHistoryMessage
		return res, nil
	}

	var b strings.Builder
	if env.Question != "" {
		fmt.Fprintf(&b, "Here's the SQL query I used for %q:\n\n", env.Question)
	} else {
		b.WriteString("Here's the SQL query I used:\n\n")
	}
	fmt.Fprintf(&b, "```sql\n%s\n```", env.SQL)
	res.Text = b.String()
	return res, nil
}

// descriptionMarkers are tried in order; longer phrases come first so
// "sql you used for" is not shadowed by "sql for".
var descriptionMarkers = []string{
	"sql you used to",
	"sql you used for",
	"sql used to",
	"sql used for",
	"sql for",
	"sql you used",
}

// ExtractDescription pulls the lookup fragment out of a retrieval
// request: the tokens after markers like "sql for" or "sql you used
// to". An empty return means the caller wants the most recent query.
func ExtractDescription(message string) string {
	lower := strings.ToLower(message)
	for _, marker := range descriptionMarkers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := message[idx+len(marker):]
		return cleanDescription(rest)
	}
	return ""
}

// cleanDescription trims punctuation and a dangling "query"/"queries"
// word so "revenue query?" matches the stored question "revenue".
func cleanDescription(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, "?!. ")
	lower := strings.ToLower(s)
	for _, suffix := range []string{" query", " queries"} {
		if strings.HasSuffix(lower, suffix) {
			s = strings.TrimSpace(s[:len(s)-len(suffix)])
			break
		}
	}
	return s
}
