package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hatchdata/askdb/internal/providers"
)

// DatabaseSchema is the table DDL embedded verbatim in the generation
// and agent prompts. It must stay in sync with the migrations.
const DatabaseSchema = `CREATE TABLE app_portfolio (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    app_name TEXT NOT NULL,
    platform TEXT NOT NULL CHECK(platform IN ('iOS', 'Android')),
    date DATE NOT NULL,
    country TEXT NOT NULL,
    installs INTEGER DEFAULT 0,
    in_app_revenue DECIMAL(10, 2) DEFAULT 0.0,
    ads_revenue DECIMAL(10, 2) DEFAULT 0.0,
    ua_cost DECIMAL(10, 2) DEFAULT 0.0
);

Indexes:
- idx_app_name ON app_portfolio(app_name)
- idx_platform ON app_portfolio(platform)
- idx_date ON app_portfolio(date)
- idx_country ON app_portfolio(country)`

// GenerateSQLTool turns a natural-language question into a SELECT
// statement with a dedicated model call. The agent's own prompt tells
// the model to route questions through this tool.
type GenerateSQLTool struct {
	provider providers.Provider
	model    string
	dialect  string
}

// NewGenerateSQLTool builds the tool. dialect names the SQL flavor for
// the prompt ("sqlite" or "postgres"); model may be empty to use the
// provider default.
func NewGenerateSQLTool(provider providers.Provider, model, dialect string) *GenerateSQLTool {
	if dialect == "" {
		dialect = "sqlite"
	}
	return &GenerateSQLTool{provider: provider, model: model, dialect: dialect}
}

func (t *GenerateSQLTool) Name() string { return "generate_sql" }

func (t *GenerateSQLTool) Description() string {
	return "Generate a SQL SELECT query for the app_portfolio database from a natural language question. Returns the SQL string only."
}

func (t *GenerateSQLTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "The user's question about the database, in natural language",
			},
		},
		"required": []string{"question"},
	}
}

func (t *GenerateSQLTool) systemPrompt() string {
	return fmt.Sprintf(`You are a SQL query generator for an app portfolio database.

Database Schema:
%s

Rules:
1. Generate ONLY SELECT queries (no INSERT, UPDATE, DELETE, DROP, etc.)
2. Always reference the 'app_portfolio' table
3. Use proper SQL syntax for %s
4. Consider conversation context when provided
5. Use appropriate aggregations (COUNT, SUM, AVG, MAX, MIN) when needed
6. Use DISTINCT when counting unique values such as app names
7. Combine in_app_revenue + ads_revenue when asked for total revenue
8. Include WHERE clauses for filtering when appropriate
9. Use ORDER BY for sorting when relevant
10. Use LIMIT for top-N queries

Return ONLY the SQL query, no explanations or markdown formatting.`, DatabaseSchema, t.dialect)
}

func (t *GenerateSQLTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rs := RunStateFromCtx(ctx)

	question, _ := args["question"].(string)
	question = strings.TrimSpace(question)
	if question == "" && rs != nil {
		question = rs.Question
	}
	if question == "" {
		return ErrorResult("ERROR: question argument is required")
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Generate a SQL query for this question: %s", question)
	if rs != nil && len(rs.History) > 0 {
		user.WriteString("\n\nPrevious conversation context:")
		for i, turn := range rs.History {
			fmt.Fprintf(&user, "\n%d. %s", i+1, turn)
		}
	}

	messages := []providers.Message{
		{Role: "system", Content: t.systemPrompt()},
		{Role: "user", Content: user.String()},
	}

	resp, err := t.provider.Chat(ctx, providers.ChatRequest{Messages: messages, Model: t.model})
	if err != nil {
		slog.Error("sql generation failed", "error", err)
		return ErrorResult(fmt.Sprintf("ERROR: failed to generate SQL query: %v", err))
	}

	sql := stripFences(resp.Content)
	if sql == "" {
		// One retry with the failure fed back as context.
		slog.Warn("sql generation returned empty output, retrying once", "question", question)
		if prev := strings.TrimSpace(resp.Content); prev != "" {
			messages = append(messages, providers.Message{Role: "assistant", Content: prev})
		}
		messages = append(messages, providers.Message{
			Role:    "user",
			Content: "The previous response did not contain a SQL query. Return only the SQL query for the question above.",
		})
		resp, err = t.provider.Chat(ctx, providers.ChatRequest{Messages: messages, Model: t.model})
		if err != nil {
			return ErrorResult(fmt.Sprintf("ERROR: failed to generate SQL query: %v", err))
		}
		sql = stripFences(resp.Content)
	}
	if sql == "" {
		return ErrorResult("ERROR: the model returned an empty SQL query")
	}

	if rs != nil {
		rs.GeneratedSQL = sql
	}
	slog.Debug("generated sql", "question", question, "sql", sql)
	return NewResult(sql)
}

// stripFences removes a markdown code fence wrapping, if present, and
// trims whitespace. Handles both ``` and ```sql openers.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
