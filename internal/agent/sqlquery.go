package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/memory"
	"github.com/hatchdata/askdb/internal/providers"
	"github.com/hatchdata/askdb/internal/tools"
)

// sqlQueryPromptFormat is the SQL-Query agent's system prompt, with a
// slot for the table schema.
const sqlQueryPromptFormat = `You are a SQL query agent for an app portfolio database.

Your job is to answer natural language questions about the data by:
1. Calling generate_sql with the user's question
2. Calling execute_sql with the generated SQL
3. Calling format_result with the user's original question
4. Returning the output of format_result verbatim as your final answer

Database Schema:
%s

Rules:
- Only SELECT queries are allowed (no INSERT, UPDATE, DELETE, DROP)
- Always reference the 'app_portfolio' table
- Use DISTINCT when counting unique values (e.g. COUNT(DISTINCT app_name))
- Combine in_app_revenue + ads_revenue when asked about total revenue
- Use the conversation history for follow-up questions ("what about iOS?" after "how many apps?" filters by platform = 'iOS')
- If a tool reports an error, explain the problem briefly in plain language and stop
- Do not add commentary around the formatted result

Be concise, accurate, and helpful.`

// SQLQuery answers database questions through the model tool loop and
// records every successful execution in the thread's query history.
type SQLQuery struct {
	mem  *memory.Store
	loop *Loop
}

// NewSQLQuery wires the generation, execution and formatting tools
// into a loop. dialect names the SQL flavor for generation prompts.
func NewSQLQuery(provider providers.Provider, model, dialect string, db *database.DB, mem *memory.Store, maxSteps int) (*SQLQuery, error) {
	registry := tools.NewRegistry()
	for _, t := range []tools.Tool{
		tools.NewGenerateSQLTool(provider, model, dialect),
		tools.NewExecuteSQLTool(db),
		tools.NewFormatResultTool(),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return &SQLQuery{
		mem:  mem,
		loop: newLoop("sql_query", provider, model, registry, maxSteps),
	}, nil
}

func (a *SQLQuery) Name() string { return "sql_query" }

// Run executes the tool loop and then performs the bookkeeping the
// model must not be trusted with: when the run executed SQL
// successfully, exactly one query record is stored for the thread,
// whatever the model said in closing.
func (a *SQLQuery) Run(ctx context.Context, req Request) (*Result, error) {
	rs := tools.NewRunState(req.Message)
	rs.History = historyWindow(req.History, 3)
	ctx = tools.WithRunState(ctx, rs)

	user := req.Message
	if len(rs.History) > 0 {
		user = fmt.Sprintf("Question: %s\n\nPrevious conversation:\n%s\n\nPlease answer the question using the available tools.",
			req.Message, strings.Join(rs.History, "\n"))
	}

	out, err := a.loop.run(ctx, req, a.systemPrompt(), user)
	if err != nil {
		return nil, err
	}

	// format_result output wins over the model's own closing text.
	text := firstNonEmpty(rs.Formatted, sanitizeModelText(out.text),
		"I couldn't process your query. Please try again.")

	res := &Result{
		Text:      text,
		Steps:     out.steps,
		ToolCalls: out.toolCalls,
		Usage:     &out.usage,
	}

	if rs.Exec != nil {
		a.mem.StoreQuery(req.ThreadKey, rs.Exec.SQL, req.Message, rs.Exec.Result)
		res.Stored = true
		slog.Debug("query record stored", "thread", req.ThreadKey, "sql", rs.Exec.SQL)
	}
	return res, nil
}

func (a *SQLQuery) systemPrompt() string {
	return fmt.Sprintf(sqlQueryPromptFormat, tools.DatabaseSchema)
}
