package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hatchdata/askdb/internal/database"
)

// envelopeRowLimit caps how many rows ride back to the model. The full
// result set stays on the run state for format_result and generate_csv.
const envelopeRowLimit = 50

// queryEnvelope is the structured payload execute_sql returns to the
// model. Failures travel inside it as values, never as tool errors.
type queryEnvelope struct {
	Success   bool                     `json:"success"`
	Data      []map[string]interface{} `json:"data,omitempty"`
	RowCount  int                      `json:"row_count"`
	Columns   []string                 `json:"columns,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Query     string                   `json:"query,omitempty"`
	Truncated bool                     `json:"truncated,omitempty"`
	Note      string                   `json:"note,omitempty"`
}

// ExecuteSQLTool runs a validated SELECT against the analytics table.
type ExecuteSQLTool struct {
	db *database.DB
}

func NewExecuteSQLTool(db *database.DB) *ExecuteSQLTool {
	return &ExecuteSQLTool{db: db}
}

func (t *ExecuteSQLTool) Name() string { return "execute_sql" }

func (t *ExecuteSQLTool) Description() string {
	return "Execute a read-only SQL query against the app_portfolio table. " +
		"Only SELECT (or WITH ... SELECT) statements are accepted. " +
		"Returns success, rows, row_count and columns, or an error message when the query is rejected."
}

func (t *ExecuteSQLTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The SELECT statement to run.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *ExecuteSQLTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return ErrorResult("query is required")
	}

	rs := RunStateFromCtx(ctx)

	res, err := t.db.Query(ctx, query)
	if err != nil {
		slog.Warn("execute_sql rejected", "error", err, "query", query)
		if rs != nil {
			rs.ExecError = err.Error()
		}
		return SilentResult(marshalJSON(queryEnvelope{
			Success: false,
			Error:   err.Error(),
			Query:   query,
		}))
	}

	if rs != nil {
		rs.Exec = &Execution{SQL: query, Result: res}
		rs.ExecError = ""
	}

	env := queryEnvelope{
		Success:   true,
		Data:      res.Rows,
		RowCount:  res.RowCount,
		Columns:   res.Columns,
		Query:     query,
		Truncated: res.Truncated,
	}
	if len(env.Data) > envelopeRowLimit {
		env.Data = env.Data[:envelopeRowLimit]
		env.Note = fmt.Sprintf("showing first %d of %d rows; format_result and generate_csv see the full set", envelopeRowLimit, res.RowCount)
	}
	return SilentResult(marshalJSON(env))
}

// marshalJSON renders v for the model, degrading to a plain string on
// marshalling failure instead of surfacing an internal error.
func marshalJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(b)
}
