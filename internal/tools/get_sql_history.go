package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hatchdata/askdb/internal/memory"
)

// NoHistoryMessage is returned when a thread has no stored SQL queries.
const NoHistoryMessage = "No SQL queries found for this thread. Please run a query first."

// historyEnvelope is the payload get_sql_history hands to the model.
type historyEnvelope struct {
	SQLFound  bool   `json:"sql_found"`
	SQL       string `json:"sql_statement,omitempty"`
	Question  string `json:"question,omitempty"`
	Timestamp string `json:"query_timestamp,omitempty"`
	Message   string `json:"message"`
}

// GetSQLHistoryTool looks up previously executed SQL for the thread,
// optionally matched against a description of the original question.
type GetSQLHistoryTool struct {
	store *memory.Store
}

func NewGetSQLHistoryTool(store *memory.Store) *GetSQLHistoryTool {
	return &GetSQLHistoryTool{store: store}
}

func (t *GetSQLHistoryTool) Name() string { return "get_sql_history" }

func (t *GetSQLHistoryTool) Description() string {
	return "Retrieve a previously executed SQL query from this conversation. " +
		"Pass a description of the original question to find a specific query; " +
		"omit it to get the most recent one."
}

func (t *GetSQLHistoryTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"description": map[string]interface{}{
				"type":        "string",
				"description": "Words from the original question, e.g. \"how many apps\".",
			},
		},
	}
}

func (t *GetSQLHistoryTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	threadKey := ThreadKeyFromCtx(ctx)
	if threadKey == "" {
		return ErrorResult("no conversation context for SQL history")
	}

	description, _ := args["description"].(string)
	description = strings.TrimSpace(description)

	rec, matched := t.store.FindQuery(threadKey, description)
	if !matched {
		// No match for the description; fall back to the newest record.
		last, ok := t.store.LastQuery(threadKey)
		if !ok {
			return SilentResult(marshalJSON(historyEnvelope{
				SQLFound: false,
				Message:  NoHistoryMessage,
			}))
		}
		rec = last
	}

	message := "Retrieved last SQL query from thread history."
	if matched && description != "" {
		message = fmt.Sprintf("Found SQL query matching: %s", description)
	}
	return SilentResult(marshalJSON(historyEnvelope{
		SQLFound:  true,
		SQL:       rec.SQL,
		Question:  rec.Question,
		Timestamp: rec.CreatedAt.Format(time.RFC3339),
		Message:   message,
	}))
}
