package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hatchdata/askdb/internal/memory"
)

// NoResultsMessage is returned when a thread has no cached query
// results to export or display.
const NoResultsMessage = "No previous query results found. Please run a query first."

// cachedEnvelope is the payload get_cached_results hands to the model.
type cachedEnvelope struct {
	ResultsFound bool                     `json:"results_found"`
	Data         []map[string]interface{} `json:"data,omitempty"`
	RowCount     int                      `json:"row_count"`
	SQLQuery     string                   `json:"sql_query,omitempty"`
	Timestamp    string                   `json:"query_timestamp,omitempty"`
	Message      string                   `json:"message"`
	Note         string                   `json:"note,omitempty"`
}

// GetCachedResultsTool loads the thread's most recent query results
// from memory, so exports never re-execute SQL.
type GetCachedResultsTool struct {
	store *memory.Store
}

func NewGetCachedResultsTool(store *memory.Store) *GetCachedResultsTool {
	return &GetCachedResultsTool{store: store}
}

func (t *GetCachedResultsTool) Name() string { return "get_cached_results" }

func (t *GetCachedResultsTool) Description() string {
	return "Retrieve the results of the most recent SQL query in this conversation. " +
		"Use this before generate_csv; never re-run the query."
}

func (t *GetCachedResultsTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *GetCachedResultsTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	threadKey := ThreadKeyFromCtx(ctx)
	if threadKey == "" {
		return ErrorResult("no conversation context for cached results")
	}

	rec, ok := t.store.LastResults(threadKey)
	if !ok {
		return SilentResult(marshalJSON(cachedEnvelope{
			ResultsFound: false,
			Message:      NoResultsMessage,
		}))
	}

	if rs := RunStateFromCtx(ctx); rs != nil {
		rs.Cached = &CachedRows{SQL: rec.SQL, Result: rec.Results, At: rec.CreatedAt}
	}
	slog.Debug("cached results loaded", "thread", threadKey, "rows", rec.Results.RowCount)

	env := cachedEnvelope{
		ResultsFound: true,
		Data:         rec.Results.Rows,
		RowCount:     rec.Results.RowCount,
		SQLQuery:     rec.SQL,
		Timestamp:    rec.CreatedAt.Format(time.RFC3339),
		Message:      fmt.Sprintf("Retrieved %d rows from the last query.", rec.Results.RowCount),
	}
	if len(env.Data) > envelopeRowLimit {
		env.Data = env.Data[:envelopeRowLimit]
		env.Note = fmt.Sprintf("showing first %d of %d rows; generate_csv exports the full set", envelopeRowLimit, rec.Results.RowCount)
	}
	return SilentResult(marshalJSON(env))
}
