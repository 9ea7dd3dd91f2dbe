package tools

import (
	"context"
	"time"

	"github.com/hatchdata/askdb/internal/database"
)

// Execution is the outcome of the run's most recent execute_sql call.
type Execution struct {
	SQL    string
	Result *database.QueryResult
}

// CachedRows is a prior query's rows loaded back by get_cached_results.
type CachedRows struct {
	SQL    string
	Result *database.QueryResult
	At     time.Time
}

// RunState carries data between tools within a single agent run, so
// rows never round-trip through the model as JSON. A run executes its
// tools sequentially, so access is unsynchronized.
type RunState struct {
	Question     string     // the user message that started the run
	History      []string   // rendered recent turns for generation context
	GeneratedSQL string     // last output of generate_sql
	Exec         *Execution // set by execute_sql on success
	ExecError    string     // set by execute_sql on failure
	Formatted    string     // last output of format_result
	Cached       *CachedRows
	CSVPath      string // set by generate_csv
}

func NewRunState(question string) *RunState {
	return &RunState{Question: question}
}

type runStateKey struct{}

// WithRunState attaches the run's shared state to the context handed
// to every tool execution in the run.
func WithRunState(ctx context.Context, rs *RunState) context.Context {
	return context.WithValue(ctx, runStateKey{}, rs)
}

// RunStateFromCtx returns the run state, or nil outside an agent run.
func RunStateFromCtx(ctx context.Context) *RunState {
	rs, _ := ctx.Value(runStateKey{}).(*RunState)
	return rs
}
