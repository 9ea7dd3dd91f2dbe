package agent

import (
	"context"
	"fmt"

	"github.com/hatchdata/askdb/internal/export"
	"github.com/hatchdata/askdb/internal/memory"
	"github.com/hatchdata/askdb/internal/tools"
)

// CSVExport writes a thread's cached query rows to a CSV file. The
// flow is fixed (retrieve cache, then export), so no model call is
// involved and the agent can never generate or execute SQL.
type CSVExport struct {
	registry *tools.Registry
}

func NewCSVExport(mem *memory.Store, exporter *export.Exporter) (*CSVExport, error) {
	registry := tools.NewRegistry()
	for _, t := range []tools.Tool{
		tools.NewGetCachedResultsTool(mem),
		tools.NewGenerateCSVTool(exporter),
	} {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return &CSVExport{registry: registry}, nil
}

func (a *CSVExport) Name() string { return "csv_export" }

func (a *CSVExport) Run(ctx context.Context, req Request) (*Result, error) {
	rs := tools.NewRunState(req.Message)
	ctx = tools.WithRunState(ctx, rs)

	res := &Result{}

	cached := a.registry.ExecuteWithContext(ctx, "get_cached_results", "{}", req.Channel, req.ChatID, req.ThreadKey)
	res.ToolCalls = append(res.ToolCalls, "get_cached_results")
	if cached.IsError {
		return nil, fmt.Errorf("get_cached_results: %s", cached.ForLLM)
	}

	if rs.Cached == nil {
		res.Text = tools.NoResultsMessage
		return res, nil
	}

	written := a.registry.ExecuteWithContext(ctx, "generate_csv", "{}", req.Channel, req.ChatID, req.ThreadKey)
	res.ToolCalls = append(res.ToolCalls, "generate_csv")
	if written.IsError {
		res.Text = "I encountered an error processing your CSV export request: " + written.ForLLM
		return res, nil
	}

	res.Text = "CSV report generated."
	res.FilePath = written.FilePath
	return res, nil
}
