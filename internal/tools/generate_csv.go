package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hatchdata/askdb/internal/export"
)

// GenerateCSVTool writes the rows loaded by get_cached_results to a
// CSV file and returns its path. It never executes SQL itself.
type GenerateCSVTool struct {
	exporter *export.Exporter
}

func NewGenerateCSVTool(exporter *export.Exporter) *GenerateCSVTool {
	return &GenerateCSVTool{exporter: exporter}
}

func (t *GenerateCSVTool) Name() string { return "generate_csv" }

func (t *GenerateCSVTool) Description() string {
	return "Write the cached query results to a CSV file and return its path. " +
		"Call get_cached_results first to load the rows."
}

func (t *GenerateCSVTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"filename": map[string]interface{}{
				"type":        "string",
				"description": "Optional filename for the export; defaults to a timestamped name.",
			},
		},
	}
}

func (t *GenerateCSVTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rs := RunStateFromCtx(ctx)
	if rs == nil || rs.Cached == nil {
		return ErrorResult("no cached results to export; call get_cached_results first")
	}
	if rs.Cached.Result == nil || len(rs.Cached.Result.Rows) == 0 {
		return ErrorResult("Cannot generate CSV from empty data")
	}

	filename, _ := args["filename"].(string)

	var (
		path string
		err  error
	)
	if filename != "" {
		path, err = t.exporter.WriteCSVAs(rs.Cached.Result, filename)
	} else {
		path, err = t.exporter.WriteCSV(rs.Cached.Result)
	}
	if err != nil {
		slog.Error("csv generation failed", "error", err)
		return ErrorResult(fmt.Sprintf("Failed to generate CSV: %v", err))
	}

	rs.CSVPath = path
	return NewResult(path).WithFile(path)
}
