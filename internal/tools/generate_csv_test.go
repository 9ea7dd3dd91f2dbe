package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/export"
)

func testExporter(t *testing.T) *export.Exporter {
	t.Helper()
	cfg := config.Default()
	cfg.Exports.Dir = t.TempDir()
	e, err := export.New(cfg)
	if err != nil {
		t.Fatalf("export.New: %v", err)
	}
	return e
}

func cachedState(rows []map[string]interface{}) *RunState {
	rs := NewRunState("export this as csv")
	var cols []string
	if len(rows) > 0 {
		cols = []string{"app_name", "installs"}
	}
	rs.Cached = &CachedRows{
		SQL: "SELECT app_name, installs FROM app_portfolio",
		Result: &database.QueryResult{
			Columns:  cols,
			Rows:     rows,
			RowCount: len(rows),
		},
	}
	return rs
}

func TestGenerateCSVWithoutCache(t *testing.T) {
	tool := NewGenerateCSVTool(testExporter(t))
	res := tool.Execute(context.Background(), map[string]interface{}{})
	if !res.IsError {
		t.Error("export without cached rows should be a tool error")
	}
}

func TestGenerateCSVRefusesEmptyData(t *testing.T) {
	tool := NewGenerateCSVTool(testExporter(t))
	ctx := WithRunState(context.Background(), cachedState(nil))

	res := tool.Execute(ctx, map[string]interface{}{})
	if !res.IsError {
		t.Fatal("empty data must refuse with an error")
	}
	if !strings.Contains(res.ForLLM, "empty data") {
		t.Errorf("error = %q", res.ForLLM)
	}
}

func TestGenerateCSVWritesFile(t *testing.T) {
	tool := NewGenerateCSVTool(testExporter(t))
	rs := cachedState([]map[string]interface{}{
		{"app_name": "Paint for iOS", "installs": int64(1200)},
	})
	ctx := WithRunState(context.Background(), rs)

	res := tool.Execute(ctx, map[string]interface{}{})
	if res.IsError {
		t.Fatalf("Execute errored: %s", res.ForLLM)
	}
	if res.FilePath == "" || res.FilePath != res.ForLLM {
		t.Errorf("result path = %q, file attachment = %q", res.ForLLM, res.FilePath)
	}
	if rs.CSVPath != res.FilePath {
		t.Errorf("run state CSVPath = %q", rs.CSVPath)
	}

	base := filepath.Base(res.FilePath)
	if !strings.HasPrefix(base, "app_portfolio_export_") || !strings.HasSuffix(base, ".csv") {
		t.Errorf("filename = %q", base)
	}
	data, err := os.ReadFile(res.FilePath)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !strings.Contains(string(data), "Paint for iOS") {
		t.Errorf("export content:\n%s", data)
	}
}

func TestGenerateCSVCustomFilename(t *testing.T) {
	tool := NewGenerateCSVTool(testExporter(t))
	rs := cachedState([]map[string]interface{}{
		{"app_name": "Notes for iOS", "installs": int64(2500)},
	})
	ctx := WithRunState(context.Background(), rs)

	res := tool.Execute(ctx, map[string]interface{}{"filename": "ios_apps"})
	if res.IsError {
		t.Fatalf("Execute errored: %s", res.ForLLM)
	}
	if filepath.Base(res.FilePath) != "ios_apps.csv" {
		t.Errorf("filename = %q, want ios_apps.csv", filepath.Base(res.FilePath))
	}
	if _, err := os.Stat(res.FilePath); err != nil {
		t.Errorf("export missing: %v", err)
	}
}
