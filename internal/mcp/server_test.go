package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/export"
)

const mcpTestSchema = `
CREATE TABLE app_portfolio (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	app_name TEXT NOT NULL,
	platform TEXT NOT NULL,
	date DATE NOT NULL,
	country TEXT NOT NULL,
	installs INTEGER DEFAULT 0,
	in_app_revenue DECIMAL(10,2) DEFAULT 0.0,
	ads_revenue DECIMAL(10,2) DEFAULT 0.0,
	ua_cost DECIMAL(10,2) DEFAULT 0.0
)`

func testServer(t *testing.T) *Server {
	t.Helper()

	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "mcp_test.db")
	cfg.Exports.Dir = t.TempDir()

	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Conn().Exec(mcpTestSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	seed := `INSERT INTO app_portfolio (app_name, platform, date, country, installs, in_app_revenue, ads_revenue, ua_cost)
	         VALUES ('Paint for iOS', 'iOS', '2025-06-01', 'US', 1200, 300.50, 120.25, 80.00),
	                ('Notes for Android', 'Android', '2025-06-02', 'DE', 900, 210.00, 95.75, 60.00)`
	if _, err := db.Conn().Exec(seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	exporter, err := export.New(cfg)
	if err != nil {
		t.Fatalf("export.New: %v", err)
	}

	return NewServer(db, exporter, "test")
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("content is %T, want text", result.Content[0])
		return ""
	}
}

func TestQueryDatabaseTool(t *testing.T) {
	s := testServer(t)

	result, err := s.handleQuery(context.Background(),
		callRequest("query_database", map[string]any{"query": "SELECT COUNT(*) AS apps FROM app_portfolio"}))
	if err != nil {
		t.Fatalf("handleQuery: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, result))
	}
	if got := textOf(t, result); got != "2" {
		t.Errorf("count = %q, want 2", got)
	}
}

func TestQueryDatabaseRejectsWrites(t *testing.T) {
	s := testServer(t)

	result, err := s.handleQuery(context.Background(),
		callRequest("query_database", map[string]any{"query": "DELETE FROM app_portfolio"}))
	if err != nil {
		t.Fatalf("handleQuery: %v", err)
	}
	if !result.IsError {
		t.Fatal("write statement was not rejected")
	}
}

func TestQueryDatabaseRequiresQuery(t *testing.T) {
	s := testServer(t)

	result, err := s.handleQuery(context.Background(),
		callRequest("query_database", map[string]any{}))
	if err != nil {
		t.Fatalf("handleQuery: %v", err)
	}
	if !result.IsError {
		t.Fatal("missing query argument was not rejected")
	}
}

func TestGetSchemaTool(t *testing.T) {
	s := testServer(t)

	result, err := s.handleSchema(context.Background(), callRequest("get_schema", nil))
	if err != nil {
		t.Fatalf("handleSchema: %v", err)
	}
	text := textOf(t, result)
	for _, want := range []string{"app_portfolio", "installs", "in_app_revenue"} {
		if !strings.Contains(text, want) {
			t.Errorf("schema missing %q", want)
		}
	}
}

func TestExportCSVTool(t *testing.T) {
	s := testServer(t)

	result, err := s.handleExport(context.Background(),
		callRequest("export_csv", map[string]any{"query": "SELECT app_name, installs FROM app_portfolio ORDER BY installs DESC"}))
	if err != nil {
		t.Fatalf("handleExport: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, result))
	}

	text := textOf(t, result)
	if !strings.HasPrefix(text, "Exported 2 rows to ") {
		t.Fatalf("unexpected export message: %q", text)
	}
	path := strings.TrimPrefix(text, "Exported 2 rows to ")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read exported file: %v", err)
	}
	if !strings.HasPrefix(string(data), "app_name,installs\n") {
		t.Errorf("csv header = %q", strings.SplitN(string(data), "\n", 2)[0])
	}
}

func TestExportCSVEmptyResult(t *testing.T) {
	s := testServer(t)

	result, err := s.handleExport(context.Background(),
		callRequest("export_csv", map[string]any{"query": "SELECT app_name FROM app_portfolio WHERE country = 'FR'"}))
	if err != nil {
		t.Fatalf("handleExport: %v", err)
	}
	if !result.IsError {
		t.Fatal("empty result export was not rejected")
	}
}
