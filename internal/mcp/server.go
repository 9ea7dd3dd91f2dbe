// Package mcp exposes the read-only analytics capabilities over the
// Model Context Protocol, so editor and desktop MCP clients can query
// the same database the chat assistant answers from.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/export"
	"github.com/hatchdata/askdb/internal/tools"
)

// Server serves the analytics database over MCP stdio.
type Server struct {
	srv      *server.MCPServer
	db       *database.DB
	exporter *export.Exporter
}

// NewServer registers the three analytics tools (query_database,
// get_schema, export_csv) on a fresh MCP server.
func NewServer(db *database.DB, exporter *export.Exporter, version string) *Server {
	s := &Server{
		srv:      server.NewMCPServer("askdb", version, server.WithToolCapabilities(false)),
		db:       db,
		exporter: exporter,
	}

	queryTool := mcp.NewTool("query_database",
		mcp.WithDescription("Run a read-only SQL SELECT query against the app portfolio analytics database and return the formatted results."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("A single SQL SELECT statement. Write operations are rejected."),
		),
	)
	s.srv.AddTool(queryTool, s.handleQuery)

	schemaTool := mcp.NewTool("get_schema",
		mcp.WithDescription("Return the schema of the analytics database: table, columns, and usage notes."),
	)
	s.srv.AddTool(schemaTool, s.handleSchema)

	exportTool := mcp.NewTool("export_csv",
		mcp.WithDescription("Run a read-only SQL SELECT query and write the results to a CSV file. Returns the file path."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("A single SQL SELECT statement to export."),
		),
	)
	s.srv.AddTool(exportTool, s.handleExport)

	return s
}

// ServeStdio blocks serving requests on stdin/stdout until the client
// disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.srv)
}

func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.db.Query(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	text := tools.FormatResult(res, "", query)
	if res.Truncated {
		text += fmt.Sprintf("\n\n(truncated at %d rows)", res.RowCount)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(tools.DatabaseSchema), nil
}

func (s *Server) handleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.db.Query(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if res.RowCount == 0 {
		return mcp.NewToolResultError("query returned no rows, nothing to export"), nil
	}

	path, err := s.exporter.WriteCSV(res)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("write csv: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Exported %d rows to %s", res.RowCount, path)), nil
}
