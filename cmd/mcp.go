package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/export"
	"github.com/hatchdata/askdb/internal/logging"
	mcpserver "github.com/hatchdata/askdb/internal/mcp"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the analytics database over MCP stdio",
		Long: `Expose query_database, get_schema, and export_csv as Model Context
Protocol tools on stdin/stdout, for editor and desktop MCP clients.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol, so logs go to stderr.
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(logging.NewTruncatingHandler(handler, logging.MaxValueLen)))

			config.LoadDotenv()
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			db, err := database.Open(cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			exporter, err := export.New(cfg)
			if err != nil {
				return fmt.Errorf("prepare export directory: %w", err)
			}

			slog.Info("mcp server starting", "database", db.Driver(), "table", db.Table())
			return mcpserver.NewServer(db, exporter, Version).ServeStdio()
		},
	}
}
