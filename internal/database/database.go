package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	_ "modernc.org/sqlite"

	"github.com/hatchdata/askdb/internal/config"
)

var tracer = otel.Tracer("askdb/database")

// DB wraps the read-only analytics database. Every query funnels
// through Validate before it reaches the driver.
type DB struct {
	conn    *sql.DB
	driver  string
	table   string
	maxRows int
	timeout time.Duration
}

// Open connects to the configured analytics database. sqlite is the
// default; driver "postgres" plus ASKDB_POSTGRES_DSN selects a shared
// deployment.
func Open(cfg *config.Config) (*DB, error) {
	var (
		conn   *sql.DB
		err    error
		driver = cfg.Database.Driver
	)

	switch driver {
	case "", "sqlite":
		driver = "sqlite"
		path := cfg.SQLitePath()
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		conn, err = sql.Open("sqlite", path)
	case "postgres":
		if cfg.Database.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres driver selected but ASKDB_POSTGRES_DSN is not set")
		}
		conn, err = sql.Open("pgx", cfg.Database.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	timeout := time.Duration(cfg.Database.QueryTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRows := cfg.Database.MaxRows
	if maxRows <= 0 {
		maxRows = 1000
	}
	table := cfg.Database.Table
	if table == "" {
		table = "app_portfolio"
	}

	return &DB{
		conn:    conn,
		driver:  driver,
		table:   table,
		maxRows: maxRows,
		timeout: timeout,
	}, nil
}

func (db *DB) Close() error { return db.conn.Close() }

// Driver returns "sqlite" or "postgres".
func (db *DB) Driver() string { return db.driver }

// Table returns the analytics table name.
func (db *DB) Table() string { return db.table }

// Conn exposes the underlying pool for seeding and health checks.
func (db *DB) Conn() *sql.DB { return db.conn }

// Validate checks q against this database's read-only policy.
func (db *DB) Validate(q string) error {
	return Validate(q, db.table)
}

// QueryResult holds the rows and shape of a completed read query.
type QueryResult struct {
	Columns   []string
	Rows      []map[string]interface{}
	RowCount  int
	Duration  time.Duration
	Truncated bool // row cap cut the result short
}

// Query validates q and executes it. Only statements accepted by
// Validate ever reach the driver; results are capped at max_rows.
func (db *DB) Query(ctx context.Context, q string) (*QueryResult, error) {
	if err := db.Validate(q); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "db.query",
		trace.WithAttributes(attribute.String("db.system", db.driver)))
	defer span.End()

	start := time.Now()
	rows, err := db.conn.QueryContext(ctx, q)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}

	result := &QueryResult{Columns: cols}
	for rows.Next() {
		if len(result.Rows) >= db.maxRows {
			result.Truncated = true
			break
		}
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			row[c] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	result.RowCount = len(result.Rows)
	result.Duration = time.Since(start)
	span.SetAttributes(attribute.Int("db.rows", result.RowCount))

	slog.Debug("query executed",
		"rows", result.RowCount,
		"duration_ms", result.Duration.Milliseconds(),
		"truncated", result.Truncated)
	return result, nil
}

// normalizeValue converts driver-specific scan types to plain Go values.
// []byte becomes string so rows marshal cleanly to JSON and CSV.
func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
