// Package export writes query results to timestamped CSV files and
// cleans them up after a configurable TTL.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
)

const filePrefix = "app_portfolio_export_"

// Exporter owns the exports directory.
type Exporter struct {
	dir        string
	ttl        time.Duration
	sweepEvery time.Duration
	now        func() time.Time
}

// New creates the exports directory if needed and returns an Exporter.
func New(cfg *config.Config) (*Exporter, error) {
	dir := cfg.ExportDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create exports dir: %w", err)
	}

	ttl := time.Duration(cfg.Exports.TTLHours) * time.Hour
	sweepEvery := time.Duration(cfg.Exports.SweepEveryMin) * time.Minute

	return &Exporter{
		dir:        dir,
		ttl:        ttl,
		sweepEvery: sweepEvery,
		now:        time.Now,
	}, nil
}

// Dir returns the exports directory.
func (e *Exporter) Dir() string { return e.dir }

// WriteCSV writes a query result as an RFC 4180 file (CRLF line
// endings, header row first) and returns the file path. Filenames are
// timestamped; a collision within the same second gets a numeric
// suffix.
func (e *Exporter) WriteCSV(res *database.QueryResult) (string, error) {
	if res == nil || len(res.Columns) == 0 {
		return "", fmt.Errorf("nothing to export")
	}

	path, f, err := e.createFile()
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := writeRows(f, res); err != nil {
		return "", err
	}
	slog.Info("csv export written", "path", path, "rows", res.RowCount)
	return path, nil
}

// WriteCSVAs writes a query result under a caller-chosen filename in
// the exports directory. The name is stripped to its base, gets a .csv
// suffix when missing, and overwrites any previous file of that name.
func (e *Exporter) WriteCSVAs(res *database.QueryResult, filename string) (string, error) {
	if res == nil || len(res.Columns) == 0 {
		return "", fmt.Errorf("nothing to export")
	}
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return e.WriteCSV(res)
	}
	if !strings.HasSuffix(name, ".csv") {
		name += ".csv"
	}

	path := filepath.Join(e.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}
	defer f.Close()

	if err := writeRows(f, res); err != nil {
		return "", err
	}
	slog.Info("csv export written", "path", path, "rows", res.RowCount)
	return path, nil
}

func writeRows(f *os.File, res *database.QueryResult) error {
	w := csv.NewWriter(f)
	w.UseCRLF = true

	if err := w.Write(res.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, col := range res.Columns {
			record[i] = formatValue(row[col])
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// createFile opens a new export file, retrying with a numeric suffix
// when the timestamped name already exists.
func (e *Exporter) createFile() (string, *os.File, error) {
	stamp := e.now().Format("20060102_150405")
	for i := 1; i <= 100; i++ {
		name := filePrefix + stamp + ".csv"
		if i > 1 {
			name = fmt.Sprintf("%s%s_%d.csv", filePrefix, stamp, i)
		}
		path := filepath.Join(e.dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return path, f, nil
		}
		if !os.IsExist(err) {
			return "", nil, fmt.Errorf("create export: %w", err)
		}
	}
	return "", nil, fmt.Errorf("could not find a free export filename")
}

// SweepExpired removes export files older than the TTL. Only files
// this package wrote are touched. Returns the number removed.
func (e *Exporter) SweepExpired() (int, error) {
	if e.ttl <= 0 {
		return 0, nil
	}
	cutoff := e.now().Add(-e.ttl)

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return 0, fmt.Errorf("read exports dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".csv") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(e.dir, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// StartSweeper runs SweepExpired on a ticker until ctx is cancelled.
// Zero TTL or sweep interval disables it.
func (e *Exporter) StartSweeper(ctx context.Context) {
	if e.ttl <= 0 || e.sweepEvery <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(e.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := e.SweepExpired()
				if err != nil {
					slog.Warn("export sweep failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("removed expired exports", "count", n)
				}
			}
		}
	}()
}

// formatValue renders a scanned cell for CSV output. Floats use the
// shortest exact representation.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.Format("2006-01-02 15:04:05")
	default:
		return fmt.Sprintf("%v", val)
	}
}
