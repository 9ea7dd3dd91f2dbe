package database

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hatchdata/askdb/internal/config"
)

const testSchema = `CREATE TABLE app_portfolio (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	app_name TEXT NOT NULL,
	platform TEXT NOT NULL,
	date TEXT NOT NULL,
	country TEXT NOT NULL,
	installs INTEGER NOT NULL,
	in_app_revenue REAL NOT NULL,
	ads_revenue REAL NOT NULL,
	ua_cost REAL NOT NULL
)`

func newTestDB(t *testing.T, mutate func(*config.Config)) *DB {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")
	if mutate != nil {
		mutate(cfg)
	}
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Conn().Exec(testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "oracle"
	if _, err := Open(cfg); err == nil {
		t.Fatal("Open with unknown driver = nil error")
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "postgres"
	cfg.Database.PostgresDSN = ""
	_, err := Open(cfg)
	if err == nil || !strings.Contains(err.Error(), "ASKDB_POSTGRES_DSN") {
		t.Fatalf("Open = %v, want DSN error", err)
	}
}

func TestSeedAndQuery(t *testing.T) {
	db := newTestDB(t, nil)

	n, err := db.Seed(context.Background(), SeedOptions{Records: 50, Seed: 42})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 50 {
		t.Fatalf("Seed inserted %d rows, want 50", n)
	}

	res, err := db.Query(context.Background(), "SELECT COUNT(*) AS n FROM app_portfolio")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.RowCount != 1 {
		t.Fatalf("RowCount = %d, want 1", res.RowCount)
	}
	if got := res.Rows[0]["n"]; got != int64(50) {
		t.Errorf("count = %v (%T), want 50", got, got)
	}
}

func TestSeedDistinctApps(t *testing.T) {
	db := newTestDB(t, nil)
	if _, err := db.Seed(context.Background(), SeedOptions{Records: 50, Seed: 42}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	count := func(query string) int64 {
		t.Helper()
		res, err := db.Query(context.Background(), query)
		if err != nil {
			t.Fatalf("Query(%s): %v", query, err)
		}
		return res.Rows[0]["n"].(int64)
	}

	if got := count("SELECT COUNT(DISTINCT app_name) AS n FROM app_portfolio"); got != 49 {
		t.Errorf("distinct apps = %d, want 49", got)
	}
	if got := count("SELECT COUNT(DISTINCT app_name) AS n FROM app_portfolio WHERE platform = 'iOS'"); got != 21 {
		t.Errorf("distinct iOS apps = %d, want 21", got)
	}
	if got := count("SELECT COUNT(DISTINCT app_name) AS n FROM app_portfolio WHERE platform = 'Android'"); got != 28 {
		t.Errorf("distinct Android apps = %d, want 28", got)
	}
}

func TestQueryColumnsPreserveOrder(t *testing.T) {
	db := newTestDB(t, nil)
	if _, err := db.Seed(context.Background(), SeedOptions{Records: 5, Seed: 1}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	res, err := db.Query(context.Background(),
		"SELECT platform, app_name, installs FROM app_portfolio LIMIT 3")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []string{"platform", "app_name", "installs"}
	if len(res.Columns) != len(want) {
		t.Fatalf("Columns = %v, want %v", res.Columns, want)
	}
	for i, c := range want {
		if res.Columns[i] != c {
			t.Errorf("Columns[%d] = %q, want %q", i, res.Columns[i], c)
		}
	}
	if res.RowCount != 3 {
		t.Errorf("RowCount = %d, want 3", res.RowCount)
	}
}

func TestQueryCapsRows(t *testing.T) {
	db := newTestDB(t, func(cfg *config.Config) {
		cfg.Database.MaxRows = 10
	})
	if _, err := db.Seed(context.Background(), SeedOptions{Records: 30, Seed: 7}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	res, err := db.Query(context.Background(), "SELECT * FROM app_portfolio")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.RowCount != 10 {
		t.Errorf("RowCount = %d, want 10", res.RowCount)
	}
	if !res.Truncated {
		t.Error("Truncated = false, want true")
	}
}

func TestQueryRejectsWrites(t *testing.T) {
	db := newTestDB(t, nil)
	_, err := db.Query(context.Background(), "DELETE FROM app_portfolio")
	if err == nil {
		t.Fatal("Query(DELETE) = nil error")
	}
	if !strings.Contains(err.Error(), "only SELECT") {
		t.Errorf("Query(DELETE) = %v, want validation error", err)
	}
}

func TestSeedDeterministic(t *testing.T) {
	firstRow := func(t *testing.T) map[string]interface{} {
		db := newTestDB(t, nil)
		if _, err := db.Seed(context.Background(), SeedOptions{Records: 10, Seed: 99}); err != nil {
			t.Fatalf("Seed: %v", err)
		}
		res, err := db.Query(context.Background(),
			"SELECT app_name, country, installs FROM app_portfolio ORDER BY id LIMIT 1")
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		return res.Rows[0]
	}

	a, b := firstRow(t), firstRow(t)
	for _, col := range []string{"app_name", "country", "installs"} {
		if a[col] != b[col] {
			t.Errorf("column %s differs across seeds: %v vs %v", col, a[col], b[col])
		}
	}
}

func TestSeedValueRanges(t *testing.T) {
	db := newTestDB(t, nil)
	if _, err := db.Seed(context.Background(), SeedOptions{Records: 50, Seed: 3}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	res, err := db.Query(context.Background(),
		"SELECT MIN(installs) AS mn, MAX(installs) AS mx, MAX(in_app_revenue) AS rev, MAX(ua_cost) AS ua FROM app_portfolio")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	row := res.Rows[0]
	if mn := row["mn"].(int64); mn < 0 {
		t.Errorf("min installs = %d, want >= 0", mn)
	}
	if mx := row["mx"].(int64); mx > 100000 {
		t.Errorf("max installs = %d, want <= 100000", mx)
	}
	if rev := row["rev"].(float64); rev > 10000 {
		t.Errorf("max in_app_revenue = %f, want <= 10000", rev)
	}
	if ua := row["ua"].(float64); ua > 5000 {
		t.Errorf("max ua_cost = %f, want <= 5000", ua)
	}
}

func TestInsertStatementPlaceholders(t *testing.T) {
	pg := &DB{driver: "postgres", table: "app_portfolio"}
	if got := pg.insertStatement(); !strings.Contains(got, "$8") || !strings.Contains(got, `"app_portfolio"`) {
		t.Errorf("postgres insert = %q, want $N placeholders and quoted table", got)
	}
	lite := &DB{driver: "sqlite", table: "app_portfolio"}
	if got := lite.insertStatement(); !strings.Contains(got, "?") || strings.Contains(got, "$1") {
		t.Errorf("sqlite insert = %q, want ? placeholders", got)
	}
}

func TestNormalizeValue(t *testing.T) {
	if got := normalizeValue([]byte("hello")); got != "hello" {
		t.Errorf("normalizeValue([]byte) = %v, want string", got)
	}
	if got := normalizeValue(int64(7)); got != int64(7) {
		t.Errorf("normalizeValue(int64) = %v, want 7", got)
	}
}
