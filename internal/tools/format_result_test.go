package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/hatchdata/askdb/internal/database"
)

func result(columns []string, rows []map[string]interface{}) *database.QueryResult {
	return &database.QueryResult{Columns: columns, Rows: rows, RowCount: len(rows)}
}

func TestFormatResultEmpty(t *testing.T) {
	got := FormatResult(result([]string{"n"}, nil), "how many apps?", "SELECT COUNT(*) FROM app_portfolio")
	if got != EmptyResultsMessage {
		t.Errorf("empty rows = %q, want %q", got, EmptyResultsMessage)
	}
	if got := FormatResult(nil, "", ""); got != EmptyResultsMessage {
		t.Errorf("nil result = %q", got)
	}
}

func TestFormatResultScalar(t *testing.T) {
	got := FormatResult(
		result([]string{"n"}, []map[string]interface{}{{"n": int64(49)}}),
		"how many apps do we have?",
		"SELECT COUNT(DISTINCT app_name) AS n FROM app_portfolio",
	)
	if got != "49" {
		t.Errorf("scalar = %q, want bare 49 with no note", got)
	}

	got = FormatResult(
		result([]string{"n"}, []map[string]interface{}{{"n": float64(21)}}),
		"what about iOS apps?",
		"SELECT COUNT(DISTINCT app_name) AS n FROM app_portfolio WHERE platform = 'iOS'",
	)
	if got != "21" {
		t.Errorf("float scalar = %q, want 21", got)
	}
}

func TestFormatResultSingleNarrowRow(t *testing.T) {
	got := FormatResult(
		result([]string{"platform", "installs"}, []map[string]interface{}{
			{"platform": "iOS", "installs": int64(1200)},
		}),
		"iOS installs?",
		"SELECT platform, installs FROM app_portfolio WHERE platform = 'iOS'",
	)
	if got != "platform: iOS, installs: 1200" {
		t.Errorf("narrow row = %q", got)
	}
}

func TestFormatResultTable(t *testing.T) {
	got := FormatResult(
		result([]string{"app_name", "installs"}, []map[string]interface{}{
			{"app_name": "Paint for iOS", "installs": int64(1200)},
			{"app_name": "Notes for iOS", "installs": int64(2500)},
		}),
		"list the apps",
		"SELECT app_name, installs FROM app_portfolio",
	)
	lines := strings.Split(got, "\n")
	if len(lines) != 4 {
		t.Fatalf("table lines = %d, want header + separator + 2 rows:\n%s", len(lines), got)
	}
	if lines[0] != "app_name | installs" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "--- | ---" {
		t.Errorf("separator = %q", lines[1])
	}
	if lines[2] != "Paint for iOS | 1200" {
		t.Errorf("row = %q", lines[2])
	}
	if strings.Contains(got, "*Note:*") {
		t.Errorf("plain list query grew a note: %q", got)
	}
}

func TestFormatResultDropsID(t *testing.T) {
	got := FormatResult(
		result([]string{"id", "app_name"}, []map[string]interface{}{
			{"id": int64(1), "app_name": "Paint for iOS"},
		}),
		"first app?",
		"SELECT id, app_name FROM app_portfolio LIMIT 1",
	)
	if got != "Paint for iOS" {
		t.Errorf("id column should be dropped, got %q", got)
	}
}

func TestFormatResultNumericFormatting(t *testing.T) {
	got := FormatResult(
		result([]string{"country", "revenue"}, []map[string]interface{}{
			{"country": "US", "revenue": 1234.5},
			{"country": "DE", "revenue": float64(900)},
		}),
		"revenue by country",
		"SELECT country, in_app_revenue AS revenue FROM app_portfolio",
	)
	if !strings.Contains(got, "US | 1234.50") {
		t.Errorf("fractional float should print two decimals:\n%s", got)
	}
	if !strings.Contains(got, "DE | 900") || strings.Contains(got, "900.00") {
		t.Errorf("whole-number float should drop decimals:\n%s", got)
	}
}

func TestFormatResultAssumptionsNote(t *testing.T) {
	got := FormatResult(
		result([]string{"app_name", "total"}, []map[string]interface{}{
			{"app_name": "Notes for iOS", "total": 1050.5},
			{"app_name": "Paint for iOS", "total": 420.75},
		}),
		"top apps by total revenue",
		"SELECT app_name, SUM(in_app_revenue + ads_revenue) AS total FROM app_portfolio GROUP BY app_name ORDER BY total DESC LIMIT 5",
	)
	if !strings.Contains(got, "*Note:* ") {
		t.Fatalf("expected assumptions note:\n%s", got)
	}
	note := got[strings.Index(got, "*Note:* "):]
	for _, fragment := range []string{
		"Total values calculated across all matching records",
		"Results sorted in descending order",
		"Popularity defined by revenue",
		"Showing top 5 results",
	} {
		if !strings.Contains(note, fragment) {
			t.Errorf("note missing %q:\n%s", fragment, note)
		}
	}
	if !strings.Contains(note, "; ") {
		t.Errorf("fragments should join with semicolons: %q", note)
	}
}

func TestDetectAssumptions(t *testing.T) {
	tests := []struct {
		name     string
		question string
		sql      string
		want     []string
		absent   []string
	}{
		{
			name:     "count aggregation",
			question: "how many apps?",
			sql:      "SELECT COUNT(*) FROM app_portfolio",
			want:     []string{"Count includes all matching records"},
		},
		{
			name:     "sum beats count",
			question: "total revenue?",
			sql:      "SELECT SUM(in_app_revenue), COUNT(*) FROM app_portfolio",
			want:     []string{"Total values calculated across all matching records"},
			absent:   []string{"Count includes"},
		},
		{
			name:     "date window without year",
			question: "installs over time",
			sql:      "SELECT date, installs FROM app_portfolio",
			want:     []string{"Timeframe: All available data"},
		},
		{
			name:     "date window with year",
			question: "2025 installs",
			sql:      "SELECT date, installs FROM app_portfolio WHERE date >= '2025-01-01'",
			want:     []string{"Timeframe based on dates in query"},
		},
		{
			name:     "popularity by installs",
			question: "most popular apps",
			sql:      "SELECT app_name FROM app_portfolio ORDER BY installs DESC",
			want:     []string{"Popularity defined by number of installs", "Results sorted in descending order"},
		},
		{
			name:     "no indicators",
			question: "list the countries",
			sql:      "SELECT country FROM app_portfolio",
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(detectAssumptions(tt.question, tt.sql), "; ")
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("missing fragment %q in %q", w, got)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(got, a) {
					t.Errorf("unexpected fragment %q in %q", a, got)
				}
			}
			if tt.want == nil && got != "" {
				t.Errorf("expected no fragments, got %q", got)
			}
		})
	}
}

func TestFormatResultToolReadsRunState(t *testing.T) {
	tool := NewFormatResultTool()

	rs := NewRunState("how many apps do we have?")
	rs.Exec = &Execution{
		SQL:    "SELECT COUNT(DISTINCT app_name) AS n FROM app_portfolio",
		Result: result([]string{"n"}, []map[string]interface{}{{"n": int64(49)}}),
	}
	ctx := WithRunState(context.Background(), rs)

	res := tool.Execute(ctx, map[string]interface{}{"question": "how many apps do we have?"})
	if res.IsError {
		t.Fatalf("Execute errored: %s", res.ForLLM)
	}
	if res.ForLLM != "49" {
		t.Errorf("formatted = %q, want 49", res.ForLLM)
	}
}

func TestFormatResultToolSurfacesQueryError(t *testing.T) {
	tool := NewFormatResultTool()

	rs := NewRunState("drop the table")
	rs.ExecError = "query contains forbidden keyword: DROP"
	ctx := WithRunState(context.Background(), rs)

	res := tool.Execute(ctx, map[string]interface{}{"question": "drop the table"})
	if res.IsError {
		t.Fatalf("query errors format as text, not tool errors: %s", res.ForLLM)
	}
	if !strings.HasPrefix(res.ForLLM, "Error: ") {
		t.Errorf("formatted error = %q", res.ForLLM)
	}
}

func TestFormatResultToolWithoutExecution(t *testing.T) {
	tool := NewFormatResultTool()
	res := tool.Execute(context.Background(), map[string]interface{}{"question": "anything"})
	if !res.IsError {
		t.Error("formatting before any execution should be a tool error")
	}
}
