package tools

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hatchdata/askdb/internal/database"
)

// EmptyResultsMessage is shown when a query returned no rows.
const EmptyResultsMessage = "No results found."

// FormatResultTool renders the run's last query result for chat
// display: a bare value for single cells, "column: value" pairs for a
// single narrow row, a markdown table otherwise. Multi-row answers to
// aggregated, ordered or ranked questions carry an assumptions note.
type FormatResultTool struct{}

func NewFormatResultTool() *FormatResultTool {
	return &FormatResultTool{}
}

func (t *FormatResultTool) Name() string { return "format_result" }

func (t *FormatResultTool) Description() string {
	return "Format the results of the query executed in this turn for display in chat. " +
		"Pass the user's original question so the formatting can note any assumptions."
}

func (t *FormatResultTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"question": map[string]interface{}{
				"type":        "string",
				"description": "The user's original question, for context.",
			},
		},
		"required": []string{"question"},
	}
}

func (t *FormatResultTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	rs := RunStateFromCtx(ctx)
	if rs == nil || (rs.Exec == nil && rs.ExecError == "") {
		return ErrorResult("no query has been executed in this turn; call execute_sql first")
	}

	if rs.Exec == nil {
		rs.Formatted = "Error: " + rs.ExecError
		return UserResult(rs.Formatted)
	}

	question, _ := args["question"].(string)
	if question == "" {
		question = rs.Question
	}

	rs.Formatted = FormatResult(rs.Exec.Result, question, rs.Exec.SQL)
	return UserResult(rs.Formatted)
}

// FormatResult renders a query result per the display rules: bare
// scalar for one cell, "column: value" pairs for one narrow row, a
// markdown table otherwise. The id column is dropped. An assumptions
// note derived from the question and SQL is appended to multi-row
// output.
func FormatResult(res *database.QueryResult, question, sql string) string {
	if res == nil {
		return EmptyResultsMessage
	}

	cols := make([]string, 0, len(res.Columns))
	for _, c := range res.Columns {
		if c == "id" {
			continue
		}
		cols = append(cols, c)
	}
	if len(res.Rows) == 0 || len(cols) == 0 {
		return EmptyResultsMessage
	}

	var formatted string
	switch {
	case len(res.Rows) == 1 && len(cols) == 1:
		formatted = formatCell(res.Rows[0][cols[0]])
	case len(res.Rows) == 1 && len(cols) <= 3:
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = fmt.Sprintf("%s: %s", c, formatCell(res.Rows[0][c]))
		}
		formatted = strings.Join(parts, ", ")
	default:
		formatted = formatTable(cols, res.Rows)
	}

	if len(res.Rows) > 1 {
		if fragments := detectAssumptions(question, sql); len(fragments) > 0 {
			formatted += "\n\n*Note:* " + strings.Join(fragments, "; ")
		}
	}
	return formatted
}

func formatTable(cols []string, rows []map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(strings.Join(cols, " | ") + "\n")

	sep := make([]string, len(cols))
	for i := range sep {
		sep[i] = "---"
	}
	sb.WriteString(strings.Join(sep, " | ") + "\n")

	cells := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			cells[i] = formatCell(row[c])
		}
		sb.WriteString(strings.Join(cells, " | ") + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// formatCell renders one value for chat display. Whole-number floats
// print without decimals, fractional ones with two places.
func formatCell(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', 2, 64)
	case float32:
		return formatCell(float64(val))
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

var (
	yearPattern  = regexp.MustCompile(`\b20\d\d\b`)
	limitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+(\d+)`)
	rankWords    = regexp.MustCompile(`(?i)\b(top|best|most|popular|popularity)\b`)
)

// detectAssumptions derives note fragments from indicators in the
// question and SQL: aggregation, ordering, ranking and time windows.
func detectAssumptions(question, sql string) []string {
	var fragments []string
	upper := strings.ToUpper(sql)
	lower := strings.ToLower(sql)

	if strings.Contains(lower, "date") || strings.Contains(lower, "time") {
		if yearPattern.MatchString(sql) {
			fragments = append(fragments, "Timeframe based on dates in query")
		} else {
			fragments = append(fragments, "Timeframe: All available data")
		}
	}

	switch {
	case strings.Contains(upper, "SUM"):
		fragments = append(fragments, "Total values calculated across all matching records")
	case strings.Contains(upper, "AVG"):
		fragments = append(fragments, "Average calculated across all matching records")
	case strings.Contains(upper, "COUNT"):
		fragments = append(fragments, "Count includes all matching records")
	}

	if strings.Contains(upper, "ORDER BY") {
		switch {
		case strings.Contains(upper, "DESC"):
			fragments = append(fragments, "Results sorted in descending order")
		case strings.Contains(upper, "ASC"):
			fragments = append(fragments, "Results sorted in ascending order")
		}
	}

	if rankWords.MatchString(question) {
		switch {
		case strings.Contains(lower, "installs"):
			fragments = append(fragments, "Popularity defined by number of installs")
		case strings.Contains(lower, "revenue"):
			fragments = append(fragments, "Popularity defined by revenue")
		}
	}

	if m := limitPattern.FindStringSubmatch(sql); m != nil {
		fragments = append(fragments, fmt.Sprintf("Showing top %s results", m[1]))
	}

	return fragments
}
