package database

import (
	"fmt"
	"regexp"
	"strings"
)

// Write and administrative keywords rejected anywhere in a query.
// Matched on word boundaries so column names like created_at pass.
var forbiddenKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|DROP|TRUNCATE|ALTER|CREATE|REPLACE|GRANT|REVOKE|ATTACH|DETACH|PRAGMA|VACUUM|EXEC|EXECUTE)\b`)

// Validate checks that q is a single read-only statement over table.
// The returned error text is shown to end users as-is.
func Validate(q, table string) error {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return fmt.Errorf("query is empty")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT queries are allowed")
	}

	if m := forbiddenKeywords.FindString(trimmed); m != "" {
		return fmt.Errorf("query contains forbidden keyword: %s", strings.ToUpper(m))
	}

	// A trailing semicolon is tolerated, as are comments after it;
	// any other content is a second statement.
	if idx := strings.Index(trimmed, ";"); idx >= 0 && !onlyCommentsAndSpace(trimmed[idx+1:]) {
		return fmt.Errorf("multiple SQL statements are not allowed")
	}

	if strings.Count(trimmed, "(") != strings.Count(trimmed, ")") {
		return fmt.Errorf("unbalanced parentheses in query")
	}

	if table != "" && !strings.Contains(strings.ToLower(trimmed), strings.ToLower(table)) {
		return fmt.Errorf("query must reference the %s table", table)
	}

	return nil
}

// onlyCommentsAndSpace reports whether s holds nothing but whitespace,
// line comments and block comments.
func onlyCommentsAndSpace(s string) bool {
	for i := 0; i < len(s); {
		switch {
		case s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r':
			i++
		case strings.HasPrefix(s[i:], "--"):
			nl := strings.IndexByte(s[i:], '\n')
			if nl < 0 {
				return true
			}
			i += nl + 1
		case strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return true
			}
			i += 2 + end + 2
		default:
			return false
		}
	}
	return true
}
