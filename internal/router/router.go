// Package router classifies inbound messages into one of four intents
// using keyword heuristics, without an LLM call. Classification is
// deterministic and case-insensitive; when several rules could apply,
// the first one in rule order wins.
package router

import (
	"regexp"
	"strings"

	"github.com/hatchdata/askdb/internal/providers"
)

// Intent is the coarse class of a user request.
type Intent string

const (
	IntentSQLQuery     Intent = "SQL_QUERY"
	IntentCSVExport    Intent = "CSV_EXPORT"
	IntentSQLRetrieval Intent = "SQL_RETRIEVAL"
	IntentOffTopic     Intent = "OFF_TOPIC"
)

// Decision is the outcome of classifying a single message.
type Decision struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// contextWindow is how many trailing history messages contribute to the
// database-keyword check when deciding whether chitchat is off-topic.
const contextWindow = 3

// followUpMaxWords caps how long a message can be and still count as a
// short follow-up that inherits the previous intent.
const followUpMaxWords = 6

// word compiles a case-insensitive, word-bounded pattern for a literal
// keyword or phrase. Boundaries keep "hi" from matching inside "this"
// and "app" from matching inside "happy".
func word(literal string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(literal) + `\b`)
}

// orderedPhrase matches two word-bounded keywords appearing in order
// with anything in between, e.g. "export ... csv".
type orderedPhrase struct {
	first, second *regexp.Regexp
}

func ordered(first, second string) orderedPhrase {
	return orderedPhrase{word(first), word(second)}
}

func (p orderedPhrase) match(s string) bool {
	loc := p.first.FindStringIndex(s)
	if loc == nil {
		return false
	}
	return p.second.MatchString(s[loc[1]:])
}

var (
	csvOrdered = []orderedPhrase{
		ordered("export", "csv"),
		ordered("download", "csv"),
	}
	csvLiteral = []*regexp.Regexp{
		word("save as csv"),
		word("csv file"),
	}

	retrievalOrdered = []orderedPhrase{
		ordered("show", "sql"),
		ordered("sql", "used"),
	}
	retrievalLiteral = []*regexp.Regexp{
		word("what sql"),
		word("which sql"),
		word("sql query"),
	}

	offTopicMarkers = []*regexp.Regexp{
		word("hello"),
		word("hi"),
		word("how are you"),
		word("joke"),
		word("weather"),
		word("thanks"),
		word("thank you"),
		word("bye"),
		word("goodbye"),
	}

	databaseKeywords = []*regexp.Regexp{
		word("app"),
		word("apps"),
		word("revenue"),
		word("install"),
		word("installs"),
		word("country"),
		word("platform"),
		word("ios"),
		word("android"),
		word("sql"),
		word("query"),
		word("database"),
		word("data"),
		word("table"),
		word("count"),
		word("csv"),
		word("export"),
		word("how many"),
	}

	followUpMarkers = []*regexp.Regexp{
		word("what about"),
		word("how about"),
		word("same for"),
		word("and"),
	}
)

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func matchAnyOrdered(phrases []orderedPhrase, s string) bool {
	for _, p := range phrases {
		if p.match(s) {
			return true
		}
	}
	return false
}

// Classify maps a user message to an intent. history is the thread's
// message log (newest last); prev is the intent assigned to the thread's
// previous message, or "" for a fresh thread. Every input produces a
// decision, so callers never need a fallback path.
func Classify(message string, history []providers.Message, prev Intent) Decision {
	lower := strings.ToLower(message)

	if matchAnyOrdered(csvOrdered, lower) || matchAny(csvLiteral, lower) {
		return Decision{
			Intent:     IntentCSVExport,
			Confidence: 0.9,
			Reasoning:  "message asks to export or download results as CSV",
		}
	}

	if matchAnyOrdered(retrievalOrdered, lower) || matchAny(retrievalLiteral, lower) {
		return Decision{
			Intent:     IntentSQLRetrieval,
			Confidence: 0.9,
			Reasoning:  "message asks to see a previously executed SQL statement",
		}
	}

	if matchAny(offTopicMarkers, lower) {
		context := recentContext(history)
		if !matchAny(databaseKeywords, lower) && !matchAny(databaseKeywords, context) {
			return Decision{
				Intent:     IntentOffTopic,
				Confidence: 0.7,
				Reasoning:  "greeting or chitchat with no database context",
			}
		}
	}

	if isFollowUp(lower, history) && (prev == IntentSQLQuery || prev == IntentCSVExport) {
		return Decision{
			Intent:     prev,
			Confidence: 0.8,
			Reasoning:  "short follow-up inherits the previous intent",
		}
	}

	return Decision{
		Intent:     IntentSQLQuery,
		Confidence: 0.8,
		Reasoning:  "database question (default classification)",
	}
}

// isFollowUp reports whether the message is a short continuation of an
// earlier exchange: an assistant reply exists, the message is under the
// word cap, and it carries a follow-up marker.
func isFollowUp(lower string, history []providers.Message) bool {
	if !hasAssistantReply(history) {
		return false
	}
	if len(strings.Fields(lower)) >= followUpMaxWords {
		return false
	}
	return matchAny(followUpMarkers, lower)
}

func hasAssistantReply(history []providers.Message) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return true
		}
	}
	return false
}

// recentContext lowercases the tail of the conversation so database
// keywords mentioned a message or two ago still count during the
// off-topic check.
func recentContext(history []providers.Message) string {
	if len(history) == 0 {
		return ""
	}
	start := len(history) - contextWindow
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, m := range history[start:] {
		b.WriteString(strings.ToLower(m.Content))
		b.WriteByte('\n')
	}
	return b.String()
}
