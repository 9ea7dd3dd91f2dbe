package memory

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
)

func testStore(mutate func(*config.ConversationConfig)) *Store {
	cfg := config.Default().Conversation
	if mutate != nil {
		mutate(&cfg)
	}
	return NewStore(cfg)
}

func TestThreadKey(t *testing.T) {
	key := ThreadKey("telegram", "386246614")
	if key != "telegram:386246614" {
		t.Fatalf("ThreadKey = %q", key)
	}
	channel, chatID := ParseThreadKey(key)
	if channel != "telegram" || chatID != "386246614" {
		t.Errorf("ParseThreadKey = (%q, %q)", channel, chatID)
	}
	if c, id := ParseThreadKey("garbage"); c != "" || id != "" {
		t.Errorf("ParseThreadKey(garbage) = (%q, %q), want empty", c, id)
	}
}

func TestAppendTrimsToMaxMessages(t *testing.T) {
	s := testStore(func(c *config.ConversationConfig) {
		c.MaxMessages = 3
		c.MaxTokens = 100000 // keep compression out of this test
	})

	for i := 0; i < 5; i++ {
		s.AddUserMessage("k", strings.Repeat("m", i+1))
	}

	hist := s.History("k")
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[0].Content != "mmm" {
		t.Errorf("oldest kept message = %q, want mmm", hist[0].Content)
	}
}

func TestCompressionFoldsOldPairs(t *testing.T) {
	s := testStore(func(c *config.ConversationConfig) {
		c.MaxMessages = 10
		c.MaxTokens = 200 // 160-token trigger at ratio 0.8
		c.CompressionRatio = 0.8
		c.KeepRecent = 2
	})

	// Roughly 38 tokens each; the fifth append crosses the trigger so
	// compression runs exactly once, folding the first three messages.
	filler := strings.Repeat("x", 140)
	s.AddUserMessage("k", "show me revenue "+filler)
	s.AddAssistantMessage("k", "here it is "+filler)
	s.AddUserMessage("k", "and installs "+filler)
	s.AddAssistantMessage("k", "those too "+filler)
	s.AddUserMessage("k", "one more thing "+filler)

	hist := s.History("k")
	// Pair summary, unpaired tail summary, then the two recent messages.
	if len(hist) != 4 {
		t.Fatalf("history length after compression = %d, want 4", len(hist))
	}
	if hist[0].Role != RoleSummary || hist[1].Role != RoleSummary {
		t.Fatalf("summary roles = %q, %q, want %q", hist[0].Role, hist[1].Role, RoleSummary)
	}
	if !strings.Contains(hist[0].Content, "User asked: show me revenue") {
		t.Errorf("pair summary missing user side: %q", hist[0].Content)
	}
	if !strings.Contains(hist[0].Content, "Response: here it is") {
		t.Errorf("pair summary missing assistant side: %q", hist[0].Content)
	}
	if !strings.Contains(hist[0].Content, "...") {
		t.Errorf("long sides should be truncated with an ellipsis: %q", hist[0].Content)
	}
	if !strings.HasPrefix(hist[1].Content, "User asked: and installs") {
		t.Errorf("unpaired tail should summarize alone: %q", hist[1].Content)
	}
	if strings.Contains(hist[1].Content, "Response:") {
		t.Errorf("unpaired tail picked up a phantom assistant side: %q", hist[1].Content)
	}

	// Last KeepRecent messages survive verbatim.
	if hist[2].Content != "those too "+filler || hist[3].Content != "one more thing "+filler {
		t.Error("recent messages were not kept verbatim")
	}
	if stats := s.Stats("k"); stats.Compressions != 1 {
		t.Errorf("Compressions = %d, want 1", stats.Compressions)
	}
}

func TestCompressionKeepsTokensUnderBudget(t *testing.T) {
	s := testStore(nil) // defaults: 4000 tokens, ratio 0.8, keep 5

	// Alternate 2000-character turns (~500 tokens each) so the trigger
	// fires repeatedly across the run.
	for i := 0; i < 20; i++ {
		content := fmt.Sprintf("turn %d %s", i, strings.Repeat("z", 2000))
		if i%2 == 0 {
			s.AddUserMessage("k", content)
		} else {
			s.AddAssistantMessage("k", content)
		}
	}

	stats := s.Stats("k")
	if stats.EstimatedTokens > 4000 {
		t.Errorf("token estimate after writes = %d, want <= 4000", stats.EstimatedTokens)
	}
	if stats.MessageCount > 10 {
		t.Errorf("message count = %d, want <= 10", stats.MessageCount)
	}
	if stats.Compressions == 0 {
		t.Error("expected at least one compression")
	}
}

func TestHistoryReturnsCopy(t *testing.T) {
	s := testStore(nil)
	s.AddUserMessage("k", "original")

	hist := s.History("k")
	hist[0].Content = "mutated"

	if got := s.History("k")[0].Content; got != "original" {
		t.Errorf("stored message changed to %q", got)
	}
}

func TestStoreQueryRingCap(t *testing.T) {
	s := testStore(func(c *config.ConversationConfig) {
		c.MaxQueries = 3
	})

	for _, q := range []string{"first", "second", "third", "fourth"} {
		s.StoreQuery("k", "SELECT 1", q, nil)
	}

	queries := s.Queries("k")
	if len(queries) != 3 {
		t.Fatalf("queries length = %d, want 3", len(queries))
	}
	if queries[0].Question != "second" {
		t.Errorf("oldest kept = %q, want second", queries[0].Question)
	}
	if queries[2].Question != "fourth" {
		t.Errorf("newest = %q, want fourth", queries[2].Question)
	}
}

func TestLastQuery(t *testing.T) {
	s := testStore(nil)
	if _, ok := s.LastQuery("k"); ok {
		t.Fatal("LastQuery on empty thread = true")
	}

	s.StoreQuery("k", "SELECT 1 FROM app_portfolio", "one", nil)
	s.StoreQuery("k", "SELECT 2 FROM app_portfolio", "two", nil)

	rec, ok := s.LastQuery("k")
	if !ok || rec.Question != "two" {
		t.Errorf("LastQuery = (%+v, %v), want newest record", rec, ok)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("record timestamp not set")
	}
}

func TestLastResultsSkipsRecordsWithoutRows(t *testing.T) {
	s := testStore(nil)

	if _, ok := s.LastResults("k"); ok {
		t.Fatal("LastResults on empty thread = true")
	}

	res := &database.QueryResult{
		Columns:  []string{"n"},
		Rows:     []map[string]interface{}{{"n": int64(49)}},
		RowCount: 1,
	}
	s.StoreQuery("k", "SELECT COUNT(DISTINCT app_name) AS n FROM app_portfolio", "how many apps", res)
	s.StoreQuery("k", "SELECT 1 FROM app_portfolio", "resultless", nil)

	rec, ok := s.LastResults("k")
	if !ok {
		t.Fatal("LastResults = false after storing results")
	}
	if rec.Question != "how many apps" {
		t.Errorf("LastResults picked %q, want the newest record carrying rows", rec.Question)
	}
	if rec.Results.RowCount != 1 {
		t.Errorf("stored RowCount = %d, want 1", rec.Results.RowCount)
	}
}

func TestFindQuery(t *testing.T) {
	s := testStore(nil)
	s.StoreQuery("k", "SELECT country, SUM(in_app_revenue) FROM app_portfolio GROUP BY country", "revenue by country", nil)
	s.StoreQuery("k", "SELECT app_name, installs FROM app_portfolio ORDER BY installs DESC LIMIT 5", "top apps by installs", nil)

	tests := []struct {
		name    string
		desc    string
		wantSQL string
		wantOK  bool
	}{
		{
			name:    "exact substring",
			desc:    "revenue by country",
			wantSQL: "SELECT country",
			wantOK:  true,
		},
		{
			name:    "case insensitive",
			desc:    "TOP APPS BY INSTALLS",
			wantSQL: "SELECT app_name",
			wantOK:  true,
		},
		{
			name:    "token overlap",
			desc:    "that installs ranking",
			wantSQL: "SELECT app_name",
			wantOK:  true,
		},
		{
			name:   "no match",
			desc:   "weather forecast",
			wantOK: false,
		},
		{
			name:    "empty description returns newest",
			desc:    "   ",
			wantSQL: "SELECT app_name",
			wantOK:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := s.FindQuery("k", tt.desc)
			if ok != tt.wantOK {
				t.Fatalf("FindQuery(%q) ok = %v, want %v", tt.desc, ok, tt.wantOK)
			}
			if ok && !strings.HasPrefix(rec.SQL, tt.wantSQL) {
				t.Errorf("FindQuery(%q) SQL = %q, want prefix %q", tt.desc, rec.SQL, tt.wantSQL)
			}
		})
	}
}

func TestFindQueryPrefersNewest(t *testing.T) {
	s := testStore(nil)
	s.StoreQuery("k", "SELECT 1 FROM app_portfolio", "revenue summary", nil)
	s.StoreQuery("k", "SELECT 2 FROM app_portfolio", "revenue summary", nil)

	rec, ok := s.FindQuery("k", "revenue summary")
	if !ok {
		t.Fatal("FindQuery missed")
	}
	if rec.SQL != "SELECT 2 FROM app_portfolio" {
		t.Errorf("FindQuery returned %q, want the newest record", rec.SQL)
	}
}

func TestClear(t *testing.T) {
	s := testStore(nil)
	s.AddUserMessage("k", "hello")
	s.StoreQuery("k", "SELECT 1 FROM app_portfolio", "one", nil)

	s.Clear("k")

	if len(s.History("k")) != 0 {
		t.Error("messages survived Clear")
	}
	if len(s.Queries("k")) != 0 {
		t.Error("queries survived Clear")
	}
	if stats := s.Stats("k"); !stats.Exists {
		t.Error("thread itself should survive Clear")
	}
}

func TestSweepIdle(t *testing.T) {
	s := testStore(nil)
	s.AddUserMessage("old", "hi")
	s.AddUserMessage("fresh", "hi")

	s.mu.Lock()
	s.threads["old"].Updated = time.Now().Add(-3 * time.Hour)
	s.mu.Unlock()

	removed := s.SweepIdle(2 * time.Hour)
	if removed != 1 {
		t.Fatalf("SweepIdle removed %d, want 1", removed)
	}
	if s.Stats("old").Exists {
		t.Error("idle thread survived sweep")
	}
	if !s.Stats("fresh").Exists {
		t.Error("fresh thread was evicted")
	}
}

func TestStats(t *testing.T) {
	s := testStore(nil)
	if s.Stats("missing").Exists {
		t.Fatal("Stats on missing thread reports Exists")
	}

	s.AddUserMessage("k", strings.Repeat("a", 40))
	s.StoreQuery("k", "SELECT 1 FROM app_portfolio", "one", nil)

	stats := s.Stats("k")
	if !stats.Exists || stats.MessageCount != 1 || stats.QueryCount != 1 {
		t.Errorf("Stats = %+v", stats)
	}
	if stats.EstimatedTokens != 10 {
		t.Errorf("EstimatedTokens = %d, want 10", stats.EstimatedTokens)
	}
}
