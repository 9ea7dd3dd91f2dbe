package memory

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/providers"
)

// Compression folds old message pairs into one-line summaries and keeps
// this many leading characters from each side.
const summarySnippetLen = 100

// Message roles stored in a thread. Summaries produced by compression
// carry the system role so providers treat them as context, not dialogue.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSummary   = "system"
)

// QueryRecord is one executed SQL statement remembered for a thread,
// together with the question that produced it and, when execution
// succeeded, the rows it returned.
type QueryRecord struct {
	SQL       string                `json:"sql"`
	Question  string                `json:"question"`
	Results   *database.QueryResult `json:"results,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
}

// Thread holds conversation state for one chat. All access goes
// through Store methods; threads are never handed out.
type Thread struct {
	Key          string
	Messages     []providers.Message
	Queries      []QueryRecord // oldest first, capped at max_queries
	Compressions int
	Created      time.Time
	Updated      time.Time
}

// ThreadStats is a lightweight thread descriptor for status reporting.
type ThreadStats struct {
	Exists          bool
	MessageCount    int
	QueryCount      int
	EstimatedTokens int
	Compressions    int
	Created         time.Time
	Updated         time.Time
}

// Store keeps all live threads in memory. Threads idle past the
// configured TTL are evicted by the sweeper.
type Store struct {
	mu      sync.RWMutex
	threads map[string]*Thread
	cfg     config.ConversationConfig
}

func NewStore(cfg config.ConversationConfig) *Store {
	return &Store{
		threads: make(map[string]*Thread),
		cfg:     cfg,
	}
}

// getOrCreate must be called with s.mu held for writing.
func (s *Store) getOrCreate(key string) *Thread {
	if t, ok := s.threads[key]; ok {
		return t
	}
	t := &Thread{
		Key:      key,
		Messages: []providers.Message{},
		Created:  time.Now(),
		Updated:  time.Now(),
	}
	s.threads[key] = t
	return t
}

// AddUserMessage appends a user turn and re-trims the thread.
func (s *Store) AddUserMessage(key, content string) {
	s.append(key, RoleUser, content)
}

// AddAssistantMessage appends an assistant turn and re-trims the thread.
func (s *Store) AddAssistantMessage(key, content string) {
	s.append(key, RoleAssistant, content)
}

func (s *Store) append(key, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.getOrCreate(key)
	t.Messages = append(t.Messages, providers.Message{Role: role, Content: content})
	t.Updated = time.Now()
	s.trim(t)
}

// History returns a copy of the thread's message window, oldest first.
func (s *Store) History(key string) []providers.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[key]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, len(t.Messages))
	copy(msgs, t.Messages)
	return msgs
}

// StoreQuery records an executed SQL statement with the question that
// produced it. The per-thread ring keeps the newest max_queries entries.
func (s *Store) StoreQuery(key, sql, question string, results *database.QueryResult) QueryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.getOrCreate(key)
	rec := QueryRecord{
		SQL:       sql,
		Question:  question,
		Results:   results,
		CreatedAt: time.Now(),
	}
	t.Queries = append(t.Queries, rec)
	if max := s.cfg.MaxQueries; max > 0 && len(t.Queries) > max {
		t.Queries = t.Queries[len(t.Queries)-max:]
	}
	t.Updated = time.Now()
	return rec
}

// Queries returns a copy of the thread's stored queries, oldest first.
func (s *Store) Queries(key string) []QueryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[key]
	if !ok {
		return nil
	}
	out := make([]QueryRecord, len(t.Queries))
	copy(out, t.Queries)
	return out
}

// LastQuery returns the most recent stored query, if any.
func (s *Store) LastQuery(key string) (QueryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[key]
	if !ok || len(t.Queries) == 0 {
		return QueryRecord{}, false
	}
	return t.Queries[len(t.Queries)-1], true
}

// LastResults returns the rows of the most recent stored query that
// carried results. Callers must treat the result as read-only.
func (s *Store) LastResults(key string) (QueryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[key]
	if !ok {
		return QueryRecord{}, false
	}
	for i := len(t.Queries) - 1; i >= 0; i-- {
		if t.Queries[i].Results != nil {
			return t.Queries[i], true
		}
	}
	return QueryRecord{}, false
}

// FindQuery looks up a stored query by description, newest first.
// A record matches when the description appears case-insensitively in
// its question, or when any description token longer than three
// characters does. An empty description returns the most recent record.
func (s *Store) FindQuery(key, description string) (QueryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[key]
	if !ok || len(t.Queries) == 0 {
		return QueryRecord{}, false
	}

	needle := strings.ToLower(strings.TrimSpace(description))
	if needle == "" {
		return t.Queries[len(t.Queries)-1], true
	}

	tokens := significantTokens(needle)
	for i := len(t.Queries) - 1; i >= 0; i-- {
		question := strings.ToLower(t.Queries[i].Question)
		if strings.Contains(question, needle) {
			slog.Debug("matched stored query", "thread", key, "description", description, "question", t.Queries[i].Question)
			return t.Queries[i], true
		}
		for _, tok := range tokens {
			if strings.Contains(question, tok) {
				slog.Debug("matched stored query by token", "thread", key, "token", tok, "question", t.Queries[i].Question)
				return t.Queries[i], true
			}
		}
	}
	return QueryRecord{}, false
}

// Clear wipes a thread's messages and stored queries. The thread itself
// survives so stats keep their created time.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[key]
	if !ok {
		return
	}
	t.Messages = []providers.Message{}
	t.Queries = nil
	t.Compressions = 0
	t.Updated = time.Now()
}

// Delete removes a thread entirely.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, key)
}

// Stats reports the current shape of a thread.
func (s *Store) Stats(key string) ThreadStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[key]
	if !ok {
		return ThreadStats{}
	}
	return ThreadStats{
		Exists:          true,
		MessageCount:    len(t.Messages),
		QueryCount:      len(t.Queries),
		EstimatedTokens: estimateTokens(t.Messages),
		Compressions:    t.Compressions,
		Created:         t.Created,
		Updated:         t.Updated,
	}
}

// Len returns the number of live threads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

// Keys returns all live thread keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.threads))
	for k := range s.threads {
		keys = append(keys, k)
	}
	return keys
}

// SweepIdle evicts threads whose last activity is older than ttl.
// Returns the number of threads removed.
func (s *Store) SweepIdle(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, t := range s.threads {
		if t.Updated.Before(cutoff) {
			delete(s.threads, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs SweepIdle on a ticker until ctx is cancelled.
// A zero idle TTL disables eviction.
func (s *Store) StartSweeper(ctx context.Context) {
	ttl := time.Duration(s.cfg.IdleTTLMin) * time.Minute
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.SweepIdle(ttl); n > 0 {
					slog.Info("evicted idle threads", "count", n)
				}
			}
		}
	}()
}

// trim compresses the thread once the token estimate crosses the
// configured ratio of the budget, then enforces the message cap by
// dropping from the front. Must be called with s.mu held for writing.
func (s *Store) trim(t *Thread) {
	limit := float64(s.cfg.MaxTokens) * s.cfg.CompressionRatio
	if limit > 0 && float64(estimateTokens(t.Messages)) > limit {
		s.compress(t)
	}
	if max := s.cfg.MaxMessages; max > 0 && len(t.Messages) > max {
		kept := make([]providers.Message, max)
		copy(kept, t.Messages[len(t.Messages)-max:])
		t.Messages = kept
	}
}

// compress replaces everything except the keep_recent newest messages
// with one summary per adjacent pair; a trailing unpaired message gets
// a single-sided summary. The newest messages survive verbatim.
func (s *Store) compress(t *Thread) {
	keep := s.cfg.KeepRecent
	if keep < 0 {
		keep = 0
	}
	if len(t.Messages) <= keep {
		return
	}

	old := t.Messages[:len(t.Messages)-keep]
	recent := t.Messages[len(t.Messages)-keep:]

	summaries := make([]providers.Message, 0, (len(old)+1)/2)
	for i := 0; i < len(old); i += 2 {
		var content string
		if i+1 < len(old) {
			content = summarizeSide(old[i]) + " " + summarizeSide(old[i+1])
		} else {
			content = summarizeSide(old[i])
		}
		summaries = append(summaries, providers.Message{Role: RoleSummary, Content: content})
	}

	merged := make([]providers.Message, 0, len(summaries)+len(recent))
	merged = append(merged, summaries...)
	merged = append(merged, recent...)
	t.Messages = merged
	t.Compressions++

	slog.Debug("compressed thread history",
		"thread", t.Key,
		"folded", len(old),
		"summaries", len(summaries),
		"kept", len(recent),
		"compressions", t.Compressions)
}

// summarizeSide renders one side of a compressed pair.
func summarizeSide(m providers.Message) string {
	if m.Role == RoleUser {
		return "User asked: " + snippet(m.Content, summarySnippetLen)
	}
	return "Response: " + snippet(m.Content, summarySnippetLen)
}

// estimateTokens approximates token usage as one token per four
// characters of content, summed per message.
func estimateTokens(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += len(m.Content) / 4
	}
	return total
}

// snippet shortens s to max runes, marking the cut with an ellipsis.
func snippet(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// significantTokens splits a lowercased description into words longer
// than three characters, the ones worth matching on.
func significantTokens(s string) []string {
	var out []string
	for _, tok := range strings.Fields(s) {
		tok = strings.Trim(tok, ".,!?;:\"'()")
		if len(tok) > 3 {
			out = append(out, tok)
		}
	}
	return out
}
