package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hatchdata/askdb/internal/router"
)

// threadState carries everything serialized per thread: the mutex that
// orders message processing, and the last routed intent for follow-up
// inheritance.
type threadState struct {
	mu         sync.Mutex
	lastIntent router.Intent
	lastActive time.Time
}

// threadStates is the keyed lock map. Entries are created on first
// use and swept once idle.
type threadStates struct {
	mu      sync.Mutex
	entries map[string]*threadState
}

func newThreadStates() *threadStates {
	return &threadStates{entries: make(map[string]*threadState)}
}

// lock returns the thread's state with its mutex held. The re-check
// loop covers the window where the sweeper removed the entry between
// lookup and acquisition.
func (s *threadStates) lock(key string) *threadState {
	for {
		s.mu.Lock()
		st, ok := s.entries[key]
		if !ok {
			st = &threadState{}
			s.entries[key] = st
		}
		st.lastActive = time.Now()
		s.mu.Unlock()

		st.mu.Lock()
		s.mu.Lock()
		current := s.entries[key] == st
		s.mu.Unlock()
		if current {
			return st
		}
		st.mu.Unlock()
	}
}

func (s *threadStates) unlock(st *threadState) {
	st.mu.Unlock()
}

func (s *threadStates) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// sweep drops entries idle for longer than ttl. Entries currently
// locked are skipped and picked up on a later pass.
func (s *threadStates) sweep(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, st := range s.entries {
		if st.lastActive.After(cutoff) {
			continue
		}
		if !st.mu.TryLock() {
			continue
		}
		delete(s.entries, key)
		st.mu.Unlock()
		removed++
	}
	return removed
}

// startSweeper runs sweep on a ticker until ctx is cancelled.
func (s *threadStates) startSweeper(ctx context.Context, every, ttl time.Duration) {
	if every <= 0 || ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.sweep(ttl); n > 0 {
					slog.Debug("swept idle thread state", "count", n)
				}
			}
		}
	}()
}
