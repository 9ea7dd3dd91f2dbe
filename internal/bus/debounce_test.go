package bus

import (
	"sync"
	"testing"
	"time"
)

type flushRecorder struct {
	mu   sync.Mutex
	msgs []InboundMessage
}

func (r *flushRecorder) record(msg InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *flushRecorder) snapshot() []InboundMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]InboundMessage, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *flushRecorder) waitFor(t *testing.T, n int) []InboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := r.snapshot(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d flushed messages, got %d", n, len(r.snapshot()))
	return nil
}

func TestDebouncerMergesRapidMessages(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(30*time.Millisecond, rec.record)
	defer d.Stop()

	d.Push(InboundMessage{ThreadKey: "telegram:1", SenderID: "7|ann", Content: "how many apps"})
	d.Push(InboundMessage{ThreadKey: "telegram:1", SenderID: "7|ann", Content: "do we have?"})

	msgs := rec.waitFor(t, 1)
	if len(msgs) != 1 {
		t.Fatalf("flushed %d messages, want 1", len(msgs))
	}
	if msgs[0].Content != "how many apps\ndo we have?" {
		t.Errorf("merged content = %q", msgs[0].Content)
	}
}

func TestDebouncerKeepsSendersSeparate(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(20*time.Millisecond, rec.record)
	defer d.Stop()

	d.Push(InboundMessage{ThreadKey: "telegram:1", SenderID: "7|ann", Content: "revenue by country"})
	d.Push(InboundMessage{ThreadKey: "telegram:1", SenderID: "9|bob", Content: "installs last week"})

	msgs := rec.waitFor(t, 2)
	contents := map[string]bool{}
	for _, m := range msgs {
		contents[m.Content] = true
	}
	if !contents["revenue by country"] || !contents["installs last week"] {
		t.Errorf("messages merged across senders: %+v", msgs)
	}
}

func TestDebouncerLatestMetadataWins(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(20*time.Millisecond, rec.record)
	defer d.Stop()

	d.Push(InboundMessage{
		ThreadKey: "discord:c1", SenderID: "5|kim", Content: "top apps",
		Metadata: map[string]string{"placeholder_key": "m1"},
	})
	d.Push(InboundMessage{
		ThreadKey: "discord:c1", SenderID: "5|kim", Content: "by installs",
		Metadata: map[string]string{"placeholder_key": "m2"},
	})

	msgs := rec.waitFor(t, 1)
	if got := msgs[0].Metadata["placeholder_key"]; got != "m2" {
		t.Errorf("placeholder_key = %q, want m2", got)
	}
}

func TestDebouncerDisabled(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(0, rec.record)
	defer d.Stop()

	d.Push(InboundMessage{ThreadKey: "cli:local", SenderID: "local", Content: "hello"})

	if msgs := rec.snapshot(); len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Fatalf("disabled debouncer did not flush synchronously: %+v", msgs)
	}
}

func TestDebouncerStopFlushesPending(t *testing.T) {
	rec := &flushRecorder{}
	d := NewInboundDebouncer(time.Hour, rec.record)

	d.Push(InboundMessage{ThreadKey: "ws:abc", SenderID: "client", Content: "pending question"})
	d.Stop()

	msgs := rec.snapshot()
	if len(msgs) != 1 || msgs[0].Content != "pending question" {
		t.Fatalf("Stop did not flush pending message: %+v", msgs)
	}
}
