package channels

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hatchdata/askdb/internal/bus"
)

// recordingChannel captures sends for assertions.
type recordingChannel struct {
	BaseChannel
	mu    sync.Mutex
	sent  []bus.OutboundMessage
	fails bool
}

func newRecordingChannel(name string, msgBus *bus.MessageBus) *recordingChannel {
	return &recordingChannel{BaseChannel: *NewBaseChannel(name, msgBus, nil)}
}

func (c *recordingChannel) Start(ctx context.Context) error {
	c.SetRunning(true)
	return nil
}

func (c *recordingChannel) Stop(ctx context.Context) error {
	c.SetRunning(false)
	return nil
}

func (c *recordingChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fails {
		return context.DeadlineExceeded
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *recordingChannel) lastSent() (bus.OutboundMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return bus.OutboundMessage{}, false
	}
	return c.sent[len(c.sent)-1], true
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestManagerDispatchesOutbound(t *testing.T) {
	msgBus := bus.New()
	mgr := NewManager(msgBus)
	ch := newRecordingChannel("telegram", msgBus)
	mgr.RegisterChannel("telegram", ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer mgr.StopAll(context.Background())

	if !ch.IsRunning() {
		t.Fatal("channel should be running after StartAll")
	}

	msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: "telegram",
		ChatID:  "12345",
		Content: "There are 49 applications.",
	})

	waitFor(t, func() bool { return ch.sentCount() == 1 })

	msg, _ := ch.lastSent()
	if msg.Content != "There are 49 applications." {
		t.Errorf("unexpected content: %q", msg.Content)
	}
	if msg.ChatID != "12345" {
		t.Errorf("unexpected chat id: %q", msg.ChatID)
	}
}

func TestManagerUnknownChannelSkipped(t *testing.T) {
	msgBus := bus.New()
	mgr := NewManager(msgBus)
	ch := newRecordingChannel("telegram", msgBus)
	mgr.RegisterChannel("telegram", ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer mgr.StopAll(context.Background())

	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "discord", ChatID: "1", Content: "lost"})
	msgBus.PublishOutbound(bus.OutboundMessage{Channel: "telegram", ChatID: "2", Content: "kept"})

	waitFor(t, func() bool { return ch.sentCount() == 1 })

	msg, _ := ch.lastSent()
	if msg.Content != "kept" {
		t.Errorf("expected the telegram message, got %q", msg.Content)
	}
}

func TestManagerCleansUpExportFiles(t *testing.T) {
	msgBus := bus.New()
	mgr := NewManager(msgBus)
	ch := newRecordingChannel("telegram", msgBus)
	mgr.RegisterChannel("telegram", ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer mgr.StopAll(context.Background())

	path := filepath.Join(t.TempDir(), "export_20240101.csv")
	if err := os.WriteFile(path, []byte("id,name\n1,alpha\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	msgBus.PublishOutbound(bus.OutboundMessage{
		Channel: "telegram",
		ChatID:  "12345",
		Content: "CSV report generated.",
		Files:   []string{path},
	})

	waitFor(t, func() bool { return ch.sentCount() == 1 })
	waitFor(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
}

func TestManagerStatusAndLookup(t *testing.T) {
	msgBus := bus.New()
	mgr := NewManager(msgBus)
	tg := newRecordingChannel("telegram", msgBus)
	dc := newRecordingChannel("discord", msgBus)
	mgr.RegisterChannel("telegram", tg)
	mgr.RegisterChannel("discord", dc)

	if got := len(mgr.GetEnabledChannels()); got != 2 {
		t.Fatalf("expected 2 channels, got %d", got)
	}

	if _, ok := mgr.GetChannel("telegram"); !ok {
		t.Error("telegram should be registered")
	}
	if _, ok := mgr.GetChannel("slack"); ok {
		t.Error("slack should not be registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := mgr.StartAll(ctx); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	status := mgr.GetStatus()
	entry, ok := status["telegram"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing telegram status: %#v", status)
	}
	if entry["running"] != true {
		t.Error("telegram should report running")
	}

	if err := mgr.StopAll(context.Background()); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if tg.IsRunning() || dc.IsRunning() {
		t.Error("channels should stop with StopAll")
	}

	mgr.UnregisterChannel("discord")
	if _, ok := mgr.GetChannel("discord"); ok {
		t.Error("discord should be gone after UnregisterChannel")
	}
}

func TestManagerStreamingLookup(t *testing.T) {
	msgBus := bus.New()
	mgr := NewManager(msgBus)
	mgr.RegisterChannel("plain", newRecordingChannel("plain", msgBus))

	// A plain channel never surfaces as streaming.
	if _, ok := mgr.Streaming("plain"); ok {
		t.Error("plain channel must not be streaming")
	}
	if _, ok := mgr.Streaming("missing"); ok {
		t.Error("unknown channel must not be streaming")
	}
}

func TestManagerSendToChannel(t *testing.T) {
	msgBus := bus.New()
	mgr := NewManager(msgBus)
	ch := newRecordingChannel("telegram", msgBus)
	mgr.RegisterChannel("telegram", ch)

	if err := mgr.SendToChannel(context.Background(), "telegram", "777", "hello"); err != nil {
		t.Fatalf("SendToChannel: %v", err)
	}
	msg, ok := ch.lastSent()
	if !ok || msg.Content != "hello" || msg.ChatID != "777" {
		t.Errorf("unexpected direct send: %#v", msg)
	}

	if err := mgr.SendToChannel(context.Background(), "nope", "1", "x"); err == nil {
		t.Error("expected error for unknown channel")
	}
}
