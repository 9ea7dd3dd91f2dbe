package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hatchdata/askdb/internal/bus"
	"github.com/hatchdata/askdb/internal/channels"
	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/memory"
	"github.com/hatchdata/askdb/internal/orchestrator"
)

// consumeInbound reads messages from channels (Telegram, Discord) and
// routes them through the orchestrator, then publishes the reply back.
// Rapid messages from the same sender are merged before processing;
// duplicate deliveries are dropped.
func consumeInbound(ctx context.Context, cfg *config.Config, msgBus *bus.MessageBus, orch *orchestrator.Orchestrator, mem *memory.Store, channelMgr *channels.Manager) {
	slog.Info("inbound message consumer started")

	// Webhook retries and double-taps must not trigger duplicate runs.
	dedupe := bus.NewDedupeCache(20*time.Minute, 5000)

	// Each flushed (possibly merged) message gets its own goroutine so a
	// slow SQL turn in one thread never stalls the others.
	process := func(msg bus.InboundMessage) {
		go deliver(ctx, msg, orch, msgBus, channelMgr)
	}

	debounceMs := cfg.Gateway.InboundDebounceMs
	if debounceMs == 0 {
		debounceMs = 1000
	}
	debouncer := bus.NewInboundDebouncer(time.Duration(debounceMs)*time.Millisecond, process)
	defer debouncer.Stop()

	slog.Info("inbound debounce configured", "debounce_ms", debounceMs)

	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}

		if msgID := msg.Metadata["message_id"]; msgID != "" {
			dedupeKey := fmt.Sprintf("%s|%s|%s|%s", msg.Channel, msg.SenderID, msg.ChatID, msgID)
			if dedupe.IsDuplicate(dedupeKey) {
				slog.Debug("dedup: skipping duplicate message", "key", dedupeKey)
				continue
			}
		}

		// /reset bypasses the debouncer: merging it into question text
		// would swallow the command.
		if msg.Metadata["command"] == "reset" {
			mem.Clear(msg.ThreadKey)
			slog.Info("conversation reset", "thread", msg.ThreadKey, "channel", msg.Channel)
			continue
		}

		debouncer.Push(msg)
	}
}

// deliver runs one inbound message through the orchestrator and
// publishes the reply. Streaming channels additionally get live draft
// edits while the reply forms.
func deliver(ctx context.Context, msg bus.InboundMessage, orch *orchestrator.Orchestrator, msgBus *bus.MessageBus, channelMgr *channels.Manager) {
	req := orchestrator.Request{
		ThreadKey: msg.ThreadKey,
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		Message:   msg.Content,
	}

	// The channel-local delivery key routes drafts to the right chat or
	// forum topic; it can differ from ChatID.
	localKey := msg.Metadata["local_key"]
	if localKey == "" {
		localKey = msg.ChatID
	}

	var reply *orchestrator.Reply
	var err error
	if sc, ok := channelMgr.Streaming(msg.Channel); ok {
		_ = sc.OnStreamStart(ctx, localKey)
		var full strings.Builder
		reply, err = orch.Stream(ctx, req, func(chunk string) {
			full.WriteString(chunk)
			_ = sc.OnChunkEvent(ctx, localKey, full.String())
		})
		_ = sc.OnStreamEnd(ctx, localKey, full.String())
	} else {
		reply, err = orch.Process(ctx, req)
	}
	if err != nil {
		// Only context cancellation surfaces here; processing failures
		// are already folded into the reply text.
		slog.Warn("inbound: processing aborted", "thread", msg.ThreadKey, "error", err)
		return
	}

	out := bus.OutboundMessage{
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Content:  reply.Text,
		Metadata: msg.Metadata,
	}
	if reply.FilePath != "" {
		out.Files = []string{reply.FilePath}
	}
	msgBus.PublishOutbound(out)

	slog.Info("inbound: reply delivered",
		"thread", msg.ThreadKey,
		"intent", string(reply.Intent),
		"message_id", reply.MessageID,
		"has_csv", reply.FilePath != "",
	)
}
