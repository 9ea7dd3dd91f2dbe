// Package channels connects chat platforms (Telegram, Discord) to the
// analytics bot. Each channel turns platform updates into inbound bus
// messages keyed by a stable thread identity, and delivers replies and
// CSV attachments back out.
package channels

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"github.com/hatchdata/askdb/internal/bus"
)

// Channel is one messaging platform connection.
type Channel interface {
	// Name returns the channel identifier ("telegram", "discord").
	Name() string

	// Start begins receiving messages. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the channel down.
	Stop(ctx context.Context) error

	// Send delivers an outbound message, uploading any attached files.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is processing messages.
	IsRunning() bool

	// IsAllowed checks a sender against the channel's allowlist.
	IsAllowed(senderID string) bool
}

// StreamingChannel is a Channel that can render a reply incrementally,
// e.g. by editing a placeholder message as chunks arrive.
type StreamingChannel interface {
	Channel
	StreamEnabled() bool
	OnStreamStart(ctx context.Context, chatID string) error
	OnChunkEvent(ctx context.Context, chatID string, fullText string) error
	OnStreamEnd(ctx context.Context, chatID string, finalText string) error
}

// BaseChannel carries the state shared by channel implementations.
type BaseChannel struct {
	name      string
	bus       *bus.MessageBus
	running   bool
	allowList []string
}

func NewBaseChannel(name string, msgBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus, allowList: allowList}
}

func (c *BaseChannel) Name() string { return c.name }

func (c *BaseChannel) IsRunning() bool { return c.running }

func (c *BaseChannel) SetRunning(running bool) { c.running = running }

func (c *BaseChannel) Bus() *bus.MessageBus { return c.bus }

func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks a sender against the allowlist. An empty allowlist
// admits everyone. Compound sender IDs ("123456|username") match on
// either part; allowlist entries may use "@username" form.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart := senderID
	userPart := ""
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed ||
			(userPart != "" && (userPart == allowed || userPart == trimmed)) {
			return true
		}
	}
	return false
}

// HandleMessage publishes an inbound message to the bus after the
// allowlist check. Channels call this from their receive loops.
func (c *BaseChannel) HandleMessage(senderID, chatID, threadKey, content string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:   c.name,
		SenderID:  senderID,
		ChatID:    chatID,
		ThreadKey: threadKey,
		Content:   content,
		Metadata:  metadata,
	})
}

// Truncate shortens s to maxWidth display cells, appending "..." when
// cut. Width-aware so CJK text doesn't overflow log previews.
func Truncate(s string, maxWidth int) string {
	return runewidth.Truncate(s, maxWidth, "...")
}

// SplitMessage breaks s into chunks of at most maxLen bytes for
// platforms with a message size cap. Prefers breaking at a newline in
// the second half of the chunk, and never cuts mid-rune.
func SplitMessage(s string, maxLen int) []string {
	if len(s) <= maxLen {
		return []string{s}
	}

	var chunks []string
	for len(s) > maxLen {
		cut := maxLen
		if idx := strings.LastIndexByte(s[:maxLen], '\n'); idx > maxLen/2 {
			cut = idx
		}
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = maxLen
		}
		chunks = append(chunks, s[:cut])
		s = strings.TrimLeft(s[cut:], "\n")
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}
