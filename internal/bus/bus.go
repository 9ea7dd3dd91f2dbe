package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const queueSize = 256

// MessageBus decouples channels from the message consumer with buffered
// queues. Publishing never blocks; when a queue is full the message is
// dropped with a warning rather than stalling a channel's receive loop.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, queueSize),
		outbound: make(chan OutboundMessage, queueSize),
	}
}

func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		slog.Warn("inbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

// ConsumeInbound blocks until a message arrives or ctx is done. The
// second return is false only on context cancellation.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	select {
	case b.outbound <- msg:
	default:
		slog.Warn("outbound queue full, dropping message",
			"channel", msg.Channel, "chat_id", msg.ChatID)
	}
}

func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

// DedupeCache remembers recently seen keys so webhook retries and
// double-taps don't process the same inbound message twice. Bounded:
// stale entries are pruned on insert and the oldest entry is evicted
// when the cap is reached.
type DedupeCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	entries map[string]time.Time
}

func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	if max <= 0 {
		max = 1000
	}
	return &DedupeCache{ttl: ttl, max: max, entries: make(map[string]time.Time)}
}

// IsDuplicate reports whether key was seen within the TTL, and records
// it either way.
func (c *DedupeCache) IsDuplicate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if seen, ok := c.entries[key]; ok && now.Sub(seen) < c.ttl {
		return true
	}

	if len(c.entries) >= c.max {
		for k, seen := range c.entries {
			if now.Sub(seen) >= c.ttl {
				delete(c.entries, k)
			}
		}
		for len(c.entries) >= c.max {
			var oldestKey string
			var oldest time.Time
			for k, seen := range c.entries {
				if oldestKey == "" || seen.Before(oldest) {
					oldestKey, oldest = k, seen
				}
			}
			delete(c.entries, oldestKey)
		}
	}

	c.entries[key] = now
	return false
}
