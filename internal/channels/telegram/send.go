package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/hatchdata/askdb/internal/bus"
	"github.com/hatchdata/askdb/internal/channels"
)

// telegramMaxMessageLen is the Bot API text limit.
const telegramMaxMessageLen = 4096

// Send delivers the final reply. The first chunk edits the pending
// placeholder (or streaming draft) when one exists; long replies are
// split and CSV exports uploaded as documents.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	key := msg.Metadata["local_key"]
	if key == "" {
		key = msg.ChatID
	}
	chatID, topicID, err := splitLocalKey(key)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", key, err)
	}
	threadID := resolveThreadIDForSend(topicID)

	if msg.Content != "" {
		chunks := channels.SplitMessage(msg.Content, telegramMaxMessageLen)
		for i, chunk := range chunks {
			if i == 0 {
				if v, ok := c.placeholders.LoadAndDelete(key); ok {
					if err := c.editMessage(ctx, chatID, v.(int), chunk); err == nil {
						continue
					}
					// Edit failed (placeholder deleted, too old); fall
					// through to a regular send.
				}
			}
			out := tu.Message(tu.ID(chatID), chunk)
			if threadID > 0 {
				out.MessageThreadID = threadID
			}
			if _, err := c.bot.SendMessage(ctx, out); err != nil {
				return fmt.Errorf("telegram send: %w", err)
			}
		}
	}

	for _, path := range msg.Files {
		if err := c.sendDocument(ctx, chatID, threadID, path); err != nil {
			slog.Error("telegram document upload failed", "path", path, "error", err)
		}
	}

	return nil
}

func (c *Channel) sendDocument(ctx context.Context, chatID int64, threadID int, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	doc := tu.Document(tu.ID(chatID), tu.File(f))
	if threadID > 0 {
		doc.MessageThreadID = threadID
	}
	if _, err := c.bot.SendDocument(ctx, doc); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

func (c *Channel) editMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Text:      text,
	})
	if err != nil && isNotModified(err) {
		// The streaming draft already shows this text.
		return nil
	}
	return err
}

// isNotModified matches the Bot API error returned when an edit carries
// the text the message already has.
func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// draftStream is a live preview message updated as chunks arrive.
// Edits are throttled so long replies don't hit Bot API flood limits.
type draftStream struct {
	mu        sync.Mutex
	messageID int
	lastText  string
	limiter   *rate.Limiter
}

// OnStreamStart opens a draft for the chat. An existing "Thinking..."
// placeholder is claimed as the draft message so edits replace it.
func (c *Channel) OnStreamStart(_ context.Context, key string) error {
	ds := &draftStream{limiter: rate.NewLimiter(rate.Every(c.editInterval()), 1)}
	if v, ok := c.placeholders.LoadAndDelete(key); ok {
		ds.messageID = v.(int)
	}
	c.streams.Store(key, ds)
	return nil
}

// OnChunkEvent renders the accumulated reply text into the draft.
// Throttled edits are skipped; a later chunk carries the full text.
func (c *Channel) OnChunkEvent(ctx context.Context, key string, fullText string) error {
	v, ok := c.streams.Load(key)
	if !ok || fullText == "" {
		return nil
	}
	ds := v.(*draftStream)

	ds.mu.Lock()
	defer ds.mu.Unlock()

	if fullText == ds.lastText || !ds.limiter.Allow() {
		return nil
	}

	chatID, topicID, err := splitLocalKey(key)
	if err != nil {
		return err
	}

	preview := fullText
	if len(preview) > telegramMaxMessageLen {
		head := channels.SplitMessage(preview, telegramMaxMessageLen-4)
		preview = head[0] + "\n..."
	}

	if ds.messageID == 0 {
		out := tu.Message(tu.ID(chatID), preview)
		if threadID := resolveThreadIDForSend(topicID); threadID > 0 {
			out.MessageThreadID = threadID
		}
		sent, err := c.bot.SendMessage(ctx, out)
		if err != nil {
			return err
		}
		ds.messageID = sent.MessageID
	} else if err := c.editMessage(ctx, chatID, ds.messageID, preview); err != nil {
		slog.Debug("telegram stream edit failed", "chat_id", chatID, "error", err)
		return nil
	}

	ds.lastText = fullText
	return nil
}

// OnStreamEnd closes the draft and hands its message back as the
// placeholder, so the final Send edits it in place instead of posting
// a duplicate.
func (c *Channel) OnStreamEnd(_ context.Context, key string, _ string) error {
	v, ok := c.streams.LoadAndDelete(key)
	if !ok {
		return nil
	}
	ds := v.(*draftStream)

	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.messageID > 0 {
		c.placeholders.Store(key, ds.messageID)
	}
	return nil
}
