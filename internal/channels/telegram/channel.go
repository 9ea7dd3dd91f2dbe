// Package telegram connects the analytics bot to Telegram via Bot API
// long polling. Direct messages always reach the bot; group messages
// require a mention by default. Replies edit a "Thinking..." placeholder
// in DMs, and CSV exports are uploaded as documents.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"

	"github.com/hatchdata/askdb/internal/bus"
	"github.com/hatchdata/askdb/internal/channels"
	"github.com/hatchdata/askdb/internal/config"
)

const defaultEditIntervalMs = 1000

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot            *telego.Bot
	config         config.TelegramConfig
	requireMention bool
	placeholders   sync.Map // localKey string → messageID int
	streams        sync.Map // localKey string → *draftStream
	pollCancel     context.CancelFunc
	pollDone       chan struct{}
}

// New creates a Telegram channel from config.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("telegram", msgBus, cfg.AllowFrom),
		bot:            bot,
		config:         cfg,
		requireMention: requireMention,
	}, nil
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	// Stop() cancels this context to cleanly shut down long polling.
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				} else {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
				}
			}
		}
	}()

	return nil
}

// Stop cancels the long polling context and waits for the polling
// goroutine to exit so Telegram releases the getUpdates lock before a
// new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}

	return nil
}

// StreamEnabled reports whether live preview edits are active.
// Only stream_mode "partial" turns them on.
func (c *Channel) StreamEnabled() bool {
	return c.config.StreamMode == "partial"
}

func (c *Channel) editInterval() time.Duration {
	ms := c.config.EditIntervalMs
	if ms <= 0 {
		ms = defaultEditIntervalMs
	}
	return time.Duration(ms) * time.Millisecond
}

// parseChatID converts a string chat ID to int64.
func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}

// telegramGeneralTopicID is the fixed ID of the "General" topic in
// forum supergroups.
const telegramGeneralTopicID = 1

// localKey identifies the placeholder/stream scope for a chat:
// "{chatID}" for regular chats, "{chatID}:topic:{N}" for forum topics.
func localKey(chatIDStr string, topicID int) string {
	if topicID > 0 {
		return fmt.Sprintf("%s:topic:%d", chatIDStr, topicID)
	}
	return chatIDStr
}

// splitLocalKey extracts the numeric chat ID and topic ID from a
// localKey. "-12345" → (-12345, 0), "-12345:topic:99" → (-12345, 99).
func splitLocalKey(key string) (int64, int, error) {
	raw := key
	topicID := 0
	if idx := strings.Index(key, ":topic:"); idx > 0 {
		raw = key[:idx]
		fmt.Sscanf(key[idx+len(":topic:"):], "%d", &topicID)
	}
	chatID, err := parseChatID(raw)
	return chatID, topicID, err
}

// resolveThreadIDForSend returns the thread ID for send/edit API calls.
// The General topic (1) must be omitted or Telegram rejects the call
// with "thread not found".
func resolveThreadIDForSend(threadID int) int {
	if threadID == telegramGeneralTopicID {
		return 0
	}
	return threadID
}
