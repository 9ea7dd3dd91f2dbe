package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/hatchdata/askdb/internal/channels"
	"github.com/hatchdata/askdb/internal/memory"
)

const welcomeText = "Hi! I answer questions about the app portfolio database.\n\n" +
	"Try asking:\n" +
	"• How many apps do we have?\n" +
	"• What's the total revenue by country?\n" +
	"• Show me the top 5 apps by installs\n" +
	"• Export the results as CSV"

const helpText = "Commands:\n" +
	"/start — What this bot does\n" +
	"/help — Show this message\n" +
	"/reset — Clear this conversation's history\n" +
	"/status — Show bot status\n\n" +
	"Ask questions in plain language; I translate them to SQL, run them " +
	"read-only, and can export results as CSV."

// handleMessage processes one incoming Telegram message.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	// Service messages (member joined, title changed, pin) have no
	// user content and would pollute the mention gate.
	if isServiceMessage(message) {
		slog.Debug("telegram service message skipped", "chat_id", message.Chat.ID)
		return
	}

	user := message.From
	if user == nil {
		return
	}

	userID := fmt.Sprintf("%d", user.ID)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}

	if !c.IsAllowed(senderID) {
		slog.Debug("telegram message rejected by allowlist",
			"user_id", userID, "username", user.Username)
		return
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"

	// For non-forum groups message_thread_id is reply context, not a
	// topic. Forum messages without one belong to the General topic.
	topicID := 0
	if isGroup && message.Chat.IsForum {
		topicID = message.MessageThreadID
		if topicID == 0 {
			topicID = telegramGeneralTopicID
		}
	}

	content := message.Text
	if message.Caption != "" {
		if content != "" {
			content += "\n"
		}
		content += message.Caption
	}
	if content == "" {
		return
	}

	chatID := message.Chat.ID
	chatIDStr := fmt.Sprintf("%d", chatID)
	key := localKey(chatIDStr, topicID)

	slog.Debug("telegram message received",
		"chat_type", message.Chat.Type,
		"sender_id", senderID,
		"chat_id", chatIDStr,
		"preview", channels.Truncate(content, 60),
	)

	if c.handleBotCommand(ctx, chatID, key, senderID, content, topicID) {
		return
	}

	// Groups require a mention by default so the bot doesn't answer
	// every message in a busy chat. Replying to the bot counts.
	if isGroup && c.requireMention {
		if !c.detectMention(message) {
			slog.Debug("telegram group message ignored (no mention)", "chat_id", chatIDStr)
			return
		}
		content = stripMention(content, c.bot.Username())
		if content == "" {
			content = "(no question)"
		}
	}

	typingAction := tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping)
	if topicID > 0 {
		typingAction.MessageThreadID = topicID
	}
	_ = c.bot.SendChatAction(ctx, typingAction)

	// Placeholder only in DMs. In groups it drifts away as new messages
	// arrive before the reply is ready.
	if !isGroup {
		pMsg, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), "Thinking..."))
		if err != nil {
			slog.Debug("telegram placeholder failed", "chat_id", chatIDStr, "error", err)
		} else if prev, replaced := c.placeholders.Swap(key, pMsg.MessageID); replaced {
			// A second question arrived before the first answer. Drop the
			// stale placeholder so it doesn't sit there forever.
			_ = c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{
				ChatID:    tu.ID(chatID),
				MessageID: prev.(int),
			})
		}
	}

	metadata := map[string]string{
		"message_id": fmt.Sprintf("%d", message.MessageID),
		"user_id":    userID,
		"username":   user.Username,
		"is_group":   fmt.Sprintf("%t", isGroup),
		"local_key":  key,
	}
	if topicID > 0 {
		metadata["message_thread_id"] = fmt.Sprintf("%d", topicID)
	}

	c.HandleMessage(senderID, chatIDStr, memory.ThreadKey(c.Name(), key), content, metadata)
}

// handleBotCommand answers /start, /help and /status inline and turns
// /reset into a control message for the consumer. Returns true when the
// message was a command.
func (c *Channel) handleBotCommand(ctx context.Context, chatID int64, key, senderID, text string, topicID int) bool {
	if len(text) == 0 || text[0] != '/' {
		return false
	}

	cmd := strings.SplitN(text, " ", 2)[0]
	cmd = strings.SplitN(cmd, "@", 2)[0]
	cmd = strings.ToLower(cmd)

	reply := func(body string) {
		msg := tu.Message(tu.ID(chatID), body)
		if threadID := resolveThreadIDForSend(topicID); threadID > 0 {
			msg.MessageThreadID = threadID
		}
		if _, err := c.bot.SendMessage(ctx, msg); err != nil {
			slog.Warn("telegram command reply failed", "command", cmd, "error", err)
		}
	}

	switch cmd {
	case "/start":
		reply(welcomeText)
	case "/help":
		reply(helpText)
	case "/status":
		reply(fmt.Sprintf("Bot status: running\nChannel: Telegram\nBot: @%s", c.bot.Username()))
	case "/reset":
		c.HandleMessage(senderID, fmt.Sprintf("%d", chatID), memory.ThreadKey(c.Name(), key), "/reset", map[string]string{
			"command":   "reset",
			"local_key": key,
		})
		reply("Conversation history has been reset.")
	default:
		return false
	}
	return true
}

// detectMention checks if a message mentions the bot, via entities in
// text or caption, a plain substring, or a reply to the bot's message.
func (c *Channel) detectMention(msg *telego.Message) bool {
	botUsername := c.bot.Username()
	if botUsername == "" {
		return false
	}
	handle := "@" + strings.ToLower(botUsername)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		for _, entity := range pair.entities {
			if entity.Type != "mention" && entity.Type != "bot_command" {
				continue
			}
			end := entity.Offset + entity.Length
			if end > len(pair.text) {
				continue
			}
			span := pair.text[entity.Offset:end]
			if strings.Contains(strings.ToLower(span), handle) {
				return true
			}
		}
		if strings.Contains(strings.ToLower(pair.text), handle) {
			return true
		}
	}

	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		return msg.ReplyToMessage.From.Username == botUsername
	}
	return false
}

// stripMention removes the bot's @handle from the question text.
func stripMention(text, botUsername string) string {
	if botUsername == "" {
		return strings.TrimSpace(text)
	}
	handle := "@" + botUsername
	for {
		idx := strings.Index(strings.ToLower(text), strings.ToLower(handle))
		if idx < 0 {
			break
		}
		text = text[:idx] + text[idx+len(handle):]
	}
	return strings.TrimSpace(text)
}

// isServiceMessage reports whether the message is a system notice
// (member joined/left, title change, pin) rather than user content.
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if msg.Photo != nil || msg.Document != nil || msg.Voice != nil ||
		msg.Audio != nil || msg.Video != nil || msg.Sticker != nil {
		return false
	}
	return true
}
