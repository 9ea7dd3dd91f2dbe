// Package discord connects the analytics bot to Discord through a
// gateway session. DMs always reach the bot; guild channels require a
// mention by default. Replies edit a "Thinking..." placeholder and CSV
// exports are uploaded as file attachments.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/hatchdata/askdb/internal/bus"
	"github.com/hatchdata/askdb/internal/channels"
	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/memory"
)

// discordMaxMessageLen is the per-message character cap.
const discordMaxMessageLen = 2000

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session        *discordgo.Session
	config         config.DiscordConfig
	botUserID      string // populated on start
	requireMention bool
	placeholders   sync.Map // inbound message ID → placeholder message ID
}

// New creates a Discord channel from config.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	requireMention := true
	if cfg.RequireMention != nil {
		requireMention = *cfg.RequireMention
	}

	return &Channel{
		BaseChannel:    channels.NewBaseChannel("discord", msgBus, cfg.AllowFrom),
		session:        session,
		config:         cfg,
		requireMention: requireMention,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	if m.Author.Username != "" {
		senderID = fmt.Sprintf("%s|%s", m.Author.ID, m.Author.Username)
	}
	senderName := resolveDisplayName(m)

	if !c.IsAllowed(senderID) {
		slog.Debug("discord message rejected by allowlist",
			"user_id", m.Author.ID, "username", m.Author.Username)
		return
	}

	channelID := m.ChannelID
	isDM := m.GuildID == ""

	content := m.Content
	if content == "" {
		return
	}

	// Guild channels require a mention by default so the bot doesn't
	// answer every message.
	if !isDM && c.requireMention {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			slog.Debug("discord guild message ignored (no mention)", "channel_id", channelID)
			return
		}
		content = stripBotMention(content, c.botUserID)
		if content == "" {
			content = "(no question)"
		}
	}

	slog.Debug("discord message received",
		"sender_id", m.Author.ID,
		"channel_id", channelID,
		"is_dm", isDM,
		"preview", channels.Truncate(content, 50),
	)

	if err := c.session.ChannelTyping(channelID); err != nil {
		slog.Debug("discord typing indicator failed", "channel_id", channelID, "error", err)
	}

	// Placeholder keyed by the inbound message ID so concurrent
	// questions in one channel resolve to their own placeholders.
	if placeholder, err := c.session.ChannelMessageSend(channelID, "Thinking..."); err == nil {
		c.placeholders.Store(m.ID, placeholder.ID)
	}

	metadata := map[string]string{
		"message_id":      m.ID,
		"user_id":         m.Author.ID,
		"username":        m.Author.Username,
		"display_name":    senderName,
		"guild_id":        m.GuildID,
		"is_dm":           fmt.Sprintf("%t", isDM),
		"placeholder_key": m.ID,
	}

	c.HandleMessage(senderID, channelID, memory.ThreadKey(c.Name(), channelID), content, metadata)
}

// Send delivers the final reply. The first chunk edits the placeholder
// when one is pending; CSV exports are attached as files.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		return fmt.Errorf("empty chat ID for discord send")
	}

	placeholderKey := msg.Metadata["placeholder_key"]
	if placeholderKey == "" {
		placeholderKey = channelID
	}

	if msg.Content == "" {
		// Nothing to say; drop a stale placeholder instead of leaving
		// "Thinking..." behind.
		if pID, ok := c.placeholders.LoadAndDelete(placeholderKey); ok {
			_ = c.session.ChannelMessageDelete(channelID, pID.(string))
		}
	} else {
		chunks := channels.SplitMessage(msg.Content, discordMaxMessageLen)
		start := 0
		if pID, ok := c.placeholders.LoadAndDelete(placeholderKey); ok {
			if _, err := c.session.ChannelMessageEdit(channelID, pID.(string), chunks[0]); err == nil {
				start = 1
			} else {
				slog.Warn("discord placeholder edit failed, sending new message",
					"channel_id", channelID, "error", err)
			}
		}
		for _, chunk := range chunks[start:] {
			if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
				return fmt.Errorf("send discord message: %w", err)
			}
		}
	}

	for _, path := range msg.Files {
		if err := c.sendFile(channelID, path); err != nil {
			slog.Error("discord file upload failed", "path", path, "error", err)
		}
	}

	return nil
}

func (c *Channel) sendFile(channelID, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	if _, err := c.session.ChannelFileSend(channelID, filepath.Base(path), f); err != nil {
		return fmt.Errorf("send file: %w", err)
	}
	return nil
}

// stripBotMention removes <@id> and <@!id> mention tags from the
// question text.
func stripBotMention(content, botUserID string) string {
	content = strings.ReplaceAll(content, "<@"+botUserID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botUserID+">", "")
	return strings.TrimSpace(content)
}

// resolveDisplayName returns the best display name for a message
// author: server nickname, then global display name, then username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
