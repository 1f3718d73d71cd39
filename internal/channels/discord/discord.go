// Package discord is the Discord bot adapter, built on discordgo gateway events.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/channels"
	"github.com/rishsane/humuter-sub000/internal/config"
)

// session is the slice of *discordgo.Session the adapter uses.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	Self() (*discordgo.User, error)
	Send(ctx context.Context, channelID, content, replyTo string) (*discordgo.Message, error)
	Delete(ctx context.Context, channelID, messageID string) error
	DMChannel(ctx context.Context, userID string) (*discordgo.Channel, error)
}

// realSession wraps *discordgo.Session to implement session.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }

func (r *realSession) AddHandler(handler interface{}) func() { return r.s.AddHandler(handler) }

func (r *realSession) Self() (*discordgo.User, error) { return r.s.User("@me") }

func (r *realSession) Send(ctx context.Context, channelID, content, replyTo string) (*discordgo.Message, error) {
	if replyTo == "" {
		return r.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	}
	ref := &discordgo.MessageReference{MessageID: replyTo, ChannelID: channelID}
	return r.s.ChannelMessageSendReply(channelID, content, ref, discordgo.WithContext(ctx))
}

func (r *realSession) Delete(ctx context.Context, channelID, messageID string) error {
	return r.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx))
}

func (r *realSession) DMChannel(ctx context.Context, userID string) (*discordgo.Channel, error) {
	return r.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
}

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	sess      session
	botUserID string // populated on start
	remove    func()
}

// New creates a new Discord channel from config.
func New(cfg config.DiscordConfig, router bus.MessageRouter) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	dg, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Request necessary intents
	dg.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return newChannel(&realSession{s: dg}, cfg, router), nil
}

func newChannel(sess session, cfg config.DiscordConfig, router bus.MessageRouter) *Channel {
	base := channels.NewBaseChannel(bus.ChannelDiscord, router, cfg.AllowFrom)
	base.SetAgentID(cfg.AgentID)
	return &Channel{BaseChannel: base, sess: sess}
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.remove = c.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(m)
	})

	if err := c.sess.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	// Fetch bot identity
	user, err := c.sess.Self()
	if err != nil {
		c.sess.Close()
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
	if c.remove != nil {
		c.remove()
	}
	return c.sess.Close()
}

// SendReply posts text to a Discord channel, as a reply when replyTo is set.
func (c *Channel) SendReply(ctx context.Context, chatID, text, replyTo string) (string, error) {
	if !c.IsRunning() {
		return "", channels.ErrNotRunning
	}
	if chatID == "" {
		return "", fmt.Errorf("empty chat ID for discord send")
	}
	m, err := c.sess.Send(ctx, chatID, text, replyTo)
	if err != nil {
		return "", fmt.Errorf("send discord message: %w", err)
	}
	return m.ID, nil
}

// DeleteMessage removes a message. Requires Manage Messages in guilds.
func (c *Channel) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if !c.IsRunning() {
		return channels.ErrNotRunning
	}
	if err := c.sess.Delete(ctx, chatID, messageID); err != nil {
		return fmt.Errorf("delete discord message: %w", err)
	}
	return nil
}

// SendDirectMessage opens the DM channel with userID and posts text there.
func (c *Channel) SendDirectMessage(ctx context.Context, userID, text string) (string, error) {
	if !c.IsRunning() {
		return "", channels.ErrNotRunning
	}
	dm, err := c.sess.DMChannel(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("open discord dm: %w", err)
	}
	return c.SendReply(ctx, dm.ID, text, "")
}

// handleMessage processes incoming Discord messages.
func (c *Channel) handleMessage(m *discordgo.MessageCreate) {
	msg, ok := normalize(m, c.botUserID)
	if !ok {
		return
	}

	slog.Debug("discord message received",
		"sender_id", msg.SenderID,
		"channel_id", msg.ChatID,
		"is_dm", !msg.IsGroup,
		"reply_to_self", msg.ReplyToSelf,
	)
	c.Publish(msg)
}

// normalize maps a gateway event onto the bus envelope. Messages from other
// bots are dropped; our own messages come back flagged FromSelf.
func normalize(m *discordgo.MessageCreate, botUserID string) (bus.InboundMessage, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return bus.InboundMessage{}, false
	}
	fromSelf := botUserID != "" && m.Author.ID == botUserID
	if m.Author.Bot && !fromSelf {
		return bus.InboundMessage{}, false
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}

	isDM := m.GuildID == ""
	msg := bus.InboundMessage{
		Channel:    bus.ChannelDiscord,
		ScopeID:    m.GuildID,
		ChatID:     m.ChannelID,
		MessageID:  m.ID,
		SenderID:   m.Author.ID,
		SenderName: resolveDisplayName(m),
		Content:    strings.TrimSpace(content),
		IsGroup:    !isDM,
		FromSelf:   fromSelf,
		Metadata: map[string]string{
			"username": m.Author.Username,
		},
	}
	// DM channel ids are per-user, so DMs route by the sender.
	if isDM {
		msg.ScopeID = m.Author.ID
	}

	if ref := m.MessageReference; ref != nil && ref.MessageID != "" {
		msg.ReplyToMessageID = ref.MessageID
	}
	if rm := m.ReferencedMessage; rm != nil {
		if msg.ReplyToMessageID == "" {
			msg.ReplyToMessageID = rm.ID
		}
		msg.ReplyToSelf = botUserID != "" && rm.Author != nil && rm.Author.ID == botUserID
	}
	return msg, true
}

// resolveDisplayName returns the best available display name for a Discord message author.
// Priority: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
