// Package telegram is the Telegram Bot API adapter, built on telego long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/channels"
	"github.com/rishsane/humuter-sub000/internal/config"
)

// botAPI is the slice of *telego.Bot the adapter uses.
type botAPI interface {
	GetMe(ctx context.Context) (*telego.User, error)
	Updates(ctx context.Context, timeout int) (<-chan telego.Update, error)
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
	DeleteMessage(ctx context.Context, params *telego.DeleteMessageParams) error
	SetMyCommands(ctx context.Context, params *telego.SetMyCommandsParams) error
	DeleteMyCommands(ctx context.Context, params *telego.DeleteMyCommandsParams) error
}

// realBot wraps *telego.Bot to implement botAPI.
type realBot struct {
	*telego.Bot
}

func (b realBot) Updates(ctx context.Context, timeout int) (<-chan telego.Update, error) {
	return b.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        timeout,
		AllowedUpdates: []string{"message"},
	})
}

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot         botAPI
	config      config.TelegramConfig
	botUserID   int64
	botUsername string
	pollCancel  context.CancelFunc // cancels the long polling context
	pollDone    chan struct{}      // closed when polling goroutine exits
}

// New creates a new Telegram channel from config.
func New(cfg config.TelegramConfig, router bus.MessageRouter) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return newChannel(realBot{bot}, cfg, router), nil
}

func newChannel(bot botAPI, cfg config.TelegramConfig, router bus.MessageRouter) *Channel {
	base := channels.NewBaseChannel(bus.ChannelTelegram, router, cfg.AllowFrom)
	base.SetAgentID(cfg.AgentID)
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30
	}
	return &Channel{BaseChannel: base, bot: bot, config: cfg}
}

// Start begins long polling for Telegram updates.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram bot (polling mode)")

	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("fetch telegram bot identity: %w", err)
	}
	c.botUserID = me.ID
	c.botUsername = me.Username

	// Stop() cancels this context to shut down long polling.
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.Updates(pollCtx, c.config.PollTimeout)
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.botUsername, "id", c.botUserID)

	go func() {
		if err := c.SyncMenuCommands(pollCtx, SupervisorMenuCommands()); err != nil {
			slog.Warn("failed to sync telegram menu commands", "error", err)
		}
	}()

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
					c.handleMessage(update.Message)
				} else {
					slog.Debug("telegram update skipped (no message)", "update_id", update.UpdateID)
				}
			}
		}
	}()

	return nil
}

// Stop cancels long polling and waits for the polling goroutine to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram bot")
	c.SetRunning(false)

	if c.pollCancel != nil {
		c.pollCancel()
	}

	// Telegram releases the getUpdates lock only once polling has exited.
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

// SendReply posts text to chatID, replying to replyTo when set. A reply to a
// message that no longer exists is sent as a plain message.
func (c *Channel) SendReply(ctx context.Context, chatID, text, replyTo string) (string, error) {
	if !c.IsRunning() {
		return "", channels.ErrNotRunning
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}

	params := tu.Message(tu.ID(id), text)
	if replyTo != "" {
		if mid, err := strconv.Atoi(replyTo); err == nil {
			params.ReplyParameters = &telego.ReplyParameters{MessageID: mid, AllowSendingWithoutReply: true}
		}
	}
	m, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		return "", fmt.Errorf("send telegram message: %w", err)
	}
	return strconv.Itoa(m.MessageID), nil
}

// DeleteMessage removes a message. The bot needs delete rights in groups.
func (c *Channel) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if !c.IsRunning() {
		return channels.ErrNotRunning
	}
	id, err := parseChatID(chatID)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	mid, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}
	if err := c.bot.DeleteMessage(ctx, &telego.DeleteMessageParams{ChatID: tu.ID(id), MessageID: mid}); err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}

// SendDirectMessage posts to the user's private chat. Private chat ids equal
// user ids; the user must have started the bot before.
func (c *Channel) SendDirectMessage(ctx context.Context, userID, text string) (string, error) {
	return c.SendReply(ctx, userID, text, "")
}

// parseChatID converts a string chat ID to int64.
func parseChatID(chatIDStr string) (int64, error) {
	return strconv.ParseInt(chatIDStr, 10, 64)
}
