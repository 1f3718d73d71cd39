// Package personal runs a Telegram user account (MTProto, via gotd) as a
// channel, for projects that want the agent to speak as a person rather than
// a bot.
package personal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/cache"
	"github.com/rishsane/humuter-sub000/internal/channels"
	"github.com/rishsane/humuter-sub000/internal/config"
)

// ErrNotAuthorized is returned by Start when the session file holds no
// logged-in account. Run the telegram-login command first.
var ErrNotAuthorized = errors.New("telegram user session not authorized")

// ownMessageTTL bounds how long sent message ids are remembered for
// reply-to-self detection.
const ownMessageTTL = 48 * time.Hour

// Channel is a Telegram personal-account adapter.
type Channel struct {
	*channels.BaseChannel
	client *telegram.Client
	sender *message.Sender
	selfID atomic.Int64

	peers sync.Map             // chat id / user id string -> tg.InputPeerClass
	own   *cache.TTL[struct{}] // "chatID:msgID" of messages this account sent

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

// New creates the adapter. log receives gotd's internal logging; nil = silent.
func New(cfg config.TelegramUserConfig, router bus.MessageRouter, log *zap.Logger) (*Channel, error) {
	if cfg.AppID == 0 || cfg.AppHash == "" {
		return nil, fmt.Errorf("telegram app_id and app_hash are required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	base := channels.NewBaseChannel(bus.ChannelTelegramUser, router, cfg.AllowFrom)
	base.SetAgentID(cfg.AgentID)
	c := &Channel{
		BaseChannel: base,
		own:         cache.NewTTL[struct{}](ownMessageTTL),
	}

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		c.handleUpdate(u.Message, e)
		return nil
	})
	dispatcher.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		c.handleUpdate(u.Message, e)
		return nil
	})

	c.client = telegram.NewClient(cfg.AppID, cfg.AppHash, telegram.Options{
		Logger:         log.Named("gotd"),
		SessionStorage: &session.FileStorage{Path: config.ExpandHome(cfg.SessionFile)},
		UpdateHandler:  dispatcher,
	})
	c.sender = message.NewSender(c.client.API())
	return c, nil
}

// Start connects and verifies the stored session. It returns once the account
// identity is known; the MTProto connection keeps running in the background.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting telegram user session")

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.done = make(chan struct{})
	ready := make(chan error, 1)

	go func() {
		defer close(c.done)
		c.runErr = c.client.Run(runCtx, func(ctx context.Context) error {
			status, err := c.client.Auth().Status(ctx)
			if err != nil {
				ready <- fmt.Errorf("auth status: %w", err)
				return err
			}
			if !status.Authorized {
				ready <- ErrNotAuthorized
				return ErrNotAuthorized
			}
			self, err := c.client.Self(ctx)
			if err != nil {
				ready <- fmt.Errorf("fetch self: %w", err)
				return err
			}
			c.selfID.Store(self.ID)
			ready <- nil
			slog.Info("telegram user session connected", "id", self.ID, "username", self.Username)

			<-ctx.Done()
			return ctx.Err()
		})
	}()

	select {
	case err := <-ready:
		if err != nil {
			cancel()
			<-c.done
			return err
		}
	case <-c.done:
		cancel()
		return fmt.Errorf("telegram user session: %w", c.runErr)
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}

	c.SetRunning(true)
	return nil
}

// Stop disconnects and waits for the client to exit.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping telegram user session")
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.done != nil {
		select {
		case <-c.done:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram user session did not exit within timeout")
		}
	}
	return nil
}

// SendReply posts text to a chat this account has seen, threaded under replyTo.
func (c *Channel) SendReply(ctx context.Context, chatID, text, replyTo string) (string, error) {
	if !c.IsRunning() {
		return "", channels.ErrNotRunning
	}
	peer, ok := c.peer(chatID)
	if !ok {
		return "", fmt.Errorf("telegram user: unknown chat %q", chatID)
	}

	b := &c.sender.To(peer).Builder
	if replyTo != "" {
		if mid, err := strconv.Atoi(replyTo); err == nil {
			b = b.Reply(mid)
		}
	}
	upd, err := b.Text(ctx, text)
	if err != nil {
		return "", fmt.Errorf("send telegram user message: %w", err)
	}

	id := sentMessageID(upd)
	if id == 0 {
		return "", nil
	}
	sid := strconv.Itoa(id)
	c.own.Set(chatID+":"+sid, struct{}{})
	return sid, nil
}

// DeleteMessage revokes a message for everyone. In groups this needs admin rights.
func (c *Channel) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	if !c.IsRunning() {
		return channels.ErrNotRunning
	}
	mid, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}
	peer, ok := c.peer(chatID)
	if !ok {
		return fmt.Errorf("telegram user: unknown chat %q", chatID)
	}

	api := c.client.API()
	if ch, ok := peer.(*tg.InputPeerChannel); ok {
		_, err = api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: ch.ChannelID, AccessHash: ch.AccessHash},
			ID:      []int{mid},
		})
	} else {
		_, err = api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{Revoke: true, ID: []int{mid}})
	}
	if err != nil {
		return fmt.Errorf("delete telegram user message: %w", err)
	}
	return nil
}

// SendDirectMessage writes to the user's private chat. The user must have been
// seen in an update first so their access hash is known.
func (c *Channel) SendDirectMessage(ctx context.Context, userID, text string) (string, error) {
	return c.SendReply(ctx, userID, text, "")
}

func (c *Channel) peer(chatID string) (tg.InputPeerClass, bool) {
	v, ok := c.peers.Load(chatID)
	if !ok {
		return nil, false
	}
	return v.(tg.InputPeerClass), true
}

func (c *Channel) handleUpdate(mc tg.MessageClass, e tg.Entities) {
	m, ok := mc.(*tg.Message)
	if !ok {
		return
	}
	c.learnPeers(m, e)

	msg, ok := normalize(m, e, c.selfID.Load(), c.isOwn)
	if !ok {
		return
	}
	if msg.FromSelf {
		c.own.Set(msg.ChatID+":"+msg.MessageID, struct{}{})
	}
	slog.Debug("telegram user message received",
		"chat_id", msg.ChatID,
		"is_group", msg.IsGroup,
		"user_id", msg.SenderID,
		"reply_to_self", msg.ReplyToSelf,
	)
	c.Publish(msg)
}

func (c *Channel) isOwn(chatID, messageID string) bool {
	_, ok := c.own.Get(chatID + ":" + messageID)
	return ok
}

// learnPeers remembers input peers (with access hashes) for the chat and every
// user the update mentions, so replies and DMs can be addressed later.
func (c *Channel) learnPeers(m *tg.Message, e tg.Entities) {
	for id, u := range e.Users {
		c.peers.Store(strconv.FormatInt(id, 10), tg.InputPeerClass(&tg.InputPeerUser{UserID: id, AccessHash: u.AccessHash}))
	}
	switch p := m.PeerID.(type) {
	case *tg.PeerChat:
		c.peers.Store(chatKey(p), tg.InputPeerClass(&tg.InputPeerChat{ChatID: p.ChatID}))
	case *tg.PeerChannel:
		if ch, ok := e.Channels[p.ChannelID]; ok {
			c.peers.Store(chatKey(p), tg.InputPeerClass(&tg.InputPeerChannel{ChannelID: p.ChannelID, AccessHash: ch.AccessHash}))
		}
	}
}
