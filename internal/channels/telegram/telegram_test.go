package telegram

import (
	"context"
	"sync"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/config"
)

type fakeBot struct {
	mu       sync.Mutex
	updates  chan telego.Update
	sent     []*telego.SendMessageParams
	deleted  []*telego.DeleteMessageParams
	commands []telego.BotCommand
	synced   chan struct{}
}

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan telego.Update, 4), synced: make(chan struct{}, 1)}
}

func (b *fakeBot) GetMe(context.Context) (*telego.User, error) {
	return &telego.User{ID: 999, Username: "humuter_bot", IsBot: true}, nil
}

func (b *fakeBot) Updates(context.Context, int) (<-chan telego.Update, error) {
	return b.updates, nil
}

func (b *fakeBot) SendMessage(_ context.Context, p *telego.SendMessageParams) (*telego.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, p)
	return &telego.Message{MessageID: 500 + len(b.sent)}, nil
}

func (b *fakeBot) DeleteMessage(_ context.Context, p *telego.DeleteMessageParams) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, p)
	return nil
}

func (b *fakeBot) SetMyCommands(_ context.Context, p *telego.SetMyCommandsParams) error {
	b.mu.Lock()
	b.commands = p.Commands
	b.mu.Unlock()
	b.synced <- struct{}{}
	return nil
}

func (b *fakeBot) DeleteMyCommands(context.Context, *telego.DeleteMyCommandsParams) error { return nil }

type recordingRouter struct {
	ch chan bus.InboundMessage
}

func (r *recordingRouter) PublishInbound(msg bus.InboundMessage) { r.ch <- msg }

func (r *recordingRouter) ConsumeInbound(context.Context) (bus.InboundMessage, bool) {
	return bus.InboundMessage{}, false
}

func TestNormalize(t *testing.T) {
	alice := &telego.User{ID: 42, FirstName: "Alice", LastName: "Liddell", Username: "alice"}
	group := telego.Chat{ID: -1001, Type: "supergroup"}

	t.Run("group text", func(t *testing.T) {
		got, ok := normalize(&telego.Message{MessageID: 7, From: alice, Chat: group, Text: " gm "}, 999)
		if !ok {
			t.Fatal("dropped")
		}
		want := bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: "-1001", MessageID: "7", SenderID: "42",
			SenderName: "Alice Liddell", Content: "gm", IsGroup: true}
		if got.ChatID != want.ChatID || got.MessageID != want.MessageID || got.SenderID != want.SenderID ||
			got.SenderName != want.SenderName || got.Content != want.Content || !got.IsGroup {
			t.Errorf("got %+v", got)
		}
		if got.Metadata["username"] != "alice" {
			t.Errorf("metadata = %v", got.Metadata)
		}
	})

	t.Run("private chat", func(t *testing.T) {
		got, _ := normalize(&telego.Message{MessageID: 8, From: alice, Chat: telego.Chat{ID: 42, Type: "private"}, Text: "hi"}, 999)
		if got.IsGroup || got.ChatID != "42" || got.RouteScope() != "42" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("reply to bot", func(t *testing.T) {
		got, _ := normalize(&telego.Message{MessageID: 9, From: alice, Chat: group, Text: "/direct yes",
			ReplyToMessage: &telego.Message{MessageID: 3, From: &telego.User{ID: 999, IsBot: true}}}, 999)
		if got.ReplyToMessageID != "3" || !got.ReplyToSelf {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("caption used when no text", func(t *testing.T) {
		got, _ := normalize(&telego.Message{MessageID: 10, From: alice, Chat: group, Caption: "what is this?",
			Photo: []telego.PhotoSize{{FileID: "f"}}}, 999)
		if got.Content != "what is this?" {
			t.Errorf("content = %q", got.Content)
		}
	})

	t.Run("service message dropped", func(t *testing.T) {
		if _, ok := normalize(&telego.Message{MessageID: 11, From: alice, Chat: group}, 999); ok {
			t.Error("service message should be dropped")
		}
	})

	t.Run("other bot dropped", func(t *testing.T) {
		if _, ok := normalize(&telego.Message{MessageID: 12, From: &telego.User{ID: 5, IsBot: true}, Chat: group, Text: "x"}, 999); ok {
			t.Error("bot message should be dropped")
		}
	})
}

func TestChannel_PollAndSend(t *testing.T) {
	bot := newFakeBot()
	router := &recordingRouter{ch: make(chan bus.InboundMessage, 4)}
	c := newChannel(bot, config.TelegramConfig{AllowFrom: []string{"@alice"}}, router)
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Stop(ctx)

	<-bot.synced
	if len(bot.commands) != 2 {
		t.Errorf("menu commands = %v", bot.commands)
	}

	bot.updates <- telego.Update{UpdateID: 1, Message: &telego.Message{MessageID: 20,
		From: &telego.User{ID: 7, Username: "mallory"}, Chat: telego.Chat{ID: 7, Type: "private"}, Text: "not allowed"}}
	bot.updates <- telego.Update{UpdateID: 2, Message: &telego.Message{MessageID: 21,
		From: &telego.User{ID: 42, Username: "Alice"}, Chat: telego.Chat{ID: 42, Type: "private"}, Text: "hello"}}

	got := <-router.ch
	if got.MessageID != "21" || got.Channel != bus.ChannelTelegram {
		t.Errorf("published %+v, want only the allowlisted sender", got)
	}

	id, err := c.SendReply(ctx, "-1001", "answer", "21")
	if err != nil {
		t.Fatal(err)
	}
	if id != "501" {
		t.Errorf("id = %q", id)
	}
	p := bot.sent[0]
	if p.ChatID.ID != -1001 || p.Text != "answer" || p.ReplyParameters == nil || p.ReplyParameters.MessageID != 21 {
		t.Errorf("send params = %+v", p)
	}

	if _, err := c.SendDirectMessage(ctx, "42", "escalation"); err != nil {
		t.Fatal(err)
	}
	if bot.sent[1].ChatID.ID != 42 || bot.sent[1].ReplyParameters != nil {
		t.Errorf("dm params = %+v", bot.sent[1])
	}

	if err := c.DeleteMessage(ctx, "-1001", "33"); err != nil {
		t.Fatal(err)
	}
	if d := bot.deleted[0]; d.ChatID.ID != -1001 || d.MessageID != 33 {
		t.Errorf("delete params = %+v", d)
	}
}

func TestChannel_InvalidIDs(t *testing.T) {
	c := newChannel(newFakeBot(), config.TelegramConfig{}, &recordingRouter{})
	c.SetRunning(true)
	ctx := context.Background()
	if _, err := c.SendReply(ctx, "not-a-number", "x", ""); err == nil {
		t.Error("expected chat id error")
	}
	if err := c.DeleteMessage(ctx, "1", "abc"); err == nil {
		t.Error("expected message id error")
	}
}
