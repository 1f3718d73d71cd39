package discord

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/channels"
	"github.com/rishsane/humuter-sub000/internal/config"
)

type sent struct {
	channelID, content, replyTo string
}

type mockSession struct {
	mu      sync.Mutex
	opened  bool
	closed  bool
	sent    []sent
	deleted []string
	handler interface{}
	sendErr error
}

func (m *mockSession) Open() error  { m.opened = true; return nil }
func (m *mockSession) Close() error { m.closed = true; return nil }

func (m *mockSession) AddHandler(h interface{}) func() {
	m.handler = h
	return func() { m.handler = nil }
}

func (m *mockSession) Self() (*discordgo.User, error) {
	return &discordgo.User{ID: "bot", Username: "humuter"}, nil
}

func (m *mockSession) Send(_ context.Context, channelID, content, replyTo string) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	m.sent = append(m.sent, sent{channelID, content, replyTo})
	return &discordgo.Message{ID: "sent-1"}, nil
}

func (m *mockSession) Delete(_ context.Context, channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, channelID+"/"+messageID)
	return nil
}

func (m *mockSession) DMChannel(_ context.Context, userID string) (*discordgo.Channel, error) {
	return &discordgo.Channel{ID: "dm-" + userID}, nil
}

type recordingRouter struct {
	mu   sync.Mutex
	msgs []bus.InboundMessage
}

func (r *recordingRouter) PublishInbound(msg bus.InboundMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recordingRouter) ConsumeInbound(context.Context) (bus.InboundMessage, bool) {
	return bus.InboundMessage{}, false
}

func create(m *discordgo.Message) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: m}
}

func TestNormalize(t *testing.T) {
	alice := &discordgo.User{ID: "u1", Username: "alice", GlobalName: "Alice A"}

	t.Run("guild message", func(t *testing.T) {
		m := create(&discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1", Author: alice, Content: "  hi  ",
			Member: &discordgo.Member{Nick: "ally"}})
		got, ok := normalize(m, "bot")
		if !ok {
			t.Fatal("dropped")
		}
		if !got.IsGroup || got.ScopeID != "g1" || got.ChatID != "c1" || got.SenderName != "ally" || got.Content != "hi" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("dm routes by sender", func(t *testing.T) {
		got, _ := normalize(create(&discordgo.Message{ID: "m2", ChannelID: "dmc", Author: alice, Content: "hey"}), "bot")
		if got.IsGroup || got.ScopeID != "u1" || got.ChatID != "dmc" || got.SenderName != "Alice A" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("reply to bot", func(t *testing.T) {
		m := create(&discordgo.Message{ID: "m3", ChannelID: "c1", GuildID: "g1", Author: alice, Content: "thanks",
			MessageReference:  &discordgo.MessageReference{MessageID: "b1"},
			ReferencedMessage: &discordgo.Message{ID: "b1", Author: &discordgo.User{ID: "bot"}},
		})
		got, _ := normalize(m, "bot")
		if got.ReplyToMessageID != "b1" || !got.ReplyToSelf {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("reply to someone else", func(t *testing.T) {
		m := create(&discordgo.Message{ID: "m4", ChannelID: "c1", GuildID: "g1", Author: alice, Content: "+1",
			ReferencedMessage: &discordgo.Message{ID: "x1", Author: &discordgo.User{ID: "u9"}},
		})
		got, _ := normalize(m, "bot")
		if got.ReplyToMessageID != "x1" || got.ReplyToSelf {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("attachments appended", func(t *testing.T) {
		m := create(&discordgo.Message{ID: "m5", ChannelID: "c1", GuildID: "g1", Author: alice, Content: "look",
			Attachments: []*discordgo.MessageAttachment{{URL: "https://cdn/x.png"}}})
		got, _ := normalize(m, "bot")
		if got.Content != "look\n[attachment: https://cdn/x.png]" {
			t.Errorf("content = %q", got.Content)
		}
	})

	t.Run("own message flagged", func(t *testing.T) {
		got, ok := normalize(create(&discordgo.Message{ID: "m6", ChannelID: "c1", GuildID: "g1",
			Author: &discordgo.User{ID: "bot", Bot: true}, Content: "hello"}), "bot")
		if !ok || !got.FromSelf {
			t.Errorf("got %+v ok=%v", got, ok)
		}
	})

	t.Run("other bots dropped", func(t *testing.T) {
		if _, ok := normalize(create(&discordgo.Message{ID: "m7", Author: &discordgo.User{ID: "b2", Bot: true}}), "bot"); ok {
			t.Error("other bot message should be dropped")
		}
	})
}

func TestChannel_Lifecycle(t *testing.T) {
	sess := &mockSession{}
	router := &recordingRouter{}
	c := newChannel(sess, config.DiscordConfig{AgentID: "agent-1"}, router)
	ctx := context.Background()

	if _, err := c.SendReply(ctx, "c1", "hi", ""); !errors.Is(err, channels.ErrNotRunning) {
		t.Errorf("send before start err = %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if !sess.opened || !c.IsRunning() || c.botUserID != "bot" {
		t.Fatalf("start state: opened=%v running=%v bot=%q", sess.opened, c.IsRunning(), c.botUserID)
	}

	handler := sess.handler.(func(*discordgo.Session, *discordgo.MessageCreate))
	handler(nil, create(&discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1",
		Author: &discordgo.User{ID: "u1", Username: "alice"}, Content: "hello"}))
	handler(nil, create(&discordgo.Message{ID: "m2", ChannelID: "c1", GuildID: "g1",
		Author: &discordgo.User{ID: "bot"}, Content: "echo"}))

	if len(router.msgs) != 1 {
		t.Fatalf("published %d, want 1 (echo dropped)", len(router.msgs))
	}
	if got := router.msgs[0]; got.Channel != bus.ChannelDiscord || got.AgentID != "agent-1" {
		t.Errorf("published %+v", got)
	}

	if _, err := c.SendReply(ctx, "c1", "answer", "m1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SendDirectMessage(ctx, "boss", "escalated"); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteMessage(ctx, "c1", "m9"); err != nil {
		t.Fatal(err)
	}
	want := []sent{{"c1", "answer", "m1"}, {"dm-boss", "escalated", ""}}
	if len(sess.sent) != len(want) || sess.sent[0] != want[0] || sess.sent[1] != want[1] {
		t.Errorf("sent = %+v", sess.sent)
	}
	if len(sess.deleted) != 1 || sess.deleted[0] != "c1/m9" {
		t.Errorf("deleted = %v", sess.deleted)
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if !sess.closed || c.IsRunning() || sess.handler != nil {
		t.Error("stop did not tear down")
	}
}

func TestChannel_SendErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	sess := &mockSession{sendErr: boom}
	c := newChannel(sess, config.DiscordConfig{}, &recordingRouter{})
	c.SetRunning(true)
	if _, err := c.SendReply(context.Background(), "c1", "x", ""); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}
