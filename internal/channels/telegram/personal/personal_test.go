package personal

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestChatKey(t *testing.T) {
	tests := []struct {
		peer tg.PeerClass
		want string
	}{
		{&tg.PeerUser{UserID: 42}, "42"},
		{&tg.PeerChat{ChatID: 77}, "-77"},
		{&tg.PeerChannel{ChannelID: 1234}, "-1001234"},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := chatKey(tt.peer); got != tt.want {
			t.Errorf("chatKey(%T) = %q, want %q", tt.peer, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	const self = int64(1)
	e := tg.Entities{
		Users: map[int64]*tg.User{
			42: {ID: 42, FirstName: "Alice", Username: "alice"},
		},
		Channels: map[int64]*tg.Channel{
			500: {ID: 500, Megagroup: true},
			600: {ID: 600, Broadcast: true},
		},
	}
	own := func(chatID, messageID string) bool { return chatID == "-100500" && messageID == "9" }

	t.Run("supergroup message", func(t *testing.T) {
		m := &tg.Message{ID: 10, PeerID: &tg.PeerChannel{ChannelID: 500}, FromID: &tg.PeerUser{UserID: 42}, Message: " wen token "}
		got, ok := normalize(m, e, self, own)
		if !ok {
			t.Fatal("dropped")
		}
		if got.ChatID != "-100500" || got.SenderID != "42" || !got.IsGroup || got.Content != "wen token" ||
			got.SenderName != "Alice" || got.Metadata["username"] != "alice" || got.FromSelf {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("reply to own message", func(t *testing.T) {
		m := &tg.Message{ID: 11, PeerID: &tg.PeerChannel{ChannelID: 500}, FromID: &tg.PeerUser{UserID: 42}, Message: "thanks",
			ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 9}}
		got, _ := normalize(m, e, self, own)
		if got.ReplyToMessageID != "9" || !got.ReplyToSelf {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("reply to someone else", func(t *testing.T) {
		m := &tg.Message{ID: 12, PeerID: &tg.PeerChannel{ChannelID: 500}, FromID: &tg.PeerUser{UserID: 42}, Message: "+1",
			ReplyTo: &tg.MessageReplyHeader{ReplyToMsgID: 3}}
		got, _ := normalize(m, e, self, own)
		if got.ReplyToMessageID != "3" || got.ReplyToSelf {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("private chat", func(t *testing.T) {
		got, _ := normalize(&tg.Message{ID: 13, PeerID: &tg.PeerUser{UserID: 42}, Message: "hi"}, e, self, own)
		if got.IsGroup || got.ChatID != "42" || got.SenderID != "42" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("outgoing private message is own", func(t *testing.T) {
		got, _ := normalize(&tg.Message{ID: 14, Out: true, PeerID: &tg.PeerUser{UserID: 42}, Message: "hello"}, e, self, own)
		if !got.FromSelf || got.SenderID != "1" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("broadcast channel dropped", func(t *testing.T) {
		if _, ok := normalize(&tg.Message{ID: 15, PeerID: &tg.PeerChannel{ChannelID: 600}, Message: "news"}, e, self, own); ok {
			t.Error("broadcast post should be dropped")
		}
	})

	t.Run("anonymous admin dropped", func(t *testing.T) {
		if _, ok := normalize(&tg.Message{ID: 16, PeerID: &tg.PeerChannel{ChannelID: 500}, Message: "x"}, e, self, own); ok {
			t.Error("message without a user sender should be dropped")
		}
	})

	t.Run("empty text dropped", func(t *testing.T) {
		if _, ok := normalize(&tg.Message{ID: 17, PeerID: &tg.PeerChat{ChatID: 7}, FromID: &tg.PeerUser{UserID: 42}}, e, self, own); ok {
			t.Error("media-only message should be dropped")
		}
	})
}

func TestSentMessageID(t *testing.T) {
	if got := sentMessageID(&tg.UpdateShortSentMessage{ID: 5}); got != 5 {
		t.Errorf("short = %d", got)
	}
	upd := &tg.Updates{Updates: []tg.UpdateClass{
		&tg.UpdateNewMessage{},
		&tg.UpdateMessageID{ID: 77, RandomID: 1},
	}}
	if got := sentMessageID(upd); got != 77 {
		t.Errorf("updates = %d", got)
	}
	if got := sentMessageID(&tg.UpdatesTooLong{}); got != 0 {
		t.Errorf("too long = %d", got)
	}
}
