package telegram

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/rishsane/humuter-sub000/internal/bus"
)

// handleMessage processes an incoming Telegram message.
func (c *Channel) handleMessage(message *telego.Message) {
	msg, ok := normalize(message, c.botUserID)
	if !ok {
		return
	}
	slog.Debug("telegram message received",
		"chat_id", msg.ChatID,
		"is_group", msg.IsGroup,
		"user_id", msg.SenderID,
		"reply_to_self", msg.ReplyToSelf,
	)
	c.Publish(msg)
}

// normalize maps a Bot API message onto the bus envelope. Service messages and
// messages from other bots are dropped.
func normalize(message *telego.Message, botUserID int64) (bus.InboundMessage, bool) {
	if message == nil || message.From == nil || isServiceMessage(message) {
		return bus.InboundMessage{}, false
	}
	user := message.From
	fromSelf := botUserID != 0 && user.ID == botUserID
	if user.IsBot && !fromSelf {
		return bus.InboundMessage{}, false
	}

	content := message.Text
	if content == "" {
		content = message.Caption
	}

	msg := bus.InboundMessage{
		Channel:    bus.ChannelTelegram,
		ChatID:     strconv.FormatInt(message.Chat.ID, 10),
		MessageID:  strconv.Itoa(message.MessageID),
		SenderID:   strconv.FormatInt(user.ID, 10),
		SenderName: displayName(user),
		Content:    strings.TrimSpace(content),
		IsGroup:    message.Chat.Type == "group" || message.Chat.Type == "supergroup",
		FromSelf:   fromSelf,
	}
	if user.Username != "" {
		msg.Metadata = map[string]string{"username": user.Username}
	}
	if r := message.ReplyToMessage; r != nil {
		msg.ReplyToMessageID = strconv.Itoa(r.MessageID)
		msg.ReplyToSelf = botUserID != 0 && r.From != nil && r.From.ID == botUserID
	}
	return msg, true
}

func displayName(u *telego.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

// isServiceMessage reports messages that carry no user content
// (member joined/left, title changed, pinned message, ...).
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}
	return true
}
