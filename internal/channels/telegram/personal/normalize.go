package personal

import (
	"strconv"
	"strings"

	"github.com/gotd/td/tg"

	"github.com/rishsane/humuter-sub000/internal/bus"
)

// chatKey renders a peer in Bot API id form: users positive, basic groups
// negative, channels and supergroups -100 prefixed.
func chatKey(p tg.PeerClass) string {
	switch p := p.(type) {
	case *tg.PeerUser:
		return strconv.FormatInt(p.UserID, 10)
	case *tg.PeerChat:
		return "-" + strconv.FormatInt(p.ChatID, 10)
	case *tg.PeerChannel:
		return "-100" + strconv.FormatInt(p.ChannelID, 10)
	default:
		return ""
	}
}

// normalize maps an MTProto message onto the bus envelope. isOwn reports
// whether chatID:messageID was sent by this account. Broadcast channel posts,
// anonymous senders and empty service messages are dropped.
func normalize(m *tg.Message, e tg.Entities, selfID int64, isOwn func(chatID, messageID string) bool) (bus.InboundMessage, bool) {
	chatID := chatKey(m.PeerID)
	if chatID == "" {
		return bus.InboundMessage{}, false
	}

	var senderID int64
	isGroup := false
	switch p := m.PeerID.(type) {
	case *tg.PeerUser:
		senderID = p.UserID
		if m.Out {
			senderID = selfID
		}
	case *tg.PeerChat:
		isGroup = true
	case *tg.PeerChannel:
		if ch, ok := e.Channels[p.ChannelID]; ok && ch.Broadcast {
			return bus.InboundMessage{}, false
		}
		isGroup = true
	}
	if isGroup {
		from, ok := m.FromID.(*tg.PeerUser)
		if !ok {
			if !m.Out {
				return bus.InboundMessage{}, false
			}
			senderID = selfID
		} else {
			senderID = from.UserID
		}
	}

	text := strings.TrimSpace(m.Message)
	if text == "" {
		return bus.InboundMessage{}, false
	}

	msg := bus.InboundMessage{
		Channel:   bus.ChannelTelegramUser,
		ChatID:    chatID,
		MessageID: strconv.Itoa(m.ID),
		SenderID:  strconv.FormatInt(senderID, 10),
		Content:   text,
		IsGroup:   isGroup,
		FromSelf:  m.Out || (selfID != 0 && senderID == selfID),
	}
	if u, ok := e.Users[senderID]; ok {
		msg.SenderName = userName(u)
		if u.Username != "" {
			msg.Metadata = map[string]string{"username": u.Username}
		}
	}
	if h, ok := m.ReplyTo.(*tg.MessageReplyHeader); ok && h.ReplyToMsgID != 0 {
		msg.ReplyToMessageID = strconv.Itoa(h.ReplyToMsgID)
		msg.ReplyToSelf = isOwn != nil && isOwn(chatID, msg.ReplyToMessageID)
	}
	return msg, true
}

func userName(u *tg.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.Username
	}
	return name
}

// sentMessageID digs the new message id out of a send response.
func sentMessageID(upd tg.UpdatesClass) int {
	switch u := upd.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		for _, x := range u.Updates {
			if id, ok := x.(*tg.UpdateMessageID); ok {
				return id.ID
			}
		}
	}
	return 0
}
