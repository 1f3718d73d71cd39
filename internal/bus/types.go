package bus

import "context"

// Channel identifiers shared by adapters, the runtime and the stores.
const (
	ChannelDiscord      = "discord"
	ChannelTelegram     = "telegram"
	ChannelTelegramUser = "telegram_user" // personal-account (MTProto) session
)

// InboundMessage is the normalized envelope every channel adapter produces,
// regardless of the platform the event came from.
type InboundMessage struct {
	Channel          string            `json:"channel"`
	AgentID          string            `json:"agent_id,omitempty"` // set when the channel instance is bound to one agent
	ScopeID          string            `json:"scope_id,omitempty"` // routing scope: Discord guild id, else chat id
	ChatID           string            `json:"chat_id"`
	MessageID        string            `json:"message_id"`
	SenderID         string            `json:"sender_id"`
	SenderName       string            `json:"sender_name,omitempty"`
	Content          string            `json:"content"`
	IsGroup          bool              `json:"is_group"`
	ReplyToMessageID string            `json:"reply_to_message_id,omitempty"`
	ReplyToSelf      bool              `json:"reply_to_self,omitempty"` // replied-to message was authored by the agent
	FromSelf         bool              `json:"from_self,omitempty"`     // echo of our own outgoing message
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// PeerKind returns "group" or "direct", matching the session-key vocabulary.
func (m InboundMessage) PeerKind() string {
	if m.IsGroup {
		return "group"
	}
	return "direct"
}

// RouteScope returns the id used to route a message to an agent when the
// channel instance carries no explicit agent binding.
func (m InboundMessage) RouteScope() string {
	if m.ScopeID != "" {
		return m.ScopeID
	}
	return m.ChatID
}

// MessageHandler handles an inbound message from a specific channel.
type MessageHandler func(ctx context.Context, msg InboundMessage)

// MessageRouter abstracts inbound routing between channels and the agent runtime.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
}
