// Package channels connects chat platforms to the agent runtime. Adapters
// normalize platform events into bus.InboundMessage and perform the outbound
// reply, delete and direct-message calls the runtime asks for.
package channels

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/rishsane/humuter-sub000/internal/bus"
)

// ErrChannelNotFound is returned for outbound calls to an unregistered channel.
var ErrChannelNotFound = errors.New("channel not found")

// ErrNotRunning is returned when an adapter is asked to send before Start.
var ErrNotRunning = errors.New("channel not running")

// Channel is one platform adapter.
type Channel interface {
	// Name returns the channel identifier (bus.ChannelDiscord, ...).
	Name() string

	// Start connects to the platform. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop disconnects.
	Stop(ctx context.Context) error

	IsRunning() bool

	// SendReply posts text to chatID, threaded under replyTo when set.
	// Returns the platform id of the sent message.
	SendReply(ctx context.Context, chatID, text, replyTo string) (string, error)

	// DeleteMessage removes messageID from chatID.
	DeleteMessage(ctx context.Context, chatID, messageID string) error

	// SendDirectMessage opens (or reuses) a private chat with userID and
	// posts text there.
	SendDirectMessage(ctx context.Context, userID, text string) (string, error)
}

// BaseChannel carries the state every adapter shares. Adapters embed it.
type BaseChannel struct {
	name      string
	bus       bus.MessageRouter
	running   atomic.Bool
	allowList []string
	agentID   string // bound agent; empty = route by scope
}

func NewBaseChannel(name string, router bus.MessageRouter, allowList []string) *BaseChannel {
	return &BaseChannel{
		name:      name,
		bus:       router,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string { return c.name }

// AgentID returns the agent this adapter instance is bound to, if any.
func (c *BaseChannel) AgentID() string { return c.agentID }

// SetAgentID binds every message from this adapter to one agent.
func (c *BaseChannel) SetAgentID(id string) { c.agentID = id }

func (c *BaseChannel) IsRunning() bool { return c.running.Load() }

func (c *BaseChannel) SetRunning(running bool) { c.running.Store(running) }

func (c *BaseChannel) Bus() bus.MessageRouter { return c.bus }

// HasAllowList reports whether a sender allowlist is configured.
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }

// IsAllowed checks senderID against the allowlist. Entries may be a user id
// or "@username"; senderID may be the compound "id|username" form. An empty
// allowlist allows everyone.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	idPart, userPart := senderID, ""
	if idx := strings.IndexByte(senderID, '|'); idx > 0 {
		idPart, userPart = senderID[:idx], senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		if senderID == allowed || idPart == trimmed {
			return true
		}
		if userPart != "" && strings.EqualFold(userPart, trimmed) {
			return true
		}
	}
	return false
}

// Publish stamps msg with the channel name and agent binding and hands it to
// the bus. Own-echoes and senders outside the allowlist are dropped here.
func (c *BaseChannel) Publish(msg bus.InboundMessage) {
	if msg.FromSelf {
		return
	}
	allowKey := msg.SenderID
	if u := msg.Metadata["username"]; u != "" {
		allowKey += "|" + u
	}
	if !c.IsAllowed(allowKey) {
		return
	}
	msg.Channel = c.name
	if msg.AgentID == "" {
		msg.AgentID = c.agentID
	}
	msg.Content = strings.TrimSpace(msg.Content)
	c.bus.PublishInbound(msg)
}
