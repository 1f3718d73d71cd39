package bus

import (
	"context"
	"log/slog"
	"sync/atomic"
)

const defaultInboundBuffer = 1024

// MessageBus is a bounded in-process queue between channel adapters and
// the runtime consumer. Safe for concurrent use.
type MessageBus struct {
	inbound chan InboundMessage
	dropped atomic.Int64
}

// New creates a MessageBus with the default inbound buffer.
func New() *MessageBus {
	return NewWithBuffer(defaultInboundBuffer)
}

// NewWithBuffer creates a MessageBus with the given inbound buffer size.
func NewWithBuffer(size int) *MessageBus {
	if size <= 0 {
		size = defaultInboundBuffer
	}
	return &MessageBus{inbound: make(chan InboundMessage, size)}
}

// PublishInbound enqueues a message without blocking the adapter.
// When the queue is full the message is dropped (at-most-once delivery).
func (b *MessageBus) PublishInbound(msg InboundMessage) {
	select {
	case b.inbound <- msg:
	default:
		n := b.dropped.Add(1)
		slog.Warn("bus: inbound queue full, message dropped",
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"dropped_total", n,
		)
	}
}

// ConsumeInbound blocks until a message is available or ctx is done.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// Dropped returns how many inbound messages were discarded because the queue was full.
func (b *MessageBus) Dropped() int64 { return b.dropped.Load() }
