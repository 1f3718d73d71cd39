package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_PublishConsume(t *testing.T) {
	b := NewWithBuffer(4)
	b.PublishInbound(InboundMessage{Channel: ChannelTelegram, ChatID: "1", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message")
	}
	if msg.Content != "hi" || msg.ChatID != "1" {
		t.Errorf("got %+v", msg)
	}
}

func TestMessageBus_DropsWhenFull(t *testing.T) {
	b := NewWithBuffer(1)
	b.PublishInbound(InboundMessage{ChatID: "1"})
	b.PublishInbound(InboundMessage{ChatID: "2"})

	if got := b.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestMessageBus_ConsumeCancelled(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Error("expected ok=false on cancelled context")
	}
}

func TestInboundMessage_RouteScope(t *testing.T) {
	tests := []struct {
		name string
		msg  InboundMessage
		want string
	}{
		{"guild scope", InboundMessage{ChatID: "c1", ScopeID: "g1"}, "g1"},
		{"chat fallback", InboundMessage{ChatID: "c1"}, "c1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.RouteScope(); got != tt.want {
				t.Errorf("RouteScope() = %q, want %q", got, tt.want)
			}
		})
	}
}
