package cmd

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/cache"
)

// inboundDedupeTTL bounds how long a delivered message id is remembered.
const inboundDedupeTTL = 20 * time.Minute

// consumeInbound reads inbound messages from the bus until ctx is done and
// runs handle for each in its own goroutine. In-flight handlers are awaited
// before returning.
func consumeInbound(ctx context.Context, router bus.MessageRouter, handle bus.MessageHandler) {
	slog.Info("inbound message consumer started")
	dedupe := cache.NewTTL[struct{}](inboundDedupeTTL)

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}
		if msg.MessageID != "" {
			key := msg.Channel + ":" + msg.ChatID + ":" + msg.MessageID
			if _, seen := dedupe.Get(key); seen {
				slog.Debug("inbound: duplicate skipped", "channel", msg.Channel, "chat_id", msg.ChatID, "message_id", msg.MessageID)
				continue
			}
			dedupe.Set(key, struct{}{})
		}

		wg.Add(1)
		go func(msg bus.InboundMessage) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("inbound: handler panic",
						"channel", msg.Channel,
						"chat_id", msg.ChatID,
						"panic", r,
						"stack", string(debug.Stack()),
					)
				}
			}()
			handle(ctx, msg)
		}(msg)
	}
}
