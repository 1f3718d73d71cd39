package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/rishsane/humuter-sub000/internal/agent/reply"
)

// Manager owns the registered adapters, their lifecycle, and routes the
// runtime's outbound calls to the adapter named by the channel id. Sends are
// paced per chat.
type Manager struct {
	channels map[string]Channel
	limiter  *ChatLimiter
	mu       sync.RWMutex
}

// NewManager creates a Manager. A nil limiter uses the default per-chat rate.
func NewManager(limiter *ChatLimiter) *Manager {
	if limiter == nil {
		limiter = NewChatLimiter(DefaultChatRate, DefaultChatBurst)
	}
	return &Manager{
		channels: make(map[string]Channel),
		limiter:  limiter,
	}
}

// StartAll starts every registered channel. A channel that fails to start is
// logged and skipped.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.channels) == 0 {
		slog.Warn("no channels enabled")
		return nil
	}

	started := 0
	for name, ch := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := ch.Start(ctx); err != nil {
			slog.Error("failed to start channel", "channel", name, "error", err)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no channel could be started")
	}
	slog.Info("channels started", "count", started)
	return nil
}

// StopAll stops every registered channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, ch := range m.channels {
		if !ch.IsRunning() {
			continue
		}
		slog.Info("stopping channel", "channel", name)
		if err := ch.Stop(ctx); err != nil {
			slog.Error("error stopping channel", "channel", name, "error", err)
		}
	}
	return nil
}

// RegisterChannel adds ch under its Name.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// UnregisterChannel removes a channel.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// GetChannel returns a channel by name.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// GetEnabledChannels returns the registered channel names, sorted.
func (m *Manager) GetEnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetStatus returns the running state of every channel.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}

func (m *Manager) route(channel string) (Channel, error) {
	ch, ok := m.GetChannel(channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channel)
	}
	if !ch.IsRunning() {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, channel)
	}
	return ch, nil
}

// SendReply posts text to chatID on channel, truncated to the channel ceiling.
func (m *Manager) SendReply(ctx context.Context, channel, chatID, text, replyTo string) (string, error) {
	ch, err := m.route(channel)
	if err != nil {
		return "", err
	}
	if err := m.limiter.Wait(ctx, channel+":"+chatID); err != nil {
		return "", err
	}
	id, err := ch.SendReply(ctx, chatID, reply.Truncate(text, reply.MaxLength(channel)), replyTo)
	if err != nil {
		return "", fmt.Errorf("%s: send reply: %w", channel, err)
	}
	return id, nil
}

// DeleteMessage removes a message on channel. Deletes are not rate limited.
func (m *Manager) DeleteMessage(ctx context.Context, channel, chatID, messageID string) error {
	ch, err := m.route(channel)
	if err != nil {
		return err
	}
	if err := ch.DeleteMessage(ctx, chatID, messageID); err != nil {
		return fmt.Errorf("%s: delete message: %w", channel, err)
	}
	return nil
}

// SendDirectMessage sends text to userID in a private chat on channel.
func (m *Manager) SendDirectMessage(ctx context.Context, channel, userID, text string) (string, error) {
	ch, err := m.route(channel)
	if err != nil {
		return "", err
	}
	if err := m.limiter.Wait(ctx, channel+":dm:"+userID); err != nil {
		return "", err
	}
	id, err := ch.SendDirectMessage(ctx, userID, reply.Truncate(text, reply.MaxLength(channel)))
	if err != nil {
		return "", fmt.Errorf("%s: send direct message: %w", channel, err)
	}
	return id, nil
}
