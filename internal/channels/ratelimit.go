package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedChats caps the number of per-chat limiters kept in memory.
	maxTrackedChats = 4096

	// idleLimiterTTL is how long an unused limiter survives a prune.
	idleLimiterTTL = 10 * time.Minute

	// DefaultChatRate is one message per second per chat with a small burst,
	// under the Telegram and Discord per-chat flood limits.
	DefaultChatRate  = rate.Limit(1)
	DefaultChatBurst = 3
)

type chatLimiter struct {
	lim      *rate.Limiter
	lastUsed time.Time
}

// ChatLimiter paces outbound messages per chat key. Safe for concurrent use.
type ChatLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	entries map[string]*chatLimiter
	now     func() time.Time
}

func NewChatLimiter(limit rate.Limit, burst int) *ChatLimiter {
	if limit <= 0 {
		limit = DefaultChatRate
	}
	if burst <= 0 {
		burst = DefaultChatBurst
	}
	return &ChatLimiter{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*chatLimiter),
		now:     time.Now,
	}
}

// Wait blocks until key may send or ctx is done.
func (l *ChatLimiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Allow reports whether key may send right now, consuming a token if so.
func (l *ChatLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Len returns the number of tracked keys.
func (l *ChatLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *ChatLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok {
		e.lastUsed = now
		return e.lim
	}

	if len(l.entries) >= maxTrackedChats {
		for k, e := range l.entries {
			if now.Sub(e.lastUsed) >= idleLimiterTTL {
				delete(l.entries, k)
			}
		}
		// Still full: drop an arbitrary entry.
		for len(l.entries) >= maxTrackedChats {
			for k := range l.entries {
				delete(l.entries, k)
				break
			}
		}
	}

	lim := rate.NewLimiter(l.limit, l.burst)
	l.entries[key] = &chatLimiter{lim: lim, lastUsed: now}
	return lim
}
