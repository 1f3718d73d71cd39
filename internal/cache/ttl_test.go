package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*TTL[string], *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewTTL[string](ttl)
	c.now = clk.Now
	return c, clk
}

func TestTTL_FreshThenStale(t *testing.T) {
	c, clk := newTestCache(30 * time.Second)
	c.Set("a", "v1")

	if v, fresh := c.Get("a"); !fresh || v != "v1" {
		t.Fatalf("Get = (%q, %v), want (v1, true)", v, fresh)
	}

	clk.Advance(30 * time.Second)
	v, fresh := c.Get("a")
	if fresh {
		t.Error("entry should be stale at TTL")
	}
	if v != "v1" {
		t.Errorf("stale value = %q, want v1", v)
	}
}

func TestTTL_MissingKey(t *testing.T) {
	c, _ := newTestCache(time.Second)
	if v, fresh := c.Get("nope"); fresh || v != "" {
		t.Errorf("Get(missing) = (%q, %v)", v, fresh)
	}
}

// TestTTL_ServesStaleWithinWindow documents the accepted staleness: an update
// in the backing store is invisible until the TTL elapses.
func TestTTL_ServesStaleWithinWindow(t *testing.T) {
	c, clk := newTestCache(30 * time.Second)
	backing := "faq-v1"
	load := func(context.Context) (string, error) { return backing, nil }

	got, _ := c.GetOrLoad(context.Background(), "agent", load)
	if got != "faq-v1" {
		t.Fatalf("first load = %q", got)
	}

	backing = "faq-v2"
	clk.Advance(29 * time.Second)
	got, _ = c.GetOrLoad(context.Background(), "agent", load)
	if got != "faq-v1" {
		t.Errorf("within TTL got %q, want cached faq-v1", got)
	}

	clk.Advance(2 * time.Second)
	got, _ = c.GetOrLoad(context.Background(), "agent", load)
	if got != "faq-v2" {
		t.Errorf("after TTL got %q, want faq-v2", got)
	}
}

func TestTTL_LoadErrorNotCached(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	wantErr := errors.New("db down")

	_, err := c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
		return "", wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if c.Len() != 0 {
		t.Errorf("failed load should not populate cache, len=%d", c.Len())
	}
}

func TestTTL_SingleFlight(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.GetOrLoad(context.Background(), "k", func(context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "v", nil
			})
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n < 1 || n > 2 {
		// Goroutines that arrive after the first load completes see a fresh value;
		// those that overlap share one call.
		t.Errorf("loader called %d times", n)
	}
}

func TestTTL_Invalidate(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Invalidate("a")
	if _, fresh := c.Get("a"); fresh {
		t.Error("a should be gone")
	}
	c.InvalidateAll()
	if c.Len() != 0 {
		t.Errorf("Len after InvalidateAll = %d", c.Len())
	}
}
