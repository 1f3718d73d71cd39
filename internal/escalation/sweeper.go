package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/rishsane/humuter-sub000/internal/store"
)

// DefaultSweepSchedule runs the expiry sweep every ten minutes.
const DefaultSweepSchedule = "*/10 * * * *"

// Sweeper moves pending escalations older than the TTL to expired on a cron
// schedule.
type Sweeper struct {
	escalations store.EscalationStore
	ttl         time.Duration
	schedule    string
	now         func() time.Time
}

// NewSweeper validates schedule. An empty schedule selects
// DefaultSweepSchedule.
func NewSweeper(escalations store.EscalationStore, ttl time.Duration, schedule string) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	gron := gronx.New()
	if !gron.IsValid(schedule) {
		return nil, fmt.Errorf("escalation: invalid sweep schedule %q", schedule)
	}
	return &Sweeper{
		escalations: escalations,
		ttl:         ttl,
		schedule:    schedule,
		now:         time.Now,
	}, nil
}

// SweepOnce expires every pending record created before now minus the TTL.
// A TTL of 0 disables expiry.
func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	return s.ExpireOlderThan(ctx, s.ttl)
}

// ExpireOlderThan expires pending records older than age.
func (s *Sweeper) ExpireOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if age <= 0 {
		return 0, nil
	}
	n, err := s.escalations.ExpireBefore(ctx, s.now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("escalation: expire: %w", err)
	}
	if n > 0 {
		slog.Info("escalation: expired stale records", "count", n, "older_than", age)
	}
	return n, nil
}

// Run sweeps on every schedule tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.ttl <= 0 {
		slog.Info("escalation: expiry disabled")
		return nil
	}
	slog.Info("escalation: sweeper started", "schedule", s.schedule, "ttl", s.ttl)

	for {
		next, err := gronx.NextTickAfter(s.schedule, s.now(), false)
		if err != nil {
			return fmt.Errorf("escalation: next sweep: %w", err)
		}
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, err := s.SweepOnce(ctx); err != nil {
			slog.Warn("escalation: sweep failed", "error", err)
		}
	}
}
