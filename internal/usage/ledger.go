package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rishsane/humuter-sub000/internal/store"
)

// agentSlot serializes quota checks for one agent and tracks reservations
// that passed the gate but have not been committed or released yet.
type agentSlot struct {
	mu       sync.Mutex
	inflight int64
}

// Ledger checks quotas and records usage. Counter reads go straight to the
// store so cached profiles never let a message slip past a cap.
type Ledger struct {
	agents store.AgentStore
	now    func() time.Time

	mu    sync.Mutex
	slots map[uuid.UUID]*agentSlot
}

func NewLedger(agents store.AgentStore) *Ledger {
	return &Ledger{
		agents: agents,
		now:    time.Now,
		slots:  make(map[uuid.UUID]*agentSlot),
	}
}

func (l *Ledger) slot(id uuid.UUID) *agentSlot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[id]
	if !ok {
		s = &agentSlot{}
		l.slots[id] = s
	}
	return s
}

func (l *Ledger) today() string { return store.UTCDate(l.now()) }

// Reserve runs the quota gates for one message and, when allowed, holds an
// in-flight slot that counts against the caps until Commit or Release.
// A non-nil error means the counters could not be read; callers drop the message.
func (l *Ledger) Reserve(ctx context.Context, agent *store.AgentData, isGroup bool) (*Reservation, Denial, error) {
	s := l.slot(agent.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	today := l.today()
	u, err := l.agents.GetUsage(ctx, agent.ID)
	if err != nil {
		return nil, Allowed, fmt.Errorf("usage: read counters: %w", err)
	}
	if u.DailyMessageDate != today {
		if _, err := l.agents.ResetDailyCount(ctx, agent.ID, today); err != nil {
			return nil, Allowed, fmt.Errorf("usage: reset daily count: %w", err)
		}
		u.DailyMessageCount = 0
		u.DailyMessageDate = today
	}

	plan := PlanFor(agent.Plan)
	messages := u.MessagesHandled + s.inflight
	daily := u.DailyMessageCount + s.inflight

	if plan.MessageCap > 0 && messages >= plan.MessageCap {
		return nil, DeniedMessageCap, nil
	}
	if isGroup && plan.DailyGroupCap > 0 && daily >= plan.DailyGroupCap {
		return nil, DeniedDailyGroupCap, nil
	}
	if plan.TokenCeiling > 0 && u.TokensUsed >= plan.TokenCeiling {
		return nil, DeniedTokenBudget, nil
	}

	s.inflight++
	return &Reservation{ledger: l, agentID: agent.ID, slot: s}, Allowed, nil
}

// CheckBudget runs the monthly message cap and the token budget without
// reserving anything. It covers LLM calls that are not counted as handled
// messages (supervisor conversations, free-form escalation answers).
func (l *Ledger) CheckBudget(ctx context.Context, agent *store.AgentData) (Denial, error) {
	s := l.slot(agent.ID)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := l.agents.GetUsage(ctx, agent.ID)
	if err != nil {
		return Allowed, fmt.Errorf("usage: read counters: %w", err)
	}
	plan := PlanFor(agent.Plan)
	if plan.MessageCap > 0 && u.MessagesHandled+s.inflight >= plan.MessageCap {
		return DeniedMessageCap, nil
	}
	if plan.TokenCeiling > 0 && u.TokensUsed >= plan.TokenCeiling {
		return DeniedTokenBudget, nil
	}
	return Allowed, nil
}

// RecordTokens accounts tokens spent outside a message reservation
// (escalation answers generated for the supervisor).
func (l *Ledger) RecordTokens(ctx context.Context, agentID uuid.UUID, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	s := l.slot(agentID)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := l.agents.GetUsage(ctx, agentID)
	if err != nil {
		return fmt.Errorf("usage: read counters: %w", err)
	}
	// Keep the stored day so this write never resets an unrelated daily count.
	date := u.DailyMessageDate
	if date == "" {
		date = l.today()
	}
	return l.agents.IncrementUsage(ctx, agentID, store.UsageDelta{Tokens: int64(tokens), Date: date})
}

// Reservation is an admitted message awaiting accounting.
type Reservation struct {
	ledger  *Ledger
	agentID uuid.UUID
	slot    *agentSlot
	once    sync.Once
}

// Commit counts the message and its tokens in a single store write.
// A failed write under-counts; it never double-counts. The slot stays locked
// across the write so Reserve never sees the message both stored and in flight.
func (r *Reservation) Commit(ctx context.Context, tokens int) error {
	var err error
	r.once.Do(func() {
		r.slot.mu.Lock()
		defer r.slot.mu.Unlock()
		err = r.ledger.agents.IncrementUsage(ctx, r.agentID, store.UsageDelta{
			Messages:      1,
			Tokens:        int64(tokens),
			DailyMessages: 1,
			Date:          r.ledger.today(),
		})
		r.slot.inflight--
		if err != nil {
			slog.Warn("usage: commit failed, counters under-counted", "agent", r.agentID, "error", err)
		}
	})
	return err
}

// Release drops the reservation without counting anything.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.slot.mu.Lock()
		r.slot.inflight--
		r.slot.mu.Unlock()
	})
}
