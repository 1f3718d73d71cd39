// Package escalation hands unanswered questions to a human supervisor and
// resolves them from the supervisor's replies.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/providers"
	"github.com/rishsane/humuter-sub000/internal/store"
	"github.com/rishsane/humuter-sub000/internal/usage"
)

// IgnoreMarker is stored as the admin reply of an ignored escalation.
const IgnoreMarker = "[ignored]"

// DefaultTTL bounds how long a pending escalation can be matched.
const DefaultTTL = 24 * time.Hour

// NoPendingReply is sent to a supervisor whose reply matches nothing.
const NoPendingReply = "No pending escalations."

// ErrNoSupervisor is returned by Create when the channel has no supervisor.
var ErrNoSupervisor = errors.New("escalation: no supervisor configured")

// Messenger is the outbound slice the service needs.
type Messenger interface {
	SendReply(ctx context.Context, channel, chatID, text, replyTo string) (string, error)
	SendDirectMessage(ctx context.Context, channel, userID, text string) (string, error)
}

// Generator is the single-turn LLM call used for free-form resolutions.
type Generator interface {
	Generate(ctx context.Context, provider, model, system, user string) (*providers.Generation, error)
}

// PromptBuilder renders the agent persona for the resolver prompt.
type PromptBuilder interface {
	BuildSystemPrompt(agent *store.AgentData) string
}

// Budget gates and accounts the LLM calls made for free-form resolutions.
type Budget interface {
	CheckBudget(ctx context.Context, agent *store.AgentData) (usage.Denial, error)
	RecordTokens(ctx context.Context, agentID uuid.UUID, tokens int) error
}

// Config wires a Service. TTL of 0 disables the age bound on matching;
// a negative TTL selects DefaultTTL.
type Config struct {
	Escalations store.EscalationStore
	Agents      store.AgentStore
	Messenger   Messenger
	Generator   Generator
	Prompts     PromptBuilder
	Budget      Budget
	TTL         time.Duration
}

// Service creates, matches and resolves escalations.
type Service struct {
	escalations store.EscalationStore
	agents      store.AgentStore
	out         Messenger
	gen         Generator
	prompts     PromptBuilder
	budget      Budget
	ttl         time.Duration
	now         func() time.Time
	tracer      trace.Tracer
}

func NewService(cfg Config) *Service {
	ttl := cfg.TTL
	if ttl < 0 {
		ttl = DefaultTTL
	}
	return &Service{
		escalations: cfg.Escalations,
		agents:      cfg.Agents,
		out:         cfg.Messenger,
		gen:         cfg.Generator,
		prompts:     cfg.Prompts,
		budget:      cfg.Budget,
		ttl:         ttl,
		now:         time.Now,
		tracer:      otel.Tracer("github.com/rishsane/humuter-sub000/internal/escalation"),
	}
}

// Create notifies the channel supervisor about msg and stores a pending
// record. A failed notification leaves ForwardedMessageID nil.
func (s *Service) Create(ctx context.Context, a *store.AgentData, msg bus.InboundMessage) (*store.EscalationData, error) {
	supervisor := a.SupervisorFor(msg.Channel)
	if supervisor == "" {
		return nil, ErrNoSupervisor
	}

	userName := msg.SenderName
	if userName == "" {
		userName = msg.SenderID
	}
	rec := &store.EscalationData{
		AgentID:      a.ID,
		Platform:     msg.Channel,
		ChatID:       msg.ChatID,
		MessageID:    msg.MessageID,
		UserQuestion: msg.Content,
		UserName:     userName,
		Status:       store.EscalationStatusPending,
	}

	fwdID, err := s.out.SendDirectMessage(ctx, msg.Channel, supervisor, notification(a, rec, msg.IsGroup))
	if err != nil {
		slog.Warn("escalation: notify supervisor failed",
			"agent", a.ID,
			"platform", msg.Channel,
			"error", err,
		)
	} else if fwdID != "" {
		rec.ForwardedMessageID = &fwdID
	}

	err = s.escalations.Create(ctx, rec)
	if errors.Is(err, store.ErrConflict) && rec.ForwardedMessageID != nil {
		// Platform reused a message id; keep the record, lose the thread link.
		slog.Warn("escalation: forwarded id already pending, storing without it",
			"agent", a.ID,
			"forwarded_id", *rec.ForwardedMessageID,
		)
		rec.ForwardedMessageID = nil
		err = s.escalations.Create(ctx, rec)
	}
	if err != nil {
		return nil, fmt.Errorf("store escalation: %w", err)
	}

	slog.Info("escalation: created",
		"id", rec.ID,
		"agent", a.ID,
		"platform", rec.Platform,
		"chat_id", rec.ChatID,
		"forwarded", rec.ForwardedMessageID != nil,
	)
	return rec, nil
}

func notification(a *store.AgentData, rec *store.EscalationData, isGroup bool) string {
	var sb strings.Builder
	where := "a direct message"
	if isGroup {
		where = "chat " + rec.ChatID
	}
	name := a.Name
	if name == "" {
		name = "Your agent"
	}
	fmt.Fprintf(&sb, "%s needs help with a question from %s in %s:\n\n", name, rec.UserName, where)
	fmt.Fprintf(&sb, "%q\n\n", rec.UserQuestion)
	sb.WriteString("Reply to this message with:\n")
	sb.WriteString("/ignore to dismiss it\n")
	sb.WriteString("/direct <answer> to send your answer word for word\n")
	sb.WriteString("anything else to give me context and I'll write the answer")
	return sb.String()
}

// Match finds the pending record a supervisor message refers to: the one
// whose notification it replies to, else the newest one within the TTL.
// Returns store.ErrNotFound when there is none.
func (s *Service) Match(ctx context.Context, a *store.AgentData, msg bus.InboundMessage) (*store.EscalationData, error) {
	if msg.ReplyToMessageID != "" {
		rec, err := s.escalations.FindPendingByForwarded(ctx, a.ID, msg.Channel, msg.ReplyToMessageID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	var since time.Time
	if s.ttl > 0 {
		since = s.now().Add(-s.ttl)
	}
	return s.escalations.LatestPending(ctx, a.ID, msg.Channel, since)
}

// HandleSupervisorMessage resolves a pending escalation from msg, a DM from
// the channel supervisor. It returns false when msg is not an escalation
// reply and should be answered as a normal conversation.
func (s *Service) HandleSupervisorMessage(ctx context.Context, a *store.AgentData, msg bus.InboundMessage) bool {
	explicit := msg.ReplyToSelf || IsExplicit(msg.Content)

	rec, err := s.Match(ctx, a, msg)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if !explicit {
			return false
		}
		s.tell(ctx, msg, NoPendingReply)
		return true
	case err != nil:
		slog.Warn("escalation: match failed", "agent", a.ID, "platform", msg.Channel, "error", err)
		if explicit {
			s.tell(ctx, msg, "I couldn't look up pending escalations right now. Please try again.")
		}
		return explicit
	}

	s.Resolve(ctx, a, rec, ParseCommand(msg.Content), msg)
	return true
}

// tell answers the supervisor in the chat their message came from.
func (s *Service) tell(ctx context.Context, msg bus.InboundMessage, text string) {
	if _, err := s.out.SendReply(ctx, msg.Channel, msg.ChatID, text, msg.MessageID); err != nil {
		slog.Warn("escalation: reply to supervisor failed", "platform", msg.Channel, "error", err)
	}
}
