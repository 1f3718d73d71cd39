// Package agent is the per-message orchestrator every channel adapter feeds:
// policy gate, LLM call, response interpretation, escalation and usage
// accounting.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rishsane/humuter-sub000/internal/agent/reply"
	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/cache"
	"github.com/rishsane/humuter-sub000/internal/policy"
	"github.com/rishsane/humuter-sub000/internal/providers"
	"github.com/rishsane/humuter-sub000/internal/store"
	"github.com/rishsane/humuter-sub000/internal/usage"
)

// HoldingReply tells the user their question went to a human.
const HoldingReply = "Good question! I've passed it on to the team and will reply here as soon as I hear back."

// Outbound is what the runtime needs from the channel layer.
type Outbound interface {
	SendReply(ctx context.Context, channel, chatID, text, replyTo string) (string, error)
	DeleteMessage(ctx context.Context, channel, chatID, messageID string) error
	SendDirectMessage(ctx context.Context, channel, userID, text string) (string, error)
}

// Generator is the single-turn LLM call.
type Generator interface {
	Generate(ctx context.Context, provider, model, system, user string) (*providers.Generation, error)
}

// Escalator opens escalations and consumes supervisor replies.
type Escalator interface {
	Create(ctx context.Context, agent *store.AgentData, msg bus.InboundMessage) (*store.EscalationData, error)
	// HandleSupervisorMessage reports whether msg was consumed as an
	// escalation reply. When false the message is a normal conversation.
	HandleSupervisorMessage(ctx context.Context, agent *store.AgentData, msg bus.InboundMessage) bool
}

// Config wires a Runtime.
type Config struct {
	Agents      store.AgentStore
	Cache       *cache.TTL[*store.AgentData]
	Gate        *policy.Gate
	Ledger      *usage.Ledger
	Generator   Generator
	Outbound    Outbound
	Escalations Escalator
	Prompts     PromptBuilder

	// NaturalDelayMin/Max bound the pause before a reply in "natural" mode.
	NaturalDelayMin time.Duration
	NaturalDelayMax time.Duration
}

// Runtime handles inbound messages. Safe for concurrent use; every message
// is expected to run in its own goroutine.
type Runtime struct {
	agents      store.AgentStore
	cache       *cache.TTL[*store.AgentData]
	gate        *policy.Gate
	ledger      *usage.Ledger
	gen         Generator
	out         Outbound
	escalations Escalator
	prompts     PromptBuilder
	delayMin    time.Duration
	delayMax    time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	tracer      trace.Tracer
}

func NewRuntime(cfg Config) *Runtime {
	r := &Runtime{
		agents:      cfg.Agents,
		cache:       cfg.Cache,
		gate:        cfg.Gate,
		ledger:      cfg.Ledger,
		gen:         cfg.Generator,
		out:         cfg.Outbound,
		escalations: cfg.Escalations,
		prompts:     cfg.Prompts,
		delayMin:    cfg.NaturalDelayMin,
		delayMax:    cfg.NaturalDelayMax,
		sleep:       sleepContext,
		tracer:      otel.Tracer("github.com/rishsane/humuter-sub000/internal/agent"),
	}
	if r.cache == nil {
		r.cache = cache.NewTTL[*store.AgentData](30 * time.Second)
	}
	if r.prompts == nil {
		r.prompts = DefaultPromptBuilder{}
	}
	if r.delayMin <= 0 {
		r.delayMin = 30 * time.Second
	}
	if r.delayMax < r.delayMin {
		r.delayMax = 60 * time.Second
		if r.delayMax < r.delayMin {
			r.delayMax = r.delayMin
		}
	}
	return r
}

// HandleInbound processes one message end to end. Failures are logged;
// nothing is returned to the adapter.
func (r *Runtime) HandleInbound(ctx context.Context, msg bus.InboundMessage) {
	if msg.FromSelf {
		return
	}
	msg.Content = strings.TrimSpace(msg.Content)

	ctx, span := r.tracer.Start(ctx, "agent.handle_inbound", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("chat_id", msg.ChatID),
		attribute.Bool("is_group", msg.IsGroup),
	))
	defer span.End()

	a, err := r.lookupAgent(ctx, msg)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Debug("agent: no agent for message", "channel", msg.Channel, "scope", msg.RouteScope())
		} else {
			slog.Warn("agent: profile lookup failed", "channel", msg.Channel, "error", err)
			span.SetStatus(codes.Error, err.Error())
		}
		return
	}
	if !a.IsActive() {
		slog.Debug("agent: agent not active", "agent", a.ID, "status", a.Status)
		return
	}
	span.SetAttributes(attribute.String("agent_id", a.ID.String()))

	res := r.gate.Check(ctx, a, msg)
	span.SetAttributes(attribute.String("verdict", res.Verdict.String()))
	switch res.Verdict {
	case policy.Drop:
		slog.Debug("agent: message dropped", "agent", a.ID, "reason", res.Reason)
		return
	case policy.DeleteAndDrop:
		if err := r.out.DeleteMessage(ctx, msg.Channel, msg.ChatID, msg.MessageID); err != nil {
			slog.Warn("agent: delete spam failed", "agent", a.ID, "chat_id", msg.ChatID, "error", err)
		}
		return
	case policy.LimitReached:
		if _, err := r.out.SendReply(ctx, msg.Channel, msg.ChatID, usage.LimitReachedReply, msg.MessageID); err != nil {
			slog.Warn("agent: send limit reply failed", "agent", a.ID, "error", err)
		}
		return
	}

	supervisor := a.SupervisorFor(msg.Channel)
	isSupervisor := supervisor != "" && msg.SenderID == supervisor
	if isSupervisor && !msg.IsGroup && r.escalations != nil {
		if r.escalations.HandleSupervisorMessage(ctx, a, msg) {
			if res.Reservation != nil {
				res.Reservation.Release()
			}
			return
		}
	}

	if res.Reservation == nil && !r.withinBudget(ctx, a, msg) {
		return
	}
	r.respond(ctx, a, msg, isSupervisor, res.Reservation)
}

// withinBudget applies the message cap and token budget to a message that
// passed the gate without a reservation (a supervisor conversation).
func (r *Runtime) withinBudget(ctx context.Context, a *store.AgentData, msg bus.InboundMessage) bool {
	if r.ledger == nil {
		return true
	}
	d, err := r.ledger.CheckBudget(ctx, a)
	if err != nil {
		slog.Warn("agent: quota check failed", "agent", a.ID, "error", err)
		return false
	}
	if d == usage.Allowed {
		return true
	}
	slog.Debug("agent: supervisor message over quota", "agent", a.ID, "denial", d)
	if d.UserVisible() {
		if _, err := r.out.SendReply(ctx, msg.Channel, msg.ChatID, usage.LimitReachedReply, msg.MessageID); err != nil {
			slog.Warn("agent: send limit reply failed", "agent", a.ID, "error", err)
		}
	}
	return false
}

func (r *Runtime) lookupAgent(ctx context.Context, msg bus.InboundMessage) (*store.AgentData, error) {
	if msg.AgentID != "" {
		return r.cache.GetOrLoad(ctx, "id:"+msg.AgentID, func(ctx context.Context) (*store.AgentData, error) {
			id, err := uuid.Parse(msg.AgentID)
			if err != nil {
				return nil, fmt.Errorf("agent id %q: %w", msg.AgentID, store.ErrNotFound)
			}
			return r.agents.Get(ctx, id)
		})
	}
	key := "route:" + msg.Channel + ":" + msg.RouteScope()
	return r.cache.GetOrLoad(ctx, key, func(ctx context.Context) (*store.AgentData, error) {
		return r.agents.GetByRoute(ctx, msg.Channel, msg.RouteScope())
	})
}

// respond runs the LLM path for a message that passed the gate. res is nil
// for supervisor conversations, which are not counted as handled messages.
func (r *Runtime) respond(ctx context.Context, a *store.AgentData, msg bus.InboundMessage, isSupervisor bool, res *usage.Reservation) {
	system := systemPrompt(r.prompts, a, msg, isSupervisor)
	user := userMessage(msg)

	gen, err := r.gen.Generate(ctx, a.Provider, a.Model, system, user)
	if err != nil {
		slog.Warn("agent: llm call failed", "agent", a.ID, "channel", msg.Channel, "error", err)
		trace.SpanFromContext(ctx).RecordError(err)
		if res != nil {
			res.Release()
		}
		return
	}
	tokens := gen.TokensUsed

	retry := func(ctx context.Context, instruction string) (string, error) {
		g, err := r.gen.Generate(ctx, a.Provider, a.Model, system+"\n\n"+instruction, user)
		if err != nil {
			return "", err
		}
		tokens += g.TokensUsed
		return g.Text, nil
	}

	d := Interpret(ctx, InterpretInput{
		Raw:                  gen.Text,
		IsSupervisor:         isSupervisor,
		IsPrivate:            !msg.IsGroup,
		SupervisorConfigured: a.SupervisorFor(msg.Channel) != "",
		AutoModerate:         a.AutoModerateEnabled(),
		MaxLength:            reply.MaxLength(msg.Channel),
	}, retry)

	slog.Info("agent: decision",
		"agent", a.ID,
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"action", d.Kind,
		"self_escalation", d.SelfEscalation,
		"retried", d.Retried,
	)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("action", d.Kind.String()))

	delivered := r.act(ctx, a, msg, d, isSupervisor)
	if !delivered {
		if res != nil {
			res.Release()
		}
		return
	}

	if res != nil {
		_ = res.Commit(ctx, tokens)
	} else if r.ledger != nil {
		if err := r.ledger.RecordTokens(ctx, a.ID, tokens); err != nil {
			slog.Warn("agent: record tokens failed", "agent", a.ID, "error", err)
		}
	}
}

// act carries out d. It returns false only when the message was abandoned
// before anything happened (shutdown during the natural delay).
func (r *Runtime) act(ctx context.Context, a *store.AgentData, msg bus.InboundMessage, d Decision, isSupervisor bool) bool {
	switch d.Kind {
	case ActionSkip:
		return true

	case ActionDelete:
		if err := r.out.DeleteMessage(ctx, msg.Channel, msg.ChatID, msg.MessageID); err != nil {
			slog.Warn("agent: delete failed", "agent", a.ID, "chat_id", msg.ChatID, "error", err)
		}
		return true

	case ActionEscalate:
		var g errgroup.Group
		g.Go(func() error {
			r.escalate(ctx, a, msg)
			return nil
		})
		g.Go(func() error {
			if _, err := r.out.SendReply(ctx, msg.Channel, msg.ChatID, HoldingReply, msg.MessageID); err != nil {
				slog.Warn("agent: send holding reply failed", "agent", a.ID, "error", err)
			}
			return nil
		})
		_ = g.Wait()
		return true

	case ActionReply:
		var g errgroup.Group
		if d.SelfEscalation {
			g.Go(func() error {
				r.escalate(ctx, a, msg)
				return nil
			})
		}

		sent := true
		if a.ResponseDelay == store.ResponseDelayNatural && !isSupervisor {
			if err := r.sleep(ctx, r.naturalDelay()); err != nil {
				slog.Info("agent: delayed reply abandoned", "agent", a.ID, "chat_id", msg.ChatID)
				sent = false
			}
		}
		if sent {
			if _, err := r.out.SendReply(ctx, msg.Channel, msg.ChatID, d.Reply.Text, msg.MessageID); err != nil {
				slog.Warn("agent: send reply failed", "agent", a.ID, "chat_id", msg.ChatID, "error", err)
			}
		}
		_ = g.Wait()

		if d.Reply.Feedback != "" {
			r.saveFeedback(ctx, a, msg, d.Reply.Feedback)
		}
		return sent || d.SelfEscalation
	}
	return true
}

func (r *Runtime) escalate(ctx context.Context, a *store.AgentData, msg bus.InboundMessage) {
	if r.escalations == nil {
		return
	}
	if _, err := r.escalations.Create(ctx, a, msg); err != nil {
		slog.Warn("agent: create escalation failed", "agent", a.ID, "chat_id", msg.ChatID, "error", err)
	}
}

func (r *Runtime) saveFeedback(ctx context.Context, a *store.AgentData, msg bus.InboundMessage, feedback string) {
	err := r.agents.AppendFeedback(ctx, a.ID, store.FeedbackEntry{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		UserName:  msg.SenderName,
		Feedback:  feedback,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("agent: save feedback failed", "agent", a.ID, "error", err)
	}
}

func (r *Runtime) naturalDelay() time.Duration {
	span := r.delayMax - r.delayMin
	if span <= 0 {
		return r.delayMin
	}
	return r.delayMin + rand.N(span)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
