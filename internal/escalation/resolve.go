package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rishsane/humuter-sub000/internal/agent/reply"
	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/store"
	"github.com/rishsane/humuter-sub000/internal/usage"
)

const resolverAddendum = `## Answering on behalf of the team
A user asked a question you could not answer, and your supervisor has now given you the context.
Write the reply to the user in your own voice, as if you knew the answer all along.
Reply with only the message for the user. Do not mention the supervisor or the team.`

// Resolve applies cmd to rec. Only the caller that wins the pending to
// resolved transition sends anything to the origin chat; a loser logs and
// returns.
func (s *Service) Resolve(ctx context.Context, a *store.AgentData, rec *store.EscalationData, cmd Command, supervisorMsg bus.InboundMessage) {
	ctx, span := s.tracer.Start(ctx, "escalation.resolve", trace.WithAttributes(
		attribute.String("escalation_id", rec.ID.String()),
		attribute.String("command", cmd.Kind.String()),
	))
	defer span.End()

	switch cmd.Kind {
	case CommandIgnore:
		if !s.casResolve(ctx, rec, IgnoreMarker) {
			return
		}
		s.tell(ctx, supervisorMsg, fmt.Sprintf("Ignored the question from %s.", rec.UserName))

	case CommandDirect:
		if cmd.Text == "" {
			s.tell(ctx, supervisorMsg, "Usage: /direct <answer>")
			return
		}
		if !s.casResolve(ctx, rec, cmd.Text) {
			return
		}
		s.answer(ctx, rec, cmd.Text)
		s.appendFAQ(ctx, a, rec, cmd.Text)
		s.tell(ctx, supervisorMsg, fmt.Sprintf("Sent your answer to %s.", rec.UserName))

	default:
		if !s.withinBudget(ctx, a, supervisorMsg) {
			return
		}
		answer, err := s.complete(ctx, a, rec, cmd.Text)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("escalation: generate answer failed", "id", rec.ID, "agent", a.ID, "error", err)
			s.tell(ctx, supervisorMsg, "I couldn't turn your reply into an answer just now. The question is still pending, please reply again.")
			return
		}
		if !s.casResolve(ctx, rec, "Context: "+cmd.Text+"\nAnswer: "+answer) {
			return
		}
		if reply.IsControlToken(answer) || answer == "" {
			slog.Info("escalation: generated answer was not sendable", "id", rec.ID, "answer", answer)
			s.tell(ctx, supervisorMsg, "Resolved, but I had nothing to send from that context.")
			return
		}
		s.answer(ctx, rec, answer)
		s.appendFAQ(ctx, a, rec, answer)
		s.tell(ctx, supervisorMsg, fmt.Sprintf("Answered %s:\n\n%s", rec.UserName, answer))
	}
}

// casResolve reports whether this caller moved rec from pending to resolved.
func (s *Service) casResolve(ctx context.Context, rec *store.EscalationData, adminReply string) bool {
	won, err := s.escalations.Resolve(ctx, rec.ID, adminReply)
	if err != nil {
		slog.Warn("escalation: resolve failed", "id", rec.ID, "error", err)
		return false
	}
	if !won {
		slog.Info("escalation: already resolved, skipping", "id", rec.ID)
		return false
	}
	slog.Info("escalation: resolved", "id", rec.ID, "agent", rec.AgentID, "platform", rec.Platform)
	return true
}

// answer replies to the original message. Failure is logged; the record
// stays resolved.
func (s *Service) answer(ctx context.Context, rec *store.EscalationData, text string) {
	text = reply.Truncate(text, reply.MaxLength(rec.Platform))
	if _, err := s.out.SendReply(ctx, rec.Platform, rec.ChatID, text, rec.MessageID); err != nil {
		slog.Warn("escalation: send answer failed",
			"id", rec.ID,
			"platform", rec.Platform,
			"chat_id", rec.ChatID,
			"error", err,
		)
	}
}

func (s *Service) appendFAQ(ctx context.Context, a *store.AgentData, rec *store.EscalationData, answer string) {
	if s.agents == nil {
		return
	}
	err := s.agents.AppendFAQ(ctx, a.ID, store.FAQEntry{
		Question:  rec.UserQuestion,
		Answer:    answer,
		Source:    "escalation",
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("escalation: faq write-back failed", "id", rec.ID, "agent", a.ID, "error", err)
	}
}

// withinBudget reports whether a free-form resolution may call the model.
// An exhausted token budget is reported to the supervisor; the record stays
// pending either way.
func (s *Service) withinBudget(ctx context.Context, a *store.AgentData, supervisorMsg bus.InboundMessage) bool {
	if s.budget == nil {
		return true
	}
	d, err := s.budget.CheckBudget(ctx, a)
	if err != nil {
		slog.Warn("escalation: quota check failed", "agent", a.ID, "error", err)
		return false
	}
	if d == usage.Allowed {
		return true
	}
	slog.Info("escalation: resolver over quota", "agent", a.ID, "denial", d)
	if d.UserVisible() {
		s.tell(ctx, supervisorMsg, usage.LimitReachedReply)
	}
	return false
}

// complete asks the model for the user-facing answer built from the
// supervisor's context.
func (s *Service) complete(ctx context.Context, a *store.AgentData, rec *store.EscalationData, supervisorText string) (string, error) {
	if s.gen == nil {
		return "", fmt.Errorf("no generator configured")
	}
	system := resolverAddendum
	if s.prompts != nil {
		system = s.prompts.BuildSystemPrompt(a) + "\n\n" + resolverAddendum
	}
	gen, err := s.gen.Generate(ctx, a.Provider, a.Model, system, contextPrompt(rec, supervisorText))
	if err != nil {
		return "", err
	}
	if s.budget != nil && gen.TokensUsed > 0 {
		if err := s.budget.RecordTokens(ctx, a.ID, gen.TokensUsed); err != nil {
			slog.Warn("escalation: record tokens failed", "agent", a.ID, "error", err)
		}
	}
	return reply.Sanitize(gen.Text), nil
}

// contextPrompt embeds the original question and the supervisor's text.
func contextPrompt(rec *store.EscalationData, supervisorText string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s asked: %s\n\n", rec.UserName, rec.UserQuestion)
	fmt.Fprintf(&sb, "Context from the team: %s\n\n", supervisorText)
	sb.WriteString("Write your reply to the user.")
	return sb.String()
}
