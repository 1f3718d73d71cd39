package agent

import (
	"context"
	"log/slog"

	"github.com/rishsane/humuter-sub000/internal/agent/reply"
)

// FallbackGreeting replaces a control token that survived the retry.
const FallbackGreeting = "Hi! How can I help you today?"

// retryInstruction is appended to the system prompt for the single retry.
const retryInstruction = "IMPORTANT: Your previous answer was a control word (SKIP, DELETE or ESCALATE), " +
	"which is not allowed in this conversation. Answer the message directly with a normal, helpful reply."

// InterpretInput is the raw model output plus the facts about the
// conversation that decide which actions are allowed.
type InterpretInput struct {
	Raw                  string
	IsSupervisor         bool
	IsPrivate            bool
	SupervisorConfigured bool
	AutoModerate         bool
	MaxLength            int
}

// RetryFunc asks the model again with instruction added to the prompt.
type RetryFunc func(ctx context.Context, instruction string) (string, error)

// Interpret turns model output into a Decision. retry is called at most once,
// and only when the output is a control token that is not allowed here.
func Interpret(ctx context.Context, in InterpretInput, retry RetryFunc) Decision {
	text := reply.Sanitize(in.Raw)
	tok := reply.ParseToken(text)
	retried := false

	if tok != reply.TokenNone && tokenMisplaced(in, tok) {
		slog.Debug("agent: control token not allowed here, retrying",
			"token", tok,
			"supervisor", in.IsSupervisor,
			"private", in.IsPrivate,
		)
		text = retryOnce(ctx, retry)
		tok = reply.TokenNone
		retried = true
	}

	switch tok {
	case reply.TokenEscalate:
		if in.SupervisorConfigured && !in.IsSupervisor {
			return Decision{Kind: ActionEscalate}
		}
		return skip()
	case reply.TokenDelete:
		if in.AutoModerate {
			return Decision{Kind: ActionDelete}
		}
		return skip()
	case reply.TokenSkip:
		return skip()
	}

	visible, feedback, _ := reply.ExtractFeedback(text)
	if visible == "" {
		return skip()
	}
	d := Decision{
		Kind:    ActionReply,
		Reply:   Reply{Text: reply.Truncate(visible, in.MaxLength), Feedback: feedback},
		Retried: retried,
	}
	if in.SupervisorConfigured && !in.IsSupervisor && DetectSelfEscalation(d.Reply.Text) {
		d.SelfEscalation = true
	}
	return d
}

// tokenMisplaced reports whether tok may not be acted on in this
// conversation. A supervisor always gets an answer, a DM is never skipped or
// deleted, and a DM can only escalate when there is someone to escalate to.
func tokenMisplaced(in InterpretInput, tok reply.Token) bool {
	if in.IsSupervisor {
		return true
	}
	if !in.IsPrivate {
		return false
	}
	switch tok {
	case reply.TokenSkip, reply.TokenDelete:
		return true
	case reply.TokenEscalate:
		return !in.SupervisorConfigured
	}
	return false
}

func retryOnce(ctx context.Context, retry RetryFunc) string {
	if retry == nil {
		return FallbackGreeting
	}
	raw, err := retry(ctx, retryInstruction)
	if err != nil {
		slog.Warn("agent: control token retry failed", "error", err)
		return FallbackGreeting
	}
	text := reply.Sanitize(raw)
	if text == "" || reply.IsControlToken(text) {
		return FallbackGreeting
	}
	return text
}
