// Package policy decides, before any LLM call, whether an inbound message is
// processed at all.
package policy

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/store"
	"github.com/rishsane/humuter-sub000/internal/usage"
)

// Verdict is the gate outcome.
type Verdict int

const (
	// Pass admits the message to the LLM.
	Pass Verdict = iota
	// Drop discards the message silently.
	Drop
	// DeleteAndDrop removes the message from the group, then discards it.
	DeleteAndDrop
	// LimitReached answers with usage.LimitReachedReply and discards the message.
	LimitReached
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Drop:
		return "drop"
	case DeleteAndDrop:
		return "delete"
	case LimitReached:
		return "limit_reached"
	default:
		return "unknown"
	}
}

// Result carries the verdict and, on Pass, the usage reservation the caller
// must Commit or Release. Supervisor DMs skip the spam check and pass without
// a reservation; the caller checks the budget once it knows the message needs
// the model (usage.Ledger.CheckBudget).
type Result struct {
	Verdict     Verdict
	Reason      string
	Reservation *usage.Reservation
}

// Reserver is the slice of the usage ledger the gate needs.
type Reserver interface {
	Reserve(ctx context.Context, agent *store.AgentData, isGroup bool) (*usage.Reservation, usage.Denial, error)
}

// Gate runs the fixed-order checks: whitelist, empty content, spam, quotas.
type Gate struct {
	ledger Reserver
}

func NewGate(ledger Reserver) *Gate {
	return &Gate{ledger: ledger}
}

// Check evaluates msg for agent. msg.Content is expected to be trimmed.
func (g *Gate) Check(ctx context.Context, agent *store.AgentData, msg bus.InboundMessage) Result {
	supervisor := agent.SupervisorFor(msg.Channel)
	isSupervisor := supervisor != "" && msg.SenderID == supervisor

	if wl := agent.WhitelistFor(msg.Channel); len(wl) > 0 {
		if msg.IsGroup && !slices.Contains(wl, msg.ChatID) {
			return Result{Verdict: Drop, Reason: "chat not whitelisted"}
		}
		if !msg.IsGroup && !isSupervisor {
			return Result{Verdict: Drop, Reason: "dm restricted to supervisor"}
		}
	}

	text := strings.TrimSpace(msg.Content)
	if text == "" {
		return Result{Verdict: Drop, Reason: "empty"}
	}

	if isSupervisor && !msg.IsGroup {
		return Result{Verdict: Pass, Reason: "supervisor"}
	}

	if spam := ClassifySpam(text); spam.IsSpam() {
		slog.Info("policy: spam detected",
			"agent", agent.ID,
			"channel", msg.Channel,
			"chat_id", msg.ChatID,
			"family", spam.Family,
			"match", spam.Match,
		)
		if msg.IsGroup {
			return Result{Verdict: DeleteAndDrop, Reason: string(spam.Family)}
		}
		return Result{Verdict: Drop, Reason: string(spam.Family)}
	}

	res, denial, err := g.ledger.Reserve(ctx, agent, msg.IsGroup)
	if err != nil {
		slog.Warn("policy: quota check failed", "agent", agent.ID, "error", err)
		return Result{Verdict: Drop, Reason: "quota check failed"}
	}
	switch {
	case denial == usage.Allowed:
		return Result{Verdict: Pass, Reservation: res}
	case denial.UserVisible():
		return Result{Verdict: LimitReached, Reason: denial.String()}
	default:
		return Result{Verdict: Drop, Reason: denial.String()}
	}
}
