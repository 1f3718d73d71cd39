// Package usage enforces plan quotas and accounts message and token usage
// per agent.
package usage

import "github.com/rishsane/humuter-sub000/internal/store"

// Plan describes the quota attached to a billing plan.
type Plan struct {
	Name string
	// TokenCeiling is the lifetime token budget; 0 means unlimited.
	TokenCeiling int64
	// MessageCap limits messages_handled for the billing period; 0 means unlimited.
	MessageCap int64
	// DailyGroupCap limits group messages per UTC day; 0 means unlimited.
	DailyGroupCap int64
}

var plans = map[string]Plan{
	store.PlanFree:       {Name: store.PlanFree, TokenCeiling: 50_000, MessageCap: 10, DailyGroupCap: 2},
	store.PlanStarter:    {Name: store.PlanStarter, TokenCeiling: 1_000_000},
	store.PlanPro:        {Name: store.PlanPro, TokenCeiling: 5_000_000},
	store.PlanEnterprise: {Name: store.PlanEnterprise, TokenCeiling: 50_000_000},
}

// PlanFor returns the quota for a plan name. Unknown plans get free-tier limits.
func PlanFor(name string) Plan {
	if p, ok := plans[name]; ok {
		return p
	}
	return plans[store.PlanFree]
}

// LimitReachedReply is the static text sent when the token budget is exhausted.
const LimitReachedReply = "This assistant has reached its usage limit for now. Please let the project team know so they can restore service."

// Denial is the reason a reservation was refused.
type Denial int

const (
	Allowed Denial = iota
	DeniedMessageCap
	DeniedDailyGroupCap
	DeniedTokenBudget
)

func (d Denial) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case DeniedMessageCap:
		return "message_cap"
	case DeniedDailyGroupCap:
		return "daily_group_cap"
	case DeniedTokenBudget:
		return "token_budget"
	default:
		return "unknown"
	}
}

// UserVisible reports whether the denial answers the chat with LimitReachedReply.
// Every other denial is a silent drop.
func (d Denial) UserVisible() bool { return d == DeniedTokenBudget }
