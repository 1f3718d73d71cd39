package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Escalation status values.
const (
	EscalationStatusPending  = "pending"
	EscalationStatusResolved = "resolved"
	EscalationStatusExpired  = "expired"
)

// EscalationData is a question handed off to the agent's supervisor.
type EscalationData struct {
	ID                 uuid.UUID  `json:"id"`
	AgentID            uuid.UUID  `json:"agent_id"`
	Platform           string     `json:"platform"`
	ChatID             string     `json:"chat_id"`
	MessageID          string     `json:"message_id"`
	UserQuestion       string     `json:"user_question"`
	UserName           string     `json:"user_name,omitempty"`
	ForwardedMessageID *string    `json:"forwarded_message_id,omitempty"`
	Status             string     `json:"status"`
	AdminReply         *string    `json:"admin_reply,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"`
}

// EscalationListOpts filters List.
type EscalationListOpts struct {
	AgentID *uuid.UUID
	Status  string
	Limit   int
}

// EscalationStore persists escalation records.
type EscalationStore interface {
	Create(ctx context.Context, e *EscalationData) error
	Get(ctx context.Context, id uuid.UUID) (*EscalationData, error)

	// FindPendingByForwarded returns the pending record whose forwarded
	// message id matches, scoped to agent and platform.
	FindPendingByForwarded(ctx context.Context, agentID uuid.UUID, platform, forwardedID string) (*EscalationData, error)
	// LatestPending returns the most recently created pending record for the
	// agent on platform created after since. Zero since means no age bound.
	LatestPending(ctx context.Context, agentID uuid.UUID, platform string, since time.Time) (*EscalationData, error)

	// Resolve moves a record pending -> resolved in one compare-and-swap.
	// Returns false (and no error) when the record was not pending.
	Resolve(ctx context.Context, id uuid.UUID, adminReply string) (bool, error)
	// ExpireBefore marks pending records created before cutoff as expired.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)

	List(ctx context.Context, opts EscalationListOpts) ([]EscalationData, error)
}
