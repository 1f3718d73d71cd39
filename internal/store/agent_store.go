package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Plan values.
const (
	PlanFree       = "free"
	PlanStarter    = "starter"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// Agent status values.
const (
	AgentStatusActive   = "active"
	AgentStatusPaused   = "paused"
	AgentStatusArchived = "archived"
)

// Response delay modes.
const (
	ResponseDelayInstant = "instant"
	ResponseDelayNatural = "natural"
)

// Usage is the per-agent ledger embedded in the profile.
type Usage struct {
	MessagesHandled   int64  `json:"messages_handled"`
	TokensUsed        int64  `json:"tokens_used"`
	DailyMessageCount int64  `json:"daily_message_count"`
	DailyMessageDate  string `json:"daily_message_date,omitempty"` // UTC YYYY-MM-DD
}

// FAQEntry is one question/answer pair in an agent's training data.
type FAQEntry struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Source    string    `json:"source,omitempty"` // "escalation", "import", ...
	CreatedAt time.Time `json:"created_at"`
}

// FeedbackEntry is a piece of user feedback the model flagged with a
// [FEEDBACK: ...] tag.
type FeedbackEntry struct {
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chat_id"`
	UserName  string    `json:"user_name,omitempty"`
	Feedback  string    `json:"feedback"`
	CreatedAt time.Time `json:"created_at"`
}

// TrainingData is the knowledge an agent answers from.
type TrainingData struct {
	FAQ      []FAQEntry      `json:"faq,omitempty"`
	Feedback []FeedbackEntry `json:"feedback,omitempty"`
}

// AgentData is the configuration snapshot for one deployed agent.
type AgentData struct {
	BaseModel
	Key          string `json:"key"`
	Name         string `json:"name"`
	Plan         string `json:"plan"`
	Status       string `json:"status"`
	Description  string `json:"description,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`

	// Routes maps channel -> scope ids (guild id, chat id) served by this agent.
	Routes map[string][]string `json:"routes,omitempty"`
	// Whitelist maps channel -> group chat ids; non-empty means exclusive.
	Whitelist map[string][]string `json:"whitelist,omitempty"`
	// Supervisors maps channel -> platform user id of the human supervisor.
	Supervisors map[string]string `json:"supervisors,omitempty"`

	AutoModerate  *bool  `json:"auto_moderate,omitempty"` // nil = enabled
	ResponseDelay string `json:"response_delay,omitempty"`

	TrainingData TrainingData `json:"training_data"`
	Usage
}

// SupervisorFor returns the supervisor id configured for channel, or "".
func (a *AgentData) SupervisorFor(channel string) string {
	if a.Supervisors == nil {
		return ""
	}
	return a.Supervisors[channel]
}

// WhitelistFor returns the group whitelist for channel.
func (a *AgentData) WhitelistFor(channel string) []string {
	if a.Whitelist == nil {
		return nil
	}
	return a.Whitelist[channel]
}

// AutoModerateEnabled reports whether DELETE decisions may delete messages.
func (a *AgentData) AutoModerateEnabled() bool {
	return a.AutoModerate == nil || *a.AutoModerate
}

// IsActive reports whether the agent should handle messages at all.
func (a *AgentData) IsActive() bool {
	return a.Status == "" || a.Status == AgentStatusActive
}

// UsageDelta is the unit of accounting applied once per processed message.
// Date is the UTC day the daily counter belongs to.
type UsageDelta struct {
	Messages      int64
	Tokens        int64
	DailyMessages int64
	Date          string
}

// AgentStore manages agent profiles, their training data and usage counters.
type AgentStore interface {
	Create(ctx context.Context, agent *AgentData) error
	Get(ctx context.Context, id uuid.UUID) (*AgentData, error)
	GetByKey(ctx context.Context, key string) (*AgentData, error)
	// GetByRoute finds the agent serving a channel scope (guild id or chat id).
	GetByRoute(ctx context.Context, channel, scopeID string) (*AgentData, error)
	List(ctx context.Context) ([]AgentData, error)

	// GetUsage reads the current counters, bypassing any profile cache.
	GetUsage(ctx context.Context, id uuid.UUID) (*Usage, error)

	// IncrementUsage applies all counters of delta in one write. When the
	// stored daily date differs from delta.Date the daily count restarts.
	IncrementUsage(ctx context.Context, id uuid.UUID, delta UsageDelta) error
	// ResetDailyCount zeroes the daily counter if its date is not today.
	// Returns true if a reset happened.
	ResetDailyCount(ctx context.Context, id uuid.UUID, today string) (bool, error)

	AppendFAQ(ctx context.Context, id uuid.UUID, entry FAQEntry) error
	AppendFeedback(ctx context.Context, id uuid.UUID, entry FeedbackEntry) error
}
