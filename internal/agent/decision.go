package agent

// Action is the variant of a Decision.
type Action int

const (
	ActionReply Action = iota
	ActionSkip
	ActionDelete
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionReply:
		return "reply"
	case ActionSkip:
		return "skip"
	case ActionDelete:
		return "delete"
	case ActionEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// Reply is the visible answer and the feedback the model attached to it.
type Reply struct {
	Text     string
	Feedback string
}

// Decision is what the runtime does with one message after the model has
// answered. Reply is only set when Kind is ActionReply.
type Decision struct {
	Kind  Action
	Reply Reply

	// SelfEscalation marks a Reply in which the model deferred to the team
	// in prose. It opens an escalation alongside the reply.
	SelfEscalation bool

	// Retried is set when a misplaced control token forced a second call.
	Retried bool
}

func skip() Decision { return Decision{Kind: ActionSkip} }
