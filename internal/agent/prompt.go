package agent

import (
	"fmt"
	"strings"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/store"
)

// PromptBuilder renders an agent's persona and knowledge into a system prompt.
type PromptBuilder interface {
	BuildSystemPrompt(agent *store.AgentData) string
}

// DefaultPromptBuilder renders persona, description and FAQ.
type DefaultPromptBuilder struct {
	// MaxFAQ caps how many FAQ entries are rendered, newest first. 0 = all.
	MaxFAQ int
}

func (b DefaultPromptBuilder) BuildSystemPrompt(a *store.AgentData) string {
	var sb strings.Builder

	name := a.Name
	if name == "" {
		name = "a community support assistant"
	}
	fmt.Fprintf(&sb, "You are %s.\n", name)
	if a.Description != "" {
		sb.WriteString("\n## About the project\n")
		sb.WriteString(strings.TrimSpace(a.Description))
		sb.WriteString("\n")
	}
	if a.SystemPrompt != "" {
		sb.WriteString("\n## Instructions\n")
		sb.WriteString(strings.TrimSpace(a.SystemPrompt))
		sb.WriteString("\n")
	}

	faq := a.TrainingData.FAQ
	if b.MaxFAQ > 0 && len(faq) > b.MaxFAQ {
		faq = faq[len(faq)-b.MaxFAQ:]
	}
	if len(faq) > 0 {
		sb.WriteString("\n## Known answers\n")
		for _, e := range faq {
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n\n", strings.TrimSpace(e.Question), strings.TrimSpace(e.Answer))
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

const supervisorAddendum = `## Who you are talking to
This message comes from your supervisor, the person on the team you report to.
Talk to them as a colleague. Answer directly and never reply with SKIP, DELETE or ESCALATE.`

const feedbackAddendum = `## Feedback
If the user shares product feedback, a feature request or a complaint, answer normally and then
add one line at the very end of your reply in the form [FEEDBACK: <one-line summary>].
The tag is removed before the user sees your reply.`

// rulesAddendum lists the control tokens the model may use in this
// conversation.
func rulesAddendum(isGroup, supervisorConfigured, autoModerate bool) string {
	var sb strings.Builder
	sb.WriteString("## Response rules\n")
	if isGroup {
		sb.WriteString("- If the message is not meant for you or needs no answer, reply with exactly SKIP.\n")
		if autoModerate {
			sb.WriteString("- If the message is spam, a scam or abusive, reply with exactly DELETE.\n")
		}
	}
	if supervisorConfigured {
		sb.WriteString("- If you cannot answer from what you know, reply with exactly ESCALATE and the team will follow up. " +
			"Do not promise to check with the team in your own words.\n")
	} else {
		sb.WriteString("- If you cannot answer from what you know, say so honestly and suggest where to look.\n")
	}
	sb.WriteString("- Otherwise answer in plain text, concisely.")
	return sb.String()
}

// systemPrompt is the builder output plus the addenda for this conversation.
func systemPrompt(b PromptBuilder, a *store.AgentData, msg bus.InboundMessage, isSupervisor bool) string {
	parts := []string{b.BuildSystemPrompt(a)}
	if isSupervisor {
		parts = append(parts, supervisorAddendum)
	} else {
		parts = append(parts,
			feedbackAddendum,
			rulesAddendum(msg.IsGroup, a.SupervisorFor(msg.Channel) != "", a.AutoModerateEnabled()),
		)
	}
	return strings.Join(parts, "\n\n")
}

// userMessage prefixes the sender's display name so the model can address
// people in a group.
func userMessage(msg bus.InboundMessage) string {
	if msg.SenderName == "" {
		return msg.Content
	}
	return msg.SenderName + ": " + msg.Content
}
