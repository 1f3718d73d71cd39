package agent

import (
	"strings"
	"testing"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/store"
)

func TestDefaultPromptBuilder(t *testing.T) {
	a := &store.AgentData{
		Name:         "ProjBot",
		Description:  "A staking protocol.",
		SystemPrompt: "Be brief.",
		TrainingData: store.TrainingData{FAQ: []store.FAQEntry{
			{Question: "old?", Answer: "old"},
			{Question: "When does staking open?", Answer: "Monday"},
		}},
	}

	got := DefaultPromptBuilder{}.BuildSystemPrompt(a)
	for _, want := range []string{"You are ProjBot.", "A staking protocol.", "Be brief.", "Q: When does staking open?\nA: Monday"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}

	capped := DefaultPromptBuilder{MaxFAQ: 1}.BuildSystemPrompt(a)
	if strings.Contains(capped, "old?") || !strings.Contains(capped, "Monday") {
		t.Errorf("MaxFAQ should keep the newest entries:\n%s", capped)
	}
}

func TestSystemPrompt_Addenda(t *testing.T) {
	off := false
	a := &store.AgentData{Name: "x", Supervisors: map[string]string{bus.ChannelDiscord: "sup"}}
	group := bus.InboundMessage{Channel: bus.ChannelDiscord, IsGroup: true}

	p := systemPrompt(DefaultPromptBuilder{}, a, group, false)
	for _, want := range []string{"exactly SKIP", "exactly DELETE", "exactly ESCALATE", "[FEEDBACK:"} {
		if !strings.Contains(p, want) {
			t.Errorf("group prompt missing %q", want)
		}
	}

	a.AutoModerate = &off
	if p := systemPrompt(DefaultPromptBuilder{}, a, group, false); strings.Contains(p, "exactly DELETE") {
		t.Error("DELETE offered with auto-moderation off")
	}

	dm := bus.InboundMessage{Channel: bus.ChannelTelegram}
	if p := systemPrompt(DefaultPromptBuilder{}, a, dm, false); strings.Contains(p, "exactly SKIP") || strings.Contains(p, "exactly ESCALATE") {
		t.Errorf("dm prompt without supervisor offers tokens:\n%s", p)
	}

	sup := systemPrompt(DefaultPromptBuilder{}, a, bus.InboundMessage{Channel: bus.ChannelDiscord}, true)
	if !strings.Contains(sup, "supervisor") || strings.Contains(sup, "[FEEDBACK:") {
		t.Errorf("supervisor prompt:\n%s", sup)
	}
}
