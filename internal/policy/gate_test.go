package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/store"
	"github.com/rishsane/humuter-sub000/internal/store/file"
	"github.com/rishsane/humuter-sub000/internal/usage"
)

type failingReserver struct{}

func (failingReserver) Reserve(context.Context, *store.AgentData, bool) (*usage.Reservation, usage.Denial, error) {
	return nil, usage.Allowed, errors.New("db unavailable")
}

func newGate(t *testing.T, a *store.AgentData) *Gate {
	t.Helper()
	agents, err := file.NewFileAgentStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := agents.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	return NewGate(usage.NewLedger(agents))
}

func groupMsg(chat, sender, text string) bus.InboundMessage {
	return bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: chat, SenderID: sender, Content: text, IsGroup: true}
}

func dmMsg(sender, text string) bus.InboundMessage {
	return bus.InboundMessage{Channel: bus.ChannelTelegram, ChatID: sender, SenderID: sender, Content: text}
}

func TestGate_Check(t *testing.T) {
	whitelisted := func() *store.AgentData {
		return &store.AgentData{
			Key:         "wl",
			Plan:        store.PlanStarter,
			Whitelist:   map[string][]string{bus.ChannelTelegram: {"-100"}},
			Supervisors: map[string]string{bus.ChannelTelegram: "boss"},
		}
	}
	open := func() *store.AgentData {
		return &store.AgentData{Key: "open", Plan: store.PlanStarter}
	}

	tests := []struct {
		name  string
		agent *store.AgentData
		msg   bus.InboundMessage
		want  Verdict
	}{
		{"whitelisted group", whitelisted(), groupMsg("-100", "u1", "hello"), Pass},
		{"group not in whitelist", whitelisted(), groupMsg("-200", "u1", "hello"), Drop},
		{"dm from user with whitelist", whitelisted(), dmMsg("u1", "hello"), Drop},
		{"dm from supervisor with whitelist", whitelisted(), dmMsg("boss", "hello"), Pass},
		{"dm from user without whitelist", open(), dmMsg("u1", "hello"), Pass},
		{"empty content", open(), groupMsg("-1", "u1", "   "), Drop},
		{"group spam deletes", open(), groupMsg("-1", "u1", "free tokens at bit.ly/x"), DeleteAndDrop},
		{"dm spam drops", open(), dmMsg("u1", "send your seed phrase"), Drop},
		{"supervisor dm skips spam", whitelisted(), dmMsg("boss", "people keep asking for the seed phrase"), Pass},
		{"token budget", &store.AgentData{Key: "tb", Plan: store.PlanStarter, Usage: store.Usage{TokensUsed: 1_000_000}}, groupMsg("-1", "u1", "hi"), LimitReached},
		{"free monthly cap", &store.AgentData{Key: "fm", Plan: store.PlanFree, Usage: store.Usage{MessagesHandled: 10}}, dmMsg("u1", "hi"), Drop},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGate(t, tt.agent)
			res := g.Check(context.Background(), tt.agent, tt.msg)
			if res.Verdict != tt.want {
				t.Errorf("Verdict = %v (%s), want %v", res.Verdict, res.Reason, tt.want)
			}
			if res.Reservation != nil {
				res.Reservation.Release()
			}
		})
	}
}

func TestGate_SupervisorDMHasNoReservation(t *testing.T) {
	a := &store.AgentData{Key: "s", Plan: store.PlanFree, Supervisors: map[string]string{bus.ChannelTelegram: "boss"},
		Usage: store.Usage{MessagesHandled: 10}}
	g := newGate(t, a)

	res := g.Check(context.Background(), a, dmMsg("boss", "/ignore"))
	if res.Verdict != Pass || res.Reservation != nil {
		t.Errorf("supervisor dm = %+v, want pass without reservation even over quota", res)
	}
}

func TestGate_QuotaErrorDrops(t *testing.T) {
	g := NewGate(failingReserver{})
	a := &store.AgentData{Plan: store.PlanStarter}
	if res := g.Check(context.Background(), a, groupMsg("-1", "u", "hi")); res.Verdict != Drop {
		t.Errorf("Verdict = %v, want Drop", res.Verdict)
	}
}
