package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rishsane/humuter-sub000/internal/bus"
	"github.com/rishsane/humuter-sub000/internal/providers"
	"github.com/rishsane/humuter-sub000/internal/store"
	"github.com/rishsane/humuter-sub000/internal/store/file"
	"github.com/rishsane/humuter-sub000/internal/usage"
)

type sentMessage struct {
	channel string
	to      string
	text    string
	replyTo string
	direct  bool
}

type fakeMessenger struct {
	mu     sync.Mutex
	sent   []sentMessage
	dmErr  error
	nextID int
}

func (f *fakeMessenger) SendReply(_ context.Context, channel, chatID, text, replyTo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, sentMessage{channel: channel, to: chatID, text: text, replyTo: replyTo})
	return fmt.Sprintf("out-%d", f.nextID), nil
}

func (f *fakeMessenger) SendDirectMessage(_ context.Context, channel, userID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dmErr != nil {
		return "", f.dmErr
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{channel: channel, to: userID, text: text, direct: true})
	return fmt.Sprintf("dm-%d", f.nextID), nil
}

func (f *fakeMessenger) to(chatID string) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.to == chatID {
			out = append(out, m)
		}
	}
	return out
}

type fakeGenerator struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
	users []string
}

func (g *fakeGenerator) Generate(_ context.Context, _, _, _, user string) (*providers.Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.users = append(g.users, user)
	if g.err != nil {
		return nil, g.err
	}
	return &providers.Generation{Text: g.text, TokensUsed: 42}, nil
}

type fakeBudget struct {
	mu     sync.Mutex
	total  int
	denial usage.Denial
}

func (b *fakeBudget) CheckBudget(context.Context, *store.AgentData) (usage.Denial, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.denial, nil
}

func (b *fakeBudget) RecordTokens(_ context.Context, _ uuid.UUID, n int) error {
	b.mu.Lock()
	b.total += n
	b.mu.Unlock()
	return nil
}

const (
	originChat = "-100"
	supervisor = "boss"
)

type harness struct {
	svc         *Service
	out         *fakeMessenger
	gen         *fakeGenerator
	budget      *fakeBudget
	agents      *file.FileAgentStore
	escalations *file.FileEscalationStore
	agent       *store.AgentData
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	agents, err := file.NewFileAgentStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	escs, err := file.NewFileEscalationStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	a := &store.AgentData{
		Key:         "support",
		Name:        "Helper",
		Plan:        store.PlanStarter,
		Supervisors: map[string]string{bus.ChannelTelegram: supervisor},
	}
	if err := agents.Create(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	h := &harness{
		out:         &fakeMessenger{},
		gen:         &fakeGenerator{text: "Staking opens on Monday at noon UTC."},
		budget:      &fakeBudget{},
		agents:      agents,
		escalations: escs,
		agent:       a,
	}
	h.svc = NewService(Config{
		Escalations: escs,
		Agents:      agents,
		Messenger:   h.out,
		Generator:   h.gen,
		Budget:      h.budget,
		TTL:         DefaultTTL,
	})
	return h
}

func userQuestion(text string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    bus.ChannelTelegram,
		ChatID:     originChat,
		MessageID:  "m1",
		SenderID:   "u1",
		SenderName: "alice",
		Content:    text,
		IsGroup:    true,
	}
}

func supervisorDM(text, replyTo string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:          bus.ChannelTelegram,
		ChatID:           supervisor,
		MessageID:        "s1",
		SenderID:         supervisor,
		Content:          text,
		ReplyToMessageID: replyTo,
		ReplyToSelf:      replyTo != "",
	}
}

func (h *harness) create(t *testing.T, question string) *store.EscalationData {
	t.Helper()
	rec, err := h.svc.Create(context.Background(), h.agent, userQuestion(question))
	if err != nil {
		t.Fatal(err)
	}
	return rec
}

func (h *harness) faq(t *testing.T) []store.FAQEntry {
	t.Helper()
	a, err := h.agents.Get(context.Background(), h.agent.ID)
	if err != nil {
		t.Fatal(err)
	}
	return a.TrainingData.FAQ
}

func TestCreate_NotifiesSupervisor(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "When does staking open?")

	dms := h.out.to(supervisor)
	if len(dms) != 1 || !dms[0].direct {
		t.Fatalf("supervisor messages = %+v, want one DM", dms)
	}
	for _, want := range []string{"When does staking open?", "alice", "/ignore", "/direct"} {
		if !strings.Contains(dms[0].text, want) {
			t.Errorf("notification missing %q:\n%s", want, dms[0].text)
		}
	}
	if rec.Status != store.EscalationStatusPending || rec.ForwardedMessageID == nil {
		t.Errorf("record = %+v", rec)
	}
	got, err := h.escalations.Get(context.Background(), rec.ID)
	if err != nil || got.UserQuestion != "When does staking open?" || got.UserName != "alice" {
		t.Errorf("stored record = %+v, err = %v", got, err)
	}
}

func TestCreate_FailedNotifyStillStores(t *testing.T) {
	h := newHarness(t)
	h.out.dmErr = errors.New("bot was blocked by the user")

	rec := h.create(t, "Where are the docs?")
	if rec.ForwardedMessageID != nil {
		t.Errorf("ForwardedMessageID = %v, want nil", *rec.ForwardedMessageID)
	}
	if _, err := h.escalations.Get(context.Background(), rec.ID); err != nil {
		t.Errorf("record not stored: %v", err)
	}
}

func TestCreate_NoSupervisor(t *testing.T) {
	h := newHarness(t)
	msg := userQuestion("hi")
	msg.Channel = bus.ChannelDiscord
	if _, err := h.svc.Create(context.Background(), h.agent, msg); !errors.Is(err, ErrNoSupervisor) {
		t.Errorf("err = %v, want ErrNoSupervisor", err)
	}
}

func TestDirectAnswer(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "When does staking open?")
	ctx := context.Background()

	if !h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("/direct Staking opens Monday", *rec.ForwardedMessageID)) {
		t.Fatal("supervisor reply not handled")
	}

	origin := h.out.to(originChat)
	if len(origin) != 1 || origin[0].text != "Staking opens Monday" || origin[0].replyTo != "m1" {
		t.Fatalf("origin chat got %+v", origin)
	}
	faq := h.faq(t)
	if len(faq) != 1 || faq[0].Question != "When does staking open?" || faq[0].Answer != "Staking opens Monday" {
		t.Errorf("faq = %+v", faq)
	}
	got, _ := h.escalations.Get(ctx, rec.ID)
	if got.Status != store.EscalationStatusResolved || got.AdminReply == nil || *got.AdminReply != "Staking opens Monday" {
		t.Errorf("record = %+v", got)
	}
	if h.gen.calls != 0 {
		t.Errorf("direct answer must not call the model, calls = %d", h.gen.calls)
	}
}

func TestDirectAnswer_Truncated(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "long?")
	long := strings.Repeat("x", 5000)

	h.svc.Resolve(context.Background(), h.agent, rec, Command{Kind: CommandDirect, Text: long}, supervisorDM("", ""))

	origin := h.out.to(originChat)
	if len(origin) != 1 {
		t.Fatalf("origin sends = %d", len(origin))
	}
	if len([]rune(origin[0].text)) != 4096 || !strings.HasSuffix(origin[0].text, "...") {
		t.Errorf("origin send len = %d", len(origin[0].text))
	}
}

func TestDirectAnswer_EmptyKeepsPending(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "q")

	h.svc.HandleSupervisorMessage(context.Background(), h.agent, supervisorDM("/direct", ""))

	got, _ := h.escalations.Get(context.Background(), rec.ID)
	if got.Status != store.EscalationStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestIgnore(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "spam-ish question")
	ctx := context.Background()

	h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("/ignore", ""))

	if origin := h.out.to(originChat); len(origin) != 0 {
		t.Errorf("origin chat got %+v, want nothing", origin)
	}
	got, _ := h.escalations.Get(ctx, rec.ID)
	if got.Status != store.EscalationStatusResolved || *got.AdminReply != IgnoreMarker {
		t.Errorf("record = %+v", got)
	}
	if len(h.faq(t)) != 0 {
		t.Error("ignore must not write FAQ")
	}
}

func TestFreeFormContext(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "When does staking open?")
	ctx := context.Background()

	h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("monday noon utc", ""))

	origin := h.out.to(originChat)
	if len(origin) != 1 || origin[0].text != h.gen.text {
		t.Fatalf("origin chat got %+v", origin)
	}
	if !strings.Contains(h.gen.users[0], "When does staking open?") || !strings.Contains(h.gen.users[0], "monday noon utc") {
		t.Errorf("context prompt = %q", h.gen.users[0])
	}
	got, _ := h.escalations.Get(ctx, rec.ID)
	want := "Context: monday noon utc\nAnswer: " + h.gen.text
	if got.AdminReply == nil || *got.AdminReply != want {
		t.Errorf("admin reply = %v, want %q", got.AdminReply, want)
	}
	if faq := h.faq(t); len(faq) != 1 || faq[0].Answer != h.gen.text {
		t.Errorf("faq = %+v", faq)
	}
	if h.budget.total != 42 {
		t.Errorf("resolver tokens = %d, want 42", h.budget.total)
	}
}

func TestFreeFormContext_LLMFailureKeepsPending(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "q")
	h.gen.err = errors.New("upstream 503")
	ctx := context.Background()

	h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("some context", ""))

	got, _ := h.escalations.Get(ctx, rec.ID)
	if got.Status != store.EscalationStatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if len(h.out.to(originChat)) != 0 {
		t.Error("nothing may reach the origin chat on llm failure")
	}
	sup := h.out.to(supervisor)
	if last := sup[len(sup)-1]; !strings.Contains(last.text, "reply again") {
		t.Errorf("supervisor told %q", last.text)
	}
}

func TestFreeFormContext_OverBudget(t *testing.T) {
	tests := []struct {
		name       string
		denial     usage.Denial
		wantNotice bool
	}{
		{"token budget tells supervisor", usage.DeniedTokenBudget, true},
		{"message cap is silent", usage.DeniedMessageCap, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rec := h.create(t, "When does staking open?")
			h.budget.denial = tt.denial
			ctx := context.Background()
			before := len(h.out.to(supervisor))

			if !h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("monday noon utc", "")) {
				t.Fatal("supervisor reply not consumed")
			}

			if h.gen.calls != 0 {
				t.Errorf("model called %d times over quota", h.gen.calls)
			}
			if len(h.out.to(originChat)) != 0 {
				t.Error("nothing may reach the origin chat over quota")
			}
			sup := h.out.to(supervisor)[before:]
			if tt.wantNotice {
				if len(sup) != 1 || sup[0].text != usage.LimitReachedReply {
					t.Errorf("supervisor got %+v", sup)
				}
			} else if len(sup) != 0 {
				t.Errorf("supervisor got %+v, want nothing", sup)
			}
			got, _ := h.escalations.Get(ctx, rec.ID)
			if got.Status != store.EscalationStatusPending {
				t.Errorf("status = %s, want pending", got.Status)
			}
		})
	}
}

func TestDirectAnswer_OverBudgetStillSent(t *testing.T) {
	h := newHarness(t)
	h.create(t, "When does staking open?")
	h.budget.denial = usage.DeniedTokenBudget

	h.svc.HandleSupervisorMessage(context.Background(), h.agent, supervisorDM("/direct Monday", ""))

	if origin := h.out.to(originChat); len(origin) != 1 || origin[0].text != "Monday" {
		t.Errorf("origin chat got %+v", origin)
	}
}

func TestFreeFormContext_ControlTokenNotSent(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "q")
	h.gen.text = "SKIP"
	ctx := context.Background()

	h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("whatever", ""))

	if len(h.out.to(originChat)) != 0 {
		t.Error("control token answer must not be sent")
	}
	got, _ := h.escalations.Get(ctx, rec.ID)
	if got.Status != store.EscalationStatusResolved {
		t.Errorf("status = %s, want resolved", got.Status)
	}
}

func TestResolve_ConcurrentSendsOnce(t *testing.T) {
	h := newHarness(t)
	rec := h.create(t, "When does staking open?")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.svc.Resolve(ctx, h.agent, rec, Command{Kind: CommandDirect, Text: "Monday"}, supervisorDM("", ""))
		}()
	}
	wg.Wait()

	if origin := h.out.to(originChat); len(origin) != 1 {
		t.Errorf("origin sends = %d, want exactly 1", len(origin))
	}
	if faq := h.faq(t); len(faq) != 1 {
		t.Errorf("faq entries = %d, want 1", len(faq))
	}
}

func TestHandleSupervisorMessage_ConcurrentRepliesSendOnce(t *testing.T) {
	h := newHarness(t)
	h.create(t, "q")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("/direct yes", ""))
		}()
	}
	wg.Wait()

	if origin := h.out.to(originChat); len(origin) != 1 {
		t.Errorf("origin sends = %d, want exactly 1", len(origin))
	}
}

func TestMatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.create(t, "first")
	second := h.create(t, "second")

	t.Run("threaded reply wins over latest", func(t *testing.T) {
		got, err := h.svc.Match(ctx, h.agent, supervisorDM("x", *first.ForwardedMessageID))
		if err != nil || got.ID != first.ID {
			t.Errorf("Match = %v, %v; want first", got, err)
		}
	})
	t.Run("falls back to latest pending", func(t *testing.T) {
		got, err := h.svc.Match(ctx, h.agent, supervisorDM("x", ""))
		if err != nil || got.ID != second.ID {
			t.Errorf("Match = %v, %v; want second", got, err)
		}
	})
	t.Run("unknown thread falls back", func(t *testing.T) {
		got, err := h.svc.Match(ctx, h.agent, supervisorDM("x", "nope"))
		if err != nil || got.ID != second.ID {
			t.Errorf("Match = %v, %v; want second", got, err)
		}
	})
	t.Run("other platform sees nothing", func(t *testing.T) {
		msg := supervisorDM("x", "")
		msg.Channel = bus.ChannelDiscord
		if _, err := h.svc.Match(ctx, h.agent, msg); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestMatch_IgnoresRecordsOlderThanTTL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := &store.EscalationData{
		AgentID:      h.agent.ID,
		Platform:     bus.ChannelTelegram,
		ChatID:       originChat,
		MessageID:    "old",
		UserQuestion: "stale",
		CreatedAt:    time.Now().Add(-25 * time.Hour),
	}
	if err := h.escalations.Create(ctx, old); err != nil {
		t.Fatal(err)
	}

	if _, err := h.svc.Match(ctx, h.agent, supervisorDM("x", "")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("stale record matched, err = %v", err)
	}
}

func TestHandleSupervisorMessage_NoPending(t *testing.T) {
	ctx := context.Background()

	t.Run("plain chat is not consumed", func(t *testing.T) {
		h := newHarness(t)
		if h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("how are the numbers today?", "")) {
			t.Error("plain supervisor chat with nothing pending should fall through")
		}
		if len(h.out.sent) != 0 {
			t.Errorf("sent %+v", h.out.sent)
		}
	})
	t.Run("command gets the empty answer", func(t *testing.T) {
		h := newHarness(t)
		if !h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("/ignore", "")) {
			t.Fatal("command should be consumed")
		}
		sup := h.out.to(supervisor)
		if len(sup) != 1 || sup[0].text != NoPendingReply {
			t.Errorf("supervisor got %+v", sup)
		}
	})
	t.Run("threaded reply gets the empty answer", func(t *testing.T) {
		h := newHarness(t)
		if !h.svc.HandleSupervisorMessage(ctx, h.agent, supervisorDM("thanks", "out-9")) {
			t.Fatal("reply to the agent should be consumed")
		}
		if sup := h.out.to(supervisor); len(sup) != 1 || sup[0].text != NoPendingReply {
			t.Errorf("supervisor got %+v", sup)
		}
	})
}
