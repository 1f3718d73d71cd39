package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type retryStub struct {
	text  string
	err   error
	calls int
}

func (r *retryStub) fn(context.Context, string) (string, error) {
	r.calls++
	return r.text, r.err
}

func TestInterpret_ControlTokens(t *testing.T) {
	group := InterpretInput{SupervisorConfigured: true, AutoModerate: true, MaxLength: 4096}
	dm := InterpretInput{IsPrivate: true, SupervisorConfigured: true, AutoModerate: true, MaxLength: 4096}

	tests := []struct {
		name      string
		in        InterpretInput
		raw       string
		want      Action
		wantRetry bool
	}{
		{"group escalate with supervisor", group, "ESCALATE", ActionEscalate, false},
		{"group escalate without supervisor", InterpretInput{MaxLength: 4096}, "ESCALATE", ActionSkip, false},
		{"group delete auto-moderate", group, "DELETE", ActionDelete, false},
		{"group delete moderation off", InterpretInput{SupervisorConfigured: true, MaxLength: 4096}, "DELETE", ActionSkip, false},
		{"group skip", group, "SKIP", ActionSkip, false},
		{"group skip after think block", group, "<think>not for me</think>\nSKIP", ActionSkip, false},
		{"dm escalate with supervisor", dm, "ESCALATE", ActionEscalate, false},
		{"dm escalate without supervisor retries", InterpretInput{IsPrivate: true, MaxLength: 4096}, "ESCALATE", ActionReply, true},
		{"dm skip retries", dm, "SKIP", ActionReply, true},
		{"dm delete retries", dm, "DELETE", ActionReply, true},
		{"supervisor dm escalate retries", InterpretInput{IsSupervisor: true, IsPrivate: true, SupervisorConfigured: true, MaxLength: 4096}, "ESCALATE", ActionReply, true},
		{"supervisor in group skip retries", InterpretInput{IsSupervisor: true, SupervisorConfigured: true, MaxLength: 4096}, "SKIP", ActionReply, true},
		{"token inside a sentence is a reply", dm, "I will not SKIP this", ActionReply, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.Raw = tt.raw
			rs := &retryStub{text: "Hello! What can I do for you?"}
			d := Interpret(context.Background(), in, rs.fn)
			if d.Kind != tt.want {
				t.Errorf("Kind = %v, want %v", d.Kind, tt.want)
			}
			if (rs.calls == 1) != tt.wantRetry || rs.calls > 1 {
				t.Errorf("retry calls = %d, wantRetry %v", rs.calls, tt.wantRetry)
			}
			if d.Kind == ActionReply && d.Reply.Text == "" {
				t.Error("reply text is empty")
			}
		})
	}
}

func TestInterpret_RetryFallback(t *testing.T) {
	in := InterpretInput{Raw: "ESCALATE", IsSupervisor: true, IsPrivate: true, SupervisorConfigured: true, MaxLength: 4096}

	tests := []struct {
		name string
		stub *retryStub
		want string
	}{
		{"retry answers", &retryStub{text: "Sure, the numbers look good."}, "Sure, the numbers look good."},
		{"retry token again", &retryStub{text: "ESCALATE"}, FallbackGreeting},
		{"retry fails", &retryStub{err: errors.New("timeout")}, FallbackGreeting},
		{"retry empty", &retryStub{text: "  "}, FallbackGreeting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Interpret(context.Background(), in, tt.stub.fn)
			if d.Kind != ActionReply || d.Reply.Text != tt.want {
				t.Errorf("decision = %+v, want reply %q", d, tt.want)
			}
			if tt.stub.calls != 1 {
				t.Errorf("retry calls = %d, want exactly 1", tt.stub.calls)
			}
			if !d.Retried {
				t.Error("Retried not set")
			}
		})
	}
}

func TestInterpret_SupervisorNeverEscalates(t *testing.T) {
	for _, private := range []bool{true, false} {
		for _, raw := range []string{"ESCALATE", "DELETE", "SKIP"} {
			in := InterpretInput{Raw: raw, IsSupervisor: true, IsPrivate: private, SupervisorConfigured: true, AutoModerate: true, MaxLength: 2000}
			stub := &retryStub{text: raw}
			d := Interpret(context.Background(), in, stub.fn)
			if d.Kind != ActionReply || d.Reply.Text != FallbackGreeting || d.SelfEscalation {
				t.Errorf("private=%v raw=%s: decision = %+v", private, raw, d)
			}
		}
	}
}

func TestInterpret_Feedback(t *testing.T) {
	in := InterpretInput{Raw: "Thanks, noted!\n[FEEDBACK:  wants a mobile app  ]", MaxLength: 4096}
	d := Interpret(context.Background(), in, nil)
	if d.Kind != ActionReply || d.Reply.Text != "Thanks, noted!" || d.Reply.Feedback != "wants a mobile app" {
		t.Errorf("decision = %+v", d)
	}
}

func TestInterpret_FeedbackOnlyIsSkip(t *testing.T) {
	d := Interpret(context.Background(), InterpretInput{Raw: "[FEEDBACK: meh]", MaxLength: 4096}, nil)
	if d.Kind != ActionSkip {
		t.Errorf("Kind = %v, want skip", d.Kind)
	}
}

func TestInterpret_LengthBoundary(t *testing.T) {
	exact := strings.Repeat("b", 2000)
	d := Interpret(context.Background(), InterpretInput{Raw: exact, MaxLength: 2000}, nil)
	if d.Reply.Text != exact {
		t.Errorf("text at limit changed, len %d", len(d.Reply.Text))
	}

	d = Interpret(context.Background(), InterpretInput{Raw: exact + "c", MaxLength: 2000}, nil)
	if want := strings.Repeat("b", 1997) + "..."; d.Reply.Text != want {
		t.Errorf("over limit: len %d", len(d.Reply.Text))
	}
}

func TestInterpret_SelfEscalation(t *testing.T) {
	hedging := "Thanks for asking! Let me check with the team and get back to you."

	tests := []struct {
		name string
		in   InterpretInput
		want bool
	}{
		{"user with supervisor", InterpretInput{SupervisorConfigured: true}, true},
		{"no supervisor", InterpretInput{}, false},
		{"sender is supervisor", InterpretInput{SupervisorConfigured: true, IsSupervisor: true, IsPrivate: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			in.Raw = hedging
			in.MaxLength = 4096
			d := Interpret(context.Background(), in, nil)
			if d.Kind != ActionReply || d.Reply.Text != hedging {
				t.Errorf("decision = %+v, want the reply unchanged", d)
			}
			if d.SelfEscalation != tt.want {
				t.Errorf("SelfEscalation = %v, want %v", d.SelfEscalation, tt.want)
			}
		})
	}
}

func TestDetectSelfEscalation(t *testing.T) {
	tests := map[string]bool{
		"I'll get back to you shortly.":        true,
		"I’ll ask the team about that.":        true,
		"LET ME ESCALATE this for you":         true,
		"I'll forward this to our devs":        true,
		"Staking opens Monday.":                false,
		"The team ships updates every Friday.": false,
	}
	for text, want := range tests {
		if got := DetectSelfEscalation(text); got != want {
			t.Errorf("DetectSelfEscalation(%q) = %v, want %v", text, got, want)
		}
	}
}
