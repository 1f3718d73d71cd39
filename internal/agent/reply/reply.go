// Package reply turns raw model output into the pieces the runtime acts on:
// control tokens, the visible text, the trailing feedback annotation and
// the per-channel length ceiling.
package reply

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rishsane/humuter-sub000/internal/bus"
)

// Token is one of the reserved single-word answers a model may give instead
// of content.
type Token string

const (
	TokenNone     Token = ""
	TokenSkip     Token = "SKIP"
	TokenDelete   Token = "DELETE"
	TokenEscalate Token = "ESCALATE"
)

// ParseToken returns the control token text consists of, or TokenNone.
// Only an exact match after trimming counts.
func ParseToken(text string) Token {
	switch t := Token(strings.TrimSpace(text)); t {
	case TokenSkip, TokenDelete, TokenEscalate:
		return t
	default:
		return TokenNone
	}
}

// IsControlToken reports whether text is exactly a control token.
func IsControlToken(text string) bool {
	return ParseToken(text) != TokenNone
}

// feedbackPattern matches a [FEEDBACK: ...] annotation closing the text.
var feedbackPattern = regexp.MustCompile(`(?i)\n?[ \t]*\[FEEDBACK:([^\]]*)\]\s*$`)

// ExtractFeedback splits a trailing feedback annotation off text. ok is
// false when text carries none, in which case visible is text trimmed.
func ExtractFeedback(text string) (visible, feedback string, ok bool) {
	loc := feedbackPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return strings.TrimSpace(text), "", false
	}
	feedback = strings.TrimSpace(text[loc[2]:loc[3]])
	visible = strings.TrimSpace(text[:loc[0]])
	return visible, feedback, true
}

// Per-channel hard ceilings, in characters.
const (
	MaxLengthDiscord  = 2000
	MaxLengthTelegram = 4096
)

// MaxLength returns the outbound text ceiling for channel.
func MaxLength(channel string) int {
	switch channel {
	case bus.ChannelDiscord:
		return MaxLengthDiscord
	case bus.ChannelTelegram, bus.ChannelTelegramUser:
		return MaxLengthTelegram
	default:
		return MaxLengthTelegram
	}
}

const ellipsis = "..."

// Truncate limits text to max runes. Text at the limit is returned as is;
// longer text is cut to max-3 runes followed by "...".
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	if max <= len(ellipsis) {
		return string(runes[:max])
	}
	return string(runes[:max-len(ellipsis)]) + ellipsis
}
