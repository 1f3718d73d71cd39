package reply

import (
	"log/slog"
	"regexp"
	"strings"
)

var (
	// Matched open/close names are not enforced; models do not mix them.
	reasoningBlock = regexp.MustCompile(`(?is)<(think|thinking|thought|antthinking)>.*?</(think|thinking|thought|antthinking)>`)
	finalTag       = regexp.MustCompile(`(?i)<\s*/?\s*final\s*>`)
)

// sanitizers run in order over raw model output.
var sanitizers = []func(string) string{
	func(s string) string { return reasoningBlock.ReplaceAllString(s, "") },
	func(s string) string { return finalTag.ReplaceAllString(s, "") },
	dropSystemEchoes,
	dedupeParagraphs,
	strings.TrimSpace,
}

// Sanitize cleans raw model output before it is interpreted or shown to a
// user: reasoning blocks and <final> wrappers are removed, repeated
// paragraphs are collapsed and the result is trimmed.
func Sanitize(content string) string {
	if content == "" {
		return ""
	}
	out := content
	for _, fn := range sanitizers {
		out = fn(out)
	}
	if out != content {
		slog.Debug("reply: sanitized model output", "original_len", len(content), "cleaned_len", len(out))
	}
	return out
}

// dropSystemEchoes removes "[System Message]" blocks that some models repeat
// back. A block runs until the next blank line.
func dropSystemEchoes(s string) string {
	if !strings.Contains(s, "[System Message]") {
		return s
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	inEcho := false
	for _, line := range lines {
		t := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(t, "[System Message]"):
			inEcho = true
		case inEcho:
			inEcho = t != ""
		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// dedupeParagraphs drops empty paragraphs and a paragraph identical to the
// one before it.
func dedupeParagraphs(s string) string {
	paras := strings.Split(s, "\n\n")
	if len(paras) == 1 {
		return s
	}
	out := make([]string, 0, len(paras))
	prev := ""
	for _, p := range paras {
		t := strings.TrimSpace(p)
		if t == "" || t == prev {
			continue
		}
		out = append(out, p)
		prev = t
	}
	return strings.Join(out, "\n\n")
}
