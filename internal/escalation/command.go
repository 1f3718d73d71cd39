package escalation

import "strings"

// CommandKind classifies a supervisor reply.
type CommandKind int

const (
	// CommandContext is free-form text the model turns into an answer.
	CommandContext CommandKind = iota
	// CommandIgnore dismisses the escalation.
	CommandIgnore
	// CommandDirect sends the supervisor's text verbatim.
	CommandDirect
)

func (k CommandKind) String() string {
	switch k {
	case CommandIgnore:
		return "ignore"
	case CommandDirect:
		return "direct"
	default:
		return "context"
	}
}

// Command is a parsed supervisor reply. Text is the direct answer or the
// free-form context; empty for ignore.
type Command struct {
	Kind CommandKind
	Text string
}

// ParseCommand classifies text. Matching is case-insensitive on the trimmed
// text; a Telegram "@botname" suffix on the command word is ignored.
func ParseCommand(text string) Command {
	t := strings.TrimSpace(text)
	word, rest := splitCommand(t)

	switch word {
	case "/ignore", "ignore":
		if word == "ignore" && rest != "" {
			break
		}
		return Command{Kind: CommandIgnore}
	case "/direct":
		return Command{Kind: CommandDirect, Text: rest}
	}
	return Command{Kind: CommandContext, Text: t}
}

// IsExplicit reports whether text starts with /ignore or /direct.
func IsExplicit(text string) bool {
	word, _ := splitCommand(strings.TrimSpace(text))
	return word == "/ignore" || word == "/direct"
}

// splitCommand returns the lower-cased first word (without @bot suffix on
// slash commands) and the trimmed remainder with its original case.
func splitCommand(t string) (word, rest string) {
	idx := strings.IndexAny(t, " \t\n")
	if idx < 0 {
		word = t
	} else {
		word, rest = t[:idx], strings.TrimSpace(t[idx+1:])
	}
	word = strings.ToLower(word)
	if strings.HasPrefix(word, "/") {
		if at := strings.IndexByte(word, '@'); at > 0 {
			word = word[:at]
		}
	}
	return word, rest
}
