package agent

import "strings"

// hedgingPhrases are the ways a model defers to the team without using the
// ESCALATE token. Matched against lower-cased text with straight apostrophes.
var hedgingPhrases = []string{
	"let me check with the team",
	"let me check with my team",
	"i'll check with the team",
	"i will check with the team",
	"let me confirm with the team",
	"i'll confirm with the team",
	"i'll get back to you",
	"i will get back to you",
	"we'll get back to you",
	"let me escalate",
	"i'll escalate",
	"i will escalate",
	"i'll ask the team",
	"let me ask the team",
	"i'll forward this to",
	"let me forward this to",
	"i'll pass this on to",
	"i'll pass this along to",
	"let me loop in the team",
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

// DetectSelfEscalation reports whether text contains a hedging phrase.
func DetectSelfEscalation(text string) bool {
	lower := apostrophes.Replace(strings.ToLower(text))
	for _, p := range hedgingPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
