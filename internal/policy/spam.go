package policy

import (
	"regexp"
	"strings"
)

// SpamFamily names the pattern family that flagged a message.
type SpamFamily string

const (
	SpamNone        SpamFamily = ""
	SpamCredentials SpamFamily = "credential_solicitation"
	SpamOffChannel  SpamFamily = "offchannel_solicitation"
	SpamScamLink    SpamFamily = "scam_link"
)

// SpamResult is the outcome of ClassifySpam.
type SpamResult struct {
	Family SpamFamily
	Match  string
}

// IsSpam reports whether any family matched.
func (r SpamResult) IsSpam() bool { return r.Family != SpamNone }

var (
	credentialPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(seed|recovery|secret|backup)\s+(phrase|words?)\b`),
		regexp.MustCompile(`(?i)\b((send|share|give|enter|type|paste|submit|import)\s+(me\s+)?(your\s+|the\s+)?|(wallet|seed)\s+)mnemonic\b`),
		regexp.MustCompile(`(?i)\bprivate\s+keys?\b`),
		regexp.MustCompile(`(?i)\b(send|share|give|enter|type|paste|submit|import)\s+(me\s+)?(your\s+|the\s+)?(12|24)[\s-]+words?\b`),
		regexp.MustCompile(`(?i)\b(seed|wallet)\b.{0,40}\b(12|24)[\s-]+words?\b`),
		regexp.MustCompile(`(?i)\b(12|24)[\s-]+words?\s+(seed|recovery|wallet|secret)\b`),
		regexp.MustCompile(`(?i)\b(verify|validate|sync|rectify)\s+(your\s+)?wallet\b`),
		regexp.MustCompile(`(?i)\b(send|share|give|enter)\s+(me\s+)?(your\s+)?(password|passcode|2fa|otp|login)\b`),
	}

	offChannelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(dm|pm|inbox|message)\s+me\b`),
		regexp.MustCompile(`(?i)\bcheck\s+(your\s+)?(dm|dms|inbox)\b`),
		regexp.MustCompile(`(?i)\b(contact|reach|text|add)\s+me\s+(on|via|at)\s+(telegram|whatsapp|signal|wechat|discord)\b`),
		regexp.MustCompile(`(?i)\bwrite\s+to\s+me\s+(on|in)\s+private\b`),
	}

	shortenerPattern = regexp.MustCompile(`(?i)\b(bit\.ly|tinyurl\.com|goo\.gl|is\.gd|cutt\.ly|rb\.gy|shorturl\.at|ow\.ly|t\.ly|tiny\.cc|rebrand\.ly)\b`)

	suspiciousTLDPattern = regexp.MustCompile(`(?i)\b[a-z0-9][a-z0-9-]*(\.[a-z0-9-]+)*\.(xyz|top|click|tk|ml|ga|cf|gq|buzz|icu|cam|monster|sbs|cfd|claims?)\b`)

	urlPattern = regexp.MustCompile(`(?i)\b(https?://|www\.)\S+`)

	rewardBaitPattern = regexp.MustCompile(`(?i)\b(free\s+(airdrop|crypto|tokens?|nft|eth|btc|usdt|mint)|claim\s+(your\s+)?(reward|airdrop|tokens?|prize|bonus)|double\s+your|giveaway|guaranteed\s+(profit|returns?)|connect\s+(your\s+)?wallet\s+to\s+claim)\b`)
)

// ClassifySpam runs the lexical spam classifier. Pure, no network access.
func ClassifySpam(text string) SpamResult {
	if strings.TrimSpace(text) == "" {
		return SpamResult{}
	}

	for _, re := range credentialPatterns {
		if m := re.FindString(text); m != "" {
			return SpamResult{Family: SpamCredentials, Match: m}
		}
	}
	for _, re := range offChannelPatterns {
		if m := re.FindString(text); m != "" {
			return SpamResult{Family: SpamOffChannel, Match: m}
		}
	}
	if m := shortenerPattern.FindString(text); m != "" {
		return SpamResult{Family: SpamScamLink, Match: m}
	}
	if m := suspiciousTLDPattern.FindString(text); m != "" {
		return SpamResult{Family: SpamScamLink, Match: m}
	}
	// Reward bait only counts when it comes with a link.
	if urlPattern.MatchString(text) {
		if m := rewardBaitPattern.FindString(text); m != "" {
			return SpamResult{Family: SpamScamLink, Match: m}
		}
	}
	return SpamResult{}
}

// DetectSpam reports whether text is spam.
func DetectSpam(text string) bool {
	return ClassifySpam(text).IsSpam()
}
