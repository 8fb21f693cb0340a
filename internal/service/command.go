package service

import "strings"

// MentionKind is the parsed intent of a message that mentions the assistant.
type MentionKind int

const (
	// MentionNone: the message does not mention the assistant.
	MentionNone MentionKind = iota
	// MentionOverride: force-store the payload, bypassing classification.
	MentionOverride
	// MentionAsk: answer the payload as an inline query.
	MentionAsk
	// MentionPlain: store the whole message as a non-public mention.
	MentionPlain
)

const (
	overrideToken = ":PUSH"
	askToken      = ":ASK"
)

// Mention is the tagged result of parsing a message against the mention
// grammar. Payload is the message with the handle and command token stripped;
// when stripping leaves nothing, the original text is kept as a fallback.
type Mention struct {
	Kind    MentionKind
	Payload string
}

// ParseMention classifies a message against the command grammar. Matching is
// first-match: Override beats Ask beats PlainMention, mirroring the order the
// commands were historically checked in.
func ParseMention(text, handle string) Mention {
	if handle == "" || !strings.Contains(text, handle) {
		return Mention{Kind: MentionNone, Payload: text}
	}

	switch {
	case strings.Contains(text, overrideToken):
		return Mention{Kind: MentionOverride, Payload: stripCommand(text, handle, overrideToken)}
	case strings.Contains(text, askToken):
		return Mention{Kind: MentionAsk, Payload: stripCommand(text, handle, askToken)}
	default:
		return Mention{Kind: MentionPlain, Payload: text}
	}
}

func stripCommand(text, handle, token string) string {
	cleaned := text
	for _, fragment := range []string{handle + token, handle + " " + token, handle, token} {
		cleaned = strings.ReplaceAll(cleaned, fragment, "")
	}
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return text
	}
	return cleaned
}
