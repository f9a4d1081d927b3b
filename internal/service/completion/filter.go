package completion

import "strings"

const (
	// FallbackReply replaces replies caught by the keyword denylist.
	FallbackReply = "I'm here to help! How can I assist you today?"
	// EmptyReply is returned when nothing is left after cleaning.
	EmptyReply = "I'm sorry, I couldn't generate a proper response. Please try again."
)

// DefaultDenylist holds blockchain / network configuration keywords.
var DefaultDenylist = []string{"ethereum", "rpc-url", "mainnet"}

// ContentFilter is a best-effort keyword heuristic applied to model replies.
// It is not a safety boundary: a plain substring match is trivially bypassed.
type ContentFilter struct {
	Denylist   []string
	Fallback   string
	EmptyReply string
}

// DefaultContentFilter returns the filter used when nothing else is configured.
func DefaultContentFilter() ContentFilter {
	return ContentFilter{
		Denylist:   append([]string(nil), DefaultDenylist...),
		Fallback:   FallbackReply,
		EmptyReply: EmptyReply,
	}
}

// Apply cleans raw and enforces the denylist. blocked reports whether the
// reply was swapped for the fallback sentence.
func (f ContentFilter) Apply(raw string) (text string, blocked bool) {
	text = Clean(raw)

	for _, word := range f.Denylist {
		if word != "" && strings.Contains(text, word) {
			text = f.Fallback
			blocked = true
			break
		}
	}

	if strings.TrimSpace(text) == "" {
		return f.EmptyReply, blocked
	}
	return text, blocked
}

// Clean strips C0 and C1 control characters (U+0000-U+001F, U+007F-U+009F),
// newlines included, then trims surrounding whitespace.
func Clean(s string) string {
	stripped := strings.Map(func(r rune) rune {
		if r <= 0x1F || (r >= 0x7F && r <= 0x9F) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(stripped)
}
