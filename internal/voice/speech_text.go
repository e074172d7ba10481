package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// SanitizeSpeechText strips markup, URLs and symbol glyphs from reply text
// before it is spoken.
func SanitizeSpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"/", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case r == '\n' || r == '\r' || r == '\t' || unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Drops emoji and symbol-heavy glyphs that sound unnatural when spoken.
			continue
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}

// SpeechBridge sanitizes streamed deltas one at a time while keeping the word
// boundaries between them.
type SpeechBridge struct {
	sent         bool
	pendingSpace bool
}

// Next returns the speakable form of raw, or "" when nothing is left to speak.
func (b *SpeechBridge) Next(raw string) string {
	sanitized := SanitizeSpeechText(raw)
	if sanitized == "" {
		if b.sent && raw != "" && endsWithSpace(raw) {
			b.pendingSpace = true
		}
		return ""
	}
	out := bridgeSpeechDelta(raw, sanitized, b.sent)
	if b.pendingSpace && b.sent && !strings.HasPrefix(out, " ") && !startsWithSpeechPunctuation(out) {
		out = " " + out
	}
	b.sent = true
	b.pendingSpace = endsWithSpace(raw)
	return out
}

func bridgeSpeechDelta(rawDelta, sanitized string, alreadySent bool) string {
	if sanitized == "" {
		return ""
	}
	if !alreadySent || !startsWithSpace(rawDelta) || startsWithSpeechPunctuation(sanitized) {
		return sanitized
	}
	return " " + sanitized
}

func startsWithSpace(s string) bool {
	for _, r := range s {
		return unicode.IsSpace(r)
	}
	return false
}

func endsWithSpace(s string) bool {
	if s == "" {
		return false
	}
	r := []rune(s)
	return unicode.IsSpace(r[len(r)-1])
}

func startsWithSpeechPunctuation(s string) bool {
	for _, r := range s {
		return isSpeechSafePunctuation(r) && r != '(' && r != '"' && r != '\''
	}
	return false
}
