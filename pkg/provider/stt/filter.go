package stt

import (
	"regexp"
	"strings"
)

// Whisper-family models emit annotation tokens for non-speech audio. Those
// must never reach the dialogue pipeline: an agent turn triggered by
// "[BLANK_AUDIO]" reads as the caller having said something.
var markerToken = regexp.MustCompile(`(?i)[\[(]\s*(blank[_ ]?audio|silence|noise|music|inaudible|applause|laughter)\s*[\])]`)

// Clean strips non-speech annotation tokens from a recognition result and
// collapses the remaining whitespace. It returns "" when nothing but markers
// or punctuation remains, which callers should treat as no utterance.
func Clean(text string) string {
	out := markerToken.ReplaceAllString(text, " ")
	out = strings.Join(strings.Fields(out), " ")
	if isPunctuationOnly(out) {
		return ""
	}
	return out
}

func isPunctuationOnly(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r > 127:
			// Non-ASCII letters count as speech.
			return false
		}
	}
	return true
}
