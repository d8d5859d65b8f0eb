package tts

import "strings"

// Sentence splitting keeps synthesis requests small enough for low first-byte
// latency while avoiding choppy audio from fragments. Boundaries are found on
// sentence punctuation, protected against abbreviations, decimals, and
// ellipses; fragments below minSentenceLen merge forward, and anything above
// maxSentenceLen splits again at a clause break near its middle.
const (
	minSentenceLen = 15
	maxSentenceLen = 200
)

var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
	"sr": true, "jr": true, "st": true, "vs": true, "etc": true,
	"inc": true, "ltd": true, "co": true, "corp": true, "ave": true,
	"blvd": true, "dept": true, "est": true, "approx": true, "appt": true,
	"no": true, "vol": true, "sgt": true, "capt": true, "gen": true,
	"e.g": true, "i.e": true, "a.m": true, "p.m": true, "u.s": true,
}

var clauseConjunctions = []string{" and ", " but ", " or ", " so ", " because ", " which ", " while "}

// Split breaks text into sentence-sized pieces ready for synthesis using the
// default length bounds. The result preserves all non-whitespace content in
// order; empty input yields nil.
func Split(text string) []string {
	return SplitBounds(text, minSentenceLen, maxSentenceLen)
}

// SplitBounds is Split with explicit length bounds: fragments below
// mergeBelow merge with a neighbor, sentences above splitAbove split again
// at a clause break. Non-positive bounds fall back to the defaults.
func SplitBounds(text string, mergeBelow, splitAbove int) []string {
	if mergeBelow <= 0 {
		mergeBelow = minSentenceLen
	}
	if splitAbove <= 0 {
		splitAbove = maxSentenceLen
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	raw := splitAtBoundaries(text)
	merged := mergeShort(raw, mergeBelow)

	var out []string
	for _, s := range merged {
		out = append(out, splitLong(s, splitAbove)...)
	}
	return out
}

// splitAtBoundaries cuts at [.!?] followed by end-of-string or whitespace and
// an uppercase start, skipping abbreviations, decimals, and interior ellipsis
// dots.
func splitAtBoundaries(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if c == '.' {
			// Interior dot of an ellipsis: only the last dot may end a
			// sentence.
			if i+1 < len(text) && text[i+1] == '.' {
				continue
			}
			// Decimal number (3.14) or versioned token.
			if i > 0 && i+1 < len(text) && isDigit(text[i-1]) && isDigit(text[i+1]) {
				continue
			}
			if abbreviations[wordBefore(text, i)] {
				continue
			}
		}
		if !boundaryFollows(text, i) {
			continue
		}
		s := strings.TrimSpace(text[start : i+1])
		if s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// boundaryFollows reports whether position i (a sentence punctuation mark)
// ends a sentence: end of text, or whitespace and then an uppercase letter,
// digit, or opening quote.
func boundaryFollows(text string, i int) bool {
	j := i + 1
	if j >= len(text) {
		return true
	}
	if text[j] != ' ' && text[j] != '\t' && text[j] != '\n' && text[j] != '\r' {
		return false
	}
	for j < len(text) && (text[j] == ' ' || text[j] == '\t' || text[j] == '\n' || text[j] == '\r') {
		j++
	}
	if j >= len(text) {
		return true
	}
	c := text[j]
	return (c >= 'A' && c <= 'Z') || isDigit(c) || c == '"' || c == '\''
}

// wordBefore returns the lowercase dotted-token preceding position i, so both
// "Dr" in "Dr." and "e.g" in "e.g." resolve against the abbreviation set.
func wordBefore(text string, i int) string {
	start := i
	for start > 0 {
		c := text[start-1]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '.' {
			start--
			continue
		}
		break
	}
	return strings.ToLower(strings.TrimSuffix(text[start:i], "."))
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// mergeShort folds fragments below mergeBelow into their neighbor so the
// synthesizer never receives a two-word blip as its own request.
func mergeShort(sentences []string, mergeBelow int) []string {
	var out []string
	for _, s := range sentences {
		if len(out) > 0 && (len(s) < mergeBelow || len(out[len(out)-1]) < mergeBelow) {
			out[len(out)-1] = out[len(out)-1] + " " + s
			continue
		}
		out = append(out, s)
	}
	return out
}

// splitLong recursively halves sentences above splitAbove at the comma,
// semicolon, or conjunction closest to the middle. A long sentence with no
// clause break is left intact.
func splitLong(s string, splitAbove int) []string {
	if len(s) <= splitAbove {
		return []string{s}
	}
	cut := bestClauseCut(s)
	if cut <= 0 {
		return []string{s}
	}
	left := strings.TrimSpace(s[:cut])
	right := strings.TrimSpace(s[cut:])
	if left == "" || right == "" {
		return []string{s}
	}
	return append(splitLong(left, splitAbove), splitLong(right, splitAbove)...)
}

// bestClauseCut returns the index just after the clause break closest to the
// middle of s, or -1 when none exists.
func bestClauseCut(s string) int {
	mid := len(s) / 2
	best := -1
	bestDist := len(s)

	consider := func(idx, after int) {
		if idx < 0 {
			return
		}
		if d := abs(idx - mid); d < bestDist {
			bestDist = d
			best = idx + after
		}
	}

	for i := 0; i < len(s)-1; i++ {
		if (s[i] == ',' || s[i] == ';') && s[i+1] == ' ' {
			consider(i, 1)
		}
	}
	if best == -1 {
		for _, conj := range clauseConjunctions {
			if idx := strings.Index(s, conj); idx >= 0 {
				consider(idx, 0)
			}
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
