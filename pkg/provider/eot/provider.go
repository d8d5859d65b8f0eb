// Package eot defines the Predictor interface for end-of-turn detection.
//
// An end-of-turn model estimates the probability that the caller has finished
// speaking given the recent conversation, letting the turn controller commit
// a user turn well before the silence fallback would. Predictions are
// advisory: on error the caller falls back to silence- and age-based commit
// rules.
package eot

import (
	"context"
	"strings"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation turn handed to the predictor.
type Message struct {
	Role Role
	Text string
}

// Predictor estimates end-of-turn probability for the last user message in
// history. Implementations must be safe for concurrent use.
type Predictor interface {
	// Predict returns a probability in [0, 1] that the final message in
	// history completes the caller's turn. history must end with a user
	// message.
	Predict(ctx context.Context, history []Message) (float64, error)
}

// Normalize prepares text for the end-of-turn model: lowercased, with all
// punctuation removed except apostrophes and hyphens, and whitespace
// collapsed. Models of the livekit turn-detector family are trained on text
// in exactly this shape.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'', r == '-':
			b.WriteRune(r)
		case r > 127:
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// WordCount reports the number of whitespace-separated words in text after
// normalization. Short utterances get a lower commit threshold because the
// model under-predicts on them.
func WordCount(text string) int {
	return len(strings.Fields(Normalize(text)))
}
