// Package tts defines the Engine interface for Text-to-Speech backends and a
// streaming adapter that feeds sentence-sized synthesis requests through an
// ordered queue, re-chunking the resulting PCM for paced playback.
//
// Engines synthesize one utterance per call (a local HTTP server, or the
// OpenAI speech API); the Stream adapter owns sentence splitting, queueing,
// and barge-in queue clearing on top of any Engine.
package tts

import (
	"context"
	"time"
)

// Engine synthesizes a single utterance to raw little-endian int16 mono PCM
// at SampleRate. Implementations must be safe for concurrent use.
type Engine interface {
	// Synthesize renders text to PCM. An error means this utterance produced
	// no audio; the caller decides whether to continue with later text.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SampleRate reports the PCM sample rate of Synthesize output in Hz.
	SampleRate() int
}

// Chunk is one slice of synthesized audio emitted by a Stream.
type Chunk struct {
	// PCM is little-endian int16 mono audio at the stream's sample rate.
	PCM []byte

	// Final marks the last chunk of one synthesized utterance.
	Final bool

	// Latency is the synthesis time for the utterance, set on its first
	// chunk only.
	Latency time.Duration

	// Gen is the stream generation the utterance was queued under. ClearQueue
	// advances the generation; consumers drop chunks whose Gen is older than
	// Stream.Generation to discard audio from before a barge-in.
	Gen int64
}
