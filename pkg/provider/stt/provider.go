// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a speech recognizer (a local whisper.cpp model, or a
// remote streaming service) behind a uniform interface. The central
// abstraction is SessionHandle: once opened, a session accepts raw PCM audio
// frames and emits finalized Transcript values whenever the recognizer has
// committed to an utterance.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Transcript is one finalized recognition result.
type Transcript struct {
	// Text is the recognized utterance, already cleaned of silence markers.
	Text string

	// Audio is the duration of buffered audio that produced this result.
	Audio time.Duration

	// Latency is the time spent inside the recognizer for this result.
	Latency time.Duration
}

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz of PCM delivered via
	// SendAudio. The telephone pipeline always feeds 16000.
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	// Empty lets the provider use its default.
	Language string
}

// SessionHandle represents an open STT session.
//
// Callers must call Close when the session is no longer needed; failing to
// do so may leak goroutines inside the provider implementation. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw little-endian int16 PCM audio for
	// recognition. Calling SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Finals returns a read-only channel emitting finalized transcripts.
	// Closed when the session ends. Recognizer errors and timeouts produce
	// no transcript; they are logged by the implementation.
	Finals() <-chan Transcript

	// Close terminates the session, flushes pending audio, and closes the
	// Finals channel. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend. Providers are
// process-wide services; multiple sessions may be open simultaneously.
type Provider interface {
	// StartStream opens a new recognition session. The returned
	// SessionHandle is ready to accept audio immediately. The caller owns
	// the handle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
