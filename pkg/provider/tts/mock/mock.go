// Package mock provides test doubles for the tts package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
)

var _ tts.Engine = (*Engine)(nil)

// Engine is a mock implementation of tts.Engine. Each Synthesize call
// returns PCM bytes and records the request text.
type Engine struct {
	mu sync.Mutex

	// PCM is the audio returned for every request. If nil, a 100 ms buffer
	// of silence at Rate is returned.
	PCM []byte

	// Rate is the reported sample rate. Defaults to 24000 when zero.
	Rate int

	// SynthesizeErr, if non-nil, is returned by every Synthesize call.
	SynthesizeErr error

	// SynthesizeFn, if set, overrides the scripted behavior entirely.
	SynthesizeFn func(ctx context.Context, text string) ([]byte, error)

	// Requests records the text of every Synthesize call in order.
	Requests []string
}

// Synthesize records the call and returns PCM, SynthesizeErr.
func (e *Engine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	e.mu.Lock()
	e.Requests = append(e.Requests, text)
	fn := e.SynthesizeFn
	e.mu.Unlock()
	if fn != nil {
		return fn(ctx, text)
	}
	if e.SynthesizeErr != nil {
		return nil, e.SynthesizeErr
	}
	if e.PCM != nil {
		return append([]byte(nil), e.PCM...), nil
	}
	return make([]byte, e.SampleRate()/10*2), nil
}

// SampleRate returns Rate, defaulting to 24000.
func (e *Engine) SampleRate() int {
	if e.Rate > 0 {
		return e.Rate
	}
	return 24000
}

// Requested returns a copy of recorded request texts. Thread-safe.
func (e *Engine) Requested() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.Requests))
	copy(out, e.Requests)
	return out
}
