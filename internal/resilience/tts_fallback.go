package resilience

import (
	"context"
	"fmt"

	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
)

// EngineFallback implements [tts.Engine] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
// All backends must share a sample rate; the outbound media path is pinned
// to one rate for the whole call.
type EngineFallback struct {
	group *FallbackGroup[tts.Engine]
	rate  int
}

var _ tts.Engine = (*EngineFallback)(nil)

// NewEngineFallback creates an [EngineFallback] with primary as the
// preferred backend.
func NewEngineFallback(primary tts.Engine, primaryName string, cfg FallbackConfig) *EngineFallback {
	return &EngineFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		rate:  primary.SampleRate(),
	}
}

// AddFallback registers an additional synthesis backend. The backend is
// rejected when its sample rate differs from the primary's.
func (f *EngineFallback) AddFallback(name string, engine tts.Engine) error {
	if engine.SampleRate() != f.rate {
		return fmt.Errorf("resilience: fallback engine %q runs at %d Hz, primary at %d Hz",
			name, engine.SampleRate(), f.rate)
	}
	f.group.AddFallback(name, engine)
	return nil
}

// SampleRate returns the shared PCM sample rate of all backends.
func (f *EngineFallback) SampleRate() int { return f.rate }

// Synthesize renders text through the first healthy backend.
func (f *EngineFallback) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return ExecuteWithResult(f.group, func(e tts.Engine) ([]byte, error) {
		return e.Synthesize(ctx, text)
	})
}
