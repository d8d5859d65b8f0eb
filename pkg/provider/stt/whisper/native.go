// Package whisper implements stt.Provider on the whisper.cpp CGO bindings.
// The whisper.cpp static library (libwhisper.a) and headers (whisper.h) must
// be available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/softspoken-ai/dialtone/pkg/audio"
	"github.com/softspoken-ai/dialtone/pkg/provider/stt"
)

const (
	defaultLanguage     = "en"
	defaultSampleRate   = 16000
	defaultRMSThreshold = 500
	defaultSilenceHold  = 1200 * time.Millisecond
	defaultMinSpeech    = 300 * time.Millisecond
	defaultInferTimeout = 30 * time.Second
)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code for transcription. Defaults to
// "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSampleRate sets the expected sample rate of PCM delivered via
// SendAudio. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// WithRMSThreshold sets the fixed RMS level separating speech from silence
// inside the segmenter. Defaults to 500.
func WithRMSThreshold(threshold float64) Option {
	return func(p *Provider) { p.rmsThreshold = threshold }
}

// WithSilenceHold sets how long silence must follow speech before the
// buffered utterance is sent to the recognizer. Defaults to 1.2 s.
func WithSilenceHold(d time.Duration) Option {
	return func(p *Provider) { p.silenceHold = d }
}

// WithMinSpeech sets the minimum buffered audio duration worth recognizing;
// shorter buffers are discarded as noise blips. Defaults to 300 ms.
func WithMinSpeech(d time.Duration) Option {
	return func(p *Provider) { p.minSpeech = d }
}

// WithInferTimeout caps a single recognizer run. On timeout the buffer is
// dropped and no transcript is emitted. Defaults to 30 s.
func WithInferTimeout(d time.Duration) Option {
	return func(p *Provider) { p.inferTimeout = d }
}

// Provider implements stt.Provider using whisper.cpp Go bindings. The model
// is loaded once at startup and shared across all sessions.
type Provider struct {
	model whisperlib.Model

	language     string
	sampleRate   int
	rmsThreshold float64
	silenceHold  time.Duration
	minSpeech    time.Duration
	inferTimeout time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New creates a Provider loading the whisper.cpp model from modelPath. The
// caller must call Close when the provider is no longer needed.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &Provider{
		model:        model,
		language:     defaultLanguage,
		sampleRate:   defaultSampleRate,
		rmsThreshold: defaultRMSThreshold,
		silenceHold:  defaultSilenceHold,
		minSpeech:    defaultMinSpeech,
		inferTimeout: defaultInferTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// StartStream opens a new recognition session. Each session creates its own
// whisper.cpp context per inference from the shared model, so multiple
// sessions can run concurrently.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = p.sampleRate
	}

	s := &session{
		sampleRate:   sr,
		rmsThreshold: p.rmsThreshold,
		silenceHold:  p.silenceHold,
		minSpeech:    p.minSpeech,
		inferTimeout: p.inferTimeout,
		infer:        p.inferFunc(lang),

		audioCh: make(chan []byte, 256),
		finals:  make(chan stt.Transcript, 16),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.processLoop(ctx)
	return s, nil
}

// inferFunc returns a closure running one recognizer pass over PCM. A fresh
// whisper context is created per call; contexts are not thread-safe but the
// model is shareable.
func (p *Provider) inferFunc(lang string) inferFn {
	return func(pcm []byte) (string, error) {
		wctx, err := p.model.NewContext()
		if err != nil {
			return "", fmt.Errorf("whisper: create context: %w", err)
		}
		if err := wctx.SetLanguage(lang); err != nil {
			slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
		}
		if err := wctx.Process(pcmToFloat32(pcm), nil, nil, nil); err != nil {
			return "", fmt.Errorf("whisper: process audio: %w", err)
		}
		var parts []string
		for {
			segment, err := wctx.NextSegment()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return "", fmt.Errorf("whisper: read segment: %w", err)
			}
			if text := strings.TrimSpace(segment.Text); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, " "), nil
	}
}

// pcmToFloat32 converts little-endian int16 PCM to the normalized float32
// mono samples whisper.cpp expects.
func pcmToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}

// ---- session ----------------------------------------------------------------

type inferFn func(pcm []byte) (string, error)

// session is a live recognition session. Segmentation state is confined to
// the processLoop goroutine.
type session struct {
	sampleRate   int
	rmsThreshold float64
	silenceHold  time.Duration
	minSpeech    time.Duration
	inferTimeout time.Duration
	infer        inferFn

	audioCh chan []byte
	finals  chan stt.Transcript

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ stt.SessionHandle = (*session)(nil)

// SendAudio queues a chunk of little-endian int16 PCM for segmentation.
func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return errors.New("whisper: session is closed")
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return errors.New("whisper: session is closed")
	}
}

// Finals returns the channel of finalized transcripts.
func (s *session) Finals() <-chan stt.Transcript { return s.finals }

// Close terminates the session, flushing any buffered speech first.
func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
	return nil
}

// processLoop owns silence detection and buffering. Speech accumulates until
// the silence hold elapses, then the buffer goes to the recognizer.
func (s *session) processLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)

	var (
		buffer    []byte
		hadSpeech bool
		silence   time.Duration
	)

	chunkDuration := func(chunk []byte) time.Duration {
		samples := len(chunk) / 2
		return time.Duration(samples) * time.Second / time.Duration(s.sampleRate)
	}

	flush := func() {
		pcm := buffer
		buffer = nil
		hadSpeech = false
		silence = 0
		if len(pcm) == 0 {
			return
		}
		if dur := chunkDuration(pcm); dur < s.minSpeech {
			return
		}
		s.recognize(pcm, chunkDuration(pcm))
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-s.done:
			flush()
			return
		case chunk := <-s.audioCh:
			if audio.RMS(chunk) < s.rmsThreshold {
				if !hadSpeech {
					continue
				}
				silence += chunkDuration(chunk)
				buffer = append(buffer, chunk...)
				if silence >= s.silenceHold {
					flush()
				}
			} else {
				hadSpeech = true
				silence = 0
				buffer = append(buffer, chunk...)
			}
		}
	}
}

// recognize runs the recognizer under the inference timeout and emits a
// cleaned transcript. Errors and timeouts drop the buffer without an event.
func (s *session) recognize(pcm []byte, audioDur time.Duration) {
	start := time.Now()
	type result struct {
		text string
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		text, err := s.infer(pcm)
		resCh <- result{text, err}
	}()

	var res result
	select {
	case res = <-resCh:
	case <-time.After(s.inferTimeout):
		// whisper.cpp cannot be cancelled mid-run; the goroutine finishes on
		// its own and the result is discarded.
		slog.Warn("whisper: recognizer timed out, dropping buffer",
			"timeout", s.inferTimeout, "audio", audioDur)
		return
	}
	if res.err != nil {
		slog.Error("whisper: recognition failed, dropping buffer", "error", res.err)
		return
	}

	text := stt.Clean(res.text)
	if text == "" {
		return
	}
	t := stt.Transcript{Text: text, Audio: audioDur, Latency: time.Since(start)}
	// Buffered send first so the final flush on Close is not lost to the
	// already-closed done channel.
	select {
	case s.finals <- t:
		return
	default:
	}
	select {
	case s.finals <- t:
	case <-s.done:
	}
}
