package tts

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultChunkDuration = 100 * time.Millisecond
	eventsBuf            = 64
)

// StreamOption is a functional option for configuring a Stream.
type StreamOption func(*Stream)

// WithChunkDuration sets the playback chunk size carved from synthesized
// utterances. Defaults to 100 ms.
func WithChunkDuration(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.chunkDur = d
		}
	}
}

// WithStreamLogger sets the logger for synthesis failures.
func WithStreamLogger(log *slog.Logger) StreamOption {
	return func(s *Stream) { s.log = log }
}

// WithSentenceBounds sets the sentence length bounds used when splitting
// Send text: fragments shorter than mergeBelow are merged with a neighbor
// and sentences longer than splitAbove are split at clause boundaries.
// Zero or negative values keep the defaults (15 and 200).
func WithSentenceBounds(mergeBelow, splitAbove int) StreamOption {
	return func(s *Stream) {
		if mergeBelow > 0 {
			s.mergeBelow = mergeBelow
		}
		if splitAbove > 0 {
			s.splitAbove = splitAbove
		}
	}
}

// queued is one sentence waiting for synthesis, tagged with the generation
// it was enqueued under.
type queued struct {
	text string
	gen  int64
}

// Stream serializes synthesis over an Engine. Text handed to Send is split
// into sentences and queued; a single worker synthesizes them in order and
// emits fixed-duration chunks on Events. ClearQueue discards pending
// sentences and advances the generation; audio from a sentence already
// handed to the engine keeps flowing, but carries the old generation so the
// consumer can drop it.
//
// All methods are safe for concurrent use.
type Stream struct {
	engine     Engine
	chunkDur   time.Duration
	mergeBelow int
	splitAbove int
	log        *slog.Logger

	events chan Chunk

	mu    sync.Mutex
	queue []queued
	gen   int64

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// NewStream starts a synthesis stream over the given engine.
func NewStream(engine Engine, opts ...StreamOption) *Stream {
	s := &Stream{
		engine:     engine,
		chunkDur:   defaultChunkDuration,
		mergeBelow: minSentenceLen,
		splitAbove: maxSentenceLen,
		log:        slog.Default(),
		events:     make(chan Chunk, eventsBuf),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.worker(ctx)
	return s
}

// Send splits text into sentences and queues them for synthesis.
func (s *Stream) Send(text string) error {
	select {
	case <-s.done:
		return errors.New("tts: stream is closed")
	default:
	}
	sentences := SplitBounds(text, s.mergeBelow, s.splitAbove)
	if len(sentences) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, sentence := range sentences {
		s.queue = append(s.queue, queued{text: sentence, gen: s.gen})
	}
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// ClearQueue discards all pending sentences and advances the generation.
// The utterance currently being synthesized, if any, still emits its chunks,
// stamped with the generation it was queued under. Safe to call repeatedly.
func (s *Stream) ClearQueue() {
	s.mu.Lock()
	s.queue = nil
	s.gen++
	s.mu.Unlock()
}

// Generation reports the current stream generation. Chunks whose Gen is
// older were queued before the last ClearQueue.
func (s *Stream) Generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Pending reports how many sentences are waiting for synthesis.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Events returns the channel of synthesized audio chunks. Closed by Close.
func (s *Stream) Events() <-chan Chunk { return s.events }

// SampleRate reports the PCM sample rate of emitted chunks.
func (s *Stream) SampleRate() int { return s.engine.SampleRate() }

// Close stops the worker, abandoning any in-flight synthesis, and closes the
// Events channel. Safe to call more than once.
func (s *Stream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.cancel()
		s.wg.Wait()
		close(s.events)
	})
	return nil
}

func (s *Stream) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		item, ok := s.pop()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		s.synthesize(ctx, item)
		select {
		case <-s.done:
			return
		default:
		}
	}
}

func (s *Stream) pop() (queued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return queued{}, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	return item, true
}

// synthesize renders one sentence and emits it chunk by chunk. Engine errors
// skip the sentence; later text still plays.
func (s *Stream) synthesize(ctx context.Context, item queued) {
	start := time.Now()
	pcm, err := s.engine.Synthesize(ctx, item.text)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("tts: synthesis failed, skipping sentence", "error", err, "chars", len(item.text))
		}
		return
	}
	latency := time.Since(start)

	chunkBytes := s.engine.SampleRate() * 2 * int(s.chunkDur/time.Millisecond) / 1000
	if chunkBytes < 2 {
		chunkBytes = 2
	}
	first := true
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		chunk := Chunk{PCM: pcm[:n:n], Final: len(pcm) <= chunkBytes, Gen: item.gen}
		if first {
			chunk.Latency = latency
			first = false
		}
		pcm = pcm[n:]
		select {
		case s.events <- chunk:
		case <-s.done:
			return
		}
	}
}
