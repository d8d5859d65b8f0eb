package tts_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
)

// fakeEngine returns a fixed amount of PCM per sentence and records requests.
type fakeEngine struct {
	mu        sync.Mutex
	requests  []string
	pcmPerReq int
	err       error
	block     chan struct{} // if non-nil, Synthesize waits on it first
}

func (e *fakeEngine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e.mu.Lock()
	e.requests = append(e.requests, text)
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return make([]byte, e.pcmPerReq), nil
}

func (e *fakeEngine) SampleRate() int { return 24000 }

func (e *fakeEngine) requested() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.requests))
	copy(out, e.requests)
	return out
}

func collectChunks(t *testing.T, s *tts.Stream, want int) []tts.Chunk {
	t.Helper()
	var chunks []tts.Chunk
	deadline := time.After(2 * time.Second)
	for len(chunks) < want {
		select {
		case c := <-s.Events():
			chunks = append(chunks, c)
		case <-deadline:
			t.Fatalf("got %d chunks, want %d", len(chunks), want)
		}
	}
	return chunks
}

func TestStream_ChunksUtterance(t *testing.T) {
	t.Parallel()
	// 250 ms of 24 kHz PCM splits into 100 ms + 100 ms + 50 ms chunks.
	engine := &fakeEngine{pcmPerReq: 24000 / 4 * 2}
	s := tts.NewStream(engine, tts.WithStreamLogger(quietLogger()))
	defer s.Close()

	if err := s.Send("This sentence is long enough to stay whole."); err != nil {
		t.Fatal(err)
	}
	chunks := collectChunks(t, s, 3)

	if len(chunks[0].PCM) != 4800 || len(chunks[1].PCM) != 4800 || len(chunks[2].PCM) != 2400 {
		t.Errorf("chunk sizes: %d %d %d", len(chunks[0].PCM), len(chunks[1].PCM), len(chunks[2].PCM))
	}
	if chunks[0].Latency <= 0 {
		t.Error("first chunk should carry synthesis latency")
	}
	if chunks[0].Final || chunks[1].Final {
		t.Error("only the last chunk is final")
	}
	if !chunks[2].Final {
		t.Error("last chunk not marked final")
	}
}

func TestStream_SplitsTextIntoSentences(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{pcmPerReq: 2400}
	s := tts.NewStream(engine, tts.WithStreamLogger(quietLogger()))
	defer s.Close()

	if err := s.Send("That works for me perfectly. Let me confirm the details now."); err != nil {
		t.Fatal(err)
	}
	collectChunks(t, s, 2)

	reqs := engine.requested()
	if len(reqs) != 2 {
		t.Fatalf("requests: got %d (%q), want 2", len(reqs), reqs)
	}
	if !strings.HasPrefix(reqs[0], "That works") || !strings.HasPrefix(reqs[1], "Let me confirm") {
		t.Errorf("unexpected request order: %q", reqs)
	}
}

func TestStream_ClearQueueDropsPendingOnly(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	engine := &fakeEngine{pcmPerReq: 2400, block: block}
	s := tts.NewStream(engine, tts.WithStreamLogger(quietLogger()))
	defer s.Close()

	if err := s.Send("First sentence to be spoken. Second sentence to be dropped. Third sentence also dropped."); err != nil {
		t.Fatal(err)
	}
	// The worker is now blocked synthesizing the first sentence; clearing
	// drops only the queued ones.
	time.Sleep(20 * time.Millisecond)
	s.ClearQueue()
	close(block)

	chunks := collectChunks(t, s, 1)
	if !chunks[0].Final {
		t.Error("expected the in-flight utterance to finish")
	}

	time.Sleep(50 * time.Millisecond)
	if reqs := engine.requested(); len(reqs) != 1 {
		t.Errorf("cleared sentences still synthesized: %q", reqs)
	}
	if s.Pending() != 0 {
		t.Errorf("pending after clear: %d", s.Pending())
	}
	s.ClearQueue() // idempotent
}

func TestStream_ClearQueueAgesInflightGeneration(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	engine := &fakeEngine{pcmPerReq: 2400, block: block}
	s := tts.NewStream(engine, tts.WithStreamLogger(quietLogger()))
	defer s.Close()

	if err := s.Send("First sentence already handed to the engine here."); err != nil {
		t.Fatal(err)
	}
	// The worker already popped the sentence; clearing must still make its
	// chunks identifiable as pre-clear audio.
	time.Sleep(20 * time.Millisecond)
	s.ClearQueue()
	close(block)

	chunks := collectChunks(t, s, 1)
	if chunks[0].Gen == s.Generation() {
		t.Errorf("in-flight chunk carries the post-clear generation %d", chunks[0].Gen)
	}

	if err := s.Send("Second sentence queued after the clear happened."); err != nil {
		t.Fatal(err)
	}
	chunks = collectChunks(t, s, 1)
	if chunks[0].Gen != s.Generation() {
		t.Errorf("post-clear chunk generation: got %d, want %d", chunks[0].Gen, s.Generation())
	}
}

func TestStream_EngineErrorSkipsSentence(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{pcmPerReq: 2400, err: errors.New("server gone")}
	s := tts.NewStream(engine, tts.WithStreamLogger(quietLogger()))
	defer s.Close()

	if err := s.Send("This will fail to synthesize properly."); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	select {
	case c := <-s.Events():
		t.Errorf("unexpected chunk of %d bytes after engine error", len(c.PCM))
	default:
	}
}

func TestStream_SendAfterClose(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{pcmPerReq: 2400}
	s := tts.NewStream(engine, tts.WithStreamLogger(quietLogger()))
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Send("Too late for this one."); err == nil {
		t.Error("Send after Close should return an error")
	}
	if _, ok := <-s.Events(); ok {
		t.Error("Events should be closed after Close")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
