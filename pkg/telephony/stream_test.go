package telephony_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/softspoken-ai/dialtone/pkg/telephony"
)

// fakeConn scripts inbound WebSocket messages and records outbound ones.
type fakeConn struct {
	in chan []byte

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 64)}
}

func (c *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg, ok := <-c.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.MessageText, msg, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return nil
}

func (c *fakeConn) Close(websocket.StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	msg, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	c.in <- msg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMediaStream_StartAndMedia(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	stream := telephony.NewMediaStream(conn, telephony.WithLogger(quietLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	conn.push(t, telephony.Envelope{Event: telephony.EventConnected})
	conn.push(t, telephony.Envelope{
		Event: telephony.EventStart,
		Start: &telephony.StartPayload{
			StreamSID:        "MZabc",
			CallSID:          "CAdef",
			CustomParameters: map[string]string{"lead_name": "Dana"},
		},
	})

	select {
	case <-stream.Started():
	case <-ctx.Done():
		t.Fatal("start event not observed")
	}
	info := stream.Info()
	if info.StreamSID != "MZabc" || info.CallSID != "CAdef" {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.CustomParameters["lead_name"] != "Dana" {
		t.Errorf("custom parameters not carried: %+v", info.CustomParameters)
	}

	// One 20 ms wire frame must become one 20 ms frame at 16 kHz.
	payload := base64.StdEncoding.EncodeToString(make([]byte, 160))
	conn.push(t, telephony.Envelope{Event: telephony.EventMedia, Media: &telephony.MediaPayload{Payload: payload}})

	select {
	case frame := <-stream.Frames():
		if len(frame) != 640 {
			t.Errorf("frame length: got %d, want 640", len(frame))
		}
	case <-ctx.Done():
		t.Fatal("no frame delivered")
	}

	conn.push(t, telephony.Envelope{Event: telephony.EventStop, Stop: &telephony.StopPayload{}})
	if err := <-done; err != nil {
		t.Errorf("clean stop should return nil, got %v", err)
	}
}

func TestMediaStream_DropsMalformedMedia(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	stream := telephony.NewMediaStream(conn, telephony.WithLogger(quietLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	conn.push(t, telephony.Envelope{Event: telephony.EventMedia, Media: &telephony.MediaPayload{Payload: "%%%not-base64%%%"}})
	conn.push(t, telephony.Envelope{Event: telephony.EventMedia})
	conn.push(t, telephony.Envelope{Event: telephony.EventStop})

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := stream.Dropped(); got != 2 {
		t.Errorf("dropped count: got %d, want 2", got)
	}
	select {
	case frame, ok := <-stream.Frames():
		if ok {
			t.Errorf("unexpected frame of %d bytes from malformed media", len(frame))
		}
	default:
	}
}

func TestMediaStream_HardParseErrorEndsRun(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	stream := telephony.NewMediaStream(conn, telephony.WithLogger(quietLogger()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	conn.in <- []byte("{this is not json")
	if err := <-done; err == nil {
		t.Error("expected error from unparsable event")
	}
}

func TestMediaStream_EnqueueAndDrain(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	stream := telephony.NewMediaStream(conn, telephony.WithLogger(quietLogger()))
	ctx := context.Background()

	// 40 ms of 24 kHz PCM (960 samples) downsamples to 320 µ-law bytes: two
	// complete wire frames.
	pcm := make([]byte, 960*2)
	if err := stream.EnqueueSpeech(ctx, pcm); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := stream.DrainOutbound(); got != 2 {
		t.Errorf("drained frames: got %d, want 2", got)
	}
	if got := stream.DrainOutbound(); got != 0 {
		t.Errorf("second drain: got %d, want 0", got)
	}
}

func TestMediaStream_FlushPadsPartialFrame(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	stream := telephony.NewMediaStream(conn, telephony.WithLogger(quietLogger()))
	ctx := context.Background()

	// 10 ms of 24 kHz PCM yields 80 µ-law bytes: half a wire frame.
	pcm := make([]byte, 240*2)
	if err := stream.EnqueueSpeech(ctx, pcm); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if got := stream.DrainOutbound(); got != 0 {
		t.Fatalf("partial frame should not be queued, drained %d", got)
	}

	if err := stream.EnqueueSpeech(ctx, make([]byte, 240*2)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// The partial is padded to a full silence-tailed frame.
	if err := stream.FlushSpeech(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := stream.DrainOutbound(); got != 1 {
		t.Errorf("flushed frames: got %d, want 1", got)
	}
}

func TestMediaStream_SenderPacesQueuedFrames(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	stream := telephony.NewMediaStream(conn, telephony.WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- stream.RunSender(ctx) }()

	// 20 ms of 24 kHz PCM: exactly one wire frame.
	if err := stream.EnqueueSpeech(ctx, make([]byte, 480*2)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		if len(conn.written()) >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sender never wrote the queued frame")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	var env telephony.Envelope
	if err := json.Unmarshal(conn.written()[0], &env); err != nil {
		t.Fatalf("unmarshal outbound: %v", err)
	}
	if env.Event != telephony.EventMedia || env.Media == nil {
		t.Fatalf("unexpected outbound event: %+v", env)
	}
	raw, err := base64.StdEncoding.DecodeString(env.Media.Payload)
	if err != nil {
		t.Fatalf("outbound payload not base64: %v", err)
	}
	if len(raw) != telephony.WireFrameBytes {
		t.Errorf("outbound frame size: got %d, want %d", len(raw), telephony.WireFrameBytes)
	}
}

func TestMediaStream_ClearAndMark(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	stream := telephony.NewMediaStream(conn, telephony.WithLogger(quietLogger()))
	ctx := context.Background()

	if err := stream.SendClear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := stream.SendMark(ctx, "utterance-1"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	writes := conn.written()
	if len(writes) != 2 {
		t.Fatalf("writes: got %d, want 2", len(writes))
	}
	var clear telephony.Envelope
	if err := json.Unmarshal(writes[0], &clear); err != nil {
		t.Fatal(err)
	}
	if clear.Event != telephony.EventClear {
		t.Errorf("first write event: got %q, want clear", clear.Event)
	}
	var mark telephony.Envelope
	if err := json.Unmarshal(writes[1], &mark); err != nil {
		t.Fatal(err)
	}
	if mark.Event != telephony.EventMark || mark.Mark == nil || mark.Mark.Name != "utterance-1" {
		t.Errorf("second write: %+v", mark)
	}
}
