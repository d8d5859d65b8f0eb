package telephony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/softspoken-ai/dialtone/pkg/audio"
)

// FrameInterval is the wire pacing interval: one µ-law frame every 20 ms.
const FrameInterval = 20 * time.Millisecond

// Conn is the subset of *websocket.Conn the media stream uses. Declared as an
// interface so tests can drive the stream without a network connection.
type Conn interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Option is a functional option for configuring a MediaStream.
type Option func(*MediaStream)

// WithLogger sets the logger used for dropped-frame warnings.
func WithLogger(log *slog.Logger) Option {
	return func(s *MediaStream) {
		s.log = log
	}
}

// WithSpeechSampleRate sets the PCM sample rate of synthesized speech handed
// to EnqueueSpeech. Must be a multiple of the 8 kHz wire rate. Default 24000.
func WithSpeechSampleRate(rate int) Option {
	return func(s *MediaStream) {
		s.speechRate = rate
	}
}

// WithOutboundBuffer sets the outbound frame queue capacity. Default 1024
// frames (about 20 s of audio).
func WithOutboundBuffer(frames int) Option {
	return func(s *MediaStream) {
		s.outboundCap = frames
	}
}

// MediaStream adapts one provider media WebSocket into PCM in both
// directions: inbound µ-law frames are decoded and upsampled to 16 kHz for
// the recognition pipeline, outbound synthesized PCM is downsampled, µ-law
// encoded, and sent one 160-byte frame per 20 ms.
//
// Run and RunSender each own one direction and must run in their own
// goroutines. All other methods are safe for concurrent use.
type MediaStream struct {
	conn        Conn
	log         *slog.Logger
	speechRate  int
	outboundCap int

	up   audio.Upsampler2x
	down *audio.Downsampler

	frames  chan []byte
	marks   chan string
	started chan struct{}
	info    StartPayload

	outbound  chan []byte
	partialMu sync.Mutex
	partial   []byte // incomplete trailing wire frame, carried between enqueues

	writeMu sync.Mutex

	dropped atomic.Int64
}

// NewMediaStream wraps an accepted media WebSocket connection.
func NewMediaStream(conn Conn, opts ...Option) *MediaStream {
	s := &MediaStream{
		conn:        conn,
		log:         slog.Default(),
		speechRate:  24000,
		outboundCap: 1024,
	}
	for _, o := range opts {
		o(s)
	}
	s.down = audio.NewDownsampler(s.speechRate / WireSampleRate)
	s.frames = make(chan []byte, 256)
	s.marks = make(chan string, 16)
	s.started = make(chan struct{})
	s.outbound = make(chan []byte, s.outboundCap)
	return s
}

// Frames returns the channel of inbound PCM16 frames at 16 kHz. Closed when
// the read loop exits.
func (s *MediaStream) Frames() <-chan []byte { return s.frames }

// Marks returns the channel of mark names echoed back by the provider.
func (s *MediaStream) Marks() <-chan string { return s.marks }

// Started is closed once the start event has been received; after that Info
// is valid.
func (s *MediaStream) Started() <-chan struct{} { return s.started }

// Info returns the start payload. Only valid after Started is closed.
func (s *MediaStream) Info() StartPayload { return s.info }

// Dropped reports how many malformed inbound frames were discarded.
func (s *MediaStream) Dropped() int64 { return s.dropped.Load() }

// Run is the read loop. It returns nil on a clean stop event and a wrapped
// error on WebSocket failure or an unparsable message. The frames and marks
// channels are closed on exit.
func (s *MediaStream) Run(ctx context.Context) error {
	defer close(s.frames)
	defer close(s.marks)

	startSeen := false
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("telephony: read: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			// The event framing itself is broken; the stream is unusable.
			return fmt.Errorf("telephony: malformed event: %w", err)
		}

		switch env.Event {
		case EventConnected:
			// Protocol handshake, no payload of interest.
		case EventStart:
			if env.Start == nil {
				return fmt.Errorf("telephony: start event without payload")
			}
			if !startSeen {
				startSeen = true
				s.info = *env.Start
				close(s.started)
			}
		case EventMedia:
			pcm, ok := s.decodeMedia(env.Media)
			if !ok {
				continue
			}
			select {
			case s.frames <- pcm:
			case <-ctx.Done():
				return ctx.Err()
			}
		case EventMark:
			if env.Mark == nil {
				continue
			}
			select {
			case s.marks <- env.Mark.Name:
			default:
				// Marks are advisory; never stall the read loop on them.
			}
		case EventStop:
			return nil
		default:
			// Unknown events are ignored for forward compatibility.
		}
	}
}

// decodeMedia converts one media payload to a 16 kHz PCM frame. Malformed
// payloads are counted, logged, and dropped.
func (s *MediaStream) decodeMedia(m *MediaPayload) ([]byte, bool) {
	if m == nil || m.Payload == "" {
		s.dropFrame("empty media payload")
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		s.dropFrame("invalid base64 in media payload")
		return nil, false
	}
	if len(raw) == 0 {
		s.dropFrame("zero-length media payload")
		return nil, false
	}
	return s.up.Process(audio.DecodeMuLaw(raw)), true
}

func (s *MediaStream) dropFrame(reason string) {
	n := s.dropped.Add(1)
	if n <= 3 || n%100 == 0 {
		s.log.Warn("telephony: dropping inbound frame", "reason", reason, "total", n)
	}
}

// RunSender paces the outbound queue onto the wire, one frame per 20 ms.
// Ticks with an empty queue send nothing.
func (s *MediaStream) RunSender(ctx context.Context) error {
	ticker := time.NewTicker(FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			select {
			case frame := <-s.outbound:
				if err := s.sendMedia(ctx, frame); err != nil {
					return err
				}
			default:
			}
		}
	}
}

func (s *MediaStream) sendMedia(ctx context.Context, frame []byte) error {
	msg, err := marshalMedia(s.info.StreamSID, base64.StdEncoding.EncodeToString(frame))
	if err != nil {
		return fmt.Errorf("telephony: marshal media: %w", err)
	}
	return s.write(ctx, msg)
}

// EnqueueSpeech downsamples synthesized PCM to the wire rate, µ-law encodes
// it, and queues complete 160-byte frames. A trailing partial frame is held
// until the next call completes it. Blocks when the queue is full.
func (s *MediaStream) EnqueueSpeech(ctx context.Context, pcm []byte) error {
	mu := audio.EncodeMuLaw(s.down.Process(pcm))

	s.partialMu.Lock()
	buf := append(s.partial, mu...)
	var full [][]byte
	for len(buf) >= WireFrameBytes {
		full = append(full, buf[:WireFrameBytes:WireFrameBytes])
		buf = buf[WireFrameBytes:]
	}
	s.partial = append([]byte(nil), buf...)
	s.partialMu.Unlock()

	for _, frame := range full {
		select {
		case s.outbound <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// FlushSpeech pads the held partial frame with silence and queues it. Call at
// the end of an utterance so the tail is not stuck waiting for more audio.
func (s *MediaStream) FlushSpeech(ctx context.Context) error {
	s.partialMu.Lock()
	var frame []byte
	if len(s.partial) > 0 {
		frame = make([]byte, WireFrameBytes)
		// 0xFF is the µ-law code for silence.
		for i := range frame {
			frame[i] = 0xFF
		}
		copy(frame, s.partial)
		s.partial = nil
	}
	s.partialMu.Unlock()
	if frame == nil {
		return nil
	}
	select {
	case s.outbound <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainOutbound discards all queued frames and the held partial, returning
// the number of full frames dropped. Resampler carry state is reset so the
// next utterance starts clean. Safe to call repeatedly.
func (s *MediaStream) DrainOutbound() int {
	s.partialMu.Lock()
	s.partial = nil
	s.down.Reset()
	s.partialMu.Unlock()

	n := 0
	for {
		select {
		case <-s.outbound:
			n++
		default:
			return n
		}
	}
}

// SendClear tells the provider to flush any audio it has buffered for
// playback.
func (s *MediaStream) SendClear(ctx context.Context) error {
	msg, err := marshalClear(s.info.StreamSID)
	if err != nil {
		return fmt.Errorf("telephony: marshal clear: %w", err)
	}
	return s.write(ctx, msg)
}

// SendMark asks the provider to echo a marker once playback reaches the
// current end of its buffer.
func (s *MediaStream) SendMark(ctx context.Context, name string) error {
	msg, err := marshalMark(s.info.StreamSID, name)
	if err != nil {
		return fmt.Errorf("telephony: marshal mark: %w", err)
	}
	return s.write(ctx, msg)
}

// write serializes WebSocket writes; the sender loop and control messages
// share the connection.
func (s *MediaStream) write(ctx context.Context, msg []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(ctx, websocket.MessageText, msg); err != nil {
		return fmt.Errorf("telephony: write: %w", err)
	}
	return nil
}

// Close closes the underlying WebSocket with a normal-closure status.
func (s *MediaStream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "session ended")
}
