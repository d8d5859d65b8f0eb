// Package session runs one telephone call end to end: it fans inbound media
// out to barge-in detection and speech recognition, turns committed
// utterances into agent runs, streams synthesized replies back onto the wire,
// and closes the call out through hangup or disconnect recovery.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/softspoken-ai/dialtone/internal/agentcall"
	"github.com/softspoken-ai/dialtone/internal/callctx"
	"github.com/softspoken-ai/dialtone/internal/observe"
	"github.com/softspoken-ai/dialtone/internal/recovery"
	"github.com/softspoken-ai/dialtone/internal/threadmap"
	"github.com/softspoken-ai/dialtone/internal/turn"
	"github.com/softspoken-ai/dialtone/internal/vad"
	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
	"github.com/softspoken-ai/dialtone/pkg/provider/stt"
	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
	"github.com/softspoken-ai/dialtone/pkg/telephony"
)

// errCallEnded signals a clean end of the media stream through the errgroup.
var errCallEnded = errors.New("session: call ended")

// defaultGreetingCooldown suppresses barge-in while the greeting plays, so
// line echo of the agent's own opening line cannot interrupt it.
const defaultGreetingCooldown = 3 * time.Second

// MediaTransport is the slice of the media stream the session drives.
// *telephony.MediaStream satisfies it; tests substitute a fake.
type MediaTransport interface {
	Run(ctx context.Context) error
	RunSender(ctx context.Context) error
	Frames() <-chan []byte
	Marks() <-chan string
	Started() <-chan struct{}
	Info() telephony.StartPayload
	Dropped() int64
	EnqueueSpeech(ctx context.Context, pcm []byte) error
	FlushSpeech(ctx context.Context) error
	DrainOutbound() int
	SendClear(ctx context.Context) error
	SendMark(ctx context.Context, name string) error
	Close() error
}

var _ MediaTransport = (*telephony.MediaStream)(nil)

// CallControl hangs up calls through the telephony provider's REST API.
type CallControl interface {
	Hangup(ctx context.Context, callSID string) error
}

// Deps are the collaborators one session wires together. Media, STT, TTS and
// Predictor are required; the rest degrade gracefully when nil.
type Deps struct {
	Media     MediaTransport
	STT       stt.Provider
	TTS       *tts.Stream
	Predictor eot.Predictor
	Runtime   agentcall.Runtime

	// Threads binds caller identities to persistent agent threads. Optional.
	Threads threadmap.Store

	// Calls hangs up through the provider REST API. Optional; without it the
	// session relies on the far end dropping the stream.
	Calls CallControl

	// Recovery tracks the call for disconnect snapshots and redials. Optional.
	Recovery *recovery.Handler

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	Logger *slog.Logger
}

// Config is the per-call tuning.
type Config struct {
	Mode     callctx.Mode
	Language string

	VAD  vad.Config
	Turn turn.Config

	// GreetingCooldown is the barge-in suppression window after the greeting
	// starts playing. Default 3 s.
	GreetingCooldown time.Duration

	// AgentTimeout bounds each agent run. Zero takes the invoker default.
	AgentTimeout time.Duration
}

// Session coordinates the full pipeline for one call.
type Session struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
	m    *observe.Metrics

	call     *callctx.Context
	detector *vad.Detector
	turns    *turn.Controller
	invoker  *agentcall.Invoker

	// ready closes once the start event's metadata has been applied to the
	// call context. The greeting waits on it, not on the raw start signal.
	ready chan struct{}

	speaking     atomic.Bool
	markSeq      atomic.Int64
	pendingMarks atomic.Int64
	endCall      chan time.Duration
	ended        atomic.Bool
}

// New assembles a Session. The turn controller and barge-in detector are owned
// by the session because both observe its speaking state.
func New(cfg Config, deps Deps) (*Session, error) {
	if deps.Media == nil || deps.STT == nil || deps.TTS == nil || deps.Predictor == nil || deps.Runtime == nil {
		return nil, errors.New("session: media, stt, tts, predictor and runtime are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	if cfg.GreetingCooldown <= 0 {
		cfg.GreetingCooldown = defaultGreetingCooldown
	}
	if !cfg.Mode.IsValid() {
		cfg.Mode = callctx.ModeSales
	}

	s := &Session{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger,
		m:       deps.Metrics,
		call:    callctx.New(cfg.Mode),
		ready:   make(chan struct{}),
		endCall: make(chan time.Duration, 1),
	}
	s.detector = vad.New(cfg.VAD)
	s.turns = turn.New(
		timedPredictor{inner: deps.Predictor, m: deps.Metrics},
		s.speaking.Load,
		cfg.Turn,
		turn.WithLogger(deps.Logger),
	)

	invOpts := []agentcall.InvokerOption{agentcall.WithInvokerLogger(deps.Logger)}
	if deps.Threads != nil {
		invOpts = append(invOpts, agentcall.WithThreadStore(deps.Threads))
	}
	if cfg.AgentTimeout > 0 {
		invOpts = append(invOpts, agentcall.WithAgentTimeout(cfg.AgentTimeout))
	}
	s.invoker = agentcall.NewInvoker(deps.Runtime, s.call, invOpts...)
	return s, nil
}

// Call exposes the per-call context, populated once the start event arrives.
func (s *Session) Call() *callctx.Context { return s.call }

// Run drives the call until the stream ends, the agent hangs up, or ctx is
// canceled. It returns nil for a cleanly ended call and the transport error
// otherwise; disconnect recovery has already run by then.
func (s *Session) Run(ctx context.Context) error {
	s.m.ActiveCalls.Add(ctx, 1)
	defer s.m.ActiveCalls.Add(ctx, -1)

	recognizer, err := s.deps.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: telephony.PipeSampleRate,
		Language:   s.cfg.Language,
	})
	if err != nil {
		return fmt.Errorf("session: start recognizer: %w", err)
	}
	defer recognizer.Close()
	defer s.deps.TTS.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.deps.Media.Run(gctx)
		if err == nil {
			// Clean stop event; unwind the rest of the pipeline.
			return errCallEnded
		}
		return err
	})
	g.Go(func() error { return s.deps.Media.RunSender(gctx) })
	g.Go(func() error { return s.turns.Run(gctx) })
	g.Go(func() error { return s.receiveMedia(gctx, recognizer) })
	g.Go(func() error { return s.consumeTranscripts(gctx, recognizer) })
	g.Go(func() error { return s.consumeTurnEvents(gctx) })
	g.Go(func() error { return s.consumeSpeech(gctx) })
	g.Go(func() error { return s.consumeMarks(gctx) })
	g.Go(func() error { return s.watchStart(gctx) })
	g.Go(func() error { return s.greet(gctx) })
	g.Go(func() error { return s.awaitHangup(gctx) })

	err = g.Wait()
	s.m.RecordFramesDropped(ctx, "inbound", s.deps.Media.Dropped())
	_ = s.deps.Media.Close()

	switch {
	case err == nil, errors.Is(err, errCallEnded), errors.Is(err, context.Canceled):
		s.finishNormally()
		return nil
	default:
		s.handleDisconnect(err)
		return err
	}
}

// watchStart applies the start event's metadata as soon as it arrives and
// registers the call for disconnect recovery.
func (s *Session) watchStart(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-s.deps.Media.Started():
	}
	info := s.deps.Media.Info()
	s.call.ApplyStart(info.CallSID, info.StreamSID, info.CustomParameters)
	if s.deps.Recovery != nil {
		s.deps.Recovery.Register(info.CallSID, s.call.LeadID(), s.call.CampaignID(), s.call.PhoneNumber())
	}
	s.log.Info("call started",
		"call_sid", info.CallSID, "stream_sid", info.StreamSID, "mode", s.cfg.Mode)
	close(s.ready)
	return nil
}

// greet speaks the opening line. Barge-in is suppressed for the cooldown so
// echo of the greeting itself cannot cut it off.
func (s *Session) greet(ctx context.Context) error {
	greeting := s.invoker.Greeting(ctx, s.ready)
	if ctx.Err() != nil {
		return nil
	}
	s.detector.StartCooldown(s.cfg.GreetingCooldown)
	s.speak(greeting)
	s.turns.NoteAssistantReply(greeting)
	s.call.Append("assistant", greeting)
	s.appendRecoveryLine("Agent: " + greeting)
	return nil
}

// receiveMedia fans inbound PCM frames out to barge-in detection and the
// recognizer. Exits when the media read loop closes the frames channel.
func (s *Session) receiveMedia(ctx context.Context, recognizer stt.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-s.deps.Media.Frames():
			if !ok {
				return nil
			}
			decision := s.detector.ProcessFrame(frame, s.speaking.Load())
			if decision.Interrupt {
				s.interrupt(ctx, "vad")
			}
			if err := recognizer.SendAudio(frame); err != nil {
				return fmt.Errorf("session: recognizer feed: %w", err)
			}
		}
	}
}

// consumeTranscripts feeds finalized recognizer output into turn control.
func (s *Session) consumeTranscripts(ctx context.Context, recognizer stt.SessionHandle) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-recognizer.Finals():
			if !ok {
				return nil
			}
			s.m.STTDuration.Record(ctx, t.Latency.Seconds())
			if s.detector.InCooldown() {
				// Echo of the greeting coming back down the line; not the
				// caller talking.
				s.log.Debug("transcript dropped during echo cooldown", "text", t.Text)
				continue
			}
			s.log.Debug("transcript fragment", "text", t.Text, "latency", t.Latency)
			s.turns.AddFragment(ctx, t.Text)
		}
	}
}

// consumeTurnEvents reacts to commits, interrupts and the no-input watchdog.
func (s *Session) consumeTurnEvents(ctx context.Context) error {
	for ev := range s.turns.Events() {
		switch ev.Kind {
		case turn.KindCommit:
			s.m.RecordTurn(ctx, string(ev.Reason))
			s.handleCommit(ctx, ev.Text)
		case turn.KindInterrupt:
			s.interrupt(ctx, "transcript")
		case turn.KindWatchdog:
			s.m.WatchdogPrompts.Add(ctx, 1)
			s.speak(ev.Text)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// handleCommit runs one agent turn for a committed caller utterance.
func (s *Session) handleCommit(ctx context.Context, userText string) {
	s.call.Append("user", userText)
	s.appendRecoveryLine("User: " + userText)
	s.updateRecoveryExchange(userText, "")

	reply := s.invoker.Respond(ctx, userText)
	s.m.AgentDuration.Record(ctx, reply.Latency.Seconds())
	if reply.Fallback {
		s.m.RecordProviderError(ctx, "agent", "run")
	}
	if reply.Text == "" {
		return
	}

	s.speak(reply.Text)
	if reply.Fallback {
		// Apologies are spoken but are not agent turns; keep them out of the
		// history and just re-arm the no-input countdown.
		s.turns.ResetWatchdog()
	} else {
		s.turns.NoteAssistantReply(reply.Text)
		s.call.Append("assistant", reply.Text)
		s.appendRecoveryLine("Agent: " + reply.Text)
		s.updateRecoveryExchange("", reply.Text)
	}

	if outcome, notes, requested := s.call.HangupRequested(); requested && s.deps.Recovery != nil {
		s.deps.Recovery.UpdateOutcome(s.call.CallSID(), outcome)
		if notes != "" {
			s.deps.Recovery.AddNote(s.call.CallSID(), notes)
		}
	}

	if reply.EndCall {
		select {
		case s.endCall <- reply.HangupAfter:
		default:
			// A hangup is already pending.
		}
	}
}

// speak queues text for synthesis. Engine failures surface later as skipped
// sentences; the session keeps going.
func (s *Session) speak(text string) {
	if err := s.deps.TTS.Send(text); err != nil {
		s.log.Error("queue speech", "error", err)
	}
}

// consumeSpeech moves synthesized audio onto the wire. Every chunk carries
// the stream generation its sentence was queued under; a barge-in advances
// the generation, so chunks from sentences queued before the interrupt are
// dropped here even when synthesis was already in flight.
func (s *Session) consumeSpeech(ctx context.Context) error {
	for {
		var chunk tts.Chunk
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case chunk, ok = <-s.deps.TTS.Events():
			if !ok {
				return nil
			}
		}
		if chunk.Gen != s.deps.TTS.Generation() {
			continue
		}
		if chunk.Latency > 0 {
			s.m.TTSFirstChunk.Record(ctx, chunk.Latency.Seconds())
		}
		s.speaking.Store(true)
		if err := s.deps.Media.EnqueueSpeech(ctx, chunk.PCM); err != nil {
			return nil
		}
		if chunk.Final {
			if err := s.deps.Media.FlushSpeech(ctx); err != nil {
				return nil
			}
			s.pendingMarks.Add(1)
			if err := s.deps.Media.SendMark(ctx, fmt.Sprintf("utt-%d", s.markSeq.Add(1))); err != nil {
				s.log.Warn("send playback mark", "error", err)
			}
		}
	}
}

// consumeMarks clears the speaking flag once the provider has played out the
// last queued utterance.
func (s *Session) consumeMarks(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-s.deps.Media.Marks():
			if !ok {
				return nil
			}
			if s.pendingMarks.Add(-1) <= 0 {
				s.pendingMarks.Store(0)
				if s.deps.TTS.Pending() == 0 {
					s.speaking.Store(false)
				}
			}
		}
	}
}

// interrupt is the barge-in coordinator. The first confirmation per playback
// episode wins; the steps run in a fixed order so a half-applied interrupt
// never leaves stale audio flowing.
func (s *Session) interrupt(ctx context.Context, source string) {
	if !s.speaking.CompareAndSwap(true, false) {
		return
	}
	s.deps.TTS.ClearQueue()
	dropped := s.deps.Media.DrainOutbound()
	s.m.RecordFramesDropped(ctx, "outbound", int64(dropped))
	if err := s.deps.Media.SendClear(ctx); err != nil {
		s.log.Warn("clear provider playback", "error", err)
	}
	s.pendingMarks.Store(0)
	s.turns.ResetWatchdog()
	s.m.Interrupts.Add(ctx, 1)
	s.log.Info("caller barge-in", "source", source, "frames_dropped", dropped)
}

// awaitHangup waits for an agent-ordered hangup, lets the farewell play out,
// then tears the call down.
func (s *Session) awaitHangup(ctx context.Context) error {
	var delay time.Duration
	select {
	case <-ctx.Done():
		return nil
	case delay = <-s.endCall:
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}

	s.finishNormally()
	callSID := s.call.CallSID()
	if s.deps.Calls != nil && callSID != "" {
		if err := s.deps.Calls.Hangup(ctx, callSID); err != nil {
			s.log.Error("provider hangup", "call_sid", callSID, "error", err)
		}
	}
	return errCallEnded
}

// finishNormally closes the recovery record out exactly once.
func (s *Session) finishNormally() {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	outcome := s.call.Outcome()
	s.log.Info("call ended", "call_sid", s.call.CallSID(), "outcome", outcome,
		"duration", s.call.Duration())
	if s.deps.Recovery != nil {
		s.deps.Recovery.HandleNormalEnd(s.call.CallSID(), outcome)
	}
}

// handleDisconnect classifies a transport failure and runs the recovery flow.
func (s *Session) handleDisconnect(cause error) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	c := classifyDisconnect(cause)
	s.log.Warn("call dropped", "call_sid", s.call.CallSID(), "cause", c, "error", cause)
	if s.deps.Recovery == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.deps.Recovery.HandleDisconnect(ctx, s.call.CallSID(), c, cause.Error())
}

func (s *Session) appendRecoveryLine(line string) {
	if s.deps.Recovery != nil {
		s.deps.Recovery.AppendTranscript(s.call.CallSID(), line)
	}
}

func (s *Session) updateRecoveryExchange(user, agent string) {
	if s.deps.Recovery != nil {
		s.deps.Recovery.UpdateExchange(s.call.CallSID(), user, agent)
	}
}

// classifyDisconnect maps a pipeline error to a recovery cause.
func classifyDisconnect(err error) recovery.Cause {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return recovery.CauseTimeout
	case websocket.CloseStatus(err) != -1:
		return recovery.CauseWebSocketDisconnect
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return recovery.CauseWebSocketDisconnect
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return recovery.CauseTimeout
		}
		return recovery.CauseNetworkError
	}
	return recovery.CauseUnknown
}

// timedPredictor records end-of-turn prediction latency around the inner
// predictor.
type timedPredictor struct {
	inner eot.Predictor
	m     *observe.Metrics
}

func (p timedPredictor) Predict(ctx context.Context, history []eot.Message) (float64, error) {
	start := time.Now()
	prob, err := p.inner.Predict(ctx, history)
	p.m.EOTDuration.Record(ctx, time.Since(start).Seconds())
	return prob, err
}
