package app

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/softspoken-ai/dialtone/internal/agentcall"
	"github.com/softspoken-ai/dialtone/internal/config"
	"github.com/softspoken-ai/dialtone/internal/observe"
	"github.com/softspoken-ai/dialtone/internal/recovery"
	"github.com/softspoken-ai/dialtone/internal/session"
	"github.com/softspoken-ai/dialtone/internal/threadmap"
	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
	"github.com/softspoken-ai/dialtone/pkg/telephony"
)

// CallManager accepts provider media WebSockets and runs one [session.Session]
// per call. All exported methods are safe for concurrent use.
type CallManager struct {
	agent     config.AgentConfig
	providers *Providers
	runtime   agentcall.Runtime
	threads   threadmap.Store
	recovery  *recovery.Handler
	calls     session.CallControl
	metrics   *observe.Metrics

	// tuning is snapshotted per accepted call so a hot reload never changes
	// a call mid-flight.
	mu     sync.Mutex
	tuning config.TuningConfig

	wg     sync.WaitGroup
	active atomic.Int64
}

// CallManagerConfig holds all dependencies for a [CallManager].
type CallManagerConfig struct {
	Agent     config.AgentConfig
	Tuning    config.TuningConfig
	Providers *Providers
	Runtime   agentcall.Runtime
	Threads   threadmap.Store
	Recovery  *recovery.Handler
	Calls     session.CallControl
	Metrics   *observe.Metrics
}

// NewCallManager creates a CallManager with the given dependencies.
func NewCallManager(cfg CallManagerConfig) *CallManager {
	return &CallManager{
		agent:     cfg.Agent,
		tuning:    cfg.Tuning,
		providers: cfg.Providers,
		runtime:   cfg.Runtime,
		threads:   cfg.Threads,
		recovery:  cfg.Recovery,
		calls:     cfg.Calls,
		metrics:   cfg.Metrics,
	}
}

// SetTuning replaces the tuning applied to calls accepted from now on.
func (m *CallManager) SetTuning(t config.TuningConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tuning = t
}

// Active reports the number of calls currently in flight.
func (m *CallManager) Active() int64 {
	return m.active.Load()
}

// HandleMedia upgrades the request to a WebSocket and runs the call session
// inline until the call ends. The provider connects server to server, so no
// origin check applies.
func (m *CallManager) HandleMedia(w http.ResponseWriter, r *http.Request) {
	// Middleware put a span on the request context; logging through it ties
	// these lines to the call's trace.
	log := observe.Logger(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Warn("media websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	m.wg.Add(1)
	m.active.Add(1)
	defer func() {
		m.active.Add(-1)
		m.wg.Done()
	}()

	sess, err := m.newSession(conn)
	if err != nil {
		log.Error("session setup failed", "remote", r.RemoteAddr, "err", err)
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}

	if err := sess.Run(r.Context()); err != nil {
		log.Warn("call session ended with error", "remote", r.RemoteAddr, "err", err)
	}
}

// newSession assembles the per-call pipeline around an accepted connection.
func (m *CallManager) newSession(conn telephony.Conn) (*session.Session, error) {
	m.mu.Lock()
	tuning := m.tuning
	m.mu.Unlock()

	media := telephony.NewMediaStream(conn,
		telephony.WithSpeechSampleRate(m.providers.TTS.SampleRate()),
	)
	var speechOpts []tts.StreamOption
	if d := tuning.TTS.ChunkDuration(); d > 0 {
		speechOpts = append(speechOpts, tts.WithChunkDuration(d))
	}
	if tuning.TTS.MinSentenceChars > 0 || tuning.TTS.MaxSentenceChars > 0 {
		speechOpts = append(speechOpts, tts.WithSentenceBounds(tuning.TTS.MinSentenceChars, tuning.TTS.MaxSentenceChars))
	}
	speech := tts.NewStream(m.providers.TTS, speechOpts...)

	predictor := m.providers.EOT
	if predictor == nil {
		predictor = silentPredictor{}
	}

	cooldown := time.Duration(tuning.GreetingCooldownMS) * time.Millisecond

	return session.New(
		session.Config{
			Mode:             m.agent.Mode,
			Language:         m.agent.Language,
			VAD:              tuning.VAD.Detector(),
			Turn:             tuning.Turn.Controller(),
			GreetingCooldown: cooldown,
			AgentTimeout:     m.agent.Timeout(),
		},
		session.Deps{
			Media:     media,
			STT:       m.providers.STT,
			TTS:       speech,
			Predictor: predictor,
			Runtime:   m.runtime,
			Threads:   m.threads,
			Calls:     m.calls,
			Recovery:  m.recovery,
			Metrics:   m.metrics,
		},
	)
}

// Drain blocks until every in-flight call finishes or ctx expires.
func (m *CallManager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// silentPredictor stands in when no end-of-turn provider is configured.
// Always predicting zero leaves commits to the silence and buffer-age rules.
type silentPredictor struct{}

func (silentPredictor) Predict(_ context.Context, _ []eot.Message) (float64, error) {
	return 0, nil
}
