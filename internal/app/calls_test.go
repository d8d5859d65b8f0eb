package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	agentmock "github.com/softspoken-ai/dialtone/internal/agentcall/mock"
	"github.com/softspoken-ai/dialtone/internal/callctx"
	"github.com/softspoken-ai/dialtone/internal/config"
	"github.com/softspoken-ai/dialtone/internal/recovery"
	"github.com/softspoken-ai/dialtone/internal/threadmap"
)

// idleConn satisfies telephony.Conn without a network: reads block until the
// context ends, writes are accepted and dropped.
type idleConn struct{}

func (idleConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	<-ctx.Done()
	return 0, nil, ctx.Err()
}

func (idleConn) Write(context.Context, websocket.MessageType, []byte) error { return nil }

func (idleConn) Close(websocket.StatusCode, string) error { return nil }

func newTestManager(eotConfigured bool) *CallManager {
	p := testProviders()
	cfg := CallManagerConfig{
		Agent:     config.AgentConfig{Mode: callctx.ModeSales, BaseURL: "http://localhost:2024"},
		Providers: p,
		Runtime:   &agentmock.Runtime{},
		Threads:   threadmap.NewMemStore(),
		Recovery:  recovery.NewHandler(nil, recovery.Policy{}),
		Calls:     &fakeCallControl{},
	}
	if eotConfigured {
		cfg.Providers.EOT = silentPredictor{}
	}
	return NewCallManager(cfg)
}

func TestNewSession_BuildsPipeline(t *testing.T) {
	t.Parallel()
	m := newTestManager(true)
	sess, err := m.newSession(idleConn{})
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	if sess == nil {
		t.Fatal("newSession returned nil session")
	}
}

func TestNewSession_MissingPredictorFallsBack(t *testing.T) {
	t.Parallel()
	m := newTestManager(false)
	if _, err := m.newSession(idleConn{}); err != nil {
		t.Fatalf("newSession without eot provider: %v", err)
	}
}

func TestSilentPredictor(t *testing.T) {
	t.Parallel()
	p, err := silentPredictor{}.Predict(context.Background(), nil)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p != 0 {
		t.Errorf("probability = %v, want 0", p)
	}
}

func TestSetTuning_AppliesToNewCalls(t *testing.T) {
	t.Parallel()
	m := newTestManager(true)
	next := config.TuningConfig{GreetingCooldownMS: 5000}
	m.SetTuning(next)

	m.mu.Lock()
	got := m.tuning
	m.mu.Unlock()
	if got != next {
		t.Errorf("tuning = %+v, want %+v", got, next)
	}
}

func TestDrain_ReturnsWhenIdle(t *testing.T) {
	t.Parallel()
	m := newTestManager(true)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Drain(ctx); err != nil {
		t.Errorf("Drain with no calls: %v", err)
	}
}

func TestDrain_TimesOutWithCallInFlight(t *testing.T) {
	t.Parallel()
	m := newTestManager(true)
	m.wg.Add(1)
	defer m.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := m.Drain(ctx); err != context.DeadlineExceeded {
		t.Errorf("Drain error = %v, want deadline exceeded", err)
	}
}

func TestHandleMedia_RejectsPlainHTTP(t *testing.T) {
	t.Parallel()
	m := newTestManager(true)

	rec := httptest.NewRecorder()
	m.HandleMedia(rec, httptest.NewRequest(http.MethodGet, "/media", nil))

	if rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("plain HTTP request was upgraded")
	}
	if m.Active() != 0 {
		t.Errorf("active = %d after rejected upgrade, want 0", m.Active())
	}
}
