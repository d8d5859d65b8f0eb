// Package app wires all dialtone subsystems into a running call server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP (media WebSocket, status callbacks, health,
// metrics) until the context is cancelled, and Shutdown tears everything
// down in order.
//
// For testing, inject mock implementations via functional options
// (WithThreadStore, WithRuntime, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/softspoken-ai/dialtone/internal/agentcall"
	"github.com/softspoken-ai/dialtone/internal/callctl"
	"github.com/softspoken-ai/dialtone/internal/config"
	"github.com/softspoken-ai/dialtone/internal/health"
	"github.com/softspoken-ai/dialtone/internal/observe"
	"github.com/softspoken-ai/dialtone/internal/recovery"
	"github.com/softspoken-ai/dialtone/internal/resilience"
	"github.com/softspoken-ai/dialtone/internal/session"
	"github.com/softspoken-ai/dialtone/internal/threadmap"
	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
	"github.com/softspoken-ai/dialtone/pkg/provider/stt"
	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
)

// drainTimeout bounds how long Run waits for in-flight calls after the
// shutdown signal before closing the listener anyway.
const drainTimeout = 30 * time.Second

// Providers holds one interface value per provider slot. Populated by
// main.go via the config registry. STT and TTS are required; a nil EOT
// predictor means turns commit on silence and buffer age only.
type Providers struct {
	STT stt.Provider
	TTS tts.Engine
	EOT eot.Predictor
}

// App owns all subsystem lifetimes and serves the dialtone call pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems. Initialised in New, torn down in Shutdown.
	pool     *pgxpool.Pool
	threads  threadmap.Store
	saver    recovery.Saver
	recovery *recovery.Handler
	runtime  agentcall.Runtime
	callCtl  session.CallControl
	metrics  *observe.Metrics
	health   *health.Handler
	calls    *CallManager
	srv      *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithThreadStore injects a thread store instead of creating one from config.
func WithThreadStore(s threadmap.Store) Option {
	return func(a *App) { a.threads = s }
}

// WithSnapshotSaver injects a recovery snapshot saver instead of creating a
// postgres one from config.
func WithSnapshotSaver(s recovery.Saver) Option {
	return func(a *App) { a.saver = s }
}

// WithRuntime injects an agent runtime instead of creating a platform client
// from config.
func WithRuntime(r agentcall.Runtime) Option {
	return func(a *App) { a.runtime = r }
}

// WithCallControl injects a call-control client instead of creating one from
// the telephony credentials.
func WithCallControl(c session.CallControl) Option {
	return func(a *App) { a.callCtl = c }
}

// WithMetrics injects a metrics set instead of using the process default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: database connection and
// migrations, recovery handler, agent runtime client, call control, and the
// HTTP routing table. It does not open the listener; Run does.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.TTS == nil {
		return nil, fmt.Errorf("app: stt and tts providers are required")
	}

	// The prediction service is consulted once per turn; a breaker keeps a
	// flapping endpoint from adding a timeout to every exchange.
	wired := *providers
	if wired.EOT != nil {
		wired.EOT = resilience.NewPredictorBreaker(wired.EOT, resilience.BreakerConfig{Name: "eot"})
	}

	a := &App{
		cfg:       cfg,
		providers: &wired,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}
	a.recovery = recovery.NewHandler(a.saver, cfg.Recovery.Policy())
	if err := a.initRuntime(); err != nil {
		return nil, fmt.Errorf("app: init agent runtime: %w", err)
	}
	if err := a.initCallControl(); err != nil {
		return nil, fmt.Errorf("app: init call control: %w", err)
	}

	a.calls = NewCallManager(CallManagerConfig{
		Agent:     cfg.Agent,
		Tuning:    cfg.Tuning,
		Providers: a.providers,
		Runtime:   a.runtime,
		Threads:   a.threads,
		Recovery:  a.recovery,
		Calls:     a.callCtl,
		Metrics:   a.metrics,
	})

	a.initHTTP()
	return a, nil
}

// initStorage connects the postgres pool and runs migrations, or falls back
// to in-memory stores when no DSN is configured. Injected stores win.
func (a *App) initStorage(ctx context.Context) error {
	dsn := a.cfg.Postgres.DSN
	if dsn == "" {
		if a.threads == nil {
			slog.Warn("no postgres dsn configured, thread bindings are in-memory only")
			a.threads = threadmap.NewMemStore()
		}
		return nil
	}

	needPool := a.threads == nil || a.saver == nil
	if !needPool {
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	if err := threadmap.Migrate(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("migrate thread mappings: %w", err)
	}
	if err := recovery.Migrate(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("migrate call snapshots: %w", err)
	}

	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	if a.threads == nil {
		a.threads = threadmap.NewPostgresStoreWithPool(pool)
	}
	if a.saver == nil {
		a.saver = recovery.NewPostgresSaver(pool)
	}
	return nil
}

// initRuntime creates the agent platform client when none was injected.
func (a *App) initRuntime() error {
	if a.runtime != nil {
		return nil
	}
	var opts []agentcall.LangGraphOption
	if a.cfg.Agent.APIKey != "" {
		opts = append(opts, agentcall.WithAPIKey(a.cfg.Agent.APIKey))
	}
	client, err := agentcall.NewLangGraphClient(a.cfg.Agent.BaseURL, opts...)
	if err != nil {
		return err
	}
	a.runtime = client
	return nil
}

// initCallControl creates the provider REST client when telephony credentials
// are configured. Without it sessions cannot hang up server-side and rely on
// the far end dropping the stream.
func (a *App) initCallControl() error {
	if a.callCtl != nil || !a.cfg.Telephony.Enabled() {
		return nil
	}
	var opts []callctl.Option
	if a.cfg.Telephony.BaseURL != "" {
		opts = append(opts, callctl.WithBaseURL(a.cfg.Telephony.BaseURL))
	}
	client, err := callctl.New(a.cfg.Telephony.AccountSID, a.cfg.Telephony.AuthToken, opts...)
	if err != nil {
		return err
	}
	a.callCtl = client
	return nil
}

// initHTTP builds the routing table. The media WebSocket is mounted outside
// the observability middleware because the connection is hijacked and never
// writes a normal HTTP response.
func (a *App) initHTTP() {
	checkers := []health.Checker{a.agentChecker()}
	if a.pool != nil {
		checkers = append(checkers, health.Checker{
			Name:  "postgres",
			Check: func(ctx context.Context) error { return a.pool.Ping(ctx) },
		})
	}
	a.health = health.New(checkers...)

	api := http.NewServeMux()
	a.health.Register(api)
	api.Handle("GET /metrics", promhttp.Handler())
	api.HandleFunc("POST /voice/status", a.handleStatusCallback)

	root := http.NewServeMux()
	root.HandleFunc("GET /media", a.calls.HandleMedia)
	root.Handle("/", observe.Middleware(a.metrics)(api))

	a.srv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// agentChecker probes the agent platform's /ok endpoint.
func (a *App) agentChecker() health.Checker {
	url := a.cfg.Agent.BaseURL + "/ok"
	client := &http.Client{Timeout: 5 * time.Second}
	return health.Checker{
		Name: "agent",
		Check: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			resp.Body.Close()
			if resp.StatusCode >= http.StatusInternalServerError {
				return fmt.Errorf("agent platform returned %d", resp.StatusCode)
			}
			return nil
		},
	}
}

// handleStatusCallback receives provider call-status webhooks. Sessions
// handle their own stream disconnects; this path catches calls that ended
// before a media stream ever connected (busy, no answer, carrier failure).
func (a *App) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	callSID := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	if callSID == "" || status == "" {
		http.Error(w, "missing CallSid or CallStatus", http.StatusBadRequest)
		return
	}

	switch status {
	case "completed":
		a.recovery.HandleNormalEnd(callSID, "")
	case "busy", "no-answer", "failed", "canceled":
		a.recovery.HandleDisconnect(r.Context(), callSID, recovery.CauseFromStatus(status), "status callback: "+status)
	default:
		// Progress statuses (initiated, ringing, in-progress) need no action.
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run serves HTTP until ctx is cancelled, then drains in-flight calls and
// closes the listener. The server listens with TLS when certificate paths
// are configured.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	slog.Info("app running", "listen_addr", a.cfg.Server.ListenAddr, "tls", a.cfg.Server.TLS != nil)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	// Stop advertising readiness so the load balancer routes new calls
	// elsewhere, then let active calls finish.
	a.health.SetDraining(true)
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := a.calls.Drain(drainCtx); err != nil {
		slog.Warn("drain deadline exceeded, closing remaining calls", "active", a.calls.Active())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("app: http shutdown: %w", err)
	}
	return nil
}

// ApplyTuning swaps the pipeline tuning used for calls accepted from now on.
// Calls already in flight keep the tuning they started with.
func (a *App) ApplyTuning(t config.TuningConfig) {
	a.calls.SetTuning(t)
	slog.Info("pipeline tuning updated")
}

// ApplyRecovery swaps the retry policy on the recovery handler.
func (a *App) ApplyRecovery(rc config.RecoveryConfig) {
	a.recovery.SetPolicy(rc.Policy())
	slog.Info("recovery policy updated")
}

// Health exposes the health handler so main can flip draining state early.
func (a *App) Health() *health.Handler { return a.health }

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
