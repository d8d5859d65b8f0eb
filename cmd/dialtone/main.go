// Command dialtone is the main entry point for the dialtone call server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/softspoken-ai/dialtone/internal/app"
	"github.com/softspoken-ai/dialtone/internal/config"
	"github.com/softspoken-ai/dialtone/internal/observe"
	"github.com/softspoken-ai/dialtone/internal/resilience"
	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
	"github.com/softspoken-ai/dialtone/pkg/provider/eot/livekit"
	"github.com/softspoken-ai/dialtone/pkg/provider/stt"
	"github.com/softspoken-ai/dialtone/pkg/provider/stt/whisper"
	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
	ttslocal "github.com/softspoken-ai/dialtone/pkg/provider/tts/local"
	ttsopenai "github.com/softspoken-ai/dialtone/pkg/provider/tts/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "dialtone: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "dialtone: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, levelVar := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("dialtone starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "dialtone",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.Tuning.STT)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			levelVar.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.TuningChanged {
			application.ApplyTuning(d.NewTuning)
		}
		if d.RecoveryChanged {
			application.ApplyRecovery(d.NewRecovery)
		}
	})
	if err != nil {
		slog.Warn("config watcher unavailable, hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. sttTuning shapes the
// recognizer's segmenter; zero fields keep each provider's defaults.
func registerBuiltinProviders(reg *config.Registry, sttTuning config.STTTuning) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if sttTuning.RMSThreshold > 0 {
			opts = append(opts, whisper.WithRMSThreshold(sttTuning.RMSThreshold))
		}
		if d := sttTuning.SilenceHold(); d > 0 {
			opts = append(opts, whisper.WithSilenceHold(d))
		}
		if d := sttTuning.MinSpeech(); d > 0 {
			opts = append(opts, whisper.WithMinSpeech(d))
		}
		if d := sttTuning.InferTimeout(); d > 0 {
			opts = append(opts, whisper.WithInferTimeout(d))
		}
		return whisper.New(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("local", func(entry config.ProviderEntry) (tts.Engine, error) {
		var opts []ttslocal.Option
		if entry.Voice != "" {
			opts = append(opts, ttslocal.WithVoice(entry.Voice))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, ttslocal.WithLanguage(lang))
		}
		return ttslocal.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Engine, error) {
		var opts []ttsopenai.Option
		if entry.Voice != "" {
			opts = append(opts, ttsopenai.WithVoice(entry.Voice))
		}
		if entry.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(entry.BaseURL))
		}
		return ttsopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── EOT ───────────────────────────────────────────────────────────────────

	reg.RegisterEOT("livekit", func(entry config.ProviderEntry) (eot.Predictor, error) {
		return livekit.New(entry.BaseURL)
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. STT and TTS must resolve; the EOT predictor is optional and
// commits fall back to silence and buffer age when it is missing.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	p, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	ps.STT = p
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	if name := cfg.Providers.STTFallback.Name; name != "" {
		secondary, err := reg.CreateSTT(cfg.Providers.STTFallback)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", name, err)
		}
		group := resilience.NewSTTFallback(ps.STT, cfg.Providers.STT.Name, resilience.FallbackConfig{})
		group.AddFallback(name, secondary)
		ps.STT = group
		slog.Info("stt fallback configured", "name", name)
	}

	e, err := reg.CreateTTS(cfg.Providers.TTS)
	if err != nil {
		return nil, fmt.Errorf("create tts provider %q: %w", cfg.Providers.TTS.Name, err)
	}
	ps.TTS = e
	slog.Info("provider created", "kind", "tts", "name", cfg.Providers.TTS.Name)

	if name := cfg.Providers.TTSFallback.Name; name != "" {
		secondary, err := reg.CreateTTS(cfg.Providers.TTSFallback)
		if err != nil {
			return nil, fmt.Errorf("create tts fallback %q: %w", name, err)
		}
		group := resilience.NewEngineFallback(ps.TTS, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
		if err := group.AddFallback(name, secondary); err != nil {
			return nil, err
		}
		ps.TTS = group
		slog.Info("tts fallback configured", "name", name)
	}

	if name := cfg.Providers.EOT.Name; name != "" {
		pred, err := reg.CreateEOT(cfg.Providers.EOT)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("eot provider not registered — turns will commit on silence and buffer age only", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create eot provider %q: %w", name, err)
		} else {
			ps.EOT = pred
			slog.Info("provider created", "kind", "eot", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         dialtone — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("EOT", cfg.Providers.EOT.Name, cfg.Providers.EOT.Model)
	printRow("Agent mode", string(cfg.Agent.Mode))
	if cfg.Telephony.Enabled() {
		printRow("Telephony", "configured")
	} else {
		printRow("Telephony", "(disabled)")
	}
	if cfg.Postgres.DSN != "" {
		printRow("Postgres", "configured")
	} else {
		printRow("Postgres", "(in-memory)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the process logger. The returned LevelVar lets the config
// watcher change verbosity without recreating handlers.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv})), lv
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
