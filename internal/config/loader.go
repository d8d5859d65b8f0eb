package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper-native"},
	"tts": {"local", "openai"},
	"eot": {"livekit"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Agent
	if cfg.Agent.Mode != "" && !cfg.Agent.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("agent.mode %q is invalid; valid values: sales, healthcare", cfg.Agent.Mode))
	}
	if cfg.Agent.BaseURL == "" {
		errs = append(errs, errors.New("agent.base_url is required"))
	}
	if cfg.Agent.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("agent.timeout_seconds %d must not be negative", cfg.Agent.TimeoutSeconds))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("eot", cfg.Providers.EOT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)

	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}
	if cfg.Providers.EOT.Name == "" {
		slog.Warn("providers.eot is not configured; turns will commit on silence and buffer age only")
	}

	// Telephony credentials come as a pair.
	if (cfg.Telephony.AccountSID == "") != (cfg.Telephony.AuthToken == "") {
		errs = append(errs, errors.New("telephony.account_sid and telephony.auth_token must be set together"))
	}
	if !cfg.Telephony.Enabled() {
		slog.Warn("telephony credentials not configured; agent-ordered hangups will rely on the far end dropping the stream")
	}

	// Persistence availability
	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn is empty; thread bindings and call snapshots will not survive restarts")
	}

	// Recovery
	if cfg.Recovery.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("recovery.max_retries %d must not be negative", cfg.Recovery.MaxRetries))
	}

	// Tuning ranges. Zero means "use the default", so only set values are
	// checked.
	t := cfg.Tuning
	if t.VAD.Percentile < 0 || t.VAD.Percentile > 100 {
		errs = append(errs, fmt.Errorf("tuning.vad.percentile %.1f is out of range (0, 100]", t.VAD.Percentile))
	}
	if t.VAD.MinThreshold > 0 && t.VAD.MaxThreshold > 0 && t.VAD.MinThreshold > t.VAD.MaxThreshold {
		errs = append(errs, fmt.Errorf("tuning.vad.min_threshold %.0f exceeds max_threshold %.0f", t.VAD.MinThreshold, t.VAD.MaxThreshold))
	}
	if t.Turn.EndOfTurnThreshold < 0 || t.Turn.EndOfTurnThreshold > 1 {
		errs = append(errs, fmt.Errorf("tuning.turn.end_of_turn_threshold %.2f is out of range (0, 1]", t.Turn.EndOfTurnThreshold))
	}
	if t.Turn.ShortThreshold < 0 || t.Turn.ShortThreshold > 1 {
		errs = append(errs, fmt.Errorf("tuning.turn.short_threshold %.2f is out of range (0, 1]", t.Turn.ShortThreshold))
	}
	if t.Turn.SilenceCommitMS > 0 && t.Turn.MaxBufferAgeMS > 0 && t.Turn.SilenceCommitMS > t.Turn.MaxBufferAgeMS {
		errs = append(errs, fmt.Errorf("tuning.turn.silence_commit_ms %d exceeds max_buffer_age_ms %d", t.Turn.SilenceCommitMS, t.Turn.MaxBufferAgeMS))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
