package config

import (
	"testing"
	"time"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if LogLevel("verbose").IsValid() {
		t.Error("\"verbose\" should be invalid")
	}
}

func TestAgentConfig_Timeout(t *testing.T) {
	t.Parallel()
	if got := (AgentConfig{TimeoutSeconds: 45}).Timeout(); got != 45*time.Second {
		t.Errorf("Timeout = %v, want 45s", got)
	}
	if got := (AgentConfig{}).Timeout(); got != 0 {
		t.Errorf("zero timeout = %v, want 0", got)
	}
}

func TestTelephonyConfig_Enabled(t *testing.T) {
	t.Parallel()
	if (TelephonyConfig{AccountSID: "AC1"}).Enabled() {
		t.Error("SID without token should not enable call control")
	}
	if !(TelephonyConfig{AccountSID: "AC1", AuthToken: "tok"}).Enabled() {
		t.Error("full credentials should enable call control")
	}
}

func TestRecoveryConfig_Policy(t *testing.T) {
	t.Parallel()
	p := RecoveryConfig{MinCallSeconds: 15, RetryDelaySeconds: 120, MaxRetries: 3}.Policy()
	if p.MinDuration != 15*time.Second {
		t.Errorf("MinDuration = %v, want 15s", p.MinDuration)
	}
	if p.Delay != 2*time.Minute {
		t.Errorf("Delay = %v, want 2m", p.Delay)
	}
	if p.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", p.MaxRetries)
	}
}

func TestVADTuning_Detector(t *testing.T) {
	t.Parallel()
	cfg := VADTuning{
		DefaultThreshold: 600,
		Percentile:       90,
		SpeechStartMS:    250,
		SpeechStopMS:     400,
		WindowFrames:     900,
	}.Detector()
	if cfg.DefaultThreshold != 600 {
		t.Errorf("DefaultThreshold = %v, want 600", cfg.DefaultThreshold)
	}
	if cfg.SpeechStart != 250*time.Millisecond {
		t.Errorf("SpeechStart = %v, want 250ms", cfg.SpeechStart)
	}
	if cfg.SpeechStop != 400*time.Millisecond {
		t.Errorf("SpeechStop = %v, want 400ms", cfg.SpeechStop)
	}
	if cfg.WindowSize != 900 {
		t.Errorf("WindowSize = %d, want 900", cfg.WindowSize)
	}
}

func TestSTTTuning_Durations(t *testing.T) {
	t.Parallel()
	s := STTTuning{SilenceHoldMS: 800, MinSpeechMS: 250, InferTimeoutSeconds: 20}
	if got := s.SilenceHold(); got != 800*time.Millisecond {
		t.Errorf("SilenceHold = %v, want 800ms", got)
	}
	if got := s.MinSpeech(); got != 250*time.Millisecond {
		t.Errorf("MinSpeech = %v, want 250ms", got)
	}
	if got := s.InferTimeout(); got != 20*time.Second {
		t.Errorf("InferTimeout = %v, want 20s", got)
	}
	if got := (STTTuning{}).SilenceHold(); got != 0 {
		t.Errorf("zero SilenceHold = %v, want 0", got)
	}
}

func TestTTSTuning_ChunkDuration(t *testing.T) {
	t.Parallel()
	if got := (TTSTuning{ChunkMS: 40}).ChunkDuration(); got != 40*time.Millisecond {
		t.Errorf("ChunkDuration = %v, want 40ms", got)
	}
	if got := (TTSTuning{}).ChunkDuration(); got != 0 {
		t.Errorf("zero ChunkDuration = %v, want 0", got)
	}
}

func TestTurnTuning_Controller(t *testing.T) {
	t.Parallel()
	cfg := TurnTuning{
		EndOfTurnThreshold: 0.4,
		SilenceCommitMS:    900,
		MaxBufferAgeMS:     2000,
		WatchdogSeconds:    8,
	}.Controller()
	if cfg.EndOfTurnThreshold != 0.4 {
		t.Errorf("EndOfTurnThreshold = %v, want 0.4", cfg.EndOfTurnThreshold)
	}
	if cfg.SilenceCommit != 900*time.Millisecond {
		t.Errorf("SilenceCommit = %v, want 900ms", cfg.SilenceCommit)
	}
	if cfg.MaxBufferAge != 2*time.Second {
		t.Errorf("MaxBufferAge = %v, want 2s", cfg.MaxBufferAge)
	}
	if cfg.WatchdogTimeout != 8*time.Second {
		t.Errorf("WatchdogTimeout = %v, want 8s", cfg.WatchdogTimeout)
	}
}
