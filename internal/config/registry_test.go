package config

import (
	"errors"
	"testing"

	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
	eotmock "github.com/softspoken-ai/dialtone/pkg/provider/eot/mock"
	"github.com/softspoken-ai/dialtone/pkg/provider/stt"
	sttmock "github.com/softspoken-ai/dialtone/pkg/provider/stt/mock"
	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
	ttsmock "github.com/softspoken-ai/dialtone/pkg/provider/tts/mock"
)

func TestRegistry_CreateSTT(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	var gotEntry ProviderEntry
	r.RegisterSTT("whisper-native", func(e ProviderEntry) (stt.Provider, error) {
		gotEntry = e
		return &sttmock.Provider{}, nil
	})

	p, err := r.CreateSTT(ProviderEntry{Name: "whisper-native", Model: "/models/base.bin"})
	if err != nil {
		t.Fatalf("CreateSTT: %v", err)
	}
	if p == nil {
		t.Fatal("CreateSTT returned nil provider")
	}
	if gotEntry.Model != "/models/base.bin" {
		t.Errorf("factory received model %q", gotEntry.Model)
	}
}

func TestRegistry_CreateTTSAndEOT(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.RegisterTTS("local", func(ProviderEntry) (tts.Engine, error) {
		return &ttsmock.Engine{}, nil
	})
	r.RegisterEOT("livekit", func(ProviderEntry) (eot.Predictor, error) {
		return &eotmock.Predictor{}, nil
	})

	if _, err := r.CreateTTS(ProviderEntry{Name: "local"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
	if _, err := r.CreateEOT(ProviderEntry{Name: "livekit"}); err != nil {
		t.Errorf("CreateEOT: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	_, err := r.CreateSTT(ProviderEntry{Name: "deepgram"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_OverwriteKeepsLatest(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	first := &ttsmock.Engine{Rate: 16000}
	second := &ttsmock.Engine{Rate: 24000}
	r.RegisterTTS("local", func(ProviderEntry) (tts.Engine, error) { return first, nil })
	r.RegisterTTS("local", func(ProviderEntry) (tts.Engine, error) { return second, nil })

	e, err := r.CreateTTS(ProviderEntry{Name: "local"})
	if err != nil {
		t.Fatalf("CreateTTS: %v", err)
	}
	if e.SampleRate() != 24000 {
		t.Errorf("sample rate = %d, want the later registration", e.SampleRate())
	}
}
