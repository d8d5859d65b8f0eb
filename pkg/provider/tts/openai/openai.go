// Package openai provides a tts.Engine backed by the OpenAI speech API.
package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
)

// DefaultModel is the default OpenAI speech model.
const DefaultModel = oai.SpeechModelGPT4oMiniTTS

// DefaultVoice is the voice used when none is configured.
const DefaultVoice = string(oai.AudioSpeechNewParamsVoiceAlloy)

// The raw PCM response format is fixed at 24 kHz 16-bit mono.
const pcmSampleRate = 24000

var _ tts.Engine = (*Engine)(nil)

// config holds optional configuration for the engine.
type config struct {
	baseURL string
	timeout time.Duration
	voice   string
}

// Option is a functional option for Engine.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithVoice sets the synthesis voice (e.g., "alloy", "nova").
func WithVoice(voice string) Option {
	return func(c *config) { c.voice = voice }
}

// Engine implements tts.Engine using the OpenAI speech API.
type Engine struct {
	client oai.Client
	model  string
	voice  string
}

// New constructs an OpenAI speech Engine. If model is empty, DefaultModel is
// used.
func New(apiKey string, model string, opts ...Option) (*Engine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{voice: DefaultVoice}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Engine{
		client: oai.NewClient(reqOpts...),
		model:  model,
		voice:  cfg.voice,
	}, nil
}

// SampleRate reports the fixed 24 kHz rate of the raw PCM response format.
func (e *Engine) SampleRate() int { return pcmSampleRate }

// Synthesize renders text to 24 kHz little-endian int16 mono PCM.
func (e *Engine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := e.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          e.model,
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(e.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai tts: read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("openai tts: empty audio response")
	}
	return pcm, nil
}
