// Package local provides a tts.Engine backed by a locally running synthesis
// server (Piper, Coqui, or anything speaking the same single-shot REST
// shape): POST /api/tts with a JSON body returns a WAV file. The WAV header
// is stripped and the PCM resampled to the configured output rate.
package local

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/softspoken-ai/dialtone/pkg/audio"
	"github.com/softspoken-ai/dialtone/pkg/provider/tts"
)

var _ tts.Engine = (*Engine)(nil)

const (
	defaultTimeout    = 30 * time.Second
	defaultOutputRate = 24000
	ttsEndpoint       = "/api/tts"
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithVoice sets the voice identifier sent with every request.
func WithVoice(voice string) Option {
	return func(e *Engine) { e.voice = voice }
}

// WithLanguage sets the BCP-47 language code sent with every request.
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.httpClient.Timeout = d }
}

// WithOutputSampleRate sets the PCM rate Synthesize returns; server output at
// other rates is resampled. Defaults to 24000.
func WithOutputSampleRate(rate int) Option {
	return func(e *Engine) {
		if rate > 0 {
			e.outputRate = rate
		}
	}
}

// Engine implements tts.Engine against a local synthesis server. Safe for
// concurrent use; requests may run in parallel.
type Engine struct {
	serverURL  string
	voice      string
	language   string
	outputRate int
	httpClient *http.Client
}

// New creates an Engine targeting the synthesis server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Engine, error) {
	if serverURL == "" {
		return nil, errors.New("local tts: serverURL must not be empty")
	}
	e := &Engine{
		serverURL:  strings.TrimRight(serverURL, "/"),
		outputRate: defaultOutputRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// SampleRate reports the PCM rate of Synthesize output.
func (e *Engine) SampleRate() int { return e.outputRate }

// synthRequest is the JSON body sent to POST /api/tts.
type synthRequest struct {
	Text     string `json:"text"`
	Voice    string `json:"voice,omitempty"`
	Language string `json:"language,omitempty"`
}

// Synthesize renders text through the server and returns mono PCM at the
// configured output rate.
func (e *Engine) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(synthRequest{Text: text, Voice: e.voice, Language: e.language})
	if err != nil {
		return nil, fmt.Errorf("local tts: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.serverURL+ttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("local tts: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("local tts: POST %s: %w", ttsEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local tts: POST %s returned status %d", ttsEndpoint, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("local tts: read WAV response: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.DataOffset:]
	if info.Channels != 1 {
		return nil, fmt.Errorf("local tts: expected mono output, got %d channels", info.Channels)
	}
	if info.SampleRate != e.outputRate {
		pcm = audio.Resample(pcm, info.SampleRate, e.outputRate)
	}
	return pcm, nil
}

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	DataOffset int
	SampleRate int
	Channels   int
}

// parseWAV walks the RIFF chunks to find the fmt and data sub-chunks rather
// than assuming a fixed 44-byte header; server fmt chunk sizes vary.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("local tts: WAV response too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("local tts: response is not a RIFF/WAVE container")
	}

	var info wavInfo
	foundFmt := false
	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize >= 16 && offset+8+16 <= len(wav) {
				fmtData := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
				foundFmt = true
			}
		case "data":
			if !foundFmt {
				return wavInfo{}, errors.New("local tts: WAV data chunk before fmt chunk")
			}
			info.DataOffset = offset + 8
			return info, nil
		}

		// Chunks are word-aligned.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("local tts: WAV response missing data chunk")
}
