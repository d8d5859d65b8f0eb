// Package livekit provides an eot.Predictor backed by a local inference
// sidecar serving the livekit turn-detector model over REST: POST /predict
// with the recent chat messages returns an end-of-utterance probability.
package livekit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
)

var _ eot.Predictor = (*Predictor)(nil)

const (
	defaultTimeout  = 2 * time.Second
	defaultMaxTurns = 6
	predictEndpoint = "/predict"
)

// Option is a functional option for configuring a Predictor.
type Option func(*Predictor)

// WithTimeout sets the per-request HTTP timeout. The turn controller polls
// every 300 ms, so the default is a tight 2 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Predictor) { p.httpClient.Timeout = d }
}

// WithMaxTurns limits how many trailing conversation turns are sent to the
// model. Defaults to 6.
func WithMaxTurns(n int) Option {
	return func(p *Predictor) {
		if n > 0 {
			p.maxTurns = n
		}
	}
}

// Predictor implements eot.Predictor against a turn-detector sidecar. Safe
// for concurrent use.
type Predictor struct {
	serverURL  string
	maxTurns   int
	httpClient *http.Client
}

// New creates a Predictor targeting the sidecar at serverURL
// (e.g., "http://localhost:8400").
func New(serverURL string, opts ...Option) (*Predictor, error) {
	if serverURL == "" {
		return nil, errors.New("livekit eot: serverURL must not be empty")
	}
	p := &Predictor{
		serverURL:  strings.TrimRight(serverURL, "/"),
		maxTurns:   defaultMaxTurns,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// predictRequest is the JSON body sent to POST /predict.
type predictRequest struct {
	Messages []wireMessage `json:"messages"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// predictResponse is the JSON body returned by the sidecar.
type predictResponse struct {
	Probability float64 `json:"probability"`
}

// Predict sends the trailing turns of history to the sidecar and returns the
// end-of-utterance probability. Message text is normalized the way the model
// was trained.
func (p *Predictor) Predict(ctx context.Context, history []eot.Message) (float64, error) {
	if len(history) == 0 {
		return 0, errors.New("livekit eot: history must not be empty")
	}
	if history[len(history)-1].Role != eot.RoleUser {
		return 0, errors.New("livekit eot: history must end with a user message")
	}

	start := len(history) - p.maxTurns
	if start < 0 {
		start = 0
	}
	req := predictRequest{Messages: make([]wireMessage, 0, len(history)-start)}
	for _, m := range history[start:] {
		req.Messages = append(req.Messages, wireMessage{
			Role:    string(m.Role),
			Content: eot.Normalize(m.Text),
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("livekit eot: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+predictEndpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("livekit eot: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("livekit eot: POST %s: %w", predictEndpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("livekit eot: POST %s returned status %d", predictEndpoint, resp.StatusCode)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("livekit eot: decode response: %w", err)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return 0, fmt.Errorf("livekit eot: probability %f out of range", out.Probability)
	}
	return out.Probability, nil
}
