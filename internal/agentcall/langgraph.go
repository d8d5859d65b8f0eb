package agentcall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var _ Runtime = (*LangGraphClient)(nil)

const defaultRunTimeout = 60 * time.Second

// LangGraphClient is the Runtime backed by a LangGraph platform deployment.
type LangGraphClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// LangGraphOption configures a LangGraphClient.
type LangGraphOption func(*LangGraphClient)

// WithAPIKey sets the platform API key.
func WithAPIKey(key string) LangGraphOption {
	return func(c *LangGraphClient) {
		c.apiKey = key
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) LangGraphOption {
	return func(c *LangGraphClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewLangGraphClient creates a client for the platform at baseURL.
func NewLangGraphClient(baseURL string, opts ...LangGraphOption) (*LangGraphClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("agentcall: langgraph base URL is required")
	}
	c := &LangGraphClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRunTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateThread implements [Runtime].
func (c *LangGraphClient) CreateThread(ctx context.Context, threadID string, metadata map[string]any) (string, error) {
	body := map[string]any{
		// Re-creating an existing thread is a no-op so a recovered call can
		// resume its conversation.
		"if_exists": "do_nothing",
	}
	if threadID != "" {
		body["thread_id"] = threadID
	}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}

	var out struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.post(ctx, "/threads", body, &out); err != nil {
		return "", fmt.Errorf("agentcall: create thread: %w", err)
	}
	if out.ThreadID == "" {
		return "", fmt.Errorf("agentcall: create thread: empty thread_id in response")
	}
	return out.ThreadID, nil
}

// Wait implements [Runtime].
func (c *LangGraphClient) Wait(ctx context.Context, threadID, agentID, text string, configurable map[string]any) ([]Message, error) {
	body := map[string]any{
		"assistant_id": agentID,
		"input": map[string]any{
			"messages": []map[string]any{
				{"role": "human", "content": text},
			},
		},
	}
	if len(configurable) > 0 {
		body["config"] = map[string]any{"configurable": configurable}
	}

	var out struct {
		Messages []Message `json:"messages"`
	}
	if err := c.post(ctx, "/threads/"+threadID+"/runs/wait", body, &out); err != nil {
		return nil, fmt.Errorf("agentcall: run on thread %s: %w", threadID, err)
	}
	return out.Messages, nil
}

func (c *LangGraphClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
