// Package callctl talks to the telephony provider's REST API for call
// lifecycle operations the media stream itself cannot perform, chiefly
// hanging up from the server side once the agent has said goodbye.
package callctl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Client drives the provider REST API. The zero value is not usable; create
// one with New.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// New creates a Client authenticating as accountSID/authToken.
func New(accountSID, authToken string, opts ...Option) (*Client, error) {
	if accountSID == "" || authToken == "" {
		return nil, fmt.Errorf("callctl: account SID and auth token are required")
	}
	c := &Client{
		baseURL:    "https://api.twilio.com",
		accountSID: accountSID,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Hangup completes the call identified by callSID.
func (c *Client) Hangup(ctx context.Context, callSID string) error {
	return c.updateCall(ctx, callSID, url.Values{"Status": {"completed"}})
}

// Redirect hands the live call to a new TwiML document.
func (c *Client) Redirect(ctx context.Context, callSID, twimlURL string) error {
	return c.updateCall(ctx, callSID, url.Values{"Url": {twimlURL}, "Method": {"POST"}})
}

func (c *Client) updateCall(ctx context.Context, callSID string, form url.Values) error {
	if callSID == "" {
		return fmt.Errorf("callctl: call SID is required")
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		c.baseURL, url.PathEscape(c.accountSID), url.PathEscape(callSID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("callctl: build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("callctl: update call %s: %w", callSID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("callctl: update call %s: status %d: %s", callSID, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
