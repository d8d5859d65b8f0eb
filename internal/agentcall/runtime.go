// Package agentcall runs conversation turns through the agent platform and
// turns the raw run output into something the voice pipeline can speak: the
// reply text, tool effects on the call context, and the end-of-call
// decision.
package agentcall

import (
	"context"
	"encoding/json"
)

// Content is a message body. The platform serializes it either as a plain
// string or as a list of typed blocks; both decode into the first text.
type Content string

// UnmarshalJSON accepts both the string and block-list encodings.
func (c *Content) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = Content(s)
		return nil
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &blocks); err == nil {
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				*c = Content(b.Text)
				return nil
			}
		}
	}
	// Tolerate null and unknown shapes; the caller treats it as empty.
	*c = ""
	return nil
}

// ToolCall is one tool invocation recorded on an AI message.
type ToolCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Message is one entry of a thread's message state.
type Message struct {
	Type      string     `json:"type"` // "human", "ai", "tool"
	Content   Content    `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StringArg returns the named string argument, or "" when absent.
func (tc ToolCall) StringArg(name string) string {
	if v, ok := tc.Args[name].(string); ok {
		return v
	}
	return ""
}

// Runtime is the agent execution platform.
type Runtime interface {
	// CreateThread registers a conversation thread. A non-empty threadID is
	// used as the thread's identity; creation is idempotent. The effective
	// thread id is returned.
	CreateThread(ctx context.Context, threadID string, metadata map[string]any) (string, error)

	// Wait runs one turn on the thread with the given user text and blocks
	// until the run finishes, returning the thread's message state.
	Wait(ctx context.Context, threadID, agentID, text string, configurable map[string]any) ([]Message, error)
}
