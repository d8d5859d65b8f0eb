// Package mock provides a test double for the agentcall.Runtime interface.
package mock

import (
	"context"
	"sync"

	"github.com/softspoken-ai/dialtone/internal/agentcall"
)

var _ agentcall.Runtime = (*Runtime)(nil)

// WaitCall records one Wait invocation.
type WaitCall struct {
	ThreadID     string
	AgentID      string
	Text         string
	Configurable map[string]any
}

// Runtime is a scripted agentcall.Runtime.
type Runtime struct {
	mu sync.Mutex

	// ThreadID is returned by CreateThread when the caller does not supply
	// one. Defaults to "thread-1".
	ThreadID string

	// CreateThreadErr, if non-nil, fails every CreateThread call.
	CreateThreadErr error

	// Replies are returned by successive Wait calls; once exhausted, the
	// last entry repeats.
	Replies [][]agentcall.Message

	// WaitErr, if non-nil, fails every Wait call.
	WaitErr error

	// WaitFn, if set, overrides the scripted behavior entirely.
	WaitFn func(ctx context.Context, threadID, agentID, text string, configurable map[string]any) ([]agentcall.Message, error)

	// CreateThreadCalls records the thread ids passed to CreateThread.
	CreateThreadCalls []string

	// WaitCalls records every Wait invocation.
	WaitCalls []WaitCall

	waitIndex int
}

// CreateThread implements [agentcall.Runtime].
func (r *Runtime) CreateThread(_ context.Context, threadID string, _ map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CreateThreadCalls = append(r.CreateThreadCalls, threadID)
	if r.CreateThreadErr != nil {
		return "", r.CreateThreadErr
	}
	if threadID != "" {
		return threadID, nil
	}
	if r.ThreadID != "" {
		return r.ThreadID, nil
	}
	return "thread-1", nil
}

// Wait implements [agentcall.Runtime].
func (r *Runtime) Wait(ctx context.Context, threadID, agentID, text string, configurable map[string]any) ([]agentcall.Message, error) {
	r.mu.Lock()
	r.WaitCalls = append(r.WaitCalls, WaitCall{
		ThreadID:     threadID,
		AgentID:      agentID,
		Text:         text,
		Configurable: configurable,
	})
	fn := r.WaitFn
	err := r.WaitErr
	var msgs []agentcall.Message
	if len(r.Replies) > 0 {
		idx := r.waitIndex
		if idx >= len(r.Replies) {
			idx = len(r.Replies) - 1
		}
		msgs = r.Replies[idx]
		r.waitIndex++
	}
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, threadID, agentID, text, configurable)
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// WaitCallCount reports how many Wait calls were made. Thread-safe.
func (r *Runtime) WaitCallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.WaitCalls)
}

// AIText builds a plain assistant reply message.
func AIText(text string) agentcall.Message {
	return agentcall.Message{Type: "ai", Content: agentcall.Content(text)}
}

// AIToolCall builds an assistant message carrying a single tool call.
func AIToolCall(name string, args map[string]any) agentcall.Message {
	return agentcall.Message{Type: "ai", ToolCalls: []agentcall.ToolCall{{Name: name, Args: args}}}
}
