package recovery

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSaver struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (f *fakeSaver) SaveSnapshot(_ context.Context, snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeSaver) last(t *testing.T) Snapshot {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.snaps) == 0 {
		t.Fatal("no snapshot saved")
	}
	return f.snaps[len(f.snaps)-1]
}

// newTestHandler returns a handler whose clock starts at a fixed point and
// can be advanced by the test.
func newTestHandler(saver Saver, policy Policy, opts ...Option) (*Handler, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h := NewHandler(saver, policy, opts...)
	h.now = func() time.Time { return now }
	return h, &now
}

func TestHandleDisconnect_RetriesTechnicalFailure(t *testing.T) {
	t.Parallel()
	saver := &fakeSaver{}
	var scheduledLead string
	h, now := newTestHandler(saver, Policy{}, WithRetryCallback(func(leadID string, _ time.Time) {
		scheduledLead = leadID
	}))

	h.Register("call-1", "lead-1", "camp-1", "+15551234567")
	*now = now.Add(30 * time.Second)

	retryAt, scheduled := h.HandleDisconnect(context.Background(), "call-1", CauseWebSocketDisconnect, "ws closed")
	if !scheduled {
		t.Fatal("technical failure after 30s must schedule a retry")
	}
	if want := now.Add(5 * time.Minute); !retryAt.Equal(want) {
		t.Errorf("retry time: got %v, want %v", retryAt, want)
	}
	if scheduledLead != "lead-1" {
		t.Errorf("retry callback lead: got %q", scheduledLead)
	}
	if h.RetryCount("lead-1") != 1 {
		t.Errorf("retry count: got %d, want 1", h.RetryCount("lead-1"))
	}
	if h.ActiveCalls() != 0 {
		t.Error("call still tracked after disconnect")
	}
}

func TestHandleDisconnect_NoRetryCases(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cause   Cause
		age     time.Duration
		outcome string
		retries int
	}{
		{name: "normal end", cause: CauseNormalEnd, age: time.Minute},
		{name: "provider error", cause: CauseProviderError, age: time.Minute},
		{name: "too short", cause: CauseNetworkError, age: 5 * time.Second},
		{name: "hostile", cause: CauseTimeout, age: time.Minute, outcome: "hostile"},
		{name: "do not call", cause: CauseTimeout, age: time.Minute, outcome: "do_not_call"},
		{name: "wrong number", cause: CauseTimeout, age: time.Minute, outcome: "wrong_number"},
		{name: "meeting booked", cause: CauseTimeout, age: time.Minute, outcome: "meeting_booked"},
		{name: "budget exhausted", cause: CauseTimeout, age: time.Minute, retries: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, now := newTestHandler(&fakeSaver{}, Policy{})
			h.Register("call-1", "lead-1", "camp-1", "+15551234567")
			if tt.outcome != "" {
				h.UpdateOutcome("call-1", tt.outcome)
			}
			h.mu.Lock()
			h.retries["lead-1"] = tt.retries
			h.mu.Unlock()
			*now = now.Add(tt.age)

			if _, scheduled := h.HandleDisconnect(context.Background(), "call-1", tt.cause, ""); scheduled {
				t.Error("retry scheduled, want none")
			}
		})
	}
}

func TestHandleDisconnect_SnapshotContents(t *testing.T) {
	t.Parallel()
	saver := &fakeSaver{}
	h, now := newTestHandler(saver, Policy{})

	h.Register("call-1", "lead-1", "camp-1", "+15551234567")
	h.AppendTranscript("call-1", "assistant: Hi, is this a good time?")
	h.AppendTranscript("call-1", "user: Sure, what's this about?")
	h.UpdateExchange("call-1", "Sure, what's this about?", "Hi, is this a good time?")
	h.AddNote("call-1", "interested in pricing")
	*now = now.Add(45 * time.Second)

	h.HandleDisconnect(context.Background(), "call-1", CauseNetworkError, "read timeout")

	snap := saver.last(t)
	if snap.Cause != CauseNetworkError || snap.ErrorDetails != "read timeout" {
		t.Errorf("cause/details: %v %q", snap.Cause, snap.ErrorDetails)
	}
	if snap.Duration != 45*time.Second {
		t.Errorf("duration: got %v", snap.Duration)
	}
	if !strings.Contains(snap.Transcript, "what's this about?") {
		t.Errorf("transcript: %q", snap.Transcript)
	}
	if !strings.Contains(snap.Summary, "network_error") ||
		!strings.Contains(snap.Summary, "interested in pricing") ||
		!strings.Contains(snap.Summary, "Last heard:") {
		t.Errorf("summary: %q", snap.Summary)
	}
}

func TestHandleNormalEnd_ResetsRetryBudget(t *testing.T) {
	t.Parallel()
	h, now := newTestHandler(&fakeSaver{}, Policy{})

	// First attempt drops mid-call.
	h.Register("call-1", "lead-1", "camp-1", "+15551234567")
	*now = now.Add(time.Minute)
	h.HandleDisconnect(context.Background(), "call-1", CauseNetworkError, "")
	if h.RetryCount("lead-1") != 1 {
		t.Fatalf("retry count: got %d", h.RetryCount("lead-1"))
	}

	// The redial completes cleanly.
	h.Register("call-2", "lead-1", "camp-1", "+15551234567")
	h.HandleNormalEnd("call-2", "meeting_booked")
	if h.RetryCount("lead-1") != 0 {
		t.Errorf("retry count after clean completion: got %d, want 0", h.RetryCount("lead-1"))
	}
}

func TestHandleDisconnect_UnknownCall(t *testing.T) {
	t.Parallel()
	saver := &fakeSaver{}
	h, _ := newTestHandler(saver, Policy{})
	if _, scheduled := h.HandleDisconnect(context.Background(), "ghost", CauseUnknown, ""); scheduled {
		t.Error("unknown call scheduled a retry")
	}
	if len(saver.snaps) != 0 {
		t.Error("unknown call saved a snapshot")
	}
}

func TestCauseFromStatus(t *testing.T) {
	t.Parallel()
	tests := map[string]Cause{
		"completed": CauseNormalEnd,
		"busy":      CauseNormalEnd,
		"no-answer": CauseNormalEnd,
		"canceled":  CauseNormalEnd,
		"failed":    CauseProviderError,
		"ringing":   CauseUnknown,
	}
	for status, want := range tests {
		if got := CauseFromStatus(status); got != want {
			t.Errorf("CauseFromStatus(%q): got %v, want %v", status, got, want)
		}
	}
}
