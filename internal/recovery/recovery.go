// Package recovery preserves in-flight call state so an unexpected
// disconnect does not lose the conversation. It classifies why a call ended,
// persists a partial snapshot, and decides whether the lead should be
// redialed.
package recovery

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Cause classifies why a call ended.
type Cause string

const (
	CauseNormalEnd           Cause = "normal_end"
	CauseWebSocketDisconnect Cause = "websocket_disconnect"
	CauseProviderError       Cause = "provider_error"
	CauseTimeout             Cause = "timeout"
	CauseNetworkError        Cause = "network_error"
	CauseUnknown             Cause = "unknown"
)

// retryable reports whether the cause is a technical failure worth redialing.
func (c Cause) retryable() bool {
	switch c {
	case CauseWebSocketDisconnect, CauseNetworkError, CauseTimeout:
		return true
	}
	return false
}

// CauseFromStatus maps a telephony status callback value to a Cause. Busy,
// no-answer and canceled are unanswered calls, not failures.
func CauseFromStatus(status string) Cause {
	switch status {
	case "completed", "busy", "no-answer", "canceled":
		return CauseNormalEnd
	case "failed":
		return CauseProviderError
	default:
		return CauseUnknown
	}
}

// Snapshot is the preserved state of a disconnected call.
type Snapshot struct {
	CallID         string
	LeadID         string
	CampaignID     string
	PhoneNumber    string
	Cause          Cause
	Outcome        string
	ErrorDetails   string
	Transcript     string
	Summary        string
	StartedAt      time.Time
	DisconnectedAt time.Time
	Duration       time.Duration
}

// Saver persists snapshots of disconnected calls.
type Saver interface {
	SaveSnapshot(ctx context.Context, snap Snapshot) error
}

// Policy holds the retry tuning. Zero values take defaults.
type Policy struct {
	// MinDuration is the shortest call worth retrying; anything shorter was
	// likely a wrong number or an immediate hangup. Default 10 s.
	MinDuration time.Duration

	// Delay before the scheduled redial. Default 5 min.
	Delay time.Duration

	// MaxRetries per lead. Default 2.
	MaxRetries int
}

func (p *Policy) applyDefaults() {
	if p.MinDuration <= 0 {
		p.MinDuration = 10 * time.Second
	}
	if p.Delay <= 0 {
		p.Delay = 5 * time.Minute
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 2
	}
}

// noRetryOutcomes are partial outcomes that make a redial unwelcome or
// pointless.
var noRetryOutcomes = map[string]bool{
	"hostile":        true,
	"do_not_call":    true,
	"wrong_number":   true,
	"meeting_booked": true,
}

// callState is the live tracking record for one active call.
type callState struct {
	callID      string
	leadID      string
	campaignID  string
	phoneNumber string
	startedAt   time.Time
	transcript  []string
	lastUser    string
	lastAgent   string
	outcome     string
	notes       []string
}

// Handler tracks active calls and runs the disconnect/retry flow. All
// methods are safe for concurrent use.
type Handler struct {
	policy Policy
	saver  Saver
	log    *slog.Logger
	now    func() time.Time

	// onRetry is invoked after a retry is scheduled.
	onRetry func(leadID string, at time.Time)

	mu      sync.Mutex
	active  map[string]*callState
	retries map[string]int
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithRetryCallback registers a hook invoked when a redial is scheduled.
func WithRetryCallback(fn func(leadID string, at time.Time)) Option {
	return func(h *Handler) {
		h.onRetry = fn
	}
}

// NewHandler creates a Handler persisting snapshots through saver.
func NewHandler(saver Saver, policy Policy, opts ...Option) *Handler {
	policy.applyDefaults()
	h := &Handler{
		policy:  policy,
		saver:   saver,
		log:     slog.Default(),
		now:     time.Now,
		active:  make(map[string]*callState),
		retries: make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SetPolicy replaces the retry policy. Calls already in the disconnect flow
// keep the policy they started with; the next disconnect sees the new one.
func (h *Handler) SetPolicy(p Policy) {
	p.applyDefaults()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.policy = p
}

// Register starts tracking a call.
func (h *Handler) Register(callID, leadID, campaignID, phoneNumber string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.active[callID] = &callState{
		callID:      callID,
		leadID:      leadID,
		campaignID:  campaignID,
		phoneNumber: phoneNumber,
		startedAt:   h.now(),
	}
}

// AppendTranscript adds a spoken line to the call's transcript.
func (h *Handler) AppendTranscript(callID, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.active[callID]; ok {
		s.transcript = append(s.transcript, line)
	}
}

// UpdateExchange records the most recent user input and agent response.
// Empty strings leave the stored value untouched.
func (h *Handler) UpdateExchange(callID, userInput, agentResponse string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.active[callID]
	if !ok {
		return
	}
	if userInput != "" {
		s.lastUser = userInput
	}
	if agentResponse != "" {
		s.lastAgent = agentResponse
	}
}

// UpdateOutcome records the partial outcome known so far.
func (h *Handler) UpdateOutcome(callID, outcome string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.active[callID]; ok {
		s.outcome = outcome
	}
}

// AddNote attaches a free-form note to the call.
func (h *Handler) AddNote(callID, note string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.active[callID]; ok {
		s.notes = append(s.notes, note)
	}
}

// HandleDisconnect runs the disconnect flow for callID: persist a snapshot,
// decide on a retry, and drop the tracking record. It returns the scheduled
// redial time when one was set.
func (h *Handler) HandleDisconnect(ctx context.Context, callID string, cause Cause, errorDetails string) (retryAt time.Time, scheduled bool) {
	h.mu.Lock()
	s, ok := h.active[callID]
	if !ok {
		h.mu.Unlock()
		h.log.Warn("disconnect for unknown call", "call_id", callID)
		return time.Time{}, false
	}
	delete(h.active, callID)
	now := h.now()
	duration := now.Sub(s.startedAt)
	retry := h.shouldRetryLocked(s, cause, duration)
	if retry {
		h.retries[s.leadID]++
		retryAt = now.Add(h.policy.Delay)
	}
	h.mu.Unlock()

	h.log.Info("call disconnected",
		"call_id", callID, "cause", cause, "duration", duration, "retry", retry)

	snap := buildSnapshot(s, cause, errorDetails, now, duration)
	if h.saver != nil {
		if err := h.saver.SaveSnapshot(ctx, snap); err != nil {
			h.log.Error("save call snapshot", "call_id", callID, "error", err)
		}
	}

	if retry && h.onRetry != nil {
		h.onRetry(s.leadID, retryAt)
	}
	return retryAt, retry
}

// HandleNormalEnd closes out a call that completed cleanly and clears the
// lead's retry budget.
func (h *Handler) HandleNormalEnd(callID, outcome string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.active[callID]
	if !ok {
		return
	}
	delete(h.active, callID)
	delete(h.retries, s.leadID)
	h.log.Info("call completed", "call_id", callID, "outcome", outcome)
}

// RetryCount reports how many redials a lead has used.
func (h *Handler) RetryCount(leadID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.retries[leadID]
}

// ActiveCalls reports how many calls are currently tracked.
func (h *Handler) ActiveCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

func (h *Handler) shouldRetryLocked(s *callState, cause Cause, duration time.Duration) bool {
	if !cause.retryable() {
		return false
	}
	if duration < h.policy.MinDuration {
		return false
	}
	if h.retries[s.leadID] >= h.policy.MaxRetries {
		return false
	}
	if noRetryOutcomes[s.outcome] {
		return false
	}
	return true
}

func buildSnapshot(s *callState, cause Cause, errorDetails string, now time.Time, duration time.Duration) Snapshot {
	summary := []string{"Call disconnected: " + string(cause)}
	if len(s.notes) > 0 {
		n := s.notes
		if len(n) > 3 {
			n = n[:3]
		}
		summary = append(summary, "Notes: "+strings.Join(n, "; "))
	}
	if s.lastUser != "" {
		heard := s.lastUser
		if len(heard) > 50 {
			heard = heard[:50] + "..."
		}
		summary = append(summary, "Last heard: "+heard)
	}

	return Snapshot{
		CallID:         s.callID,
		LeadID:         s.leadID,
		CampaignID:     s.campaignID,
		PhoneNumber:    s.phoneNumber,
		Cause:          cause,
		Outcome:        s.outcome,
		ErrorDetails:   errorDetails,
		Transcript:     strings.Join(s.transcript, "\n"),
		Summary:        strings.Join(summary, " | "),
		StartedAt:      s.startedAt,
		DisconnectedAt: now,
		Duration:       duration,
	}
}
