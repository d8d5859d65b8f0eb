// Package callctx holds the per-call business context: who is being called,
// why, and what the agent's tools decided along the way. One Context lives
// for the duration of a session and is shared by the turn controller, agent
// invoker, and recovery snapshotter.
package callctx

import (
	"sync"
	"time"
)

// Mode selects the agent personality and which context fields matter.
type Mode string

const (
	ModeSales      Mode = "sales"
	ModeHealthcare Mode = "healthcare"
)

// IsValid reports whether the mode is a known value.
func (m Mode) IsValid() bool {
	return m == ModeSales || m == ModeHealthcare
}

// Exchange is one committed conversation turn.
type Exchange struct {
	Role string // "user" or "assistant"
	Text string
	At   time.Time
}

// Context is the mutable per-call state. All methods are safe for concurrent
// use.
type Context struct {
	mu sync.RWMutex

	mode      Mode
	callSID   string
	streamSID string

	// Caller identity and campaign metadata from the start event's custom
	// parameters.
	leadID       string
	campaignID   string
	businessName string
	ownerName    string
	fromNumber   string
	toNumber     string

	// Healthcare appointment fields.
	appointmentDate string
	appointmentTime string
	appointmentType string
	providerName    string
	clinicName      string

	// Agent-tool effects.
	hangupRequested      bool
	outcome              string
	notes                string
	rescheduleRequested  bool
	rescheduleNote       string
	appointmentConfirmed bool

	greetingVariant string
	startedAt       time.Time
	transcript      []Exchange
}

// New creates a Context for the given agent mode.
func New(mode Mode) *Context {
	return &Context{mode: mode, startedAt: time.Now()}
}

// ApplyStart captures the stream identifiers and custom parameters from the
// media stream's start event.
func (c *Context) ApplyStart(callSID, streamSID string, params map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callSID = callSID
	c.streamSID = streamSID
	c.leadID = params["lead_id"]
	c.campaignID = params["campaign_id"]
	c.businessName = params["business_name"]
	c.ownerName = params["owner_name"]
	c.fromNumber = params["from_number"]
	c.toNumber = params["to_number"]
	c.appointmentDate = params["appointment_date"]
	c.appointmentTime = params["appointment_time"]
	c.appointmentType = params["appointment_type"]
	c.providerName = params["provider_name"]
	c.clinicName = params["clinic_name"]
}

// Mode returns the agent mode.
func (c *Context) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// CallSID returns the provider call identifier.
func (c *Context) CallSID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callSID
}

// LeadID returns the lead identifier for sales calls.
func (c *Context) LeadID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.leadID
}

// CampaignID returns the campaign identifier for sales calls.
func (c *Context) CampaignID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.campaignID
}

// PhoneNumber returns the number that was dialed.
func (c *Context) PhoneNumber() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.toNumber
}

// CalleeName returns the person being addressed: the owner name for sales
// calls, the patient name for healthcare calls. Both travel in owner_name.
func (c *Context) CalleeName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ownerName
}

// Healthcare returns the appointment fields for healthcare calls.
func (c *Context) Healthcare() (date, timeOfDay, apptType, provider, clinic string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.appointmentDate, c.appointmentTime, c.appointmentType, c.providerName, c.clinicName
}

// Configurable builds the structured context map handed to the agent runtime
// with every run, keyed per agent mode.
func (c *Context) Configurable() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.mode == ModeHealthcare {
		return map[string]any{
			"phone_number":     c.toNumber,
			"call_sid":         c.callSID,
			"patient_name":     c.ownerName,
			"appointment_date": c.appointmentDate,
			"appointment_time": c.appointmentTime,
			"provider_name":    c.providerName,
			"clinic_name":      c.clinicName,
			"appointment_type": c.appointmentType,
		}
	}
	return map[string]any{
		"phone_number":  c.toNumber,
		"call_sid":      c.callSID,
		"business_name": c.businessName,
		"owner_name":    c.ownerName,
		"lead_id":       c.leadID,
	}
}

// RequestHangup records that the agent decided to end the call, with the
// resulting outcome and notes. The first decision wins.
func (c *Context) RequestHangup(outcome, notes string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hangupRequested {
		return
	}
	c.hangupRequested = true
	c.outcome = outcome
	c.notes = notes
}

// HangupRequested reports whether a hangup was ordered, with its outcome.
func (c *Context) HangupRequested() (outcome, notes string, requested bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outcome, c.notes, c.hangupRequested
}

// Outcome returns the recorded call outcome, if any.
func (c *Context) Outcome() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outcome
}

// RequestReschedule records that the callee asked to move the appointment.
func (c *Context) RequestReschedule(note string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rescheduleRequested = true
	c.rescheduleNote = note
}

// ConfirmAppointment records a confirmed appointment.
func (c *Context) ConfirmAppointment() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appointmentConfirmed = true
}

// Effects reports the appointment-level tool effects.
func (c *Context) Effects() (rescheduled bool, rescheduleNote string, confirmed bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rescheduleRequested, c.rescheduleNote, c.appointmentConfirmed
}

// SetGreetingVariant records which greeting was played, so the first agent
// turn can explain what the callee already heard.
func (c *Context) SetGreetingVariant(v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.greetingVariant = v
}

// GreetingVariant returns the recorded greeting variant.
func (c *Context) GreetingVariant() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.greetingVariant
}

// Append adds a committed turn to the call transcript.
func (c *Context) Append(role, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcript = append(c.transcript, Exchange{Role: role, Text: text, At: time.Now()})
}

// Transcript returns a copy of the committed turns.
func (c *Context) Transcript() []Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Exchange, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// LastExchange returns the most recent user/assistant pair, if present.
func (c *Context) LastExchange() (user, assistant string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.transcript) - 1; i >= 0; i-- {
		switch c.transcript[i].Role {
		case "assistant":
			if assistant == "" {
				assistant = c.transcript[i].Text
			}
		case "user":
			if user == "" {
				user = c.transcript[i].Text
			}
		}
		if user != "" && assistant != "" {
			break
		}
	}
	return user, assistant
}

// Duration reports how long the call has been running.
func (c *Context) Duration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.startedAt)
}
