package agentcall

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/softspoken-ai/dialtone/internal/callctx"
	"github.com/softspoken-ai/dialtone/internal/threadmap"
)

const (
	// AgentSales and AgentHealthcare are the deployed assistant ids.
	AgentSales      = "sales_agent"
	AgentHealthcare = "healthcare_agent"

	defaultAgentTimeout = 30 * time.Second
	metadataWait        = 2 * time.Second

	// timeoutApology is spoken when the agent run exceeds its deadline. It
	// is a fallback, not an agent turn; the conversation history must not
	// record it.
	timeoutApology = "I'm sorry, I had a brief hiccup. Could you say that again?"

	// errorApology is spoken when the agent run fails outright.
	errorApology = "I'm having a bit of trouble. Could you repeat that?"

	// setupFarewell is spoken when the conversation thread cannot be set up
	// at all. There is no turn to retry, so the call ends after it plays.
	setupFarewell = "I'm sorry, I'm having technical difficulties right now. I'll have someone follow up with you. Goodbye!"
)

// goodbyePhrases mark a reply as a farewell even when the agent forgot to
// call its end_call tool.
var goodbyePhrases = []string{
	"take care", "have a great day", "goodbye", "bye bye", "bye!",
	"talk to you", "talk soon", "speak soon", "thanks for your time",
	"have a good one", "catch you later", "later!", "cheers!",
}

// Reply is the outcome of one agent turn.
type Reply struct {
	// Text is what the agent should say. May be empty when the run produced
	// no spoken reply.
	Text string

	// Fallback marks Text as a canned apology after a timeout or run
	// failure. Fallback replies are spoken but never committed to the
	// conversation history.
	Fallback bool

	// EndCall means the call should hang up once Text has played out.
	EndCall bool

	// HangupAfter is the playout allowance before the hangup, sized to the
	// reply length. Only set when EndCall is true.
	HangupAfter time.Duration

	// Latency is the agent run duration.
	Latency time.Duration
}

// Invoker runs conversation turns for one call.
type Invoker struct {
	runtime Runtime
	threads threadmap.Store
	call    *callctx.Context
	agentID string
	timeout time.Duration
	log     *slog.Logger

	mu        sync.Mutex
	threadID  string
	firstTurn bool
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithThreadStore binds caller identities to persistent threads, so a
// returning caller resumes their previous conversation.
func WithThreadStore(s threadmap.Store) InvokerOption {
	return func(inv *Invoker) {
		inv.threads = s
	}
}

// WithAgentTimeout bounds each agent run. Default 30 s.
func WithAgentTimeout(d time.Duration) InvokerOption {
	return func(inv *Invoker) {
		if d > 0 {
			inv.timeout = d
		}
	}
}

// WithInvokerLogger sets the invoker's logger.
func WithInvokerLogger(log *slog.Logger) InvokerOption {
	return func(inv *Invoker) {
		if log != nil {
			inv.log = log
		}
	}
}

// NewInvoker creates an Invoker for one call. The agent id follows the call
// mode.
func NewInvoker(runtime Runtime, call *callctx.Context, opts ...InvokerOption) *Invoker {
	agentID := AgentSales
	if call.Mode() == callctx.ModeHealthcare {
		agentID = AgentHealthcare
	}
	inv := &Invoker{
		runtime:   runtime,
		call:      call,
		agentID:   agentID,
		timeout:   defaultAgentTimeout,
		log:       slog.Default(),
		firstTurn: true,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// AgentID returns the assistant id this invoker runs.
func (inv *Invoker) AgentID() string {
	return inv.agentID
}

// Respond runs one agent turn for the committed user utterance. On timeout
// or run failure it returns a speakable fallback reply instead of an error,
// so the caller is never left hanging in silence.
func (inv *Invoker) Respond(ctx context.Context, userText string) Reply {
	threadID, err := inv.ensureThread(ctx)
	if err != nil {
		// Without a thread no turn can ever succeed; say goodbye and end the
		// call instead of apologizing forever.
		inv.log.Error("ensure agent thread, ending call", "error", err)
		inv.call.RequestHangup("system_error", "thread setup failed: "+err.Error())
		return Reply{
			Text:        setupFarewell,
			Fallback:    true,
			EndCall:     true,
			HangupAfter: hangupDelay(setupFarewell),
		}
	}

	input := userText
	inv.mu.Lock()
	if inv.firstTurn {
		inv.firstTurn = false
		input = inv.greetingContext() + userText
	}
	inv.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	start := time.Now()
	messages, err := inv.runtime.Wait(runCtx, threadID, inv.agentID, input, inv.call.Configurable())
	latency := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			inv.log.Warn("agent run timed out", "timeout", inv.timeout)
			return Reply{Text: timeoutApology, Fallback: true, Latency: latency}
		}
		inv.log.Error("agent run failed", "error", err)
		return Reply{Text: errorApology, Fallback: true, Latency: latency}
	}

	response := lastAssistantText(messages)
	endCallTool := inv.applyToolEffects(messages)

	reply := Reply{Text: response, Latency: latency}
	if response != "" && (endCallTool || containsGoodbye(response)) {
		reply.EndCall = true
		reply.HangupAfter = hangupDelay(response)
	}
	inv.log.Debug("agent turn",
		"latency", latency, "end_call", reply.EndCall, "chars", len(response))
	return reply
}

// ensureThread resolves the conversation thread exactly once per call.
func (inv *Invoker) ensureThread(ctx context.Context) (string, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.threadID != "" {
		return inv.threadID, nil
	}

	phone, _ := inv.call.Configurable()["phone_number"].(string)
	metadata := map[string]any{}
	if phone != "" {
		metadata["phone"] = phone
	}

	var bound string
	if inv.threads != nil && phone != "" {
		id, created, err := inv.threads.GetOrCreate(ctx, phone, "phone", inv.call.CallSID(), inv.call.CalleeName())
		if err != nil {
			return "", fmt.Errorf("agentcall: thread mapping: %w", err)
		}
		bound = id
		if created {
			inv.log.Info("new conversation thread", "thread_id", id, "phone", phone)
		} else {
			inv.log.Info("resuming conversation thread", "thread_id", id, "phone", phone)
		}
	}

	threadID, err := inv.runtime.CreateThread(ctx, bound, metadata)
	if err != nil {
		return "", err
	}
	inv.threadID = threadID
	return threadID, nil
}

// greetingContext tells the agent what the canned greeting already said, so
// its first reply does not re-introduce itself.
func (inv *Invoker) greetingContext() string {
	if name := inv.call.CalleeName(); name != "" {
		return fmt.Sprintf("[Context: You asked 'Is %s available?' - you already know their name, use it directly] ", name)
	}
	return "[Context: You asked 'Am I speaking with the owner or manager?' - you don't know their name yet] "
}

// applyToolEffects records every tool call onto the call context and reports
// whether end_call was invoked.
func (inv *Invoker) applyToolEffects(messages []Message) bool {
	endCall := false
	for _, msg := range messages {
		if msg.Type != "ai" {
			continue
		}
		for _, tc := range msg.ToolCalls {
			switch tc.Name {
			case "end_call":
				outcome := tc.StringArg("outcome")
				if outcome == "" {
					outcome = "unknown"
				}
				inv.call.RequestHangup(outcome, tc.StringArg("notes"))
				inv.log.Info("agent ended call", "outcome", outcome)
				endCall = true
			case "request_reschedule":
				note := strings.TrimSpace(strings.Join([]string{
					tc.StringArg("preferred_date"),
					tc.StringArg("preferred_time"),
					tc.StringArg("reason"),
				}, " "))
				inv.call.RequestReschedule(note)
				inv.log.Info("agent captured reschedule request", "note", note)
			case "confirm_appointment":
				inv.call.ConfirmAppointment()
				inv.log.Info("agent confirmed appointment")
			}
		}
	}
	return endCall
}

// Greeting builds the opening line once call metadata is available. started
// closes when the stream's start event has populated the call context; after
// metadataWait the greeting falls back to its generic form.
func (inv *Invoker) Greeting(ctx context.Context, started <-chan struct{}) string {
	select {
	case <-started:
	case <-time.After(metadataWait):
		inv.log.Warn("greeting built before call metadata arrived")
	case <-ctx.Done():
	}

	if inv.call.Mode() == callctx.ModeHealthcare {
		return inv.healthcareGreeting()
	}
	return inv.salesGreeting()
}

func (inv *Invoker) healthcareGreeting() string {
	date, timeOfDay, _, provider, clinic := inv.call.Healthcare()
	patient := inv.call.CalleeName()
	if patient != "" && clinic != "" && provider != "" && date != "" && timeOfDay != "" {
		inv.call.SetGreetingVariant("personal")
		return fmt.Sprintf(
			"Hi %s, this is Sarah calling from %s about your upcoming appointment with %s on %s at %s. Is this a good time?",
			patient, clinic, provider, date, timeOfDay)
	}
	if patient == "" {
		patient = "there"
	}
	inv.call.SetGreetingVariant("generic")
	return fmt.Sprintf(
		"Hi %s, this is Sarah calling from your healthcare provider about your upcoming appointment. Is this a good time?",
		patient)
}

func (inv *Invoker) salesGreeting() string {
	if owner := inv.call.CalleeName(); owner != "" {
		inv.call.SetGreetingVariant("personal")
		return fmt.Sprintf(
			"Hi %s! This is Alex, an AI assistant from Parallel Universe. Is this a good time to talk? I just need about 3 minutes.",
			owner)
	}
	inv.call.SetGreetingVariant("generic")
	return "Hi there! This is Alex, an AI assistant from Parallel Universe. Is this a good time to talk? I just need about 3 minutes."
}

// lastAssistantText finds the newest AI message with spoken content.
func lastAssistantText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type != "ai" {
			continue
		}
		if text := strings.TrimSpace(string(messages[i].Content)); text != "" {
			return text
		}
	}
	return ""
}

func containsGoodbye(response string) bool {
	lower := strings.ToLower(response)
	for _, phrase := range goodbyePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// hangupDelay sizes the hangup grace period to the farewell's spoken length,
// roughly 2.5 words per second with a one second margin.
func hangupDelay(response string) time.Duration {
	words := len(strings.Fields(response))
	playout := time.Duration(float64(words) / 2.5 * float64(time.Second))
	if playout < 3*time.Second {
		playout = 3 * time.Second
	}
	return playout + time.Second
}
