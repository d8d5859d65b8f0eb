// Package turn decides when the caller has finished talking. Speech
// recognizer fragments are buffered and joined; a commit is released when an
// end-of-turn prediction clears its threshold, when the caller has gone
// quiet, or when the buffer has aged out. The controller also owns the
// no-input watchdog that re-engages a caller who went silent after an agent
// reply.
package turn

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/softspoken-ai/dialtone/pkg/provider/eot"
)

// Reason explains why a buffered utterance was committed.
type Reason string

const (
	// ReasonEndOfTurn means the predictor judged the utterance complete.
	ReasonEndOfTurn Reason = "end_of_turn"
	// ReasonSilence means the caller stopped producing fragments.
	ReasonSilence Reason = "silence"
	// ReasonMaxAge means the buffer hit its age ceiling.
	ReasonMaxAge Reason = "max_age"
)

// Kind discriminates controller events.
type Kind int

const (
	// KindCommit carries a completed caller utterance.
	KindCommit Kind = iota
	// KindInterrupt signals a fragment arrived while the agent was speaking.
	// The buffer was replaced with the new fragment.
	KindInterrupt
	// KindWatchdog signals the caller went silent after an agent reply; Text
	// holds the re-engagement prompt to speak.
	KindWatchdog
)

// Event is one output of the controller.
type Event struct {
	Kind   Kind
	Text   string
	Reason Reason
}

// Config holds the controller tuning. Zero values take defaults.
type Config struct {
	// EndOfTurnThreshold is the commit probability for normal utterances.
	// Default 0.30.
	EndOfTurnThreshold float64

	// ShortThreshold applies instead when the buffered utterance has at most
	// ShortWordLimit words. Short acknowledgements ("yes", "sounds good")
	// commit eagerly. Defaults 0.15 and 4.
	ShortThreshold float64
	ShortWordLimit int

	// SilenceCommit commits the buffer after this long without a new
	// fragment. Default 1.2 s.
	SilenceCommit time.Duration

	// MaxBufferAge commits the buffer unconditionally once the oldest
	// fragment is this old. Default 2.5 s.
	MaxBufferAge time.Duration

	// TickInterval is the evaluation cadence. Default 300 ms.
	TickInterval time.Duration

	// PredictTimeout bounds each end-of-turn prediction. Default 2 s.
	PredictTimeout time.Duration

	// WatchdogTimeout is the post-reply silence that triggers the watchdog
	// prompt. Default 5 s.
	WatchdogTimeout time.Duration

	// WatchdogPrompt is spoken when the watchdog fires.
	WatchdogPrompt string
}

func (c *Config) applyDefaults() {
	if c.EndOfTurnThreshold <= 0 {
		c.EndOfTurnThreshold = 0.30
	}
	if c.ShortThreshold <= 0 {
		c.ShortThreshold = 0.15
	}
	if c.ShortWordLimit <= 0 {
		c.ShortWordLimit = 4
	}
	if c.SilenceCommit <= 0 {
		c.SilenceCommit = 1200 * time.Millisecond
	}
	if c.MaxBufferAge <= 0 {
		c.MaxBufferAge = 2500 * time.Millisecond
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 300 * time.Millisecond
	}
	if c.PredictTimeout <= 0 {
		c.PredictTimeout = 2 * time.Second
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = 5 * time.Second
	}
	if c.WatchdogPrompt == "" {
		c.WatchdogPrompt = "Hey, are you still there?"
	}
}

// Controller buffers recognizer fragments and turns them into committed
// caller utterances.
type Controller struct {
	cfg       Config
	predictor eot.Predictor
	speaking  func() bool
	log       *slog.Logger
	now       func() time.Time

	events chan Event

	mu            sync.Mutex
	fragments     []string
	firstAt       time.Time
	lastAt        time.Time
	history       []eot.Message
	lastRole      eot.Role
	watchdogFrom  time.Time
	watchdogFired bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// New creates a Controller. speaking reports whether agent audio is playing
// right now; it is consulted on every fragment to detect barge-in.
func New(predictor eot.Predictor, speaking func() bool, cfg Config, opts ...Option) *Controller {
	cfg.applyDefaults()
	c := &Controller{
		cfg:       cfg,
		predictor: predictor,
		speaking:  speaking,
		log:       slog.Default(),
		now:       time.Now,
		events:    make(chan Event, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the controller's output stream. Closed when Run returns.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Run evaluates the buffer on a fixed cadence until ctx is canceled. Silence
// and age commits, plus the no-input watchdog, originate here.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.events)
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for _, ev := range c.tick() {
				select {
				case c.events <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (c *Controller) tick() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()

	if len(c.fragments) > 0 {
		if now.Sub(c.lastAt) >= c.cfg.SilenceCommit {
			return []Event{c.commitLocked(ReasonSilence)}
		}
		if now.Sub(c.firstAt) >= c.cfg.MaxBufferAge {
			return []Event{c.commitLocked(ReasonMaxAge)}
		}
		return nil
	}

	// No pending speech. While agent audio is playing the watchdog clock is
	// held; the countdown starts once playback finishes.
	if c.lastRole != eot.RoleAssistant || c.watchdogFired {
		return nil
	}
	if c.speaking != nil && c.speaking() {
		c.watchdogFrom = now
		return nil
	}
	if now.Sub(c.watchdogFrom) >= c.cfg.WatchdogTimeout {
		c.watchdogFired = true
		// The prompt is spoken, so later predictions must see it. Appending
		// here keeps watchdogFired set; NoteAssistantReply would re-arm it.
		c.history = append(c.history, eot.Message{Role: eot.RoleAssistant, Text: c.cfg.WatchdogPrompt})
		c.lastRole = eot.RoleAssistant
		c.log.Info("no-input watchdog fired")
		return []Event{{Kind: KindWatchdog, Text: c.cfg.WatchdogPrompt}}
	}
	return nil
}

// AddFragment feeds one recognizer fragment. If the agent is speaking the
// buffer is replaced and an interrupt event precedes any commit; otherwise
// the fragment is appended and an end-of-turn prediction decides whether to
// commit immediately.
func (c *Controller) AddFragment(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	var out []Event
	c.mu.Lock()
	now := c.now()
	if c.speaking != nil && c.speaking() {
		c.fragments = c.fragments[:0]
		c.firstAt = now
		out = append(out, Event{Kind: KindInterrupt, Text: text})
	} else if len(c.fragments) == 0 {
		c.firstAt = now
	}
	c.fragments = append(c.fragments, text)
	c.lastAt = now
	pending := strings.Join(c.fragments, " ")
	history := make([]eot.Message, len(c.history), len(c.history)+1)
	copy(history, c.history)
	history = append(history, eot.Message{Role: eot.RoleUser, Text: pending})
	c.mu.Unlock()

	for _, ev := range out {
		c.emit(ctx, ev)
	}

	prob, err := c.predictWithTimeout(ctx, history)
	if err != nil {
		// Leave the buffer alone; the silence or age commit catches it.
		c.log.Warn("end-of-turn prediction failed", "error", err)
		return
	}

	threshold := c.cfg.EndOfTurnThreshold
	if eot.WordCount(pending) <= c.cfg.ShortWordLimit {
		threshold = c.cfg.ShortThreshold
	}
	c.log.Debug("end-of-turn prediction",
		"probability", prob, "threshold", threshold, "pending", pending)
	if prob < threshold {
		return
	}

	c.mu.Lock()
	if len(c.fragments) == 0 {
		// A tick committed while the prediction was in flight.
		c.mu.Unlock()
		return
	}
	ev := c.commitLocked(ReasonEndOfTurn)
	c.mu.Unlock()
	c.emit(ctx, ev)
}

func (c *Controller) predictWithTimeout(ctx context.Context, history []eot.Message) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PredictTimeout)
	defer cancel()
	return c.predictor.Predict(ctx, history)
}

// commitLocked drains the buffer into a commit event. Caller holds mu.
func (c *Controller) commitLocked(reason Reason) Event {
	text := strings.Join(c.fragments, " ")
	c.fragments = c.fragments[:0]
	c.history = append(c.history, eot.Message{Role: eot.RoleUser, Text: text})
	c.lastRole = eot.RoleUser
	c.watchdogFired = false
	return Event{Kind: KindCommit, Text: text, Reason: reason}
}

func (c *Controller) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

// NoteAssistantReply records a spoken agent reply. It extends the prediction
// history and arms the no-input watchdog.
func (c *Controller) NoteAssistantReply(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, eot.Message{Role: eot.RoleAssistant, Text: text})
	c.lastRole = eot.RoleAssistant
	c.watchdogFired = false
	c.watchdogFrom = c.now()
}

// ResetWatchdog restarts the no-input countdown, used after an interrupt
// cancels agent playback mid-reply.
func (c *Controller) ResetWatchdog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchdogFired = false
	c.watchdogFrom = c.now()
}

// History returns a copy of the committed conversation so far.
func (c *Controller) History() []eot.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]eot.Message, len(c.history))
	copy(out, c.history)
	return out
}
