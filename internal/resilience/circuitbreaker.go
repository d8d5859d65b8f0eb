// Package resilience provides circuit breaker and provider failover
// primitives for the per-turn provider hops: recognizer startup, speech
// synthesis, and end-of-turn prediction.
//
// The central type is [Breaker], a classic three-state breaker
// (closed → open → half-open) that keeps a flapping provider from stalling
// live calls. [FallbackGroup] composes multiple instances of any provider
// type with per-entry breakers so a failing primary is bypassed in favour of
// healthy fallbacks.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] when the breaker is open
// and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls immediately with [ErrCircuitOpen] until the
	// reset timeout elapses.
	StateOpen

	// StateHalfOpen admits a limited number of probe calls; the breaker
	// closes if they succeed and re-opens on the first failure.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning
	// to half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed in the half-open
	// state before the breaker decides whether to close. Default: 3.
	HalfOpenMax int
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu              sync.Mutex
	state           State
	consecutiveFail int
	lastFailure     time.Time
	halfOpenCalls   int
	halfOpenFails   int
}

// NewBreaker creates a [Breaker] with the supplied configuration. Zero-value
// config fields take defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. In the half-open state a limited
// number of probe calls are permitted.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.resetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenFails = 0
		slog.Info("circuit breaker transitioning to half-open", "name", b.name)

	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMax {
			// Probe budget exhausted, stay open.
			b.mu.Unlock()
			return ErrCircuitOpen
		}
	}

	inHalfOpen := b.state == StateHalfOpen
	if inHalfOpen {
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure(inHalfOpen)
	} else {
		b.recordSuccess(inHalfOpen)
	}
	return err
}

// recordFailure handles failure accounting. Caller holds b.mu.
func (b *Breaker) recordFailure(inHalfOpen bool) {
	b.lastFailure = time.Now()

	if inHalfOpen {
		// Any failure in half-open immediately re-opens.
		b.halfOpenFails++
		b.state = StateOpen
		b.consecutiveFail = b.maxFailures
		slog.Warn("circuit breaker re-opened from half-open", "name", b.name)
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.maxFailures {
		b.state = StateOpen
		slog.Warn("circuit breaker opened",
			"name", b.name, "consecutive_failures", b.consecutiveFail)
	}
}

// recordSuccess handles success accounting. Caller holds b.mu.
func (b *Breaker) recordSuccess(inHalfOpen bool) {
	if inHalfOpen {
		if b.halfOpenCalls-b.halfOpenFails >= b.halfOpenMax {
			b.state = StateClosed
			b.consecutiveFail = 0
			b.halfOpenCalls = 0
			b.halfOpenFails = 0
			slog.Info("circuit breaker closed after successful probes", "name", b.name)
		}
		return
	}
	b.consecutiveFail = 0
}

// State returns the current [State]. If the breaker is open and the reset
// timeout has elapsed, the returned state is [StateHalfOpen]; the actual
// transition happens on the next [Breaker.Execute] call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed], clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFail = 0
	b.halfOpenCalls = 0
	b.halfOpenFails = 0
	slog.Info("circuit breaker manually reset", "name", b.name)
}
