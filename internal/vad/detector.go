// Package vad implements RMS-based barge-in detection over 20 ms telephone
// frames. A four-state machine separates brief noise from sustained caller
// speech, and the speech threshold adapts to the call's ambient level via a
// rolling percentile window.
package vad

import (
	"sync"
	"time"

	"github.com/softspoken-ai/dialtone/pkg/audio"
)

// State is the detector's position in the speech episode lifecycle.
type State int

const (
	// StateSilence means no voice activity.
	StateSilence State = iota
	// StateStarting means voice was heard but has not persisted long enough
	// to count as speech.
	StateStarting
	// StateSpeaking means sustained caller speech.
	StateSpeaking
	// StateStopping means speech paused; a short pause returns to speaking,
	// a long one ends the episode.
	StateStopping
)

// String implements fmt.Stringer for log output.
func (s State) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateStarting:
		return "starting"
	case StateSpeaking:
		return "speaking"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Decision is the outcome of processing one frame.
type Decision struct {
	State     State
	RMS       float64
	Threshold float64

	// Interrupt is set on the single frame where sustained caller speech is
	// confirmed while the agent is speaking. At most one per speech episode.
	Interrupt bool
}

// Config holds the detector tuning. Zero values take defaults.
type Config struct {
	// FrameInterval is the duration of one frame. Default 20 ms.
	FrameInterval time.Duration

	// WindowSize is the RMS history length. Default 1500 frames (30 s).
	WindowSize int

	// MinSamples gates the adaptive threshold; below it DefaultThreshold
	// applies. Default 50.
	MinSamples int

	// DefaultThreshold is used until the window has MinSamples readings.
	// Default 500.
	DefaultThreshold float64

	// Percentile and Multiplier shape the adaptive threshold:
	// percentile(Percentile) × Multiplier, clamped to [MinThreshold,
	// MaxThreshold]. Defaults 85, 1.5, 300, 2000.
	Percentile   float64
	Multiplier   float64
	MinThreshold float64
	MaxThreshold float64

	// SpeechStart is the continuous voice needed to confirm speech (and
	// fire barge-in). Default 200 ms.
	SpeechStart time.Duration

	// SpeechStop is the continuous silence that ends a speech episode.
	// Default 300 ms.
	SpeechStop time.Duration
}

func (c *Config) applyDefaults() {
	if c.FrameInterval <= 0 {
		c.FrameInterval = 20 * time.Millisecond
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 1500
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 50
	}
	if c.DefaultThreshold <= 0 {
		c.DefaultThreshold = 500
	}
	if c.Percentile <= 0 {
		c.Percentile = 85
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 1.5
	}
	if c.MinThreshold <= 0 {
		c.MinThreshold = 300
	}
	if c.MaxThreshold <= 0 {
		c.MaxThreshold = 2000
	}
	if c.SpeechStart <= 0 {
		c.SpeechStart = 200 * time.Millisecond
	}
	if c.SpeechStop <= 0 {
		c.SpeechStop = 300 * time.Millisecond
	}
}

// Detector tracks one call's voice activity. ProcessFrame must be called
// from a single goroutine (the media receiver); StartCooldown may be called
// from any goroutine.
type Detector struct {
	cfg    Config
	window *audio.LevelWindow
	now    func() time.Time

	state          State
	voiceFor       time.Duration
	silenceFor     time.Duration
	interruptFired bool

	cooldownMu    sync.Mutex
	cooldownUntil time.Time
}

// New creates a Detector with the given configuration.
func New(cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{
		cfg:    cfg,
		window: audio.NewLevelWindow(cfg.WindowSize),
		now:    time.Now,
	}
}

// StartCooldown suppresses barge-in for d from now. Used when the greeting
// starts playing so line echo of the agent's own voice cannot interrupt it.
func (d *Detector) StartCooldown(dur time.Duration) {
	d.cooldownMu.Lock()
	d.cooldownUntil = d.now().Add(dur)
	d.cooldownMu.Unlock()
}

// InCooldown reports whether the echo suppression window is active. While it
// is, barge-in does not fire and recognizer output is treated as echo of the
// agent's own voice, not caller speech.
func (d *Detector) InCooldown() bool {
	d.cooldownMu.Lock()
	defer d.cooldownMu.Unlock()
	return d.now().Before(d.cooldownUntil)
}

// Threshold returns the current speech threshold: the adaptive percentile
// once enough ambient has been sampled, the default before that.
func (d *Detector) Threshold() float64 {
	if d.window.Count() < d.cfg.MinSamples {
		return d.cfg.DefaultThreshold
	}
	t := d.window.Percentile(d.cfg.Percentile) * d.cfg.Multiplier
	if t < d.cfg.MinThreshold {
		t = d.cfg.MinThreshold
	}
	if t > d.cfg.MaxThreshold {
		t = d.cfg.MaxThreshold
	}
	return t
}

// ProcessFrame consumes one PCM frame and advances the state machine.
// agentSpeaking reports whether agent audio is currently playing; barge-in
// only fires while it is true and no echo cooldown is active.
func (d *Detector) ProcessFrame(frame []byte, agentSpeaking bool) Decision {
	rms := audio.RMS(frame)
	d.window.Append(rms)
	threshold := d.Threshold()
	voice := rms > threshold

	switch d.state {
	case StateSilence:
		if voice {
			d.state = StateStarting
			d.voiceFor = d.cfg.FrameInterval
		}
	case StateStarting:
		if voice {
			d.voiceFor += d.cfg.FrameInterval
			if d.voiceFor >= d.cfg.SpeechStart {
				d.state = StateSpeaking
			}
		} else {
			d.state = StateSilence
			d.voiceFor = 0
		}
	case StateSpeaking:
		if !voice {
			d.state = StateStopping
			d.silenceFor = d.cfg.FrameInterval
		}
	case StateStopping:
		if voice {
			d.state = StateSpeaking
			d.silenceFor = 0
		} else {
			d.silenceFor += d.cfg.FrameInterval
			if d.silenceFor >= d.cfg.SpeechStop {
				// Episode over; the next one may interrupt again.
				d.state = StateSilence
				d.voiceFor = 0
				d.silenceFor = 0
				d.interruptFired = false
			}
		}
	}

	dec := Decision{State: d.state, RMS: rms, Threshold: threshold}
	if d.state == StateSpeaking && agentSpeaking && !d.interruptFired && !d.InCooldown() {
		d.interruptFired = true
		dec.Interrupt = true
	}
	return dec
}
