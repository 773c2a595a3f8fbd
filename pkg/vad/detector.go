// Package vad turns a stream of short-interval voice-activity samples into
// debounced SpeechStarted/SpeechEnded events for turn-taking.
package vad

import "time"

// Default timing windows.
const (
	// DefaultStartDebounce is how long voice activity must persist before
	// SpeechStarted fires. Filters transient noise on the line.
	DefaultStartDebounce = 120 * time.Millisecond

	// DefaultEndSilence is how long silence must persist before SpeechEnded
	// fires, marking end of the caller's turn.
	DefaultEndSilence = 500 * time.Millisecond
)

// Sample is one short-interval observation of the caller's audio.
type Sample struct {
	// Active reports whether speech energy was present in the interval.
	Active bool

	// At is the time the interval was observed.
	At time.Time
}

// EventType identifies a detector event.
type EventType int

const (
	// SpeechStarted fires once activity has persisted for the debounce window.
	SpeechStarted EventType = iota

	// SpeechEnded fires once silence has persisted for the end-silence window.
	SpeechEnded
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case SpeechStarted:
		return "speech_started"
	case SpeechEnded:
		return "speech_ended"
	default:
		return "unknown"
	}
}

// Event is a detected speech boundary.
type Event struct {
	Type EventType
	At   time.Time
}

// Config holds detector timing windows.
type Config struct {
	StartDebounce time.Duration
	EndSilence    time.Duration
}

// DefaultConfig returns the default timing windows.
func DefaultConfig() Config {
	return Config{
		StartDebounce: DefaultStartDebounce,
		EndSilence:    DefaultEndSilence,
	}
}

// Detector classifies a per-call activity stream into speech boundary events.
// It holds only the debounce state for the current call; create one per
// session and Reset it if the call restarts. It is driven from a single
// goroutine and is not safe for concurrent use.
type Detector struct {
	cfg Config

	speaking    bool
	activeSince time.Time
	silentSince time.Time
	sawActivity bool
	sawSilence  bool
}

// New creates a Detector with the given timing windows. Zero values fall
// back to the defaults.
func New(cfg Config) *Detector {
	if cfg.StartDebounce <= 0 {
		cfg.StartDebounce = DefaultStartDebounce
	}
	if cfg.EndSilence <= 0 {
		cfg.EndSilence = DefaultEndSilence
	}
	return &Detector{cfg: cfg}
}

// Observe consumes one activity sample. It returns an event and true when the
// sample crosses a speech boundary. The output is deterministic for a given
// sample sequence.
func (d *Detector) Observe(s Sample) (Event, bool) {
	if s.Active {
		d.sawSilence = false
		if !d.sawActivity {
			d.sawActivity = true
			d.activeSince = s.At
		}
		if !d.speaking && s.At.Sub(d.activeSince) >= d.cfg.StartDebounce {
			d.speaking = true
			return Event{Type: SpeechStarted, At: s.At}, true
		}
		return Event{}, false
	}

	d.sawActivity = false
	if !d.sawSilence {
		d.sawSilence = true
		d.silentSince = s.At
	}
	if d.speaking && s.At.Sub(d.silentSince) >= d.cfg.EndSilence {
		d.speaking = false
		return Event{Type: SpeechEnded, At: s.At}, true
	}
	return Event{}, false
}

// Speaking reports whether the detector currently considers the caller to be
// speaking.
func (d *Detector) Speaking() bool {
	return d.speaking
}

// Reset returns the detector to its initial state.
func (d *Detector) Reset() {
	d.speaking = false
	d.sawActivity = false
	d.sawSilence = false
	d.activeSince = time.Time{}
	d.silentSince = time.Time{}
}
