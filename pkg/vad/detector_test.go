package vad

import (
	"testing"
	"time"
)

// feed runs a run of identical samples at the given frame interval and
// collects any events.
func feed(d *Detector, start time.Time, active bool, n int, interval time.Duration) ([]Event, time.Time) {
	var events []Event
	at := start
	for i := 0; i < n; i++ {
		if ev, ok := d.Observe(Sample{Active: active, At: at}); ok {
			events = append(events, ev)
		}
		at = at.Add(interval)
	}
	return events, at
}

func TestDetectorDebouncesShortBlips(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Unix(0, 0)

	// 60ms of activity is below the 120ms debounce window.
	events, at := feed(d, start, true, 3, 20*time.Millisecond)
	if len(events) != 0 {
		t.Fatalf("expected no events for a short blip, got %v", events)
	}

	// Back to silence: still nothing, speech never started.
	events, _ = feed(d, at, false, 30, 20*time.Millisecond)
	if len(events) != 0 {
		t.Fatalf("expected no events after blip, got %v", events)
	}
}

func TestDetectorSpeechStartAfterDebounce(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Unix(0, 0)

	events, _ := feed(d, start, true, 10, 20*time.Millisecond)
	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(events))
	}
	if events[0].Type != SpeechStarted {
		t.Errorf("expected SpeechStarted, got %v", events[0].Type)
	}
	if !d.Speaking() {
		t.Error("detector should report speaking")
	}
}

func TestDetectorSpeechEndAfterSilence(t *testing.T) {
	// Scenario: caller speaks 2s, pauses 600ms.
	d := New(DefaultConfig())
	start := time.Unix(0, 0)

	started, at := feed(d, start, true, 100, 20*time.Millisecond) // 2s speech
	if len(started) != 1 || started[0].Type != SpeechStarted {
		t.Fatalf("expected one SpeechStarted, got %v", started)
	}

	ended, _ := feed(d, at, false, 30, 20*time.Millisecond) // 600ms silence
	if len(ended) != 1 {
		t.Fatalf("expected exactly one event, got %d", len(ended))
	}
	if ended[0].Type != SpeechEnded {
		t.Errorf("expected SpeechEnded, got %v", ended[0].Type)
	}
	if d.Speaking() {
		t.Error("detector should not report speaking after end of turn")
	}
}

func TestDetectorShortPauseDoesNotEndTurn(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Unix(0, 0)

	_, at := feed(d, start, true, 50, 20*time.Millisecond)

	// 300ms pause is below the 500ms end-silence window.
	events, at := feed(d, at, false, 15, 20*time.Millisecond)
	if len(events) != 0 {
		t.Fatalf("expected no events for a short pause, got %v", events)
	}

	// Resuming speech produces no second SpeechStarted.
	events, _ = feed(d, at, true, 50, 20*time.Millisecond)
	if len(events) != 0 {
		t.Fatalf("expected no events on resume within the same turn, got %v", events)
	}
	if !d.Speaking() {
		t.Error("detector should still report speaking")
	}
}

func TestDetectorDeterminism(t *testing.T) {
	// The same sample sequence always yields the same events.
	run := func() []Event {
		d := New(DefaultConfig())
		var events []Event
		at := time.Unix(0, 0)
		pattern := []bool{
			false, false, true, true, true, true, true, true, true, true,
			false, false, true, true, true, false,
		}
		for cycle := 0; cycle < 20; cycle++ {
			for _, active := range pattern {
				if ev, ok := d.Observe(Sample{Active: active, At: at}); ok {
					events = append(events, ev)
				}
				at = at.Add(50 * time.Millisecond)
			}
		}
		return events
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("runs differ in length: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("event %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestDetectorReset(t *testing.T) {
	d := New(DefaultConfig())
	start := time.Unix(0, 0)

	feed(d, start, true, 20, 20*time.Millisecond)
	if !d.Speaking() {
		t.Fatal("expected speaking before reset")
	}

	d.Reset()
	if d.Speaking() {
		t.Error("expected not speaking after reset")
	}

	// Debounce applies again after reset.
	events, _ := feed(d, start.Add(time.Hour), true, 3, 20*time.Millisecond)
	if len(events) != 0 {
		t.Errorf("expected debounce to apply after reset, got %v", events)
	}
}

func TestDetectorConfigDefaults(t *testing.T) {
	d := New(Config{})
	if d.cfg.StartDebounce != DefaultStartDebounce {
		t.Errorf("expected default start debounce, got %v", d.cfg.StartDebounce)
	}
	if d.cfg.EndSilence != DefaultEndSilence {
		t.Errorf("expected default end silence, got %v", d.cfg.EndSilence)
	}
}
