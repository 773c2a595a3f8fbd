package aistream

import (
	"context"
	"errors"
	"testing"
)

func TestMockCapturesCalls(t *testing.T) {
	m := NewMock()

	if err := m.SendAudio([]byte{1}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected before Connect, got %v", err)
	}

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := m.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}
	m.EndOfTurn()
	m.Cancel()

	audio, endOfTurn, cancel, _ := m.Counts()
	if audio != 1 || endOfTurn != 1 || cancel != 1 {
		t.Errorf("unexpected counts: audio=%d endOfTurn=%d cancel=%d", audio, endOfTurn, cancel)
	}
}

func TestMockEventDelivery(t *testing.T) {
	m := NewMock()
	m.Connect(context.Background())

	m.SimulateResponseStarted()
	m.SimulateAudioDelta([]byte{9, 9})
	m.SimulateResponseComplete()

	want := []EventType{EventResponseStarted, EventAudioDelta, EventResponseComplete}
	for i, wt := range want {
		ev := <-m.Events()
		if ev.Type != wt {
			t.Fatalf("event %d: expected %v, got %v", i, wt, ev.Type)
		}
	}
}

func TestMockCloseIsIdempotent(t *testing.T) {
	m := NewMock()
	m.Connect(context.Background())

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	// Channel is closed exactly once and drained reads do not block.
	if _, ok := <-m.Events(); ok {
		t.Error("expected closed event channel")
	}
}
