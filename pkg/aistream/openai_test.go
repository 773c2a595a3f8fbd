package aistream

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestNewOpenAIRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAI()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}

	c, err := NewOpenAI(WithAPIKey("test-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.IsConnected() {
		t.Error("new connector should not report connected")
	}
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.BaseURL != openAIRealtimeURL {
		t.Errorf("default BaseURL = %q, want %q", cfg.BaseURL, openAIRealtimeURL)
	}
	cfg.Apply(
		WithAPIKey("key"),
		WithBaseURL("ws://127.0.0.1:9999/realtime"),
		WithModel("test-model"),
		WithVoice("verse"),
		WithSystemPrompt("be brief"),
		WithReconnect(5, time.Second, 8*time.Second),
	)

	if cfg.APIKey != "key" {
		t.Errorf("APIKey not applied, got %q", cfg.APIKey)
	}
	if cfg.BaseURL != "ws://127.0.0.1:9999/realtime" {
		t.Errorf("BaseURL not applied, got %q", cfg.BaseURL)
	}
	if cfg.Model != "test-model" {
		t.Errorf("Model not applied, got %q", cfg.Model)
	}
	if cfg.Voice != "verse" {
		t.Errorf("Voice not applied, got %q", cfg.Voice)
	}
	if cfg.SystemPrompt != "be brief" {
		t.Errorf("SystemPrompt not applied, got %q", cfg.SystemPrompt)
	}
	if cfg.ReconnectAttempts != 5 || cfg.ReconnectBase != time.Second || cfg.ReconnectCap != 8*time.Second {
		t.Error("reconnect settings not applied")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 500 * time.Millisecond
	cap := 4 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second}, // capped
		{10, 4 * time.Second},
	}

	for _, tt := range tests {
		if got := backoffDelay(tt.attempt, base, cap); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}

func TestMapServerEvent(t *testing.T) {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}

	tests := []struct {
		name    string
		msgType string
		msg     map[string]any
		want    EventType
		ok      bool
	}{
		{
			name:    "response created",
			msgType: "response.created",
			msg:     map[string]any{},
			want:    EventResponseStarted,
			ok:      true,
		},
		{
			name:    "audio delta",
			msgType: "response.audio.delta",
			msg:     map[string]any{"delta": base64.StdEncoding.EncodeToString(pcm)},
			want:    EventAudioDelta,
			ok:      true,
		},
		{
			name:    "agent transcript delta",
			msgType: "response.audio_transcript.delta",
			msg:     map[string]any{"delta": "hello"},
			want:    EventTranscriptDelta,
			ok:      true,
		},
		{
			name:    "caller transcript",
			msgType: "conversation.item.input_audio_transcription.completed",
			msg:     map[string]any{"transcript": "hi there"},
			want:    EventTranscriptDelta,
			ok:      true,
		},
		{
			name:    "response done",
			msgType: "response.done",
			msg:     map[string]any{},
			want:    EventResponseComplete,
			ok:      true,
		},
		{
			name:    "api error",
			msgType: "error",
			msg:     map[string]any{"error": map[string]any{"message": "boom"}},
			want:    EventError,
			ok:      true,
		},
		{
			name:    "malformed audio delta dropped",
			msgType: "response.audio.delta",
			msg:     map[string]any{"delta": "not-base64!!!"},
			ok:      false,
		},
		{
			name:    "unknown type ignored",
			msgType: "rate_limits.updated",
			msg:     map[string]any{},
			ok:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := mapServerEvent(tt.msgType, tt.msg)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if !ok {
				return
			}
			if ev.Type != tt.want {
				t.Errorf("expected %v, got %v", tt.want, ev.Type)
			}
		})
	}
}

func TestMapServerEventAudioPayload(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	ev, ok := mapServerEvent("response.audio.delta", map[string]any{
		"delta": base64.StdEncoding.EncodeToString(pcm),
	})
	if !ok {
		t.Fatal("expected event")
	}
	if len(ev.Audio) != len(pcm) {
		t.Fatalf("expected %d bytes, got %d", len(pcm), len(ev.Audio))
	}
	for i := range pcm {
		if ev.Audio[i] != pcm[i] {
			t.Errorf("byte %d: expected 0x%02x, got 0x%02x", i, pcm[i], ev.Audio[i])
		}
	}
}

func TestMapServerEventTranscriptRoles(t *testing.T) {
	ev, _ := mapServerEvent("response.audio_transcript.delta", map[string]any{"delta": "x"})
	if ev.TextRole != RoleAgent {
		t.Errorf("expected agent role, got %q", ev.TextRole)
	}

	ev, _ = mapServerEvent("conversation.item.input_audio_transcription.completed", map[string]any{"transcript": "y"})
	if ev.TextRole != RoleCaller {
		t.Errorf("expected caller role, got %q", ev.TextRole)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// wsURL rewrites an httptest server URL to the websocket scheme.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestOpenAIReconnectResumesEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		// Every connection first receives session.update from the client.
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
		if dials.Add(1) == 1 {
			// Drop the first connection abruptly to force a reconnect.
			return
		}
		// The replacement connection serves a response, then stays open
		// until the client hangs up.
		ws.WriteJSON(map[string]string{"type": "response.created"})
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	c, err := NewOpenAI(
		WithAPIKey("test-key"),
		WithBaseURL(wsURL(srv)),
		WithReconnect(3, 10*time.Millisecond, 40*time.Millisecond),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	ev := nextEvent(t, c.Events())
	if ev.Type != EventError || ev.Fatal {
		t.Fatalf("first event = %+v, want non-fatal error", ev)
	}
	if !IsRetryable(ev.Err) {
		t.Errorf("drop error %v should be retryable", ev.Err)
	}

	// The stream resumes on the replacement connection.
	ev = nextEvent(t, c.Events())
	if ev.Type != EventResponseStarted {
		t.Fatalf("event after reconnect = %+v, want response started", ev)
	}
	if got := dials.Load(); got != 2 {
		t.Errorf("server saw %d connections, want 2", got)
	}
}

func TestOpenAIReconnectExhaustionIsFatal(t *testing.T) {
	upgrader := websocket.Upgrader{}
	dropNow := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.ReadMessage() // session.update
		<-dropNow
	}))
	defer srv.Close()

	c, err := NewOpenAI(
		WithAPIKey("test-key"),
		WithBaseURL(wsURL(srv)),
		WithReconnect(2, 5*time.Millisecond, 20*time.Millisecond),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	// Refuse further dials before the live connection is dropped, so every
	// reconnect attempt fails.
	srv.Listener.Close()
	close(dropNow)

	ev := nextEvent(t, c.Events())
	if ev.Type != EventError || ev.Fatal {
		t.Fatalf("first event = %+v, want non-fatal error", ev)
	}

	ev = nextEvent(t, c.Events())
	if ev.Type != EventError || !ev.Fatal {
		t.Fatalf("second event = %+v, want fatal error", ev)
	}
	if IsRetryable(ev.Err) {
		t.Errorf("exhaustion error %v should not be retryable", ev.Err)
	}

	select {
	case _, ok := <-c.Events():
		if ok {
			t.Error("expected event channel to close after fatal error")
		}
	case <-time.After(2 * time.Second):
		t.Error("event channel not closed after fatal error")
	}
}

func TestConnectionErrorRetryable(t *testing.T) {
	retryable := NewConnectionError("dropped", errors.New("eof"), true)
	if !IsRetryable(retryable) {
		t.Error("expected retryable")
	}

	fatal := NewConnectionError("exhausted", nil, false)
	if IsRetryable(fatal) {
		t.Error("expected not retryable")
	}

	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}
