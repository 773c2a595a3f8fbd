package aistream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	openAIRealtimeURL = "wss://api.openai.com/v1/realtime"
	openAIModel       = "gpt-4o-realtime-preview-2024-12-17"

	keepAliveInterval = 30 * time.Second
	readDeadline      = 120 * time.Second
	writeDeadline     = 10 * time.Second
)

// OpenAI implements Connector for the OpenAI Realtime API. Audio is
// exchanged as base64-encoded PCM16 over a persistent websocket. Server-side
// turn detection is disabled; the session's own detector decides when a turn
// ends and calls EndOfTurn.
type OpenAI struct {
	config Config
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	cancelCtx context.CancelFunc

	// writeMu serializes websocket writes; gorilla allows one writer.
	writeMu sync.Mutex

	events    chan Event
	closeOnce sync.Once
}

// NewOpenAI creates a connector for the OpenAI Realtime API.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &OpenAI{
		config: cfg,
		logger: cfg.Logger.With("component", "aistream.openai"),
		events: make(chan Event, cfg.EventBuffer),
	}, nil
}

// Connect establishes the websocket connection and begins processing.
func (o *OpenAI) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.connected {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	o.mu.Unlock()

	conn, err := o.dial(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.conn = conn
	o.connected = true
	o.cancelCtx = cancel
	o.mu.Unlock()

	if err := o.configureSession(); err != nil {
		o.Close()
		return fmt.Errorf("aistream: session configuration failed: %w", err)
	}

	go o.readLoop(loopCtx)
	go o.keepAlive(loopCtx)

	o.logger.Info("connected to realtime endpoint", "model", o.config.Model)
	return nil
}

// Close tears down the connection and closes the event channel.
func (o *OpenAI) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.connected = false
	if o.cancelCtx != nil {
		o.cancelCtx()
	}
	conn := o.conn
	o.conn = nil
	o.mu.Unlock()

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		conn.Close()
	}

	o.closeEvents()
	o.logger.Info("disconnected from realtime endpoint")
	return nil
}

// IsConnected returns true if the connector has an active connection.
func (o *OpenAI) IsConnected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.connected && !o.closed
}

// SendAudio streams caller audio upstream as base64 PCM16.
func (o *OpenAI) SendAudio(pcm16 []byte) error {
	return o.sendJSON(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm16),
	})
}

// EndOfTurn commits the input buffer and requests a response.
func (o *OpenAI) EndOfTurn() error {
	if err := o.sendJSON(map[string]string{"type": "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return o.sendJSON(map[string]string{"type": "response.create"})
}

// Cancel aborts the in-progress response.
func (o *OpenAI) Cancel() error {
	return o.sendJSON(map[string]string{"type": "response.cancel"})
}

// Events returns the inbound event stream.
func (o *OpenAI) Events() <-chan Event {
	return o.events
}

func (o *OpenAI) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?model=%s", o.config.BaseURL, o.config.Model)

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+o.config.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		HandshakeTimeout: o.config.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return nil, NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return nil, NewConnectionError("dial failed", err, true)
	}

	conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPingHandler(func(appData string) error {
		o.writeMu.Lock()
		defer o.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeDeadline))
	})

	return conn, nil
}

// configureSession applies voice, instructions and audio formats. Turn
// detection is disabled; turn-taking belongs to the session state machine.
func (o *OpenAI) configureSession() error {
	return o.sendJSON(map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        o.config.SystemPrompt,
			"voice":               o.config.Voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": nil,
		},
	})
}

// readLoop processes inbound messages, reconnecting with backoff on
// transport drops until attempts are exhausted.
func (o *OpenAI) readLoop(ctx context.Context) {
	defer o.closeEvents()

	for {
		o.mu.RLock()
		conn := o.conn
		closed := o.closed
		o.mu.RUnlock()

		if closed || conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if o.isClosed() {
				return
			}
			o.logger.Warn("transport dropped", "error", err)
			o.emit(Event{
				Type: EventError,
				Err:  NewConnectionError("transport dropped", err, true),
			})
			if !o.reconnect(ctx) {
				o.emit(Event{
					Type:  EventError,
					Err:   NewConnectionError("reconnect attempts exhausted", err, false),
					Fatal: true,
				})
				return
			}
			continue
		}

		var msg map[string]any
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		msgType, _ := msg["type"].(string)
		switch msgType {
		case "session.created":
			o.logger.Debug("realtime session created")
		case "session.updated":
			o.logger.Debug("realtime session configured")
		default:
			if ev, ok := mapServerEvent(msgType, msg); ok {
				o.emit(ev)
			}
		}
	}
}

// reconnect redials with exponential backoff. Returns false once attempts
// are exhausted or the connector was closed.
func (o *OpenAI) reconnect(ctx context.Context) bool {
	for attempt := 0; attempt < o.config.ReconnectAttempts; attempt++ {
		delay := backoffDelay(attempt, o.config.ReconnectBase, o.config.ReconnectCap)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if o.isClosed() {
			return false
		}

		conn, err := o.dial(ctx)
		if err != nil {
			o.logger.Warn("reconnect attempt failed",
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}

		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			conn.Close()
			return false
		}
		old := o.conn
		o.conn = conn
		o.connected = true
		o.mu.Unlock()
		if old != nil {
			old.Close()
		}

		if err := o.configureSession(); err != nil {
			o.logger.Warn("session reconfiguration failed after reconnect", "error", err)
			continue
		}

		o.logger.Info("reconnected to realtime endpoint", "attempt", attempt+1)
		return true
	}
	return false
}

// mapServerEvent translates a wire message into a connector event.
func mapServerEvent(msgType string, msg map[string]any) (Event, bool) {
	switch msgType {
	case "response.created":
		return Event{Type: EventResponseStarted}, true

	case "response.audio.delta":
		delta, _ := msg["delta"].(string)
		audio, err := base64.StdEncoding.DecodeString(delta)
		if err != nil {
			return Event{}, false
		}
		return Event{Type: EventAudioDelta, Audio: audio}, true

	case "response.audio_transcript.delta":
		delta, _ := msg["delta"].(string)
		return Event{Type: EventTranscriptDelta, Text: delta, TextRole: RoleAgent}, true

	case "conversation.item.input_audio_transcription.completed":
		transcript, _ := msg["transcript"].(string)
		return Event{Type: EventTranscriptDelta, Text: transcript, TextRole: RoleCaller}, true

	case "response.done":
		return Event{Type: EventResponseComplete}, true

	case "error":
		if errData, ok := msg["error"].(map[string]any); ok {
			if errMsg, ok := errData["message"].(string); ok {
				return Event{
					Type: EventError,
					Err:  fmt.Errorf("aistream: API error: %s", errMsg),
				}, true
			}
		}
		return Event{}, false
	}
	return Event{}, false
}

// keepAlive pings the endpoint so idle stretches of a call do not drop the
// socket.
func (o *OpenAI) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.mu.RLock()
			conn := o.conn
			closed := o.closed
			o.mu.RUnlock()
			if closed || conn == nil {
				return
			}
			o.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline))
			o.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (o *OpenAI) sendJSON(v any) error {
	o.mu.RLock()
	conn := o.conn
	connected := o.connected && !o.closed
	o.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	if err := conn.WriteJSON(v); err != nil {
		return NewConnectionError("send failed", err, true)
	}
	return nil
}

func (o *OpenAI) emit(ev Event) {
	select {
	case o.events <- ev:
	default:
		// Consumer stalled; drop rather than block the read loop.
		o.logger.Warn("event buffer full, dropping event", "type", ev.Type.String())
	}
}

func (o *OpenAI) isClosed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

func (o *OpenAI) closeEvents() {
	o.closeOnce.Do(func() {
		close(o.events)
	})
}

// Ensure OpenAI implements Connector at compile time.
var _ Connector = (*OpenAI)(nil)
