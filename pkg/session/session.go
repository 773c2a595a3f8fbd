package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/aistream"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/audio"
	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/vad"
)

// Defaults for session timing.
const (
	// DefaultFrameDuration is the telephony frame interval.
	DefaultFrameDuration = 20 * time.Millisecond

	// DefaultIdleTimeout force-ends a call with no caller or AI activity.
	DefaultIdleTimeout = 45 * time.Second

	// DefaultCancelGrace is how long after a barge-in cancellation the
	// session refuses to forward AI audio, so two overlapping responses
	// can never reach the caller.
	DefaultCancelGrace = 200 * time.Millisecond

	// DefaultActivityThreshold is the RMS energy above which a frame
	// counts as voice activity.
	DefaultActivityThreshold = 0.0005
)

// ErrIdleTimeout ends a call that saw no caller or AI activity for the
// configured idle window. It is a normal end, not a failure.
var ErrIdleTimeout = errors.New("session: idle timeout")

// MediaTransport is the telephony-side media leg the session owns.
// *media.Bridge satisfies it.
type MediaTransport interface {
	Frames() <-chan audio.Frame
	Send(audio.Frame) error
	Close() error
}

// Config holds per-session tunables.
type Config struct {
	FrameDuration     time.Duration
	IdleTimeout       time.Duration
	CancelGrace       time.Duration
	ActivityThreshold float64
	Detector          vad.Config
	Logger            *slog.Logger
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FrameDuration:     DefaultFrameDuration,
		IdleTimeout:       DefaultIdleTimeout,
		CancelGrace:       DefaultCancelGrace,
		ActivityThreshold: DefaultActivityThreshold,
		Detector:          vad.DefaultConfig(),
		Logger:            slog.Default(),
	}
}

// Session is one active call's conversation. It exclusively owns its media
// transport and AI connector; both are closed exactly once when the session
// ends and nothing else may reference them afterwards.
//
// All state and cursor mutation happens on the run loop goroutine
// (single-writer discipline), so a barge-in and a natural completion can
// never interleave. External reads go through the mutex.
type Session struct {
	ID        string
	StartedAt time.Time

	cfg        Config
	logger     *slog.Logger
	media      MediaTransport
	connector  aistream.Connector
	detector   *vad.Detector
	transcoder *audio.Transcoder

	// Optional callbacks for diagnostics, set before Run.
	OnStateChange func(id string, from, to State)
	OnTurn        func(id string, t Turn)
	OnTranscript  func(id string, role aistream.Role, text string)

	mu    sync.Mutex
	state State
	turns []Turn

	// outCursor guards AI-to-caller audio: bumped on barge-in so stale
	// in-flight deltas are discarded. inCursor counts caller frames for
	// diagnostics.
	outCursor atomic.Uint64
	inCursor  atomic.Uint64

	// Run-loop-local state.
	respCursor  uint64
	cancelUntil time.Time
	pending     []audio.Frame
	frameCount  uint64

	endOnce sync.Once
	done    chan struct{}
	endErr  error
}

// New creates a session for one call. The session takes ownership of the
// media transport and the connector.
func New(id string, media MediaTransport, connector aistream.Connector, transcoder *audio.Transcoder, cfg Config) *Session {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = DefaultFrameDuration
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.CancelGrace < 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}
	if cfg.ActivityThreshold <= 0 {
		cfg.ActivityThreshold = DefaultActivityThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Session{
		ID:         id,
		StartedAt:  time.Now(),
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "session", "call_id", id),
		media:      media,
		connector:  connector,
		detector:   vad.New(cfg.Detector),
		transcoder: transcoder,
		done:       make(chan struct{}),
	}
}

// Run drives the session until the call ends. It is the single writer for
// all state and cursor mutation. Blocks; run it on the session's own
// goroutine.
func (s *Session) Run(ctx context.Context) {
	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			s.End(ctx.Err())
			return

		case <-s.done:
			return

		case f, ok := <-s.media.Frames():
			if !ok {
				s.End(errors.New("session: media transport closed"))
				return
			}
			s.resetIdle(idle)
			s.handleCallerFrame(f)

		case ev, ok := <-s.connector.Events():
			if !ok {
				s.End(errors.New("session: ai stream closed"))
				return
			}
			// Error events are not AI activity: a flapping transport must
			// not keep an otherwise silent call alive past the idle window.
			if ev.Type != aistream.EventError {
				s.resetIdle(idle)
			}
			if fatal := s.handleAIEvent(ev); fatal {
				s.End(ev.Err)
				return
			}

		case <-idle.C:
			s.logger.Warn("idle timeout, ending call",
				"timeout", s.cfg.IdleTimeout,
			)
			s.End(ErrIdleTimeout)
			return
		}
	}
}

// handleCallerFrame forwards or buffers one inbound caller frame and feeds
// the interruption detector.
func (s *Session) handleCallerFrame(f audio.Frame) {
	s.inCursor.Add(1)

	// The media clock advances one frame interval per frame, so detector
	// timing is deterministic regardless of delivery jitter.
	at := s.StartedAt.Add(time.Duration(s.frameCount) * s.cfg.FrameDuration)
	s.frameCount++

	if s.State() == StateCallerSpeaking {
		s.forwardToAI(f)
	} else {
		s.bufferPending(f)
	}

	active := audio.RMS(f.Samples) >= s.cfg.ActivityThreshold
	ev, ok := s.detector.Observe(vad.Sample{Active: active, At: at})
	if !ok {
		return
	}

	switch ev.Type {
	case vad.SpeechStarted:
		s.onSpeechStarted()
	case vad.SpeechEnded:
		s.onSpeechEnded()
	}
}

// onSpeechStarted handles the caller taking the floor, including barge-in.
func (s *Session) onSpeechStarted() {
	now := time.Now()

	s.mu.Lock()
	from := s.state
	switch from {
	case StateIdle:
		s.state = StateCallerSpeaking
		s.turns = append(s.turns, Turn{Role: RoleCaller, StartedAt: now})

	case StateAIResponding:
		// Barge-in. Stale AI audio already in flight is discarded by the
		// cursor bump; cancellation rides behind it.
		s.outCursor.Add(1)
		if n := len(s.turns); n > 0 && s.turns[n-1].Role == RoleAI {
			s.turns[n-1].Interrupted = true
			s.turns[n-1].EndedAt = now
		}
		s.state = StateCallerSpeaking
		s.turns = append(s.turns, Turn{Role: RoleCaller, StartedAt: now})
		s.cancelUntil = now.Add(s.cfg.CancelGrace)

	case StateStreamingToAI:
		// Caller resumed before the AI started responding: same turn
		// continues, nothing to cancel.
		s.state = StateCallerSpeaking
		if n := len(s.turns); n > 0 && s.turns[n-1].Role == RoleCaller {
			s.turns[n-1].EndedAt = time.Time{}
		}

	default:
		s.mu.Unlock()
		s.logStateViolation("speech_started", from)
		return
	}
	s.mu.Unlock()

	if from == StateAIResponding {
		if err := s.connector.Cancel(); err != nil {
			s.logger.Warn("cancel request failed", "error", err)
		}
		s.notifyInterruptedTurn()
		s.logger.Info("barge-in, cancelled ai response")
	}
	s.notifyStateChange(from, StateCallerSpeaking)

	// The caller's first words arrived during the debounce window; flush
	// them so nothing is lost while cancellation is in flight.
	s.flushPending()
}

// onSpeechEnded closes the caller's turn and asks the AI to respond.
func (s *Session) onSpeechEnded() {
	now := time.Now()

	s.mu.Lock()
	from := s.state
	if from != StateCallerSpeaking {
		s.mu.Unlock()
		s.logStateViolation("speech_ended", from)
		return
	}
	s.state = StateStreamingToAI
	var closed Turn
	if n := len(s.turns); n > 0 && s.turns[n-1].Role == RoleCaller {
		s.turns[n-1].EndedAt = now
		closed = s.turns[n-1]
	}
	s.mu.Unlock()

	if err := s.connector.EndOfTurn(); err != nil {
		s.logger.Warn("end-of-turn signal failed", "error", err)
	}
	s.notifyStateChange(from, StateStreamingToAI)
	if s.OnTurn != nil && !closed.StartedAt.IsZero() {
		s.OnTurn(s.ID, closed)
	}
}

// handleAIEvent applies one inbound AI event. Returns true when the event is
// a fatal error and the session must end.
func (s *Session) handleAIEvent(ev aistream.Event) bool {
	switch ev.Type {
	case aistream.EventResponseStarted:
		s.onResponseStarted()

	case aistream.EventAudioDelta:
		s.onAudioDelta(ev.Audio)

	case aistream.EventTranscriptDelta:
		if s.OnTranscript != nil {
			s.OnTranscript(s.ID, ev.TextRole, ev.Text)
		}

	case aistream.EventResponseComplete:
		s.onResponseComplete()

	case aistream.EventError:
		if ev.Fatal {
			s.logger.Error("ai stream failed", "error", ev.Err)
			return true
		}
		s.logger.Warn("transient ai stream error", "error", ev.Err)
	}
	return false
}

func (s *Session) onResponseStarted() {
	now := time.Now()

	s.mu.Lock()
	from := s.state
	if from != StateStreamingToAI {
		s.mu.Unlock()
		s.logStateViolation("ai_response_started", from)
		return
	}
	s.state = StateAIResponding
	s.respCursor = s.outCursor.Load()
	s.turns = append(s.turns, Turn{Role: RoleAI, StartedAt: now})
	s.mu.Unlock()

	s.notifyStateChange(from, StateAIResponding)
}

// onAudioDelta forwards one chunk of AI audio unless it is stale. The cursor
// is consulted per chunk, so a cancellation takes effect within one frame.
func (s *Session) onAudioDelta(pcm []byte) {
	s.mu.Lock()
	state := s.state
	respCursor := s.respCursor
	cancelUntil := s.cancelUntil
	s.mu.Unlock()

	if state != StateAIResponding {
		s.logger.Debug("discarding ai audio outside response", "state", state.String())
		return
	}
	if respCursor != s.outCursor.Load() {
		// Late audio for a cancelled turn; the caller has the floor.
		s.logger.Debug("discarding stale ai audio after cancel")
		return
	}
	if time.Now().Before(cancelUntil) {
		s.logger.Debug("discarding ai audio inside cancel grace window")
		return
	}

	frame, err := s.transcoder.FromAIFormat(pcm)
	if err != nil {
		s.logger.Warn("dropping malformed ai audio", "error", err)
		return
	}
	frame.Seq = respCursor
	if err := s.media.Send(frame); err != nil {
		s.logger.Warn("media send failed", "error", err)
	}
}

func (s *Session) onResponseComplete() {
	now := time.Now()

	s.mu.Lock()
	if s.state != StateAIResponding || s.respCursor != s.outCursor.Load() {
		// Completion of a cancelled response; the turn is already closed.
		s.mu.Unlock()
		s.logger.Debug("ignoring completion of cancelled response")
		return
	}
	from := s.state
	s.state = StateIdle
	var closed Turn
	if n := len(s.turns); n > 0 && s.turns[n-1].Role == RoleAI {
		s.turns[n-1].EndedAt = now
		closed = s.turns[n-1]
	}
	s.mu.Unlock()

	s.notifyStateChange(from, StateIdle)
	if s.OnTurn != nil && !closed.StartedAt.IsZero() {
		s.OnTurn(s.ID, closed)
	}
}

// forwardToAI transcodes and sends one caller frame upstream. Malformed
// frames are dropped and logged; the session continues.
func (s *Session) forwardToAI(f audio.Frame) {
	data, err := s.transcoder.ToAIFormat(f)
	if err != nil {
		s.logger.Warn("dropping malformed caller frame", "error", err)
		return
	}
	if err := s.connector.SendAudio(data); err != nil {
		s.logger.Warn("ai audio send failed", "error", err)
	}
}

// bufferPending keeps the most recent pre-speech frames so the start of an
// utterance inside the debounce window is not lost.
func (s *Session) bufferPending(f audio.Frame) {
	max := int(s.cfg.Detector.StartDebounce/s.cfg.FrameDuration) + 2
	if max < 2 {
		max = 2
	}
	s.pending = append(s.pending, f)
	if len(s.pending) > max {
		s.pending = s.pending[len(s.pending)-max:]
	}
}

func (s *Session) flushPending() {
	for _, f := range s.pending {
		s.forwardToAI(f)
	}
	s.pending = s.pending[:0]
}

// End closes the session's owned resources exactly once and moves to the
// terminal state. Safe to call from any goroutine, including concurrently
// from a hangup event and an error path.
func (s *Session) End(reason error) {
	s.endOnce.Do(func() {
		now := time.Now()

		s.mu.Lock()
		from := s.state
		s.state = StateEnded
		if n := len(s.turns); n > 0 && s.turns[n-1].EndedAt.IsZero() {
			s.turns[n-1].EndedAt = now
		}
		s.endErr = reason
		s.mu.Unlock()

		if err := s.connector.Close(); err != nil {
			s.logger.Warn("connector close failed", "error", err)
		}
		if err := s.media.Close(); err != nil {
			s.logger.Warn("media close failed", "error", err)
		}
		close(s.done)

		s.notifyStateChange(from, StateEnded)
		s.logger.Info("session ended",
			"reason", reason,
			"turns", len(s.TurnHistory()),
			"duration", time.Since(s.StartedAt).Round(time.Millisecond),
		)
	})
}

// Done is closed when the session has ended and released its resources.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session ended, or nil while it is live or
// after a clean hangup.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endErr
}

// State returns the current turn-taking state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TurnHistory returns a copy of the turn records for diagnostics.
func (s *Session) TurnHistory() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := make([]Turn, len(s.turns))
	copy(turns, s.turns)
	return turns
}

// FramesReceived returns the count of inbound caller frames.
func (s *Session) FramesReceived() uint64 {
	return s.inCursor.Load()
}

func (s *Session) resetIdle(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(s.cfg.IdleTimeout)
}

func (s *Session) logStateViolation(event string, from State) {
	// Out-of-order delivery happens on real networks; log and carry on.
	s.logger.Warn("ignoring event invalid for current state",
		"event", event,
		"state", from.String(),
	)
}

func (s *Session) notifyStateChange(from, to State) {
	if s.OnStateChange != nil && from != to {
		s.OnStateChange(s.ID, from, to)
	}
}

func (s *Session) notifyInterruptedTurn() {
	if s.OnTurn == nil {
		return
	}
	s.mu.Lock()
	var interrupted Turn
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == RoleAI {
			interrupted = s.turns[i]
			break
		}
	}
	s.mu.Unlock()
	if !interrupted.StartedAt.IsZero() {
		s.OnTurn(s.ID, interrupted)
	}
}
