package aistream

import (
	"context"
	"sync"
)

// Mock is a mock implementation of Connector for testing.
type Mock struct {
	mu        sync.Mutex
	connected bool
	closed    bool

	events    chan Event
	closeOnce sync.Once

	// Configurable behavior
	ConnectFunc   func(ctx context.Context) error
	SendAudioFunc func(pcm16 []byte) error
	EndOfTurnFunc func() error
	CancelFunc    func() error
	CloseFunc     func() error

	// Captured calls for assertions
	AudioSent      [][]byte
	EndOfTurnCalls int
	CancelCalls    int
	CloseCalls     int
}

// NewMock creates a new Mock connector.
func NewMock() *Mock {
	return &Mock{
		events: make(chan Event, 256),
	}
}

// Connect implements Connector.
func (m *Mock) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.connected = true
	return nil
}

// Close implements Connector.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.connected = false
	m.CloseCalls++
	m.mu.Unlock()

	m.closeOnce.Do(func() {
		close(m.events)
	})

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// SendAudio implements Connector.
func (m *Mock) SendAudio(pcm16 []byte) error {
	if m.SendAudioFunc != nil {
		return m.SendAudioFunc(pcm16)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	buf := make([]byte, len(pcm16))
	copy(buf, pcm16)
	m.AudioSent = append(m.AudioSent, buf)
	return nil
}

// EndOfTurn implements Connector.
func (m *Mock) EndOfTurn() error {
	m.mu.Lock()
	m.EndOfTurnCalls++
	m.mu.Unlock()
	if m.EndOfTurnFunc != nil {
		return m.EndOfTurnFunc()
	}
	return nil
}

// Cancel implements Connector.
func (m *Mock) Cancel() error {
	m.mu.Lock()
	m.CancelCalls++
	m.mu.Unlock()
	if m.CancelFunc != nil {
		return m.CancelFunc()
	}
	return nil
}

// Events implements Connector.
func (m *Mock) Events() <-chan Event {
	return m.events
}

// Test helpers

// Emit delivers an event to the consumer as if it arrived from the endpoint.
// The send happens under the lock so a concurrent Close cannot close the
// channel between the closed check and the send.
func (m *Mock) Emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.events <- ev
}

// SimulateResponseStarted emits a response-started event.
func (m *Mock) SimulateResponseStarted() {
	m.Emit(Event{Type: EventResponseStarted})
}

// SimulateAudioDelta emits a response audio chunk.
func (m *Mock) SimulateAudioDelta(pcm16 []byte) {
	m.Emit(Event{Type: EventAudioDelta, Audio: pcm16})
}

// SimulateResponseComplete emits a natural end-of-response event.
func (m *Mock) SimulateResponseComplete() {
	m.Emit(Event{Type: EventResponseComplete})
}

// SimulateFatalError emits a fatal transport error and closes the stream.
// No further events are delivered afterwards.
func (m *Mock) SimulateFatalError(err error) {
	m.Emit(Event{Type: EventError, Err: err, Fatal: true})
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeOnce.Do(func() {
		close(m.events)
	})
}

// Counts returns captured call counts under lock.
func (m *Mock) Counts() (audio, endOfTurn, cancel, closed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.AudioSent), m.EndOfTurnCalls, m.CancelCalls, m.CloseCalls
}

// Ensure Mock implements Connector.
var _ Connector = (*Mock)(nil)
