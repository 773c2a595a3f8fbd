package aistream

import "context"

// Connector is the per-call streaming connection to the AI endpoint.
//
// Cancel is safe to call at any time between Connect and Close. It requests
// cancellation of the in-progress response; the transport cannot retract
// in-flight messages, so late EventAudioDelta events may still be delivered
// and the caller is responsible for filtering them (the session does this
// with its sequence cursor).
type Connector interface {
	// Connect establishes the streaming connection and begins delivering
	// events. Call after the call's media leg is up.
	Connect(ctx context.Context) error

	// Close tears down the connection and closes the event channel.
	Close() error

	// SendAudio streams caller audio upstream as raw PCM16.
	SendAudio(pcm16 []byte) error

	// EndOfTurn flushes the input buffer and asks the endpoint to respond.
	EndOfTurn() error

	// Cancel aborts the in-progress response (barge-in).
	Cancel() error

	// Events returns the inbound event stream. The channel is closed after
	// Close or a fatal transport error.
	Events() <-chan Event
}
