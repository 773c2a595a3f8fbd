// Package aistream owns the persistent streaming connection to the cloud
// speech-to-speech endpoint. One Connector is created per active call; it
// sends caller audio upstream and delivers transcript/audio/lifecycle events
// downstream until closed.
package aistream

// EventType identifies an inbound event from the AI endpoint.
type EventType int

const (
	// EventResponseStarted signals the endpoint began producing a response.
	EventResponseStarted EventType = iota

	// EventAudioDelta carries a chunk of response audio (raw PCM16).
	EventAudioDelta

	// EventTranscriptDelta carries a chunk of transcript text.
	EventTranscriptDelta

	// EventResponseComplete signals the current response finished naturally.
	EventResponseComplete

	// EventError carries a transport or API error. Fatal errors terminate
	// the session; non-fatal ones are logged and the stream continues.
	EventError
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventResponseStarted:
		return "response_started"
	case EventAudioDelta:
		return "audio_delta"
	case EventTranscriptDelta:
		return "transcript_delta"
	case EventResponseComplete:
		return "response_complete"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Role identifies whose transcript a delta belongs to.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

// Event is one inbound event from the AI endpoint.
type Event struct {
	Type EventType

	// Audio is decoded PCM16 for EventAudioDelta.
	Audio []byte

	// Text and TextRole are set for EventTranscriptDelta.
	Text     string
	TextRole Role

	// Err and Fatal are set for EventError. After a fatal error no further
	// events are delivered.
	Err   error
	Fatal bool
}
