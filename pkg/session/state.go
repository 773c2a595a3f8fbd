// Package session owns one phone call's conversation: the turn-taking state
// machine that gates audio between the telephony leg and the AI stream, and
// the process-wide registry of active calls.
package session

import "time"

// State is a turn-taking state. It is mutated only by the session's own run
// loop, never externally.
type State int

const (
	// StateIdle: call connected, nobody speaking.
	StateIdle State = iota

	// StateCallerSpeaking: caller holds the floor, audio is forwarded to
	// the AI stream.
	StateCallerSpeaking

	// StateStreamingToAI: caller's utterance was flushed, awaiting the AI
	// response.
	StateStreamingToAI

	// StateAIResponding: AI audio is flowing to the caller.
	StateAIResponding

	// StateEnded: terminal; owned resources are closed.
	StateEnded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCallerSpeaking:
		return "caller_speaking"
	case StateStreamingToAI:
		return "streaming_to_ai"
	case StateAIResponding:
		return "ai_responding"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Role identifies who held the floor for a turn.
type Role string

const (
	RoleCaller Role = "caller"
	RoleAI     Role = "ai"
)

// Turn is one contiguous span where the caller or the AI held the floor.
// Interrupted is true iff the span ended with a barge-in rather than natural
// completion.
type Turn struct {
	Role        Role      `json:"role"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitzero"`
	Interrupted bool      `json:"interrupted"`
}
