package ops

import (
	"time"

	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/session"
)

// NoticeKind identifies an operator event.
type NoticeKind string

const (
	NoticeCallStarted  NoticeKind = "call_started"
	NoticeCallEnded    NoticeKind = "call_ended"
	NoticeStateChanged NoticeKind = "state_changed"
	NoticeTurn         NoticeKind = "turn"
)

// Notice is one operator event streamed over /ws/events.
type Notice struct {
	Kind      NoticeKind    `json:"kind"`
	CallID    string        `json:"call_id"`
	At        time.Time     `json:"at"`
	State     string        `json:"state,omitempty"`
	PrevState string        `json:"prev_state,omitempty"`
	Turn      *session.Turn `json:"turn,omitempty"`
}

// CallStarted builds the call-entry notice.
func CallStarted(callID string) Notice {
	return Notice{Kind: NoticeCallStarted, CallID: callID, At: time.Now()}
}

// CallEnded builds the call-exit notice.
func CallEnded(callID string) Notice {
	return Notice{Kind: NoticeCallEnded, CallID: callID, At: time.Now()}
}

// StateChanged builds a turn-taking transition notice.
func StateChanged(callID string, from, to session.State) Notice {
	return Notice{
		Kind:      NoticeStateChanged,
		CallID:    callID,
		At:        time.Now(),
		State:     to.String(),
		PrevState: from.String(),
	}
}

// TurnRecorded builds a closed-turn notice for audit streams.
func TurnRecorded(callID string, t session.Turn) Notice {
	return Notice{Kind: NoticeTurn, CallID: callID, At: time.Now(), Turn: &t}
}
