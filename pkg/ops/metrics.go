package ops

import (
	"fmt"
	"sync/atomic"
)

// Metrics holds the service counters exposed at /metrics. All fields are
// safe for concurrent update from session goroutines.
type Metrics struct {
	CallsTotal  atomic.Uint64
	CallsFailed atomic.Uint64
	TurnsTotal  atomic.Uint64
	BargeIns    atomic.Uint64
	FramesIn    atomic.Uint64
	FramesOut   atomic.Uint64
	Overruns    atomic.Uint64
}

// Render produces the plain-text exposition for /metrics. Gauges that live
// elsewhere (registry, hub) are passed in at render time.
func (m *Metrics) Render(activeSessions, operatorClients int) string {
	return fmt.Sprintf(`# HELP voice_bridge_sessions_active Active call sessions
# TYPE voice_bridge_sessions_active gauge
voice_bridge_sessions_active %d

# HELP voice_bridge_calls_total Total calls handled
# TYPE voice_bridge_calls_total counter
voice_bridge_calls_total %d

# HELP voice_bridge_calls_failed Total calls ended by an error
# TYPE voice_bridge_calls_failed counter
voice_bridge_calls_failed %d

# HELP voice_bridge_turns_total Total conversation turns
# TYPE voice_bridge_turns_total counter
voice_bridge_turns_total %d

# HELP voice_bridge_barge_ins_total Total caller interruptions of AI speech
# TYPE voice_bridge_barge_ins_total counter
voice_bridge_barge_ins_total %d

# HELP voice_bridge_frames_in_total Audio frames received from callers
# TYPE voice_bridge_frames_in_total counter
voice_bridge_frames_in_total %d

# HELP voice_bridge_frames_out_total Audio frames played to callers
# TYPE voice_bridge_frames_out_total counter
voice_bridge_frames_out_total %d

# HELP voice_bridge_media_overruns_total Inbound media frames dropped on overrun
# TYPE voice_bridge_media_overruns_total counter
voice_bridge_media_overruns_total %d

# HELP voice_bridge_operator_clients Connected operator websocket clients
# TYPE voice_bridge_operator_clients gauge
voice_bridge_operator_clients %d
`,
		activeSessions,
		m.CallsTotal.Load(),
		m.CallsFailed.Load(),
		m.TurnsTotal.Load(),
		m.BargeIns.Load(),
		m.FramesIn.Load(),
		m.FramesOut.Load(),
		m.Overruns.Load(),
		operatorClients,
	)
}
