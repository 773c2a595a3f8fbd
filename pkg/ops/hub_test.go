package ops

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/deepakchaudharigit/ari-voice-bridge/pkg/session"
)

func testHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	return h, cancel
}

// testClient builds a client without a websocket connection; the hub loop
// only touches id and send.
func testClient(buffer int) *Client {
	return &Client{id: "test", send: make(chan []byte, buffer)}
}

func waitCount(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("ClientCount = %d, want %d", h.ClientCount(), want)
}

func TestHubBroadcastReachesClients(t *testing.T) {
	h, cancel := testHub(t)
	defer cancel()

	c1 := testClient(4)
	c2 := testClient(4)
	h.register <- c1
	h.register <- c2
	waitCount(t, h, 2)

	h.Publish(CallStarted("chan-1"))

	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.send:
			var n Notice
			if err := json.Unmarshal(data, &n); err != nil {
				t.Fatalf("unmarshal broadcast: %v", err)
			}
			if n.Kind != NoticeCallStarted || n.CallID != "chan-1" {
				t.Errorf("notice = %+v", n)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h, cancel := testHub(t)
	defer cancel()

	slow := testClient(1)
	h.register <- slow
	waitCount(t, h, 1)

	// Second publish overflows the client's buffer and evicts it.
	h.Publish(CallStarted("a"))
	h.Publish(CallStarted("b"))
	waitCount(t, h, 0)

	// The hub closed the channel after the one buffered message.
	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("slow client send channel still open")
	}
}

func TestHubUnregister(t *testing.T) {
	h, cancel := testHub(t)
	defer cancel()

	c := testClient(4)
	h.register <- c
	waitCount(t, h, 1)
	h.unregister <- c
	waitCount(t, h, 0)

	if _, ok := <-c.send; ok {
		t.Error("send channel still open after unregister")
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	h, cancel := testHub(t)

	c := testClient(4)
	h.register <- c
	waitCount(t, h, 1)

	cancel()
	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel after shutdown")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed on shutdown")
	}
}

func TestHubLateClientAfterShutdown(t *testing.T) {
	h, cancel := testHub(t)

	cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not shut down")
	}

	// A connection arriving after shutdown must not block on registration.
	result := make(chan *Client, 1)
	go func() {
		result <- NewClient(h, nil)
	}()

	var c *Client
	select {
	case c = <-result:
	case <-time.After(2 * time.Second):
		t.Fatal("NewClient blocked after hub shutdown")
	}

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel for late client")
		}
	default:
		t.Error("send channel for late client still open")
	}
}

func TestMetricsRender(t *testing.T) {
	var m Metrics
	m.CallsTotal.Add(3)
	m.BargeIns.Add(1)
	m.FramesIn.Add(250)

	out := m.Render(2, 1)
	for _, want := range []string{
		"voice_bridge_sessions_active 2",
		"voice_bridge_calls_total 3",
		"voice_bridge_barge_ins_total 1",
		"voice_bridge_frames_in_total 250",
		"voice_bridge_operator_clients 1",
		"# TYPE voice_bridge_sessions_active gauge",
		"# TYPE voice_bridge_calls_total counter",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestTurnNoticeJSON(t *testing.T) {
	turn := session.Turn{Role: session.RoleAI, StartedAt: time.Now(), Interrupted: true}
	data, err := json.Marshal(TurnRecorded("chan-1", turn))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"kind":"turn"`, `"call_id":"chan-1"`, `"interrupted":true`, `"role":"ai"`} {
		if !strings.Contains(s, want) {
			t.Errorf("json %s missing %q", s, want)
		}
	}
}
