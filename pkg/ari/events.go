package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
)

// EventType names the ARI events the bridge reacts to.
type EventType string

const (
	EventStasisStart      EventType = "StasisStart"
	EventStasisEnd        EventType = "StasisEnd"
	EventChannelDestroyed EventType = "ChannelDestroyed"
)

// Event is one decoded ARI event. Asterisk delivers StasisStart and
// StasisEnd exactly once per channel.
type Event struct {
	Type        EventType `json:"type"`
	Application string    `json:"application"`
	Channel     Channel   `json:"channel"`
	Args        []string  `json:"args"`
}

// EventStream is the ARI event websocket for one Stasis application.
type EventStream struct {
	conn   *websocket.Conn
	events chan Event

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// OpenEvents connects to the ARI event websocket and starts decoding.
// The returned stream's channel closes when the socket drops or Close is
// called; Err reports why.
func (c *Client) OpenEvents(ctx context.Context) (*EventStream, error) {
	wsURL, err := c.eventsURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ari: events dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("ari: events dial failed: %w", err)
	}

	s := &EventStream{
		conn:   conn,
		events: make(chan Event, 32),
	}
	go s.readLoop(c)
	c.logger.Info("ari event stream connected", "app", c.app)
	return s, nil
}

// Events returns the decoded event channel. Closed when the stream ends.
func (s *EventStream) Events() <-chan Event {
	return s.events
}

// Err returns the error that terminated the stream, or nil after a clean
// Close.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close shuts the websocket down. Safe to call more than once.
func (s *EventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *EventStream) readLoop(c *Client) {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.err = fmt.Errorf("ari: event stream read: %w", err)
			}
			s.mu.Unlock()
			s.Close()
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("dropping undecodable ari event", "error", err)
			continue
		}

		switch ev.Type {
		case EventStasisStart, EventStasisEnd, EventChannelDestroyed:
			s.events <- ev
		default:
			// Asterisk emits many event types; the bridge only tracks
			// call entry and exit.
			c.logger.Debug("ignoring ari event", "type", string(ev.Type))
		}
	}
}

// eventsURL derives the ws:// event endpoint from the REST base URL.
func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("ari: parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("ari: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/events"

	q := u.Query()
	q.Set("app", c.app)
	q.Set("api_key", c.username+":"+c.password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
