// Package ari is the call-control collaborator boundary: a thin client for
// the Asterisk REST Interface and its event websocket. It carries no
// conversation logic; calls enter and leave the bridge through here.
package ari

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/deepakchaudharigit/ari-voice-bridge/internal/httpc"
)

// RequestError is a non-2xx reply from the ARI REST API.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	return fmt.Sprintf("ari: %s %s returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Channel is the subset of an ARI channel resource the bridge needs.
type Channel struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	State  string `json:"state"`
	Caller struct {
		Name   string `json:"name"`
		Number string `json:"number"`
	} `json:"caller"`
}

// BridgeResource is an ARI mixing bridge joining the caller channel with the
// externalMedia channel.
type BridgeResource struct {
	ID   string `json:"id"`
	Type string `json:"bridge_type"`
}

// Client talks to the Asterisk REST Interface with basic auth.
type Client struct {
	baseURL  string
	app      string
	username string
	password string
	http     *http.Client
	logger   *slog.Logger
}

// New creates an ARI client. baseURL is the ARI root, e.g.
// http://127.0.0.1:8088/ari.
func New(baseURL, app, username, password string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		app:      app,
		username: username,
		password: password,
		http:     httpc.Client,
		logger:   logger.With("component", "ari"),
	}
}

// Answer answers a ringing channel.
func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/answer", nil, nil)
}

// Hangup hangs up a channel. Asterisk replies 404 for a channel that is
// already gone; callers treat that as success via IsNotFound.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channelID), nil, nil)
}

// CreateExternalMedia asks Asterisk to originate an externalMedia channel
// that streams the call's audio as slin16 RTP to externalHost (host:port)
// and accepts return audio on the same flow.
func (c *Client) CreateExternalMedia(ctx context.Context, externalHost string) (Channel, error) {
	q := url.Values{}
	q.Set("app", c.app)
	q.Set("external_host", externalHost)
	q.Set("format", "slin16")
	q.Set("direction", "both")
	q.Set("encapsulation", "rtp")
	q.Set("transport", "udp")

	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/channels/externalMedia", q, &ch); err != nil {
		return Channel{}, err
	}
	c.logger.Debug("external media channel created", "channel_id", ch.ID, "external_host", externalHost)
	return ch, nil
}

// CreateBridge creates a mixing bridge.
func (c *Client) CreateBridge(ctx context.Context) (BridgeResource, error) {
	q := url.Values{}
	q.Set("type", "mixing")

	var b BridgeResource
	if err := c.do(ctx, http.MethodPost, "/bridges", q, &b); err != nil {
		return BridgeResource{}, err
	}
	return b, nil
}

// AddChannel places a channel into a mixing bridge.
func (c *Client) AddChannel(ctx context.Context, bridgeID, channelID string) error {
	q := url.Values{}
	q.Set("channel", channelID)
	return c.do(ctx, http.MethodPost, "/bridges/"+url.PathEscape(bridgeID)+"/addChannel", q, nil)
}

// DestroyBridge tears down a mixing bridge.
func (c *Client) DestroyBridge(ctx context.Context, bridgeID string) error {
	return c.do(ctx, http.MethodDelete, "/bridges/"+url.PathEscape(bridgeID), nil, nil)
}

// IsNotFound reports whether err is an ARI 404, which on teardown paths
// means the resource is already gone.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}

// do runs one REST request and decodes the JSON reply into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("ari: build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ari: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RequestError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("ari: decode %s %s reply: %w", method, path, err)
		}
	}
	return nil
}
