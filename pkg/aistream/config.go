package aistream

import (
	"log/slog"
	"time"
)

// Reconnection defaults. On a transport drop the connector retries with
// exponential backoff before surfacing a fatal error to the session.
const (
	DefaultReconnectAttempts = 3
	DefaultReconnectBase     = 500 * time.Millisecond
	DefaultReconnectCap      = 4 * time.Second
)

// Config holds connector settings.
type Config struct {
	// APIKey authenticates against the AI endpoint. Required.
	APIKey string

	// BaseURL is the realtime websocket endpoint. Override it to route
	// through a proxy or a local test server.
	BaseURL string

	// Model is the realtime model to use.
	Model string

	// Voice is the TTS voice for spoken responses.
	Voice string

	// SystemPrompt is the agent instruction set for the call.
	SystemPrompt string

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// ReconnectAttempts is the number of reconnection attempts after a
	// transport drop before the error is surfaced as fatal.
	ReconnectAttempts int

	// ReconnectBase is the backoff delay before the first retry; it doubles
	// per attempt up to ReconnectCap.
	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	// EventBuffer is the inbound event channel capacity.
	EventBuffer int

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:           openAIRealtimeURL,
		Model:             openAIModel,
		Voice:             "alloy",
		HandshakeTimeout:  10 * time.Second,
		ReconnectAttempts: DefaultReconnectAttempts,
		ReconnectBase:     DefaultReconnectBase,
		ReconnectCap:      DefaultReconnectCap,
		EventBuffer:       256,
		Logger:            slog.Default(),
	}
}

// Option configures a connector.
type Option func(*Config)

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithBaseURL sets the realtime websocket endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithVoice sets the TTS voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithSystemPrompt sets the agent instructions.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

// WithReconnect configures reconnection behavior.
func WithReconnect(attempts int, base, cap time.Duration) Option {
	return func(c *Config) {
		c.ReconnectAttempts = attempts
		c.ReconnectBase = base
		c.ReconnectCap = cap
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// backoffDelay returns the delay before reconnect attempt n (0-based),
// doubling from base and capped.
func backoffDelay(n int, base, cap time.Duration) time.Duration {
	d := base << uint(n)
	if d > cap || d <= 0 {
		return cap
	}
	return d
}
