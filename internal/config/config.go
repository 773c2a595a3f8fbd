// Package config provides environment configuration helpers for the bridge.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for the bridge service.
const (
	DefaultARIURL      = "http://127.0.0.1:8088/ari"
	DefaultARIApp      = "voice-bridge"
	DefaultHTTPPort    = "8080"
	DefaultMediaHost   = "127.0.0.1"
	DefaultIdleTimeout = 45 * time.Second
)

// ARIURL returns the Asterisk REST Interface base URL from ARI_URL.
func ARIURL() string {
	if u := os.Getenv("ARI_URL"); u != "" {
		return u
	}
	return DefaultARIURL
}

// ARIApp returns the Stasis application name from ARI_APP.
func ARIApp() string {
	if app := os.Getenv("ARI_APP"); app != "" {
		return app
	}
	return DefaultARIApp
}

// ARIUser returns the ARI username from ARI_USER.
// Exits with usage if not set.
func ARIUser() string {
	user := os.Getenv("ARI_USER")
	if user == "" {
		fmt.Fprintln(os.Stderr, "Error: ARI_USER environment variable is required")
		fmt.Fprintln(os.Stderr, "Usage: ARI_USER=bridge ARI_PASSWORD=... OPENAI_API_KEY=... ./bridge")
		os.Exit(1)
	}
	return user
}

// ARIPassword returns the ARI password from ARI_PASSWORD.
// Exits with usage if not set.
func ARIPassword() string {
	pass := os.Getenv("ARI_PASSWORD")
	if pass == "" {
		fmt.Fprintln(os.Stderr, "Error: ARI_PASSWORD environment variable is required")
		os.Exit(1)
	}
	return pass
}

// OpenAIKey returns the OpenAI API key from OPENAI_API_KEY.
// Exits with usage if not set.
func OpenAIKey() string {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "Error: OPENAI_API_KEY environment variable is required")
		os.Exit(1)
	}
	return key
}

// HTTPPort returns the operator HTTP port from PORT.
func HTTPPort() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return DefaultHTTPPort
}

// MediaHost returns the address Asterisk should send externalMedia RTP to,
// from MEDIA_HOST. This must be reachable from the Asterisk box.
func MediaHost() string {
	if h := os.Getenv("MEDIA_HOST"); h != "" {
		return h
	}
	return DefaultMediaHost
}

// IdleTimeout returns the per-call idle timeout from IDLE_TIMEOUT_SECONDS.
func IdleTimeout() time.Duration {
	if s := os.Getenv("IDLE_TIMEOUT_SECONDS"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return DefaultIdleTimeout
}

// SystemPrompt returns the agent instructions from SYSTEM_PROMPT,
// or a generic default.
func SystemPrompt() string {
	if p := os.Getenv("SYSTEM_PROMPT"); p != "" {
		return p
	}
	return "You are a helpful voice assistant on a phone call. " +
		"Keep responses brief and conversational."
}
