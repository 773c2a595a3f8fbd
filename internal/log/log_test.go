package log

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo}, // unknown falls back to info
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLevelEnvFallback(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")

	if got := ParseLevel(""); got != slog.LevelWarn {
		t.Errorf("ParseLevel(\"\") with LOG_LEVEL=warn = %v, want %v", got, slog.LevelWarn)
	}
	// An explicit level wins over the environment.
	if got := ParseLevel("error"); got != slog.LevelError {
		t.Errorf("ParseLevel(\"error\") = %v, want %v", got, slog.LevelError)
	}
}
