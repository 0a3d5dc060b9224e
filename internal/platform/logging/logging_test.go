package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tc := range testCases {
		if got := ParseLevel(tc.in); got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNew_JSONHandlerTagsService(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "user-service", "production", "info")
	logger.Info("hello", "auth_user_id", "u-1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if rec["service"] != "user-service" {
		t.Errorf("service = %v, want %q", rec["service"], "user-service")
	}
	if rec["auth_user_id"] != "u-1" {
		t.Errorf("auth_user_id = %v, want %q", rec["auth_user_id"], "u-1")
	}
}

func TestNew_DevelopmentUsesText(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "user-service", "development", "debug")
	logger.Debug("visible")

	out := buf.String()
	if !strings.Contains(out, "msg=visible") {
		t.Errorf("expected text output with msg=visible, got %q", out)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, "user-service", "production", "error")
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at error level, got %q", buf.String())
	}
}
