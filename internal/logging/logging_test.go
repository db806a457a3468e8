package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"draftline/internal/config"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LogConfig{Level: "WARN", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Str("step", "v27->v28").Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if entry["level"] != "warn" || entry["message"] != "shown" || entry["step"] != "v27->v28" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, ok := entry["time"]; !ok {
		t.Fatalf("expected timestamp in %v", entry)
	}
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(config.LogConfig{Level: "debug", Format: "console"}, &buf)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug().Msg("draft upgraded")
	if !strings.Contains(buf.String(), "draft upgraded") || strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "loud", Format: "json"}, nil); err == nil {
		t.Fatalf("expected level error")
	}
	if _, err := New(config.LogConfig{Level: "info", Format: "xml"}, nil); err == nil {
		t.Fatalf("expected format error")
	}
}
