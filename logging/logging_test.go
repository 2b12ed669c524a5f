package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info().Msg("dropped")
	log.Warn().Str("k", "v").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines: %q", len(lines), buf.String())
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &m); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if m["message"] != "kept" || m["level"] != "warn" || m["k"] != "v" || m["service"] != "govbr-login" {
		t.Fatalf("line: %v", m)
	}
	if _, ok := m["time"]; !ok {
		t.Fatal("no timestamp")
	}
}

func TestNew_UnknownLevelIsInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "loud", Output: &buf})
	log.Debug().Msg("dropped")
	log.Info().Msg("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("output: %q", buf.String())
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "console", Output: &buf})
	log.Debug().Msg("hello")
	out := buf.String()
	if !strings.Contains(out, "hello") {
		t.Fatalf("output: %q", out)
	}
	if strings.HasPrefix(strings.TrimSpace(out), "{") {
		t.Fatalf("console output looks like JSON: %q", out)
	}
}
