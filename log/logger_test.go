package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLogger_ContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Meta{Component: "serve", InstanceID: "abc"}).WithOutput(&buf)

	l.Info("relay registered", map[string]any{"sheet": "s1"})

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e["message"] != "relay registered" || e["level"] != "info" {
		t.Errorf("entry = %v", e)
	}
	if e["component"] != "serve" || e["instance_id"] != "abc" {
		t.Errorf("context fields missing: %v", e)
	}
	fields, _ := e["fields"].(map[string]any)
	if fields["sheet"] != "s1" {
		t.Errorf("fields = %v", e["fields"])
	}
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(Meta{Component: "serve"}).WithOutput(&buf)

	if err := l.SetLevel("warn"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	l.Info("dropped", nil)
	l.Named("hub").Warn("kept", nil)

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["message"] != "kept" {
		t.Fatalf("entries = %v", entries)
	}
	if entries[0]["subsystem"] != "hub" {
		t.Errorf("subsystem = %v", entries[0]["subsystem"])
	}

	if err := l.SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) should fail")
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Error("nothing", map[string]any{"x": 1})
	l.Sugar().Infof("still nothing %d", 1)
}
