package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct{ json, debug bool }{{false, false}, {true, true}} {
		l, err := New(tc.json, tc.debug)
		if err != nil {
			t.Fatalf("New(%v, %v): %v", tc.json, tc.debug, err)
		}
		if got := l.Core().Enabled(zap.DebugLevel); got != tc.debug {
			t.Errorf("debug enabled = %v, want %v", got, tc.debug)
		}
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf, true, false)
	l.Info("cycle finished", zap.String(FieldCycleID, "c1"))
	l.Debug("hidden")
	l.Sync()

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not a single JSON line: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "cycle finished" || entry[FieldCycleID] != "c1" || entry["level"] != "info" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestWithFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := WithFields(zap.New(core), FieldIdentity, "u1", 42, "ignored", FieldOutcome)
	l.Info("extracted")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	ctx := entries[0].ContextMap()
	if ctx[FieldIdentity] != "u1" {
		t.Errorf("identity = %v, want u1", ctx[FieldIdentity])
	}
	if len(ctx) != 1 {
		t.Errorf("unexpected fields: %v", ctx)
	}
}

func TestWithFields_NilLogger(t *testing.T) {
	WithFields(nil, FieldIdentity, "u1").Info("no panic")
}

func TestParseLevel(t *testing.T) {
	if !ParseLevel(" DEBUG ") {
		t.Error("ParseLevel(DEBUG) = false")
	}
	if ParseLevel("info") || ParseLevel("verbose") {
		t.Error("non-debug levels reported as debug")
	}
}

func TestTruncateForLog(t *testing.T) {
	tests := []struct {
		in    string
		limit int
		want  string
	}{
		{"  short  ", 10, "short"},
		{"héllo wörld", 5, "héllo..."},
		{"anything", 0, ""},
	}
	for _, tt := range tests {
		if got := TruncateForLog(tt.in, tt.limit); got != tt.want {
			t.Errorf("TruncateForLog(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
		}
	}
}
