package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", FormatJSON)
	logger.Info("hello", "key", "value")

	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("json logger output = %q, want JSON object", buf.String())
	}

	buf.Reset()
	logger = NewLogger(&buf, "info", "something-else")
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text logger output = %q, want text format", buf.String())
	}
}

func TestNewLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", FormatText)
	logger.Info("hidden")
	logger.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info message should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn message should be written at warn level")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestWithHelpers(t *testing.T) {
	logger := slog.Default()
	if WithOperation(logger, "graph.list") == nil {
		t.Error("WithOperation returned nil")
	}
	if WithComponent(logger, "notification") == nil {
		t.Error("WithComponent returned nil")
	}
	if WithAccount(logger, "oid.tid") == nil {
		t.Error("WithAccount returned nil")
	}
}

func TestAccountAttr(t *testing.T) {
	attr := Account("00000000-0000-0000-0000-000000000001.tenant")
	if attr.Key != KeyAccount {
		t.Errorf("Account key = %q, want %q", attr.Key, KeyAccount)
	}
	if strings.Contains(attr.Value.String(), "tenant") {
		t.Errorf("Account value %q leaks the raw account id", attr.Value.String())
	}
}

func TestTraceIDAttr(t *testing.T) {
	attr := TraceID("4bf92f3577b34da6a3ce929d0e0e4736")
	if attr.Key != KeyTraceID {
		t.Errorf("TraceID key = %q, want %q", attr.Key, KeyTraceID)
	}
	if attr.Value.String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("TraceID value = %q", attr.Value.String())
	}
}

func TestClientStateAttr(t *testing.T) {
	attr := ClientState("super-secret-state")
	if attr.Key != KeyClientState {
		t.Errorf("ClientState key = %q, want %q", attr.Key, KeyClientState)
	}
	if attr.Value.String() != "[token:18 chars]" {
		t.Errorf("ClientState value = %q, want masked value", attr.Value.String())
	}
}

func TestSubscriptionAndResourceAttrs(t *testing.T) {
	if attr := Subscription("sub-1"); attr.Key != KeySubscription || attr.Value.String() != "sub-1" {
		t.Errorf("Subscription attr = %v", attr)
	}
	if attr := ResourceID("m1"); attr.Key != KeyResourceID || attr.Value.String() != "m1" {
		t.Errorf("ResourceID attr = %v", attr)
	}
	if attr := Operation("op"); attr.Key != KeyOperation {
		t.Errorf("Operation key = %q, want %q", attr.Key, KeyOperation)
	}
	if attr := Status(StatusSuccess); attr.Value.String() != "success" {
		t.Errorf("Status value = %q, want success", attr.Value.String())
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	if attr.Key != KeyError || attr.Value.String() != "boom" {
		t.Errorf("Err attr = %v", attr)
	}

	attr = Err(nil)
	if attr.Key != "" {
		t.Errorf("Err(nil) key = %q, want empty string (empty group)", attr.Key)
	}
}

func TestAnonymizeAccount(t *testing.T) {
	if got := AnonymizeAccount(""); got != "" {
		t.Errorf("AnonymizeAccount(\"\") = %q, want empty", got)
	}

	a := AnonymizeAccount("oid-1.tid")
	if len(a) != len("account:")+16 {
		t.Errorf("AnonymizeAccount length = %d, want %d", len(a), len("account:")+16)
	}
	if a != AnonymizeAccount("oid-1.tid") {
		t.Error("AnonymizeAccount should be deterministic")
	}
	if a == AnonymizeAccount("oid-2.tid") {
		t.Error("different accounts should hash differently")
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := []struct {
		token    string
		expected string
	}{
		{"", "<empty>"},
		{"abc123", "[token:6 chars]"},
		{"a_very_long_token_string", "[token:24 chars]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := SanitizeToken(tt.token); got != tt.expected {
				t.Errorf("SanitizeToken(%q) = %q, want %q", tt.token, got, tt.expected)
			}
		})
	}
}
