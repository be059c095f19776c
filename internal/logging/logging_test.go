package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func newCaptureLogger(sanitize bool) (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := NewSanitizingHandler(slog.NewJSONHandler(&buf, nil), sanitize)
	return slog.New(handler), &buf
}

func TestSanitizeRedactsSensitiveAttrs(t *testing.T) {
	logger, buf := newCaptureLogger(true)
	logger.Info("connecting", "host", "web1", "password", "hunter2")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if entry["password"] != "[REDACTED]" {
		t.Errorf("password = %v, want [REDACTED]", entry["password"])
	}
	if entry["host"] != "web1" {
		t.Errorf("host = %v, must pass through", entry["host"])
	}
}

func TestSanitizeMatchesSubstringsCaseInsensitively(t *testing.T) {
	logger, buf := newCaptureLogger(true)
	logger.Info("auth", "SudoPassword", "x", "api_token", "y")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["SudoPassword"] != "[REDACTED]" || entry["api_token"] != "[REDACTED]" {
		t.Errorf("entry = %v", entry)
	}
}

func TestSanitizeDisabledPassesThrough(t *testing.T) {
	logger, buf := newCaptureLogger(false)
	logger.Info("connecting", "password", "hunter2")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["password"] != "hunter2" {
		t.Errorf("password = %v, sanitize disabled must pass through", entry["password"])
	}
}

func TestSanitizeGroups(t *testing.T) {
	logger, buf := newCaptureLogger(true)
	logger.Info("connecting", slog.Group("session", slog.String("passphrase", "x"), slog.String("user", "deploy")))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	session, ok := entry["session"].(map[string]any)
	if !ok {
		t.Fatalf("session group missing: %v", entry)
	}
	if session["passphrase"] != "[REDACTED]" {
		t.Errorf("passphrase = %v", session["passphrase"])
	}
	if session["user"] != "deploy" {
		t.Errorf("user = %v", session["user"])
	}
}

func TestWithAttrsSanitizes(t *testing.T) {
	logger, buf := newCaptureLogger(true)
	logger.With("token", "abc").Info("ready")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["token"] != "[REDACTED]" {
		t.Errorf("token = %v", entry["token"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEnabledDelegates(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSanitizingHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}), true)
	if handler.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info must be disabled at warn level")
	}
	if !handler.Enabled(context.Background(), slog.LevelError) {
		t.Error("error must be enabled at warn level")
	}
}
