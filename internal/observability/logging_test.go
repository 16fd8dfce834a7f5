package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestContextHandler_AddsCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json").With("component", "api")

	ctx := WithCorrelationID(context.Background(), "req-123")
	logger.InfoContext(ctx, "upload received")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to unmarshal log: %v", err)
	}
	if entry["correlation_id"] != "req-123" {
		t.Errorf("expected correlation_id req-123, got %v", entry["correlation_id"])
	}
	if entry["component"] != "api" {
		t.Errorf("expected attrs from With to survive, got %v", entry["component"])
	}
}

func TestContextHandler_NoCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "info", "json")
	logger.InfoContext(context.Background(), "startup")
	if strings.Contains(buf.String(), "correlation_id") {
		t.Errorf("unexpected correlation_id in %s", buf.String())
	}
}

func TestNewLogger_LevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("expected text output, got %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
