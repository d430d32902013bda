package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLine(t *testing.T, line string) map[string]interface{} {
	t.Helper()
	payload := make(map[string]interface{})
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("failed to parse log line %q: %v", line, err)
	}
	return payload
}

func TestLoggerIncludesCorrelationIDAndLayer(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{
		Writer:    &buf,
		Level:     "debug",
		Layer:     "application",
		Component: "cli",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx := WithCorrelationID(context.Background(), "abc123")
	logger.Info(ctx, "config saved", "path", "/work/run/config.toml")

	payload := decodeLine(t, strings.TrimSpace(buf.String()))
	if payload["layer"] != "application" {
		t.Fatalf("expected layer to be application, got %v", payload["layer"])
	}
	if payload["component"] != "cli" {
		t.Fatalf("expected component field, got %v", payload["component"])
	}
	if payload["correlation_id"] != "abc123" {
		t.Fatalf("expected correlation_id to be abc123, got %v", payload["correlation_id"])
	}
	if payload["path"] != "/work/run/config.toml" {
		t.Fatalf("expected path to be recorded, got %v", payload["path"])
	}
	if payload["message"] != "config saved" {
		t.Fatalf("expected message to be recorded, got %v", payload["message"])
	}
}

func TestLoggerWithAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	child := logger.With("component", "executor")
	child.Warn(context.Background(), "node failed", "node_id", "estimate_fod", "error", errors.New("exit 1"))

	payload := decodeLine(t, strings.TrimSpace(buf.String()))
	if payload["component"] != "executor" {
		t.Fatalf("expected component=executor, got %v", payload["component"])
	}
	if payload["node_id"] != "estimate_fod" {
		t.Fatalf("expected node_id, got %v", payload["node_id"])
	}
	if payload["error"] != "exit 1" {
		t.Fatalf("expected error string, got %v", payload["error"])
	}
	if payload["layer"] != "infrastructure" {
		t.Fatalf("expected default layer infrastructure, got %v", payload["layer"])
	}
}

func TestLoggerCriticalDoesNotExit(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Writer: &buf, Level: "error"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Info(context.Background(), "filtered")
	logger.Critical(context.Background(), "QSIPrep failed")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected only the critical line, got %d: %q", len(lines), buf.String())
	}
	payload := decodeLine(t, lines[0])
	if payload["level"] != "fatal" {
		t.Fatalf("expected fatal level, got %v", payload["level"])
	}
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := New(Options{Level: "chatty"}); err == nil {
		t.Fatal("expected level parse error")
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	cases := map[[2]int]string{
		{0, 0}: "info",
		{2, 0}: "debug",
		{0, 1}: "warn",
		{0, 3}: "error",
	}
	for in, want := range cases {
		if got := LevelFromVerbosity(in[0], in[1]); got != want {
			t.Fatalf("verbosity %v: expected %s, got %s", in, want, got)
		}
	}
}

func TestNoOpLogger(t *testing.T) {
	noOp := NewNoOpLogger()
	noOp.Critical(context.Background(), "hello world")

	if noOp.With("key", "value") != noOp {
		t.Fatalf("expected With to return same no-op logger instance")
	}
}

func TestBufferedLoggerStoresAndFlushes(t *testing.T) {
	buffer := NewEventBuffer(10)
	bufLogger := NewBufferedLogger(buffer)

	ctx := WithCorrelationID(context.Background(), "buffered")
	bufLogger.Info(ctx, "detected environment", "exec_env", "docker")
	bufLogger.With("component", "workflow").Critical(ctx, "failed", "attempt", 1)

	entries := buffer.Entries()
	if len(entries) != 2 || entries[1].Level != "critical" {
		t.Fatalf("unexpected buffered entries: %+v", entries)
	}

	var output bytes.Buffer
	delegate, err := New(Options{Writer: &output})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	buffer.Flush(delegate)

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(lines))
	}

	first := decodeLine(t, lines[0])
	if first["message"] != "detected environment" || first["exec_env"] != "docker" {
		t.Fatalf("unexpected first event payload: %+v", first)
	}

	second := decodeLine(t, lines[1])
	if second["message"] != "failed" || second["component"] != "workflow" {
		t.Fatalf("unexpected second event payload: %+v", second)
	}
	if second["correlation_id"] != "buffered" {
		t.Fatalf("expected correlation id to be preserved, got %v", second["correlation_id"])
	}
	if len(buffer.Entries()) != 0 {
		t.Fatal("expected buffer to be drained after flush")
	}
}

func TestEventBufferDropsOldestAndReports(t *testing.T) {
	buffer := NewEventBuffer(2)
	bufLogger := NewBufferedLogger(buffer)
	ctx := context.Background()

	bufLogger.Debug(ctx, "first")
	bufLogger.Info(ctx, "second")
	bufLogger.Warn(ctx, "third")

	entries := buffer.Entries()
	if len(entries) != 2 || entries[0].Message != "second" || entries[1].Level != "warn" {
		t.Fatalf("unexpected buffered entries: %+v", entries)
	}

	var output bytes.Buffer
	delegate, err := New(Options{Writer: &output, Level: "debug"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	buffer.Flush(delegate)

	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 log lines, got %d: %q", len(lines), lines)
	}
	overflow := decodeLine(t, lines[0])
	if overflow["message"] != "early log entries were dropped" || overflow["dropped"] != float64(1) {
		t.Fatalf("unexpected overflow entry: %+v", overflow)
	}
	if decodeLine(t, lines[2])["level"] != "warn" {
		t.Fatalf("expected replayed warn entry, got %s", lines[2])
	}
}
