package logging

import (
	"context"
	"sync"

	"github.com/pennlinc/qsiprep/internal/ports"
)

const defaultBufferLimit = 1000

// BufferedEntry is a log call recorded before the real logger existed.
type BufferedEntry struct {
	Level   string
	Message string
	Fields  []interface{}

	ctx context.Context
}

// EventBuffer holds early log calls, e.g. while the CLI is still resolving
// the run configuration that decides the log level. When full, the oldest
// entry is dropped.
type EventBuffer struct {
	mu      sync.Mutex
	limit   int
	entries []BufferedEntry
	dropped int
}

// NewEventBuffer creates a buffer holding at most limit entries (1000 when
// limit is not positive).
func NewEventBuffer(limit int) *EventBuffer {
	if limit <= 0 {
		limit = defaultBufferLimit
	}
	return &EventBuffer{limit: limit}
}

func (b *EventBuffer) record(entry BufferedEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == b.limit {
		b.entries = b.entries[1:]
		b.dropped++
	}
	b.entries = append(b.entries, entry)
}

// Entries returns a copy of the pending entries.
func (b *EventBuffer) Entries() []BufferedEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BufferedEntry(nil), b.entries...)
}

// Flush replays the pending entries on delegate, oldest first, and empties
// the buffer. Overflow is reported as a single warning.
func (b *EventBuffer) Flush(delegate ports.Logger) {
	if delegate == nil {
		return
	}
	b.mu.Lock()
	entries, dropped := b.entries, b.dropped
	b.entries, b.dropped = nil, 0
	b.mu.Unlock()

	if dropped > 0 {
		delegate.Warn(context.Background(), "early log entries were dropped", "dropped", dropped)
	}
	for _, e := range entries {
		logAt(delegate, e.Level)(e.ctx, e.Message, e.Fields...)
	}
}

func logAt(l ports.Logger, level string) func(context.Context, string, ...interface{}) {
	switch level {
	case "debug":
		return l.Debug
	case "warn":
		return l.Warn
	case "error":
		return l.Error
	case "critical":
		return l.Critical
	}
	return l.Info
}

// BufferedLogger is a ports.Logger that records into an EventBuffer.
type BufferedLogger struct {
	buffer *EventBuffer
	fields []interface{}
}

// NewBufferedLogger returns a logger recording into buffer.
func NewBufferedLogger(buffer *EventBuffer) *BufferedLogger {
	return &BufferedLogger{buffer: buffer}
}

func (l *BufferedLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, "debug", msg, fields)
}

func (l *BufferedLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, "info", msg, fields)
}

func (l *BufferedLogger) Warn(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, "warn", msg, fields)
}

func (l *BufferedLogger) Error(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, "error", msg, fields)
}

func (l *BufferedLogger) Critical(ctx context.Context, msg string, fields ...interface{}) {
	l.record(ctx, "critical", msg, fields)
}

func (l *BufferedLogger) With(fields ...interface{}) ports.Logger {
	return &BufferedLogger{buffer: l.buffer, fields: mergeFieldList(l.fields, fields)}
}

func (l *BufferedLogger) record(ctx context.Context, level, msg string, fields []interface{}) {
	if l == nil || l.buffer == nil {
		return
	}
	l.buffer.record(BufferedEntry{
		Level:   level,
		Message: msg,
		Fields:  mergeFieldList(l.fields, fields),
		ctx:     ctx,
	})
}

func mergeFieldList(base, extra []interface{}) []interface{} {
	out := make([]interface{}, 0, len(base)+len(extra))
	return append(append(out, base...), extra...)
}

// NoOpLogger discards everything. Components fall back to it when no logger
// is wired.
type NoOpLogger struct{}

// NewNoOpLogger returns a discarding ports.Logger.
func NewNoOpLogger() ports.Logger { return &NoOpLogger{} }

func (*NoOpLogger) Debug(context.Context, string, ...interface{})    {}
func (*NoOpLogger) Info(context.Context, string, ...interface{})     {}
func (*NoOpLogger) Warn(context.Context, string, ...interface{})     {}
func (*NoOpLogger) Error(context.Context, string, ...interface{})    {}
func (*NoOpLogger) Critical(context.Context, string, ...interface{}) {}
func (n *NoOpLogger) With(...interface{}) ports.Logger               { return n }

// WithCorrelationID tags ctx with the run's correlation id. qsiprep uses the
// run UUID so parent and child log lines can be joined.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return ports.WithCorrelationID(ctx, id)
}

// GenerateCorrelationID returns a fresh id for processes without a run.
func GenerateCorrelationID() string {
	return ports.GenerateCorrelationID()
}

var (
	_ ports.Logger = (*BufferedLogger)(nil)
	_ ports.Logger = (*NoOpLogger)(nil)
)
