package ports

import (
	"context"

	"github.com/google/uuid"
)

// Logger defines qsiprep's structured logging contract. All log calls take
// key/value pairs, must be safe for concurrent use, and enrich entries with a
// correlation ID when one is present in the context. Common fields:
//   - correlation_id (UUIDv4, generated at CLI entry point)
//   - layer (domain|application|infrastructure)
//   - component (cli, workflow, utils, executor, ...)
//   - node_id / interface / participant_label
//   - duration_ms for timed operations
//
// Critical is reserved for run-terminating failures. It is logged at the
// highest severity but never exits the process.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, msg string, fields ...interface{})
	Error(ctx context.Context, msg string, fields ...interface{})
	Critical(ctx context.Context, msg string, fields ...interface{})
	With(fields ...interface{}) Logger
}

type correlationIDKey struct{}

// WithCorrelationID attaches the provided correlation ID to the context so
// downstream layers can emit correlated logs.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// GetCorrelationID extracts a correlation ID from context. It returns an empty
// string when none has been set.
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateCorrelationID produces a new UUIDv4 string suitable for log
// correlation. CLI entry-points invoke this once per process.
func GenerateCorrelationID() string {
	return uuid.NewString()
}
