package ports

import "context"

// TelemetryLevel mirrors the severity levels accepted by the telemetry backend.
type TelemetryLevel string

const (
	TelemetryLevelInfo    TelemetryLevel = "info"
	TelemetryLevelWarning TelemetryLevel = "warning"
	TelemetryLevelError   TelemetryLevel = "error"
	TelemetryLevelFatal   TelemetryLevel = "fatal"
)

// Telemetry forwards run breadcrumbs, messages, exceptions, and crash files
// to an error tracking backend. Every method is a no-op when telemetry is
// disabled.
type Telemetry interface {
	Enabled() bool
	SetTag(key, value string)
	AddBreadcrumb(message string, level TelemetryLevel)
	CaptureMessage(message string, level TelemetryLevel)
	CaptureException(err error)
	// ProcessCrashfile parses a crash file emitted by the execution backend
	// and forwards its contents.
	ProcessCrashfile(ctx context.Context, path string) error
	Flush()
}
