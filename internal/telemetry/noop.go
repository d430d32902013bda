package telemetry

import (
	"context"

	"github.com/pennlinc/qsiprep/internal/ports"
)

// Noop discards every telemetry call. It is used when tracking is disabled.
type Noop struct{}

// NewNoop returns a disabled telemetry client.
func NewNoop() ports.Telemetry { return Noop{} }

func (Noop) Enabled() bool { return false }

func (Noop) SetTag(string, string) {}

func (Noop) AddBreadcrumb(string, ports.TelemetryLevel) {}

func (Noop) CaptureMessage(string, ports.TelemetryLevel) {}

func (Noop) CaptureException(error) {}

func (Noop) ProcessCrashfile(context.Context, string) error { return nil }

func (Noop) Flush() {}
