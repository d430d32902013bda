package telemetry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/pennlinc/qsiprep/internal/infrastructure/engine"
	"github.com/pennlinc/qsiprep/internal/ports"
)

// DSNEnvVar names the environment variable holding the Sentry DSN.
const DSNEnvVar = "QSIPREP_SENTRY_DSN"

const (
	chunkSize    = 16384
	maxTagLength = 36
	flushTimeout = 5 * time.Second
)

// Errors that are the user's environment rather than qsiprep; they are not
// worth reporting.
var ignoredPatterns = []string{
	"no space left on device",
	"cannot allocate memory",
	"signal: interrupt",
	"signal: killed",
	"context canceled",
}

// Options configures the Sentry client.
type Options struct {
	DSN     string
	Release string
	ExecEnv string
	// Tags are attached to every event, truncated to 36 characters.
	Tags map[string]string
	// BeforeSend runs after the built-in filter; tests use it to capture events.
	BeforeSend func(*sentry.Event) *sentry.Event
}

// Sentry implements ports.Telemetry on top of sentry-go.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry initialises a Sentry-backed telemetry client.
func NewSentry(opts Options) (*Sentry, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Release:     opts.Release,
		Environment: environmentFor(opts.Release),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			if ignored(event) {
				return nil
			}
			if opts.BeforeSend != nil {
				return opts.BeforeSend(event)
			}
			return event
		},
	})
	if err != nil {
		return nil, fmt.Errorf("initialise sentry: %w", err)
	}

	hub := sentry.NewHub(client, sentry.NewScope())
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag("exec_env", opts.ExecEnv)
		if opts.ExecEnv == "qsiprep-docker" {
			scope.SetTag("docker_version", os.Getenv("DOCKER_VERSION_8395080871"))
		}
		keys := make([]string, 0, len(opts.Tags))
		for k := range opts.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			scope.SetTag(k, truncate(opts.Tags[k], maxTagLength))
		}
	})
	return &Sentry{hub: hub}, nil
}

// Enabled implements ports.Telemetry.
func (s *Sentry) Enabled() bool { return true }

// SetTag implements ports.Telemetry.
func (s *Sentry) SetTag(key, value string) {
	s.hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTag(key, value)
	})
}

// AddBreadcrumb implements ports.Telemetry.
func (s *Sentry) AddBreadcrumb(message string, level ports.TelemetryLevel) {
	s.hub.AddBreadcrumb(&sentry.Breadcrumb{Message: message, Level: sentryLevel(level)}, nil)
}

// CaptureMessage implements ports.Telemetry.
func (s *Sentry) CaptureMessage(message string, level ports.TelemetryLevel) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentryLevel(level))
		s.hub.CaptureMessage(message)
	})
}

// CaptureException implements ports.Telemetry.
func (s *Sentry) CaptureException(err error) {
	if err == nil {
		return
	}
	s.hub.CaptureException(err)
}

// ProcessCrashfile reads a crash file and reports it as a fatal event
// fingerprinted by node name and error summary.
func (s *Sentry) ProcessCrashfile(_ context.Context, path string) error {
	record, err := engine.ReadCrashFile(path)
	if err != nil {
		return err
	}

	nodeName := record.Node
	if idx := strings.LastIndex(nodeName, "."); idx >= 0 {
		nodeName = nodeName[idx+1:]
	}
	gist := firstLine(record.Error)
	title := fmt.Sprintf("%s: %s", nodeName, gist)

	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelFatal)
		scope.SetTag("node_name", nodeName)
		scope.SetTag("interface", record.Interface)
		scope.SetFingerprint([]string{title})
		scope.SetExtra("crashfile", filepath.Base(path))
		scope.SetExtra("inputs", record.Inputs)
		scope.SetExtra("hostname", record.Hostname)
		for i, chunk := range chunks(strings.Join(record.Traceback, "\n"), chunkSize) {
			scope.SetExtra(fmt.Sprintf("traceback_%02d", i), chunk)
		}
		s.hub.CaptureMessage(title + "\n\n" + record.Error)
	})
	return nil
}

// Flush implements ports.Telemetry.
func (s *Sentry) Flush() {
	s.hub.Flush(flushTimeout)
}

func environmentFor(release string) string {
	switch strings.ToLower(os.Getenv("QSIPREP_DEV")) {
	case "1", "on", "yes", "y", "true":
		return "dev"
	}
	if strings.Contains(release, "+") {
		return "dev"
	}
	return "prod"
}

func sentryLevel(level ports.TelemetryLevel) sentry.Level {
	switch level {
	case ports.TelemetryLevelWarning:
		return sentry.LevelWarning
	case ports.TelemetryLevelError:
		return sentry.LevelError
	case ports.TelemetryLevelFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}

func ignored(event *sentry.Event) bool {
	texts := []string{event.Message}
	for _, exc := range event.Exception {
		texts = append(texts, exc.Value)
	}
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, pattern := range ignoredPatterns {
			if strings.Contains(lower, pattern) {
				return true
			}
		}
	}
	return false
}

func chunks(s string, size int) []string {
	if s == "" {
		return nil
	}
	var out []string
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	return append(out, s)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ ports.Telemetry = (*Sentry)(nil)
