package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/infrastructure/engine"
	"github.com/pennlinc/qsiprep/internal/infrastructure/events"
	"github.com/pennlinc/qsiprep/internal/infrastructure/graphstore"
	"github.com/pennlinc/qsiprep/internal/infrastructure/interfaces"
	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/orchestrator"
	"github.com/pennlinc/qsiprep/internal/ports"
	"github.com/pennlinc/qsiprep/internal/reports"
	"github.com/pennlinc/qsiprep/internal/subprocess"
	"github.com/pennlinc/qsiprep/internal/telemetry"
	"github.com/pennlinc/qsiprep/internal/workflows"
)

// services are shared by the parent run and the isolated children.
type services struct {
	registry *interfaces.Registry
	store    *graphstore.YAMLStore
	reports  *reports.Generator
	builder  *workflows.Builder
}

func newServices(logger ports.Logger) (*services, error) {
	spec, err := reports.DefaultSpec()
	if err != nil {
		return nil, fmt.Errorf("load reports spec: %w", err)
	}
	registry := interfaces.NewDefaultRegistry()
	store := graphstore.NewYAMLStore(logger.With("component", "graphstore"))
	generator := reports.NewGenerator(spec, "qsiprep", logger.With("component", "reports"))

	return &services{
		registry: registry,
		store:    store,
		reports:  generator,
		builder: &workflows.Builder{
			Store:     store,
			Describer: registry,
			Reports:   generator,
			Logger:    logger.With("component", "workflow"),
		},
	}, nil
}

func newOrchestrator(logger ports.Logger, tel ports.Telemetry) (*orchestrator.Orchestrator, error) {
	svc, err := newServices(logger)
	if err != nil {
		return nil, err
	}
	runner, err := subprocess.NewRunner(logger.With("component", "subprocess"))
	if err != nil {
		return nil, err
	}
	publisher := events.NewLoggingPublisher(logger.With("component", "events"))
	if _, err := publisher.Subscribe(ports.EventNodeFailed, nodeFailureBreadcrumbs(tel)); err != nil {
		return nil, err
	}
	executor := engine.NewExecutor(svc.registry,
		engine.WithExecutorLogger(logger.With("component", "engine")),
		engine.WithExecutorEvents(publisher),
	)

	return &orchestrator.Orchestrator{
		Isolator:    runner,
		Entrypoints: svc.builder.Entrypoints(),
		Store:       svc.store,
		Executor:    executor,
		Reports:     svc.reports,
		Derivatives: orchestrator.BIDSDerivatives{},
		Telemetry:   tel,
		Logger:      logger,
	}, nil
}

// nodeFailureBreadcrumbs leaves a telemetry trail of failed nodes, so the
// exception captured at the end of the run shows where it started.
func nodeFailureBreadcrumbs(tel ports.Telemetry) ports.EventHandler {
	return func(_ context.Context, event ports.DomainEvent) error {
		if !tel.Enabled() {
			return nil
		}
		node := "unknown"
		if data, ok := event.Payload().(map[string]interface{}); ok {
			if id, ok := data["node_id"].(string); ok {
				node = id
			}
		}
		tel.AddBreadcrumb("node failed: "+node, ports.TelemetryLevelError)
		return nil
	}
}

func newLogger(w io.Writer, verbose, quiet int) (*logging.Logger, error) {
	logger, err := logging.New(logging.Options{
		Writer:        w,
		Level:         logging.LevelFromVerbosity(verbose, quiet),
		HumanReadable: isTerminal(w),
		Layer:         "cli",
		Component:     "cli",
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

// newTelemetry returns a Sentry client when tracking is allowed and a DSN
// is configured. Any failure degrades to the no-op client.
func newTelemetry(ctx context.Context, cfg *config.Config, logger ports.Logger) ports.Telemetry {
	dsn := os.Getenv(telemetry.DSNEnvVar)
	if !cfg.TelemetryEnabled() || dsn == "" {
		return telemetry.NewNoop()
	}
	client, err := telemetry.NewSentry(telemetry.Options{
		DSN:     dsn,
		Release: cfg.Environment.Version,
		ExecEnv: cfg.Environment.ExecEnv,
		Tags: map[string]string{
			"exec_env": cfg.Environment.ExecEnv,
			"mode":     cfg.Mode(),
		},
	})
	if err != nil {
		logger.Warn(ctx, "telemetry disabled", "error", err)
		return telemetry.NewNoop()
	}
	return client
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
