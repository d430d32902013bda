package workflows

import (
	"context"
	"path/filepath"

	"github.com/pennlinc/qsiprep/internal/bids"
	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/infrastructure/graphstore"
	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/ports"
	"github.com/pennlinc/qsiprep/internal/subprocess"
)

// ReportGenerator writes per-participant reports and returns how many failed.
type ReportGenerator interface {
	GenerateReports(ctx context.Context, labels []string, outputDir, runUUID string) int
}

// Builder hosts the entrypoints executed inside isolated child processes.
type Builder struct {
	Store     ports.GraphStore
	Describer NodeDescriber
	Reports   ReportGenerator
	Logger    ports.Logger
}

// GraphPath returns where the builder stores the graph of a run.
func GraphPath(cfg *config.Config) string {
	return filepath.Join(cfg.RunDir(), graphstore.FileName)
}

// Entrypoints maps child entrypoint names to their implementation.
func (b *Builder) Entrypoints() map[string]subprocess.Entrypoint {
	return map[string]subprocess.Entrypoint{
		subprocess.EntrypointBuildWorkflow:    b.BuildWorkflow,
		subprocess.EntrypointBuildBoilerplate: b.BuildBoilerplate,
	}
}

// BuildWorkflow loads the persisted configuration, builds the processing
// graph and stores it next to the configuration. Participant discovery is
// written back to the configuration file for the parent to reload.
func (b *Builder) BuildWorkflow(ctx context.Context, configPath string) (subprocess.Retval, error) {
	logger := b.logger().With("component", "workflow")
	cfg, err := config.Load(configPath)
	if err != nil {
		return subprocess.Retval{}, err
	}

	if len(cfg.Execution.ParticipantLabel) == 0 {
		source := cfg.Execution.BIDSDir
		if cfg.Workflow.ReconOnly {
			source = ReconInputDir(cfg)
		}
		labels, err := bids.Participants(source)
		if err != nil {
			logger.Error(ctx, "could not list participants", "error", err)
			return subprocess.Retval{}.WithCode(1), nil
		}
		if len(labels) == 0 {
			logger.Error(ctx, "no participants found", "dir", source)
			return subprocess.Retval{}.WithCode(1), nil
		}
		cfg.Execution.ParticipantLabel = labels
		if err := cfg.ToFilename(configPath); err != nil {
			return subprocess.Retval{}, err
		}
	}

	if cfg.Execution.ReportsOnly {
		logger.Info(ctx, "running solely the report generation workflow", "participants", len(cfg.Execution.ParticipantLabel))
		failed := 0
		if b.Reports != nil {
			failed = b.Reports.GenerateReports(ctx, cfg.Execution.ParticipantLabel, cfg.Execution.QsiprepDir, cfg.Execution.RunUUID)
		}
		if failed > 0 {
			logger.Error(ctx, "report generation failed", "failed", failed)
		}
		return subprocess.Retval{}.WithCode(failed), nil
	}

	var wf *workflow.Workflow
	if cfg.Workflow.ReconOnly {
		wf, err = InitQsireconWorkflow(cfg)
	} else {
		wf, err = InitQsiprepWorkflow(cfg)
	}
	if err != nil {
		logger.Critical(ctx, "could not build workflow", "mode", cfg.Mode(), "error", err)
		return subprocess.Retval{}.WithCode(1), nil
	}

	path := GraphPath(cfg)
	if err := b.Store.Save(ctx, wf, path); err != nil {
		return subprocess.Retval{}, err
	}
	logger.Info(ctx, "workflow built", "workflow", wf.Name, "nodes", len(wf.Nodes()), "participants", cfg.Execution.ParticipantLabel)
	return subprocess.Retval{Workflow: path}, nil
}

// BuildBoilerplate renders the citation text of the graph built earlier in
// the run.
func (b *Builder) BuildBoilerplate(ctx context.Context, configPath string) (subprocess.Retval, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return subprocess.Retval{}, err
	}
	wf, err := b.Store.Load(ctx, GraphPath(cfg))
	if err != nil {
		return subprocess.Retval{}, err
	}
	path, err := WriteBoilerplate(cfg, wf, b.Describer)
	if err != nil {
		return subprocess.Retval{}, err
	}
	b.logger().Debug(ctx, "boilerplate written", "path", path)
	return subprocess.Retval{Workflow: GraphPath(cfg)}, nil
}

func (b *Builder) logger() ports.Logger {
	if b.Logger == nil {
		return logging.NewNoOpLogger()
	}
	return b.Logger
}
