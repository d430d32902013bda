// Package orchestrator drives a qsiprep run: it hands the configuration to
// isolated builder processes, executes the resulting graph, forwards crash
// files, and always finishes with report generation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/pennlinc/qsiprep/internal/bids"
	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/infrastructure/engine"
	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/ports"
	"github.com/pennlinc/qsiprep/internal/subprocess"
	"github.com/pennlinc/qsiprep/internal/telemetry"
	"github.com/pennlinc/qsiprep/internal/workflows"
	"github.com/pennlinc/qsiprep/pkg/diff"
)

// Isolator runs an entrypoint in a separate process.
type Isolator interface {
	RunIsolated(ctx context.Context, entrypoint, configPath string) (subprocess.Retval, error)
}

// ReportGenerator writes per-participant reports and returns how many failed.
type ReportGenerator interface {
	GenerateReports(ctx context.Context, labels []string, outputDir, runUUID string) int
}

// DerivativeWriter writes the metadata files at the derivatives root.
type DerivativeWriter interface {
	WriteDerivativeDescription(bidsDir, derivDir string, opts bids.DescriptionOptions) error
	WriteBidsignore(derivDir string) error
}

// BIDSDerivatives is the DerivativeWriter backed by the bids package.
type BIDSDerivatives struct{}

func (BIDSDerivatives) WriteDerivativeDescription(bidsDir, derivDir string, opts bids.DescriptionOptions) error {
	return bids.WriteDerivativeDescription(bidsDir, derivDir, opts)
}

func (BIDSDerivatives) WriteBidsignore(derivDir string) error {
	return bids.WriteBidsignore(derivDir)
}

// Orchestrator wires the stages of a run together.
type Orchestrator struct {
	Isolator Isolator
	// Entrypoints are used in place of the Isolator when post-mortem
	// debugging is requested.
	Entrypoints map[string]subprocess.Entrypoint
	Store       ports.GraphStore
	Executor    ports.WorkflowExecutor
	Reports     ReportGenerator
	Derivatives DerivativeWriter
	Telemetry   ports.Telemetry
	Logger      ports.Logger
}

// Outcome summarizes a finished run.
type Outcome struct {
	// Config is the configuration as last reloaded from disk.
	Config        *config.Config
	Results       []workflow.NodeResult
	FailedReports int
	ExitCode      int
	CitationPath  string
}

// Run executes the whole sequence for cfg. It returns nil on success and an
// *ExitError otherwise. A failed graph execution is wrapped, not replaced.
func (o *Orchestrator) Run(ctx context.Context, cfg *config.Config) (*Outcome, error) {
	logger := o.logger().With("component", "cli")
	out := &Outcome{Config: cfg}

	if cfg.PostMortem() {
		cfg.Nipype.Plugin = workflow.PluginLinear
	}
	configPath := cfg.Path()
	before, _ := cfg.Dumps()
	if err := cfg.ToFilename(configPath); err != nil {
		logger.Critical(ctx, "could not persist configuration", "path", configPath, "error", err)
		return o.finish(out, 1, err)
	}

	rv, err := o.buildWorkflow(ctx, cfg, configPath)
	if err != nil {
		logger.Critical(ctx, "could not run workflow builder", "error", err)
		return o.finish(out, 1, err)
	}
	exitcode := rv.Code()

	cfg, err = config.Load(configPath)
	if err != nil {
		logger.Critical(ctx, "could not reload configuration", "path", configPath, "error", err)
		return o.finish(out, 1, err)
	}
	out.Config = cfg
	if after, err := cfg.Dumps(); err == nil {
		if changed := diff.Changed(before, after); len(changed) > 0 {
			logger.Debug(ctx, "configuration updated by workflow builder", "changes", strings.Join(changed, "; "))
		}
	}

	if cfg.Execution.ReportsOnly {
		// Reports were generated by the builder; only the metadata remains.
		o.writeDerivatives(ctx, cfg)
		// A crashed builder never counted reports; its code is only an exit code.
		if rv.ProcessExit == 0 {
			out.FailedReports = exitcode
		}
		return o.finish(out, boolCode(exitcode > 0), nil)
	}

	var wf *workflow.Workflow
	if rv.Workflow != "" {
		wf, err = o.Store.Load(ctx, rv.Workflow)
		if err != nil {
			logger.Error(ctx, "could not load workflow graph", "path", rv.Workflow, "error", err)
			wf = nil
		}
	}
	if wf != nil && cfg.Execution.WriteGraph {
		dot := filepath.Join(cfg.RunDir(), workflows.GraphFileName)
		if err := workflows.WriteDot(wf, dot); err != nil {
			logger.Warn(ctx, "could not write workflow graph", "path", dot, "error", err)
		}
	}
	if exitcode == 0 && wf == nil {
		exitcode = ExSoftware
	}
	if exitcode != 0 {
		return o.finish(out, exitcode, nil)
	}

	if _, err := o.Isolator.RunIsolated(ctx, subprocess.EntrypointBuildBoilerplate, configPath); err != nil {
		logger.Warn(ctx, "could not generate boilerplate", "error", err)
	}

	if cfg.Execution.BoilerplateOnly {
		out.FailedReports = o.postRun(ctx, cfg)
		return o.finish(out, boolCode(out.FailedReports > 0), nil)
	}

	// Release memory held since graph loading before workers start.
	debug.FreeOSMemory()

	tracking := !cfg.Execution.Notrack
	if tracking {
		o.telemetry().SetTag("run_uuid", cfg.Execution.RunUUID)
		o.telemetry().SetTag("npart", strconv.Itoa(len(cfg.Execution.ParticipantLabel)))
		o.telemetry().AddBreadcrumb("QSIPrep started", ports.TelemetryLevelInfo)
		o.telemetry().CaptureMessage("QSIPrep started", ports.TelemetryLevelInfo)
	}
	if dump, err := cfg.Dumps(); err == nil {
		o.logger().With("component", "workflow").Debug(ctx, "QSIPrep config:\n\t\t"+strings.ReplaceAll(strings.TrimSpace(dump), "\n", "\n\t\t"))
	}

	errno := 1
	var runErr error
	func() {
		defer func() {
			out.FailedReports = o.postRun(ctx, cfg)
		}()
		out.Results, runErr = o.Executor.Run(ctx, wf, cfg.Nipype.GetPlugin())
		if runErr != nil {
			o.reportFailure(ctx, cfg, runErr)
			return
		}
		out.CitationPath = o.reportSuccess(ctx, cfg)
		errno = 0
	}()

	return o.finish(out, boolCode(errno+out.FailedReports > 0), runErr)
}

func (o *Orchestrator) buildWorkflow(ctx context.Context, cfg *config.Config, configPath string) (subprocess.Retval, error) {
	if cfg.PostMortem() {
		entry, ok := o.Entrypoints[subprocess.EntrypointBuildWorkflow]
		if !ok {
			return subprocess.Retval{}, fmt.Errorf("no in-process entrypoint %q", subprocess.EntrypointBuildWorkflow)
		}
		o.logger().Warn(ctx, "building workflow in-process for post-mortem debugging")
		return subprocess.RunInProcess(ctx, entry, configPath), nil
	}
	return o.Isolator.RunIsolated(ctx, subprocess.EntrypointBuildWorkflow, configPath)
}

// reportFailure forwards the crash files of the run and logs the failure.
// err is left untouched for the caller.
func (o *Orchestrator) reportFailure(ctx context.Context, cfg *config.Config, err error) {
	logger := o.logger().With("component", "workflow")
	if !cfg.Execution.Notrack {
		for _, label := range cfg.Execution.ParticipantLabel {
			files, globErr := engine.FindCrashFiles(cfg.CrashDir(label))
			if globErr != nil {
				logger.Warn(ctx, "could not list crash files", "participant_label", label, "error", globErr)
				continue
			}
			for _, file := range files {
				if perr := o.telemetry().ProcessCrashfile(ctx, file); perr != nil {
					logger.Warn(ctx, "could not forward crash file", "path", file, "error", perr)
				}
			}
		}
		if !errors.Is(err, workflow.ErrWorkflowFailed) {
			o.telemetry().CaptureException(err)
		}
	}
	logger.Critical(ctx, fmt.Sprintf("QSIPrep failed: %s", err))
}

func (o *Orchestrator) reportSuccess(ctx context.Context, cfg *config.Config) string {
	logger := o.logger().With("component", "workflow")
	if !cfg.Execution.Notrack {
		o.telemetry().AddBreadcrumb("QSIPrep finished without errors", ports.TelemetryLevelInfo)
		o.telemetry().CaptureMessage("QSIPrep finished without errors", ports.TelemetryLevelInfo)
	}
	logger.Info(ctx, "QSIPrep finished successfully!")

	citation := ""
	if _, err := os.Stat(cfg.CitationPath()); err == nil {
		citation = citationLocation(cfg)
		logger.Info(ctx, fmt.Sprintf("Works derived from this QSIPrep execution should include the boilerplate text found in %s.", citation))
	}

	if cfg.Workflow.RunReconall {
		if err := bids.WriteSegmentationLUTs(cfg.Execution.QsiprepDir); err != nil {
			logger.Warn(ctx, "could not write segmentation lookup tables", "error", err)
		}
	}
	return citation
}

// citationLocation hides container mount points behind <OUTPUT_PATH>.
func citationLocation(cfg *config.Config) string {
	path := cfg.CitationPath()
	if !cfg.InContainer() {
		return path
	}
	rel, err := filepath.Rel(cfg.Execution.OutputDir, path)
	if err != nil {
		return path
	}
	return filepath.Join("<OUTPUT_PATH>", rel)
}

// postRun generates reports and derivative metadata. Per-participant
// failures are counted, never returned.
func (o *Orchestrator) postRun(ctx context.Context, cfg *config.Config) int {
	failed := 0
	if o.Reports != nil {
		failed = o.Reports.GenerateReports(ctx, cfg.Execution.ParticipantLabel, cfg.Execution.QsiprepDir, cfg.Execution.RunUUID)
	}
	o.writeDerivatives(ctx, cfg)
	if failed > 0 && !cfg.Execution.Notrack {
		o.telemetry().CaptureMessage(fmt.Sprintf("Report generation failed for %d subjects", failed), ports.TelemetryLevelError)
	}
	return failed
}

func (o *Orchestrator) writeDerivatives(ctx context.Context, cfg *config.Config) {
	writer := o.Derivatives
	if writer == nil {
		writer = BIDSDerivatives{}
	}
	opts := bids.DescriptionOptions{Version: cfg.Environment.Version, ExecEnv: cfg.Environment.ExecEnv}
	if err := writer.WriteDerivativeDescription(cfg.Execution.BIDSDir, cfg.Execution.QsiprepDir, opts); err != nil {
		o.logger().Error(ctx, "could not write dataset_description.json", "error", err)
	}
	if err := writer.WriteBidsignore(cfg.Execution.QsiprepDir); err != nil {
		o.logger().Error(ctx, "could not write .bidsignore", "error", err)
	}
}

func (o *Orchestrator) finish(out *Outcome, code int, err error) (*Outcome, error) {
	out.ExitCode = code
	return out, exitFor(code, err)
}

func (o *Orchestrator) logger() ports.Logger {
	if o.Logger == nil {
		return logging.NewNoOpLogger()
	}
	return o.Logger
}

func (o *Orchestrator) telemetry() ports.Telemetry {
	if o.Telemetry == nil {
		return telemetry.NewNoop()
	}
	return o.Telemetry
}
