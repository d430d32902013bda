package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/orchestrator"
	"github.com/pennlinc/qsiprep/internal/ui"
)

type runFlags struct {
	participantLabel []string
	workDir          string
	nprocs           int
	ompNThreads      int
	plugin           string
	pluginArgs       []string
	notrack          bool
	debug            []string
	reportsOnly      bool
	boilerplateOnly  bool
	writeGraph       bool
	reconOnly        bool
	reconSpec        string
	reconInput       string
	runReconall      bool
	runUUID          string
	denoiseMethod    string
	unringingMethod  string
	verbose          int
	quiet            int
}

// usageError marks mistakes on the command line; they exit with status 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func newRootCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "qsiprep <bids_dir> <output_dir> <analysis_level>",
		Short: "QSIPrep: q-Space Image Preprocessing workflows",
		Long: `QSIPrep builds and runs diffusion MRI preprocessing and reconstruction
workflows on a BIDS dataset. The only analysis level is "participant".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(3)(cmd, args); err != nil {
				return &usageError{err: err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQsiprep(cmd, args, flags)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	f := cmd.Flags()
	f.StringSliceVar(&flags.participantLabel, "participant-label", nil, "Participant labels to process, with or without the sub- prefix (default: all)")
	f.StringVarP(&flags.workDir, "work-dir", "w", envString("QSIPREP_WORK_DIR", "work"), "Path where intermediate results are stored")
	f.IntVar(&flags.nprocs, "nprocs", envInt("QSIPREP_NPROCS", 0), "Maximum number of concurrent nodes (0: all CPUs)")
	f.IntVar(&flags.ompNThreads, "omp-nthreads", envInt("QSIPREP_OMP_NTHREADS", 0), "Maximum number of threads per node (0: no limit)")
	f.StringVar(&flags.plugin, "plugin", envString("QSIPREP_PLUGIN", workflow.PluginMultiProc), "Execution plugin: Linear, MultiProc or Cluster")
	f.StringArrayVar(&flags.pluginArgs, "plugin-arg", nil, "Execution plugin argument as key=value (repeatable)")
	f.BoolVar(&flags.notrack, "notrack", envBool("QSIPREP_NOTRACK"), "Opt out of sending crash reports and usage statistics")
	f.StringSliceVar(&flags.debug, "debug", nil, "Debug features to enable (pdb, all)")
	f.BoolVar(&flags.reportsOnly, "reports-only", false, "Only generate reports, do not run workflows")
	f.BoolVar(&flags.boilerplateOnly, "boilerplate-only", false, "Generate the citation boilerplate only")
	f.BoolVar(&flags.writeGraph, "write-graph", false, "Write the workflow graph as graph.dot in the run directory")
	f.BoolVar(&flags.reconOnly, "recon-only", false, "Run reconstruction on existing qsiprep outputs only")
	f.StringVar(&flags.reconSpec, "recon-spec", "", "Built-in recon spec name or path to a YAML recon spec")
	f.StringVar(&flags.reconInput, "recon-input", "", "qsiprep derivatives to reconstruct (default: <output_dir>/qsiprep)")
	f.BoolVar(&flags.runReconall, "run-reconall", false, "Write FreeSurfer segmentation lookup tables with the outputs")
	f.StringVar(&flags.runUUID, "run-uuid", "", "Reuse a run identifier (default: generated)")
	f.StringVar(&flags.denoiseMethod, "denoise-method", "dwidenoise", "Denoising method: dwidenoise or none")
	f.StringVar(&flags.unringingMethod, "unringing-method", "mrdegibbs", "Gibbs unringing method: mrdegibbs or none")
	cmd.PersistentFlags().CountVarP(&flags.verbose, "verbose", "v", "Increase log verbosity (repeatable)")
	cmd.PersistentFlags().CountVarP(&flags.quiet, "quiet", "q", "Decrease log verbosity (repeatable)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newChildCmd())

	return cmd
}

func runQsiprep(cmd *cobra.Command, args []string, flags *runFlags) error {
	buffer := logging.NewEventBuffer(0)
	early := logging.NewBufferedLogger(buffer)

	cfg, err := buildConfig(backgroundIfNil(cmd.Context()), args, flags, early)
	if err != nil {
		return &usageError{err: err}
	}

	ctx := logging.WithCorrelationID(backgroundIfNil(cmd.Context()), cfg.Execution.RunUUID)
	logger, err := newLogger(cmd.ErrOrStderr(), flags.verbose, flags.quiet)
	if err != nil {
		return err
	}
	buffer.Flush(logger)

	tel := newTelemetry(ctx, cfg, logger)
	defer tel.Flush()

	orch, err := newOrchestrator(logger, tel)
	if err != nil {
		logger.Critical(ctx, "could not set up qsiprep", "error", err)
		return &orchestrator.ExitError{Code: 1, Err: err}
	}

	outcome, runErr := orch.Run(ctx, cfg)
	if outcome != nil && flags.quiet == 0 {
		printSummary(cmd, outcome)
	}
	return runErr
}

func printSummary(cmd *cobra.Command, outcome *orchestrator.Outcome) {
	cfg := outcome.Config
	summary := ui.NewSummary(ui.SummaryData{
		RunUUID:       cfg.Execution.RunUUID,
		OutputDir:     cfg.Execution.OutputDir,
		Participants:  cfg.Execution.ParticipantLabel,
		Results:       outcome.Results,
		FailedReports: outcome.FailedReports,
		ExitCode:      outcome.ExitCode,
		CitationPath:  outcome.CitationPath,
	})
	if !isTerminal(cmd.OutOrStdout()) {
		summary = summary.WithStyle(ui.PlainSummaryStyle())
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary.View())
}

func envString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string) bool {
	parsed, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && parsed
}

var errSameDirs = errors.New("the selected output folder is the same as the input BIDS folder")

// backgroundIfNil guards against commands executed without a context.
func backgroundIfNil(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
