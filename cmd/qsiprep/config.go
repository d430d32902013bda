package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/ports"
)

// buildConfig turns the positional arguments and flags into a validated
// run configuration.
func buildConfig(ctx context.Context, args []string, flags *runFlags, logger ports.Logger) (*config.Config, error) {
	bidsDir, err := filepath.Abs(args[0])
	if err != nil {
		return nil, fmt.Errorf("resolve bids_dir: %w", err)
	}
	if info, err := os.Stat(bidsDir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("BIDS root folder does not exist: %s", bidsDir)
	}
	outputDir, err := filepath.Abs(args[1])
	if err != nil {
		return nil, fmt.Errorf("resolve output_dir: %w", err)
	}
	if outputDir == bidsDir {
		return nil, fmt.Errorf("%w (%s)", errSameDirs, outputDir)
	}
	workDir, err := filepath.Abs(flags.workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work directory: %w", err)
	}
	pluginArgs, err := parsePluginArgs(flags.pluginArgs)
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	cfg.Environment.Version = releaseVersion()
	cfg.Environment.ExecEnv = config.DetectExecEnv()

	cfg.Execution.BIDSDir = bidsDir
	cfg.Execution.OutputDir = outputDir
	cfg.Execution.WorkDir = workDir
	cfg.Execution.AnalysisLevel = args[2]
	cfg.Execution.ParticipantLabel = flags.participantLabel
	cfg.Execution.RunUUID = flags.runUUID
	cfg.Execution.Debug = flags.debug
	cfg.Execution.Notrack = flags.notrack
	cfg.Execution.ReportsOnly = flags.reportsOnly
	cfg.Execution.BoilerplateOnly = flags.boilerplateOnly
	cfg.Execution.WriteGraph = flags.writeGraph
	cfg.Execution.Verbosity = flags.verbose - flags.quiet
	cfg.Execution.ReconSpec = flags.reconSpec
	if flags.reconInput != "" {
		reconInput, err := filepath.Abs(flags.reconInput)
		if err != nil {
			return nil, fmt.Errorf("resolve recon input: %w", err)
		}
		cfg.Execution.ReconInput = reconInput
	}

	cfg.Workflow.ReconOnly = flags.reconOnly
	cfg.Workflow.RunReconall = flags.runReconall
	cfg.Workflow.DenoiseMethod = flags.denoiseMethod
	cfg.Workflow.UnringingMethod = flags.unringingMethod

	cfg.Nipype.Plugin = flags.plugin
	cfg.Nipype.PluginArgs = pluginArgs
	cfg.Nipype.NProcs = flags.nprocs
	cfg.Nipype.OmpNThreads = flags.ompNThreads

	cfg.Init()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workflow.ReconOnly && cfg.Execution.ReconSpec == "" {
		return nil, fmt.Errorf("--recon-only requires --recon-spec")
	}

	logger.Debug(ctx, "resolved run configuration",
		"run_uuid", cfg.Execution.RunUUID,
		"exec_env", cfg.Environment.ExecEnv,
		"mode", cfg.Mode(),
	)
	return cfg, nil
}

// parsePluginArgs splits repeated key=value flags.
func parsePluginArgs(values []string) (map[string]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(values))
	for _, value := range values {
		key, val, ok := strings.Cut(value, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --plugin-arg %q: expected key=value", value)
		}
		out[key] = strings.TrimSpace(val)
	}
	return out, nil
}

func releaseVersion() string {
	if version == "dev" {
		return ""
	}
	return version
}
