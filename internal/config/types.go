package config

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
)

// Config is the run configuration shared by the parent process and its
// isolated children. It is persisted as TOML at <work_dir>/<run_uuid>/config.toml
// and reloaded wholesale after every child exits.
type Config struct {
	Environment Environment `toml:"environment"`
	Execution   Execution   `toml:"execution"`
	Workflow    Workflow    `toml:"workflow"`
	Nipype      Nipype      `toml:"nipype"`
}

// Environment describes the host qsiprep runs on.
type Environment struct {
	Version  string `toml:"version"`
	ExecEnv  string `toml:"exec_env" validate:"oneof=posix singularity docker qsiprep-docker"`
	CPUCount int    `toml:"cpu_count" validate:"gte=0"`
}

// Execution holds paths and run-level switches.
type Execution struct {
	BIDSDir          string   `toml:"bids_dir" validate:"required"`
	OutputDir        string   `toml:"output_dir" validate:"required"`
	WorkDir          string   `toml:"work_dir" validate:"required"`
	QsiprepDir       string   `toml:"qsiprep_dir"`
	LogDir           string   `toml:"log_dir"`
	RunUUID          string   `toml:"run_uuid" validate:"required,run_uuid"`
	AnalysisLevel    string   `toml:"analysis_level" validate:"eq=participant"`
	ParticipantLabel []string `toml:"participant_label" validate:"dive,participant_label"`
	Debug            []string `toml:"debug"`
	Notrack          bool     `toml:"notrack"`
	ReportsOnly      bool     `toml:"reports_only"`
	BoilerplateOnly  bool     `toml:"boilerplate_only"`
	WriteGraph       bool     `toml:"write_graph"`
	Verbosity        int      `toml:"verbosity"`
	ReconSpec        string   `toml:"recon_spec"`
	ReconInput       string   `toml:"recon_input"`
}

// Workflow selects what gets built.
type Workflow struct {
	ReconOnly       bool   `toml:"recon_only"`
	RunReconall     bool   `toml:"run_reconall"`
	DenoiseMethod   string `toml:"denoise_method" validate:"oneof=dwidenoise none"`
	DenoiseWindow   int    `toml:"denoise_window" validate:"gte=0"`
	UnringingMethod string `toml:"unringing_method" validate:"oneof=mrdegibbs none"`
}

// Nipype configures the execution backend.
type Nipype struct {
	Plugin      string            `toml:"plugin" validate:"plugin"`
	PluginArgs  map[string]string `toml:"plugin_args"`
	NProcs      int               `toml:"nprocs" validate:"gte=0"`
	OmpNThreads int               `toml:"omp_nthreads" validate:"gte=0"`
}

// Default returns a configuration populated with default values. Paths and
// the run UUID are left for the caller.
func Default() *Config {
	return &Config{
		Environment: Environment{
			ExecEnv:  "posix",
			CPUCount: runtime.NumCPU(),
		},
		Execution: Execution{
			AnalysisLevel: "participant",
		},
		Workflow: Workflow{
			DenoiseMethod:   "dwidenoise",
			DenoiseWindow:   5,
			UnringingMethod: "mrdegibbs",
		},
		Nipype: Nipype{
			Plugin: workflow.PluginMultiProc,
		},
	}
}

// Init fills derived fields: output subdirectories and a run UUID when none
// was supplied.
func (c *Config) Init() {
	if c.Execution.RunUUID == "" {
		c.Execution.RunUUID = NewRunUUID()
	}
	if c.Execution.QsiprepDir == "" && c.Execution.OutputDir != "" {
		c.Execution.QsiprepDir = filepath.Join(c.Execution.OutputDir, "qsiprep")
	}
	if c.Execution.LogDir == "" && c.Execution.QsiprepDir != "" {
		c.Execution.LogDir = filepath.Join(c.Execution.QsiprepDir, "logs")
	}
	c.Execution.ParticipantLabel = NormalizeLabels(c.Execution.ParticipantLabel)
	c.normalize()
}

// Path returns the canonical location of the persisted configuration.
func (c *Config) Path() string {
	return filepath.Join(c.Execution.WorkDir, c.Execution.RunUUID, "config.toml")
}

// RunDir returns <work_dir>/<run_uuid>, where run-scoped handoff files live.
func (c *Config) RunDir() string {
	return filepath.Join(c.Execution.WorkDir, c.Execution.RunUUID)
}

// CrashDir returns the run-scoped log directory of a participant.
func (c *Config) CrashDir(label string) string {
	return filepath.Join(c.Execution.QsiprepDir, "sub-"+label, "log", c.Execution.RunUUID)
}

// CitationPath returns <qsiprep_dir>/logs/CITATION.md.
func (c *Config) CitationPath() string {
	return filepath.Join(c.Execution.QsiprepDir, "logs", "CITATION.md")
}

// Mode returns "qsirecon" when only reconstruction was requested.
func (c *Config) Mode() string {
	if c.Workflow.ReconOnly {
		return "qsirecon"
	}
	return "qsiprep"
}

// HasDebug reports whether the named debug flag (or "all") is set.
func (c *Config) HasDebug(flag string) bool {
	for _, d := range c.Execution.Debug {
		if d == flag || d == "all" {
			return true
		}
	}
	return false
}

// PostMortem reports whether interactive debugging was requested. It
// disables process isolation and forces the Linear plugin.
func (c *Config) PostMortem() bool {
	for _, d := range c.Execution.Debug {
		if d == "pdb" {
			return true
		}
	}
	return false
}

// TelemetryEnabled reports whether crash reports may be sent.
func (c *Config) TelemetryEnabled() bool {
	return !c.Execution.Notrack && len(c.Execution.Debug) == 0
}

// InContainer reports whether the run happens inside a qsiprep container.
func (c *Config) InContainer() bool {
	switch c.Environment.ExecEnv {
	case "singularity", "docker", "qsiprep-docker":
		return true
	}
	return false
}

// GetPlugin returns the execution backend settings.
func (n Nipype) GetPlugin() workflow.PluginSettings {
	args := make(map[string]string, len(n.PluginArgs)+1)
	for k, v := range n.PluginArgs {
		args[k] = v
	}
	if n.Plugin == workflow.PluginMultiProc && n.NProcs > 0 {
		if _, ok := args["n_procs"]; !ok {
			args["n_procs"] = strconv.Itoa(n.NProcs)
		}
	}
	return workflow.PluginSettings{Plugin: n.Plugin, Args: args}
}

// NormalizeLabels strips "sub-" prefixes and drops duplicates, keeping order.
func NormalizeLabels(labels []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = strings.TrimPrefix(strings.TrimSpace(label), "sub-")
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

// normalize makes empty collections nil so a decoded snapshot compares equal
// to the configuration it was written from.
func (c *Config) normalize() {
	if len(c.Execution.ParticipantLabel) == 0 {
		c.Execution.ParticipantLabel = nil
	}
	if len(c.Execution.Debug) == 0 {
		c.Execution.Debug = nil
	}
	if len(c.Nipype.PluginArgs) == 0 {
		c.Nipype.PluginArgs = nil
	}
}
