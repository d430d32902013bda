package workflows

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pennlinc/qsiprep/internal/bids"
	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/infrastructure/interfaces"
	pkgerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

//go:embed recon_specs/*.yml
var builtinReconSpecs embed.FS

// ReconSpec describes a reconstruction pipeline as a list of nodes, each
// selecting a software package and an action.
type ReconSpec struct {
	Name  string      `yaml:"name"`
	Space string      `yaml:"space,omitempty"`
	Nodes []ReconNode `yaml:"nodes"`
}

// ReconNode is one step of a ReconSpec.
type ReconNode struct {
	Name         string                 `yaml:"name"`
	Software     string                 `yaml:"software"`
	Action       string                 `yaml:"action"`
	OutputSuffix string                 `yaml:"output_suffix"`
	Input        string                 `yaml:"input,omitempty"`
	Parameters   map[string]interface{} `yaml:"parameters,omitempty"`
}

// BuiltinReconSpecs lists the names of the bundled reconstruction specs.
func BuiltinReconSpecs() []string {
	entries, err := fs.ReadDir(builtinReconSpecs, "recon_specs")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yml"))
	}
	sort.Strings(names)
	return names
}

// LoadReconSpec resolves nameOrPath as a bundled spec name first and as a
// YAML file path otherwise.
func LoadReconSpec(nameOrPath string) (*ReconSpec, error) {
	if nameOrPath == "" {
		return nil, pkgerrors.NewValidationError("recon_spec", "no reconstruction spec given", nil)
	}
	data, err := builtinReconSpecs.ReadFile(path.Join("recon_specs", nameOrPath+".yml"))
	source := nameOrPath
	if err != nil {
		data, err = os.ReadFile(nameOrPath)
		if errors.Is(err, os.ErrNotExist) {
			return nil, pkgerrors.NewValidationError("recon_spec",
				fmt.Sprintf("%q is neither a file nor one of %s", nameOrPath, strings.Join(BuiltinReconSpecs(), ", ")), err)
		}
		if err != nil {
			return nil, pkgerrors.NewParseError(nameOrPath, 0, err)
		}
	}
	return ParseReconSpec(source, data)
}

// ParseReconSpec decodes and checks a reconstruction spec.
func ParseReconSpec(source string, data []byte) (*ReconSpec, error) {
	var spec ReconSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, pkgerrors.NewParseError(source, 0, err)
	}
	if spec.Name == "" {
		return nil, pkgerrors.NewValidationError("name", "reconstruction spec has no name", nil)
	}
	if len(spec.Nodes) == 0 {
		return nil, pkgerrors.NewValidationError("nodes", "reconstruction spec has no nodes", nil)
	}
	seen := make(map[string]struct{}, len(spec.Nodes))
	for _, n := range spec.Nodes {
		if n.Name == "" {
			return nil, pkgerrors.NewValidationError("nodes.name", "reconstruction node has no name", nil)
		}
		if _, dup := seen[n.Name]; dup {
			return nil, pkgerrors.NewValidationError("nodes.name", fmt.Sprintf("duplicate reconstruction node %q", n.Name), nil)
		}
		seen[n.Name] = struct{}{}
		if n.Input != "" && n.Input != "qsiprep" {
			return nil, pkgerrors.NewValidationError("nodes.input", fmt.Sprintf("node %q: unsupported input %q", n.Name, n.Input), nil)
		}
	}
	return &spec, nil
}

// InitQsireconWorkflow builds the reconstruction graph for every participant
// from the configured recon spec.
func InitQsireconWorkflow(cfg *config.Config) (*workflow.Workflow, error) {
	spec, err := LoadReconSpec(cfg.Execution.ReconSpec)
	if err != nil {
		return nil, err
	}
	top := workflow.New(QsireconWorkflowName)
	top.BaseDir = cfg.Execution.WorkDir
	for _, label := range cfg.Execution.ParticipantLabel {
		sub, err := initSingleSubjectReconWorkflow(cfg, spec, label)
		if err != nil {
			return nil, err
		}
		top.AddWorkflow(sub)
	}
	if len(top.Nodes()) == 0 {
		return nil, fmt.Errorf("no participants to reconstruct")
	}
	return top, nil
}

// ReconInputDir returns the qsiprep derivatives a reconstruction reads.
func ReconInputDir(cfg *config.Config) string {
	if cfg.Execution.ReconInput != "" {
		return cfg.Execution.ReconInput
	}
	return cfg.Execution.QsiprepDir
}

func initSingleSubjectReconWorkflow(cfg *config.Config, spec *ReconSpec, label string) (*workflow.Workflow, error) {
	runs, err := bids.CollectReconInputs(ReconInputDir(cfg), label)
	if err != nil {
		return nil, err
	}
	sub := workflow.New(subjectWorkflowName(label))
	sub.CrashDir = cfg.CrashDir(label)
	for _, run := range runs {
		wf, err := initReconRunWorkflow(cfg, spec, run)
		if err != nil {
			return nil, fmt.Errorf("participant %s: %w", label, err)
		}
		sub.AddWorkflow(wf)
	}
	return sub, nil
}

func initReconRunWorkflow(cfg *config.Config, spec *ReconSpec, run bids.ReconRun) (*workflow.Workflow, error) {
	wf := workflow.New(runWorkflowName(spec.Name, run.Entities))
	inputs := make(map[string]interface{}, len(bids.QsiprepOutputNames))
	for _, name := range bids.QsiprepOutputNames {
		inputs[name] = run.Files[name]
	}
	inputnode := workflow.NewNode(interfaces.IdentityName, "inputnode", inputs)
	wf.Add(inputnode)

	for _, rn := range spec.Nodes {
		nodeWf, err := reconNodeWorkflow(rn, cfg.Nipype.OmpNThreads)
		if err != nil {
			return nil, err
		}
		nodeIn, _ := nodeWf.Node("inputnode")
		nodeOut, _ := nodeWf.Node("outputnode")
		wf.AddWorkflow(nodeWf)

		sink := workflow.NewNode(interfaces.DataSinkName, "ds_"+rn.Name, map[string]interface{}{
			"base_directory": reconOutputDir(cfg),
			"subject":        run.Subject,
			"datatype":       run.Datatype,
			"mappings": map[string]interface{}{
				"mif_file": entityPrefix(run.Entities) + "space-" + spaceOrDefault(spec.Space) + "_desc-" + rn.OutputSuffix + "_fod.mif",
			},
		})
		if err := wf.Connect(
			workflow.Connection{From: inputnode, To: nodeIn, Ports: identityPorts(bids.QsiprepOutputNames...)},
			workflow.Connection{From: nodeOut, To: sink, Ports: identityPorts("mif_file")},
		); err != nil {
			return nil, err
		}
	}
	return wf, nil
}

func reconNodeWorkflow(rn ReconNode, threads int) (*workflow.Workflow, error) {
	switch {
	case rn.Software == "MRTrix3" && rn.Action == "csd":
		return InitMRtrixVanillaCSDReconWorkflow(rn.Name, rn.OutputSuffix, rn.Parameters, threads)
	default:
		return nil, pkgerrors.NewValidationError("nodes.action",
			fmt.Sprintf("node %q: unsupported action %q for software %q", rn.Name, rn.Action, rn.Software), nil)
	}
}

func reconOutputDir(cfg *config.Config) string {
	return filepath.Join(cfg.Execution.OutputDir, "qsirecon")
}

func spaceOrDefault(space string) string {
	if space == "" {
		return "T1w"
	}
	return space
}
