// Package workflows assembles qsiprep's processing graphs from the
// registered interfaces.
package workflows

import (
	"fmt"
	"strings"

	"github.com/pennlinc/qsiprep/internal/bids"
	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/infrastructure/interfaces"
)

// Top-level workflow names.
const (
	QsiprepWorkflowName  = "qsiprep_wf"
	QsireconWorkflowName = "qsirecon_wf"
)

// InitQsiprepWorkflow builds the preprocessing graph for every participant in
// the configuration.
func InitQsiprepWorkflow(cfg *config.Config) (*workflow.Workflow, error) {
	top := workflow.New(QsiprepWorkflowName)
	top.BaseDir = cfg.Execution.WorkDir
	for _, label := range cfg.Execution.ParticipantLabel {
		sub, err := initSingleSubjectWorkflow(cfg, label)
		if err != nil {
			return nil, err
		}
		top.AddWorkflow(sub)
	}
	if len(top.Nodes()) == 0 {
		return nil, fmt.Errorf("no participants to process")
	}
	return top, nil
}

func initSingleSubjectWorkflow(cfg *config.Config, label string) (*workflow.Workflow, error) {
	runs, err := bids.CollectDWI(cfg.Execution.BIDSDir, label)
	if err != nil {
		return nil, err
	}
	sub := workflow.New(subjectWorkflowName(label))
	sub.CrashDir = cfg.CrashDir(label)
	for _, run := range runs {
		dwi, err := initDWIPreprocWorkflow(cfg, run)
		if err != nil {
			return nil, fmt.Errorf("participant %s: %w", label, err)
		}
		sub.AddWorkflow(dwi)
	}
	return sub, nil
}

// initDWIPreprocWorkflow wires one DWI series:
//
//	inputnode -> conform -> [denoise] -> [degibbs] -> export -> datasink
//	                                              \-> mask  ---/
func initDWIPreprocWorkflow(cfg *config.Config, run bids.DWIRun) (*workflow.Workflow, error) {
	wf := workflow.New(runWorkflowName("dwi_preproc", run.Entities()))
	threads := cfg.Nipype.OmpNThreads

	inputnode := workflow.NewNode(interfaces.IdentityName, "inputnode", map[string]interface{}{
		"dwi_file":  run.DWI,
		"bval_file": run.Bval,
		"bvec_file": run.Bvec,
	})
	conform := workflow.NewNode(interfaces.MRConvertName, "conform", mrtrixInputs(threads, map[string]interface{}{
		"strides": "-1,-2,3,4",
	}))
	conns := []workflow.Connection{{From: inputnode, To: conform, Ports: []workflow.PortPair{
		{Source: "dwi_file", Dest: "in_file"},
		{Source: "bval_file", Dest: "bval_file"},
		{Source: "bvec_file", Dest: "bvec_file"},
	}}}

	last := conform
	if cfg.Workflow.DenoiseMethod == "dwidenoise" {
		denoise := workflow.NewNode(interfaces.DWIDenoiseName, "denoise", mrtrixInputs(threads, map[string]interface{}{
			"extent": cfg.Workflow.DenoiseWindow,
		}))
		conns = append(conns, workflow.Connection{From: last, To: denoise, Ports: []workflow.PortPair{{Source: "out_file", Dest: "in_file"}}})
		last = denoise
	}
	if cfg.Workflow.UnringingMethod == "mrdegibbs" {
		degibbs := workflow.NewNode(interfaces.MRDegibbsName, "degibbs", mrtrixInputs(threads, nil))
		conns = append(conns, workflow.Connection{From: last, To: degibbs, Ports: []workflow.PortPair{{Source: "out_file", Dest: "in_file"}}})
		last = degibbs
	}

	mask := workflow.NewNode(interfaces.DWI2MaskName, "mask", mrtrixInputs(threads, nil))
	export := workflow.NewNode(interfaces.MRConvertName, "export", mrtrixInputs(threads, map[string]interface{}{
		"out_ext": ".nii.gz",
	}))
	prefix := entityPrefix(run.Entities())
	sink := workflow.NewNode(interfaces.DataSinkName, "ds_dwi", map[string]interface{}{
		"base_directory": cfg.Execution.QsiprepDir,
		"subject":        run.Subject,
		"datatype":       run.Datatype(),
		"mappings": map[string]interface{}{
			"dwi_file":  prefix + "desc-preproc_dwi.nii.gz",
			"bval_file": prefix + "desc-preproc_dwi.bval",
			"bvec_file": prefix + "desc-preproc_dwi.bvec",
			"mask_file": prefix + "desc-brain_mask.nii.gz",
		},
	})

	conns = append(conns,
		workflow.Connection{From: last, To: mask, Ports: []workflow.PortPair{{Source: "out_file", Dest: "in_file"}}},
		workflow.Connection{From: last, To: export, Ports: []workflow.PortPair{{Source: "out_file", Dest: "in_file"}}},
		workflow.Connection{From: conform, To: export, Ports: identityPorts("bval_file", "bvec_file")},
		workflow.Connection{From: export, To: sink, Ports: []workflow.PortPair{
			{Source: "out_file", Dest: "dwi_file"},
			{Source: "bval_file", Dest: "bval_file"},
			{Source: "bvec_file", Dest: "bvec_file"},
		}},
		workflow.Connection{From: mask, To: sink, Ports: identityPorts("mask_file")},
	)
	if err := wf.Connect(conns...); err != nil {
		return nil, err
	}
	return wf, nil
}

func subjectWorkflowName(label string) string {
	return "single_subject_" + label + "_wf"
}

// runWorkflowName derives a workflow name from BIDS entities, e.g.
// dwi_preproc_ses_1_run_01_wf.
func runWorkflowName(prefix, entities string) string {
	if entities == "" {
		return prefix + "_wf"
	}
	clean := strings.NewReplacer("-", "_", ".", "_").Replace(entities)
	return prefix + "_" + clean + "_wf"
}

func entityPrefix(entities string) string {
	if entities == "" {
		return ""
	}
	return entities + "_"
}

func identityPorts(fields ...string) []workflow.PortPair {
	pairs := make([]workflow.PortPair, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, workflow.PortPair{Source: f, Dest: f})
	}
	return pairs
}

func mrtrixInputs(threads int, extra map[string]interface{}) map[string]interface{} {
	in := make(map[string]interface{}, len(extra)+1)
	for k, v := range extra {
		in[k] = v
	}
	if threads > 0 {
		in["nthreads"] = threads
	}
	return in
}
