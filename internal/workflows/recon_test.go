package workflows

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	qerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

func reconConfig(t *testing.T, spec string) *config.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.Workflow.ReconOnly = true
	cfg.Execution.ReconSpec = spec
	cfg.Execution.ParticipantLabel = []string{"01"}
	dwiDir := filepath.Join(cfg.Execution.QsiprepDir, "sub-01", "dwi")
	for _, suffix := range []string{"_desc-preproc_dwi.nii.gz", "_desc-preproc_dwi.bval", "_desc-preproc_dwi.bvec", "_desc-brain_mask.nii.gz"} {
		touch(t, filepath.Join(dwiDir, "sub-01"+suffix))
	}
	return cfg
}

func linkPorts(wf *workflow.Workflow, src, dst string) []workflow.PortPair {
	var pairs []workflow.PortPair
	for _, l := range wf.Links() {
		if l.Source.ID() == src && l.Dest.ID() == dst {
			pairs = append(pairs, workflow.PortPair{Source: l.SourcePort, Dest: l.DestPort})
		}
	}
	return pairs
}

func TestInitMRtrixVanillaCSDReconWorkflow(t *testing.T) {
	t.Parallel()

	wf, err := InitMRtrixVanillaCSDReconWorkflow("csd", "csd", map[string]interface{}{
		"response": map[string]interface{}{"algorithm": "tournier"},
		"fod":      map[string]interface{}{"algorithm": "csd"},
	}, 0)
	require.NoError(t, err)
	require.NoError(t, wf.Validate())
	assert.Len(t, wf.Links(), 9)

	assert.Equal(t, []workflow.PortPair{{Source: "wm_file", Dest: "wm_txt"}}, linkPorts(wf, "estimate_response", "estimate_fod"))
	assert.Equal(t, []workflow.PortPair{{Source: "mask_file", Dest: "in_mask"}}, linkPorts(wf, "inputnode", "estimate_response"))
	assert.Equal(t, []workflow.PortPair{{Source: "wm_odf", Dest: "mif_file"}}, linkPorts(wf, "estimate_fod", "outputnode"))

	response := mustNode(t, wf, "estimate_response")
	assert.Equal(t, "tournier", response.Inputs["algorithm"])
	_, hasThreads := response.Inputs["nthreads"]
	assert.False(t, hasThreads)
}

func TestInitMRtrixCSDMultiTissue(t *testing.T) {
	t.Parallel()

	wf, err := InitMRtrixVanillaCSDReconWorkflow("", "msmt", map[string]interface{}{
		"response": map[string]interface{}{"algorithm": "dhollander"},
		"fod":      map[string]interface{}{"algorithm": "msmt_csd"},
	}, 4)
	require.NoError(t, err)
	assert.Equal(t, "mrtrix_recon", wf.Name)
	assert.Len(t, linkPorts(wf, "estimate_response", "estimate_fod"), 3)
	assert.Equal(t, 4, mustNode(t, wf, "estimate_fod").Inputs["nthreads"])
}

func TestInitMRtrixCSDRejectsBadParameters(t *testing.T) {
	t.Parallel()

	_, err := InitMRtrixVanillaCSDReconWorkflow("csd", "csd", map[string]interface{}{"response": "tournier"}, 0)
	require.Error(t, err)
}

func TestLoadReconSpec(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"mrtrix_multishell_msmt", "mrtrix_singleshell_csd"}, BuiltinReconSpecs())

	spec, err := LoadReconSpec("mrtrix_singleshell_csd")
	require.NoError(t, err)
	assert.Equal(t, "mrtrix_singleshell_csd", spec.Name)
	require.Len(t, spec.Nodes, 1)
	assert.Equal(t, "MRTrix3", spec.Nodes[0].Software)

	path := filepath.Join(t.TempDir(), "custom.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: custom\nnodes:\n  - name: fit\n    software: MRTrix3\n    action: csd\n    output_suffix: fit\n"), 0o644))
	spec, err = LoadReconSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", spec.Name)

	_, err = LoadReconSpec("no_such_spec")
	var verr *qerrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "recon_spec", verr.Field)
}

func TestParseReconSpecValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"no name":        "nodes:\n  - name: a\n",
		"no nodes":       "name: x\n",
		"duplicate node": "name: x\nnodes:\n  - name: a\n  - name: a\n",
		"chained input":  "name: x\nnodes:\n  - name: a\n    input: b\n",
		"bad yaml":       "name: [x",
	}
	for name, doc := range cases {
		_, err := ParseReconSpec(name, []byte(doc))
		assert.Error(t, err, name)
	}
}

func TestInitQsireconWorkflow(t *testing.T) {
	t.Parallel()

	cfg := reconConfig(t, "mrtrix_singleshell_csd")
	wf, err := InitQsireconWorkflow(cfg)
	require.NoError(t, err)
	require.NoError(t, wf.Validate())
	assert.Equal(t, QsireconWorkflowName, wf.Name)

	prefix := "single_subject_01_wf.mrtrix_singleshell_csd_wf."
	in := mustNode(t, wf, prefix+"inputnode")
	assert.Equal(t, filepath.Join(cfg.Execution.QsiprepDir, "sub-01", "dwi", "sub-01_desc-preproc_dwi.nii.gz"), in.Inputs["dwi_file"])
	assert.Equal(t, "", in.Inputs["b_file"])

	fod := mustNode(t, wf, prefix+"csd.estimate_fod")
	assert.Equal(t, cfg.CrashDir("01"), fod.CrashDir)
	assert.Len(t, linkPorts(wf, prefix+"inputnode", prefix+"csd.inputnode"), 7)

	sink := mustNode(t, wf, prefix+"ds_csd")
	assert.Equal(t, filepath.Join(cfg.Execution.OutputDir, "qsirecon"), sink.Inputs["base_directory"])
	assert.Equal(t, "space-T1w_desc-csd_fod.mif", sink.Inputs["mappings"].(map[string]interface{})["mif_file"])
}

func TestInitQsireconWorkflowUnsupportedAction(t *testing.T) {
	t.Parallel()

	cfg := reconConfig(t, "")
	path := filepath.Join(t.TempDir(), "dsi.yml")
	require.NoError(t, os.WriteFile(path, []byte("name: dsi\nnodes:\n  - name: gqi\n    software: DSI Studio\n    action: reconstruction\n"), 0o644))
	cfg.Execution.ReconSpec = path
	_, err := InitQsireconWorkflow(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported action")
}

func TestInitQsireconWorkflowUsesReconInput(t *testing.T) {
	t.Parallel()

	cfg := reconConfig(t, "mrtrix_singleshell_csd")
	cfg.Execution.ReconInput = t.TempDir()
	_, err := InitQsireconWorkflow(cfg)
	require.Error(t, err)
	assert.Equal(t, cfg.Execution.ReconInput, ReconInputDir(cfg))
}
