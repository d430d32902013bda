package interfaces

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pennlinc/qsiprep/internal/ports"
)

type recordingRunner struct {
	calls [][]string
	err   error
}

func (r *recordingRunner) RunCommand(_ context.Context, _ string, args []string) (ports.CommandOutput, error) {
	r.calls = append(r.calls, append([]string(nil), args...))
	return ports.CommandOutput{}, r.err
}

func TestIdentityPassesInputsThrough(t *testing.T) {
	t.Parallel()

	out, err := Identity{}.Run(context.Background(), ports.InterfaceCall{Inputs: map[string]interface{}{"dwi_file": "a.nii.gz"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"dwi_file": "a.nii.gz"}, out)
}

func TestDenoiseBuildsCommand(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	work := t.TempDir()
	out, err := dwidenoise().Run(context.Background(), ports.InterfaceCall{
		Inputs:  map[string]interface{}{"in_file": "/data/sub-01_dwi.nii.gz", "nthreads": 4},
		WorkDir: work,
		Runner:  runner,
	})
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{
		"dwidenoise", "/data/sub-01_dwi.nii.gz", filepath.Join(work, "sub-01_dwi_denoised.mif"),
		"-noise", filepath.Join(work, "sub-01_dwi_noise.mif"),
		"-extent", "5,5,5", "-nthreads", "4", "-force",
	}, runner.calls[0])
	assert.Equal(t, filepath.Join(work, "sub-01_dwi_denoised.mif"), out["out_file"])
}

func TestResponseMultiTissueOutputs(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	out, err := dwi2response().Run(context.Background(), ports.InterfaceCall{
		Inputs:  map[string]interface{}{"in_file": "dwi.mif", "algorithm": "dhollander", "in_mask": "mask.nii.gz"},
		WorkDir: "/work",
		Runner:  runner,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "gm_file")
	assert.Contains(t, out, "csf_file")
	assert.Contains(t, runner.calls[0], "-mask")
}

func TestFODRequiresResponse(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	_, err := dwi2fod().Run(context.Background(), ports.InterfaceCall{
		Inputs: map[string]interface{}{"in_file": "dwi.mif"},
		Runner: runner,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wm_txt")
	assert.Empty(t, runner.calls)
}

func TestCommandFailurePropagates(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{err: errors.New("exit status 1")}
	_, err := dwi2mask().Run(context.Background(), ports.InterfaceCall{
		Inputs: map[string]interface{}{"in_file": "dwi.mif"},
		Runner: runner,
	})
	require.Error(t, err)
}

func TestDataSinkCopiesMappedOutputs(t *testing.T) {
	t.Parallel()

	src := filepath.Join(t.TempDir(), "dwi_denoised.nii.gz")
	require.NoError(t, os.WriteFile(src, []byte("dwi"), 0o644))
	base := t.TempDir()

	out, err := DataSink{}.Run(context.Background(), ports.InterfaceCall{Inputs: map[string]interface{}{
		"base_directory": base,
		"subject":        "01",
		"mappings":       map[string]interface{}{"dwi_file": "desc-preproc_dwi.nii.gz", "mask_file": "desc-brain_mask.nii.gz"},
		"dwi_file":       src,
	}})
	require.NoError(t, err)

	dest := filepath.Join(base, "sub-01", "dwi", "sub-01_desc-preproc_dwi.nii.gz")
	assert.Equal(t, []string{dest}, out["out_files"])
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "dwi", string(data))
}

func TestDataSinkRequiresSubject(t *testing.T) {
	t.Parallel()

	_, err := DataSink{}.Run(context.Background(), ports.InterfaceCall{Inputs: map[string]interface{}{
		"base_directory": t.TempDir(),
		"mappings":       map[string]string{"dwi_file": "dwi.nii.gz"},
	}})
	require.Error(t, err)
}

func TestIngressPrefersMRtrixGradients(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	out, err := mrtrixIngress().Run(context.Background(), ports.InterfaceCall{
		Inputs: map[string]interface{}{
			"dwi_file":  "/qsiprep/sub-01_desc-preproc_dwi.nii.gz",
			"bval_file": "dwi.bval",
			"bvec_file": "dwi.bvec",
			"b_file":    "dwi.b",
		},
		WorkDir: "/work",
		Runner:  runner,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mrconvert", "/qsiprep/sub-01_desc-preproc_dwi.nii.gz", "-grad", "dwi.b", "/work/sub-01_desc-preproc_dwi.mif", "-force"}, runner.calls[0])
	assert.Equal(t, "/work/sub-01_desc-preproc_dwi.mif", out["mif_file"])
}

func TestIngressRequiresGradients(t *testing.T) {
	t.Parallel()

	runner := &recordingRunner{}
	_, err := mrtrixIngress().Run(context.Background(), ports.InterfaceCall{
		Inputs: map[string]interface{}{"dwi_file": "dwi.nii.gz", "bval_file": "dwi.bval"},
		Runner: runner,
	})
	require.Error(t, err)
	assert.Empty(t, runner.calls)
}
