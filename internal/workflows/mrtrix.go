package workflows

import (
	"fmt"

	"github.com/pennlinc/qsiprep/internal/bids"
	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/infrastructure/interfaces"
)

// InitMRtrixVanillaCSDReconWorkflow estimates fiber response functions and
// fits FODs with MRtrix3. The inputnode exposes every qsiprep output; the
// outputnode exposes mif_file, the white matter FOD image.
//
// params may hold "response" and "fod" maps, passed to dwi2response and
// dwi2fod respectively.
func InitMRtrixVanillaCSDReconWorkflow(name, outputSuffix string, params map[string]interface{}, threads int) (*workflow.Workflow, error) {
	if name == "" {
		name = "mrtrix_recon"
	}
	responseParams, err := paramSection(params, "response")
	if err != nil {
		return nil, err
	}
	fodParams, err := paramSection(params, "fod")
	if err != nil {
		return nil, err
	}

	wf := workflow.New(name)
	inputnode := workflow.NewNode(interfaces.IdentityName, "inputnode", emptyFields(bids.QsiprepOutputNames))
	outputnode := workflow.NewNode(interfaces.IdentityName, "outputnode", nil)
	createMif := workflow.NewNode(interfaces.MRTrixIngressName, "create_mif", mrtrixInputs(threads, nil))
	estimateResponse := workflow.NewNode(interfaces.DWI2ResponseName, "estimate_response", mrtrixInputs(threads, responseParams))
	estimateFOD := workflow.NewNode(interfaces.DWI2FODName, "estimate_fod", mrtrixInputs(threads, fodParams))

	conns := []workflow.Connection{
		{From: inputnode, To: createMif, Ports: identityPorts("dwi_file", "bval_file", "bvec_file", "b_file")},
		{From: createMif, To: estimateResponse, Ports: []workflow.PortPair{{Source: "mif_file", Dest: "in_file"}}},
		{From: inputnode, To: estimateResponse, Ports: []workflow.PortPair{{Source: "mask_file", Dest: "in_mask"}}},
		{From: createMif, To: estimateFOD, Ports: []workflow.PortPair{{Source: "mif_file", Dest: "in_file"}}},
		{From: estimateResponse, To: estimateFOD, Ports: []workflow.PortPair{{Source: "wm_file", Dest: "wm_txt"}}},
		{From: estimateFOD, To: outputnode, Ports: []workflow.PortPair{{Source: "wm_odf", Dest: "mif_file"}}},
	}
	if multiTissue(responseParams) {
		conns = append(conns, workflow.Connection{From: estimateResponse, To: estimateFOD, Ports: []workflow.PortPair{
			{Source: "gm_file", Dest: "gm_txt"},
			{Source: "csf_file", Dest: "csf_txt"},
		}})
	}
	if err := wf.Connect(conns...); err != nil {
		return nil, err
	}
	return wf, nil
}

func paramSection(params map[string]interface{}, key string) (map[string]interface{}, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return map[string]interface{}{}, nil
	}
	section, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("parameters.%s must be a mapping, got %T", key, raw)
	}
	return section, nil
}

func multiTissue(response map[string]interface{}) bool {
	switch response["algorithm"] {
	case "dhollander", "msmt_5tt":
		return true
	}
	return false
}

func emptyFields(fields []string) map[string]interface{} {
	in := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		in[f] = ""
	}
	return in
}
