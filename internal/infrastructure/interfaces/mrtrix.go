package interfaces

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/ports"
	pkgerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

// MRtrix3 interface names.
const (
	MRConvertName     = "mrtrix.mrconvert"
	DWIDenoiseName    = "mrtrix.dwidenoise"
	MRDegibbsName     = "mrtrix.mrdegibbs"
	DWI2MaskName      = "mrtrix.dwi2mask"
	DWI2ResponseName  = "mrtrix.dwi2response"
	DWI2FODName       = "mrtrix.dwi2fod"
	MRTrixIngressName = "mrtrix.ingress"
)

// commandPlan is the argv an interface wants to run plus the outputs it will
// report once the command succeeds.
type commandPlan struct {
	args    []string
	outputs map[string]interface{}
}

// commandInterface adapts a command-line tool to ports.Interface.
type commandInterface struct {
	name     string
	plan     func(call ports.InterfaceCall) (commandPlan, error)
	describe func(node *workflow.Node) string
}

func (c commandInterface) Name() string { return c.name }

func (c commandInterface) Run(ctx context.Context, call ports.InterfaceCall) (map[string]interface{}, error) {
	if call.Runner == nil {
		return nil, pkgerrors.NewInterfaceError(c.name, fmt.Errorf("no command runner available"))
	}
	plan, err := c.plan(call)
	if err != nil {
		return nil, pkgerrors.NewInterfaceError(c.name, err)
	}
	if _, err := call.Runner.RunCommand(ctx, call.WorkDir, plan.args); err != nil {
		return nil, err
	}
	return plan.outputs, nil
}

func (c commandInterface) Describe(node *workflow.Node) string {
	if c.describe == nil {
		return ""
	}
	return c.describe(node)
}

func mrconvert() commandInterface {
	return commandInterface{
		name: MRConvertName,
		plan: func(call ports.InterfaceCall) (commandPlan, error) {
			in, err := requiredString(call.Inputs, "in_file")
			if err != nil {
				return commandPlan{}, err
			}
			ext := optionalString(call.Inputs, "out_ext")
			if ext == "" {
				ext = ".mif"
			}
			out := filepath.Join(call.WorkDir, stem(in)+ext)
			args := []string{"mrconvert", in}
			bval, bvec := optionalString(call.Inputs, "bval_file"), optionalString(call.Inputs, "bvec_file")
			if bval != "" && bvec != "" {
				args = append(args, "-fslgrad", bvec, bval)
			}
			if strides := optionalString(call.Inputs, "strides"); strides != "" {
				args = append(args, "-strides", strides)
			}
			args = append(args, threadArgs(call.Inputs)...)
			args = append(args, out, "-force")
			return commandPlan{args: args, outputs: map[string]interface{}{
				"out_file":  out,
				"bval_file": bval,
				"bvec_file": bvec,
			}}, nil
		},
		describe: func(*workflow.Node) string {
			return "Images were converted to the MRtrix3 image format with the gradient table embedded in the header using `mrconvert`."
		},
	}
}

func dwidenoise() commandInterface {
	return commandInterface{
		name: DWIDenoiseName,
		plan: func(call ports.InterfaceCall) (commandPlan, error) {
			in, err := requiredString(call.Inputs, "in_file")
			if err != nil {
				return commandPlan{}, err
			}
			extent := optionalInt(call.Inputs, "extent", 5)
			out := filepath.Join(call.WorkDir, stem(in)+"_denoised.mif")
			noise := filepath.Join(call.WorkDir, stem(in)+"_noise.mif")
			args := []string{"dwidenoise", in, out, "-noise", noise, "-extent", fmt.Sprintf("%d,%d,%d", extent, extent, extent)}
			args = append(args, threadArgs(call.Inputs)...)
			args = append(args, "-force")
			return commandPlan{args: args, outputs: map[string]interface{}{"out_file": out, "noise_file": noise}}, nil
		},
		describe: func(node *workflow.Node) string {
			extent := optionalInt(node.Inputs, "extent", 5)
			return fmt.Sprintf("The DWI time series were denoised using MP-PCA as implemented in MRtrix3's `dwidenoise` with a %d-voxel window.", extent)
		},
	}
}

func mrdegibbs() commandInterface {
	return commandInterface{
		name: MRDegibbsName,
		plan: func(call ports.InterfaceCall) (commandPlan, error) {
			in, err := requiredString(call.Inputs, "in_file")
			if err != nil {
				return commandPlan{}, err
			}
			out := filepath.Join(call.WorkDir, stem(in)+"_unringed.mif")
			args := append([]string{"mrdegibbs", in, out}, threadArgs(call.Inputs)...)
			args = append(args, "-force")
			return commandPlan{args: args, outputs: map[string]interface{}{"out_file": out}}, nil
		},
		describe: func(*workflow.Node) string {
			return "Gibbs ringing was removed using the local subvoxel-shift method implemented in MRtrix3's `mrdegibbs`."
		},
	}
}

func dwi2mask() commandInterface {
	return commandInterface{
		name: DWI2MaskName,
		plan: func(call ports.InterfaceCall) (commandPlan, error) {
			in, err := requiredString(call.Inputs, "in_file")
			if err != nil {
				return commandPlan{}, err
			}
			out := filepath.Join(call.WorkDir, stem(in)+"_mask.nii.gz")
			args := append([]string{"dwi2mask", in, out}, threadArgs(call.Inputs)...)
			args = append(args, "-force")
			return commandPlan{args: args, outputs: map[string]interface{}{"mask_file": out}}, nil
		},
		describe: func(*workflow.Node) string {
			return "A brain mask was estimated from the preprocessed DWI using `dwi2mask`."
		},
	}
}

func dwi2response() commandInterface {
	return commandInterface{
		name: DWI2ResponseName,
		plan: func(call ports.InterfaceCall) (commandPlan, error) {
			in, err := requiredString(call.Inputs, "in_file")
			if err != nil {
				return commandPlan{}, err
			}
			algorithm := optionalString(call.Inputs, "algorithm")
			if algorithm == "" {
				algorithm = "tournier"
			}
			wm := filepath.Join(call.WorkDir, "wm.txt")
			args := []string{"dwi2response", algorithm, in}
			outputs := map[string]interface{}{"wm_file": wm}
			if algorithm == "dhollander" || algorithm == "msmt_5tt" {
				gm := filepath.Join(call.WorkDir, "gm.txt")
				csf := filepath.Join(call.WorkDir, "csf.txt")
				args = append(args, wm, gm, csf)
				outputs["gm_file"] = gm
				outputs["csf_file"] = csf
			} else {
				args = append(args, wm)
			}
			if mask := optionalString(call.Inputs, "in_mask"); mask != "" {
				args = append(args, "-mask", mask)
			}
			args = append(args, threadArgs(call.Inputs)...)
			args = append(args, "-force")
			return commandPlan{args: args, outputs: outputs}, nil
		},
		describe: func(node *workflow.Node) string {
			algorithm := optionalString(node.Inputs, "algorithm")
			if algorithm == "" {
				algorithm = "tournier"
			}
			return fmt.Sprintf("Fiber response functions were estimated using the %s algorithm of `dwi2response`.", algorithm)
		},
	}
}

func dwi2fod() commandInterface {
	return commandInterface{
		name: DWI2FODName,
		plan: func(call ports.InterfaceCall) (commandPlan, error) {
			in, err := requiredString(call.Inputs, "in_file")
			if err != nil {
				return commandPlan{}, err
			}
			wmTxt, err := requiredString(call.Inputs, "wm_txt")
			if err != nil {
				return commandPlan{}, err
			}
			algorithm := optionalString(call.Inputs, "algorithm")
			if algorithm == "" {
				algorithm = "csd"
			}
			wmODF := filepath.Join(call.WorkDir, "wm_fod.mif")
			args := []string{"dwi2fod", algorithm, in, wmTxt, wmODF}
			outputs := map[string]interface{}{"wm_odf": wmODF}
			if algorithm == "msmt_csd" {
				for _, tissue := range []string{"gm", "csf"} {
					txt := optionalString(call.Inputs, tissue+"_txt")
					if txt == "" {
						continue
					}
					odf := filepath.Join(call.WorkDir, tissue+"_fod.mif")
					args = append(args, txt, odf)
					outputs[tissue+"_odf"] = odf
				}
			}
			if mask := optionalString(call.Inputs, "mask_file"); mask != "" {
				args = append(args, "-mask", mask)
			}
			args = append(args, threadArgs(call.Inputs)...)
			args = append(args, "-force")
			return commandPlan{args: args, outputs: outputs}, nil
		},
		describe: func(node *workflow.Node) string {
			algorithm := optionalString(node.Inputs, "algorithm")
			if algorithm == "" {
				algorithm = "csd"
			}
			return fmt.Sprintf("Fiber orientation distributions were estimated with the %s method of MRtrix3's `dwi2fod`.", algorithm)
		},
	}
}

// mrtrixIngress packs a preprocessed DWI and its gradients into a single
// .mif file. An MRtrix-format b-table takes precedence over FSL bval/bvec.
func mrtrixIngress() commandInterface {
	return commandInterface{
		name: MRTrixIngressName,
		plan: func(call ports.InterfaceCall) (commandPlan, error) {
			dwi, err := requiredString(call.Inputs, "dwi_file")
			if err != nil {
				return commandPlan{}, err
			}
			out := filepath.Join(call.WorkDir, stem(dwi)+".mif")
			args := []string{"mrconvert", dwi}
			bval, bvec := optionalString(call.Inputs, "bval_file"), optionalString(call.Inputs, "bvec_file")
			switch bFile := optionalString(call.Inputs, "b_file"); {
			case bFile != "":
				args = append(args, "-grad", bFile)
			case bval != "" && bvec != "":
				args = append(args, "-fslgrad", bvec, bval)
			default:
				return commandPlan{}, fmt.Errorf("no gradient table: need b_file or bval_file and bvec_file")
			}
			args = append(args, threadArgs(call.Inputs)...)
			args = append(args, out, "-force")
			return commandPlan{args: args, outputs: map[string]interface{}{"mif_file": out}}, nil
		},
	}
}
