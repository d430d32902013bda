package interfaces

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/ports"
	pkgerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

// DataSinkName is the interface that copies node outputs into the BIDS
// derivatives tree.
const DataSinkName = "bids.datasink"

// DataSink copies linked inputs to BIDS-named files. Static inputs:
//
//	base_directory  derivatives root (the qsiprep dir)
//	subject         participant label without the "sub-" prefix
//	datatype        BIDS datatype directory, "dwi" by default
//	mappings        input port -> filename suffix (e.g. "desc-preproc_dwi.nii.gz")
//
// Every mapped port that received a value is copied to
// <base_directory>/sub-<subject>/<datatype>/sub-<subject>_<suffix>.
type DataSink struct{}

// Name implements ports.Interface.
func (DataSink) Name() string { return DataSinkName }

// Run implements ports.Interface.
func (DataSink) Run(_ context.Context, call ports.InterfaceCall) (map[string]interface{}, error) {
	base, err := requiredString(call.Inputs, "base_directory")
	if err != nil {
		return nil, pkgerrors.NewInterfaceError(DataSinkName, err)
	}
	subject, err := requiredString(call.Inputs, "subject")
	if err != nil {
		return nil, pkgerrors.NewInterfaceError(DataSinkName, err)
	}
	datatype := optionalString(call.Inputs, "datatype")
	if datatype == "" {
		datatype = "dwi"
	}
	mappings := stringMap(call.Inputs["mappings"])
	if len(mappings) == 0 {
		return nil, pkgerrors.NewInterfaceError(DataSinkName, fmt.Errorf("missing required input %q", "mappings"))
	}

	keys := make([]string, 0, len(mappings))
	for port := range mappings {
		keys = append(keys, port)
	}
	sort.Strings(keys)

	destDir := filepath.Join(base, "sub-"+subject, datatype)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", destDir, err)
	}

	var written []string
	for _, port := range keys {
		src := optionalString(call.Inputs, port)
		if src == "" {
			continue
		}
		dest := filepath.Join(destDir, fmt.Sprintf("sub-%s_%s", subject, strings.TrimPrefix(mappings[port], "_")))
		if err := copyFile(src, dest); err != nil {
			return nil, fmt.Errorf("sink %s: %w", port, err)
		}
		written = append(written, dest)
	}
	return map[string]interface{}{"out_files": written}, nil
}

// Describe implements ports.Describer.
func (DataSink) Describe(*workflow.Node) string {
	return "Derivatives were written following the BIDS Derivatives specification."
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}
