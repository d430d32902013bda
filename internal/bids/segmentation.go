package bids

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed data/freesurfer_dseg.tsv
var freesurferLUT []byte

// SegmentationLUTs are the lookup tables written next to FreeSurfer-derived
// segmentations.
var SegmentationLUTs = []string{"desc-aseg_dseg.tsv", "desc-aparcaseg_dseg.tsv"}

// WriteSegmentationLUTs copies the FreeSurfer color lookup table into
// derivDir under every name in SegmentationLUTs.
func WriteSegmentationLUTs(derivDir string) error {
	if err := os.MkdirAll(derivDir, 0o755); err != nil {
		return fmt.Errorf("create derivatives directory: %w", err)
	}
	for _, name := range SegmentationLUTs {
		if err := os.WriteFile(filepath.Join(derivDir, name), freesurferLUT, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
