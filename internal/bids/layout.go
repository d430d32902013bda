package bids

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DWIRun is one diffusion acquisition with its gradient sidecars.
type DWIRun struct {
	Subject string
	DWI     string
	Bval    string
	Bvec    string
}

// Entities returns the BIDS entities between the subject and the suffix,
// e.g. "ses-1_run-01" for sub-01_ses-1_run-01_dwi.nii.gz.
func (r DWIRun) Entities() string {
	base := trimImageExt(filepath.Base(r.DWI))
	base = strings.TrimSuffix(base, "_dwi")
	base = strings.TrimPrefix(base, "sub-"+r.Subject)
	return strings.TrimPrefix(base, "_")
}

// Datatype returns the datatype directory relative to the subject, e.g.
// "ses-1/dwi".
func (r DWIRun) Datatype() string {
	dir := filepath.Dir(r.DWI)
	parent := filepath.Base(filepath.Dir(dir))
	if strings.HasPrefix(parent, "ses-") {
		return filepath.Join(parent, "dwi")
	}
	return "dwi"
}

// Participants lists the subject labels present in a BIDS dataset.
func Participants(bidsDir string) ([]string, error) {
	entries, err := os.ReadDir(bidsDir)
	if err != nil {
		return nil, fmt.Errorf("read BIDS directory: %w", err)
	}
	var labels []string
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), "sub-") {
			labels = append(labels, strings.TrimPrefix(entry.Name(), "sub-"))
		}
	}
	sort.Strings(labels)
	return labels, nil
}

// CollectDWI finds the DWI runs of a participant, including all sessions.
func CollectDWI(bidsDir, label string) ([]DWIRun, error) {
	subjectDir := filepath.Join(bidsDir, "sub-"+label)
	if _, err := os.Stat(subjectDir); err != nil {
		return nil, fmt.Errorf("participant %s: %w", label, err)
	}

	var matches []string
	for _, pattern := range []string{
		filepath.Join(subjectDir, "dwi", "*_dwi.nii*"),
		filepath.Join(subjectDir, "ses-*", "dwi", "*_dwi.nii*"),
	} {
		found, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
	}
	sort.Strings(matches)

	runs := make([]DWIRun, 0, len(matches))
	for _, dwi := range matches {
		prefix := strings.TrimSuffix(trimImageExt(dwi), "_dwi")
		run := DWIRun{Subject: label, DWI: dwi, Bval: prefix + "_dwi.bval", Bvec: prefix + "_dwi.bvec"}
		for _, sidecar := range []string{run.Bval, run.Bvec} {
			if _, err := os.Stat(sidecar); err != nil {
				return nil, fmt.Errorf("DWI %s is missing sidecar: %w", filepath.Base(dwi), err)
			}
		}
		runs = append(runs, run)
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("participant %s has no DWI data in %s", label, subjectDir)
	}
	return runs, nil
}

// QsiprepOutputNames are the preprocessed outputs a reconstruction workflow
// can consume.
var QsiprepOutputNames = []string{
	"dwi_file",
	"bval_file",
	"bvec_file",
	"b_file",
	"mask_file",
	"t1_file",
	"t1_brain_mask",
}

var reconSuffixes = map[string]string{
	"dwi_file":  "_desc-preproc_dwi.nii.gz",
	"bval_file": "_desc-preproc_dwi.bval",
	"bvec_file": "_desc-preproc_dwi.bvec",
	"b_file":    "_desc-preproc_dwi.b",
	"mask_file": "_desc-brain_mask.nii.gz",
}

// ReconRun is one preprocessed DWI series with its companion files, keyed by
// QsiprepOutputNames. Missing files map to the empty string.
type ReconRun struct {
	Subject  string
	Entities string
	Datatype string
	Files    map[string]string
}

// CollectReconInputs finds preprocessed qsiprep outputs of a participant.
func CollectReconInputs(qsiprepDir, label string) ([]ReconRun, error) {
	subjectDir := filepath.Join(qsiprepDir, "sub-"+label)
	var matches []string
	for _, pattern := range []string{
		filepath.Join(subjectDir, "dwi", "*_desc-preproc_dwi.nii.gz"),
		filepath.Join(subjectDir, "ses-*", "dwi", "*_desc-preproc_dwi.nii.gz"),
	} {
		found, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		matches = append(matches, found...)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("participant %s has no preprocessed DWI data in %s", label, subjectDir)
	}

	anatPrefix := filepath.Join(subjectDir, "anat", "sub-"+label)
	runs := make([]ReconRun, 0, len(matches))
	for _, dwi := range matches {
		prefix := strings.TrimSuffix(dwi, reconSuffixes["dwi_file"])
		files := make(map[string]string, len(QsiprepOutputNames))
		for _, name := range QsiprepOutputNames {
			files[name] = ""
		}
		for name, suffix := range reconSuffixes {
			if exists(prefix + suffix) {
				files[name] = prefix + suffix
			}
		}
		if t1 := anatPrefix + "_desc-preproc_T1w.nii.gz"; exists(t1) {
			files["t1_file"] = t1
		}
		if mask := anatPrefix + "_desc-brain_mask.nii.gz"; exists(mask) {
			files["t1_brain_mask"] = mask
		}
		entry := DWIRun{Subject: label, DWI: dwi}
		entities := strings.TrimPrefix(strings.TrimPrefix(filepath.Base(prefix), "sub-"+label), "_")
		runs = append(runs, ReconRun{Subject: label, Entities: entities, Datatype: entry.Datatype(), Files: files})
	}
	return runs, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func trimImageExt(path string) string {
	for _, ext := range []string{".nii.gz", ".nii"} {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path
}
