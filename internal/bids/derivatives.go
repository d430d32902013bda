package bids

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
)

const (
	bidsVersion = "1.8.0"
	codeURL     = "https://github.com/PennLINC/qsiprep"
)

// GeneratedBy is a BIDS GeneratedBy entry.
type GeneratedBy struct {
	Name      string     `json:"Name"`
	Version   string     `json:"Version,omitempty"`
	CodeURL   string     `json:"CodeURL,omitempty"`
	Container *Container `json:"Container,omitempty"`
}

// Container records the image a derivative was produced in.
type Container struct {
	Type string `json:"Type"`
	Tag  string `json:"Tag"`
}

// SourceDataset identifies the raw dataset a derivative was produced from.
type SourceDataset struct {
	URL     string `json:"URL,omitempty"`
	DOI     string `json:"DOI,omitempty"`
	Version string `json:"Version,omitempty"`
}

// DatasetDescription is the content of dataset_description.json.
type DatasetDescription struct {
	Name             string          `json:"Name"`
	BIDSVersion      string          `json:"BIDSVersion"`
	DatasetType      string          `json:"DatasetType"`
	GeneratedBy      []GeneratedBy   `json:"GeneratedBy"`
	HowToAcknowledge string          `json:"HowToAcknowledge,omitempty"`
	License          string          `json:"License,omitempty"`
	SourceDatasets   []SourceDataset `json:"SourceDatasets,omitempty"`
}

// DescriptionOptions carries run metadata for the derivative description.
type DescriptionOptions struct {
	Version string
	ExecEnv string
}

// WriteDerivativeDescription writes <derivDir>/dataset_description.json. The
// source dataset's DOI and License are carried over; when the source is a git
// repository its HEAD commit and origin URL are recorded as well.
func WriteDerivativeDescription(bidsDir, derivDir string, opts DescriptionOptions) error {
	desc := DatasetDescription{
		Name:        "QSIPrep - Q-Space Image Preprocessing",
		BIDSVersion: bidsVersion,
		DatasetType: "derivative",
		GeneratedBy: []GeneratedBy{{
			Name:    "qsiprep",
			Version: opts.Version,
			CodeURL: codeURL,
		}},
		HowToAcknowledge: "Include the generated boilerplate in the methods section.",
	}
	switch opts.ExecEnv {
	case "docker", "qsiprep-docker":
		desc.GeneratedBy[0].Container = &Container{Type: "docker", Tag: "pennlinc/qsiprep:" + opts.Version}
	case "singularity":
		desc.GeneratedBy[0].Container = &Container{Type: "singularity", Tag: "pennlinc/qsiprep:" + opts.Version}
	}

	source := SourceDataset{}
	if orig, err := readDescription(filepath.Join(bidsDir, "dataset_description.json")); err == nil {
		desc.License = orig.License
		if orig.DOI != "" {
			source.DOI = orig.DOI
			source.URL = "https://doi.org/" + strings.TrimPrefix(orig.DOI, "doi:")
		}
	}
	if url, version, ok := gitVersion(bidsDir); ok {
		if source.URL == "" {
			source.URL = url
		}
		source.Version = version
	}
	if source != (SourceDataset{}) {
		desc.SourceDatasets = []SourceDataset{source}
	}

	if err := os.MkdirAll(derivDir, 0o755); err != nil {
		return fmt.Errorf("create derivatives directory: %w", err)
	}
	data, err := json.MarshalIndent(desc, "", "    ")
	if err != nil {
		return fmt.Errorf("encode dataset description: %w", err)
	}
	return os.WriteFile(filepath.Join(derivDir, "dataset_description.json"), append(data, '\n'), 0o644)
}

type rawDescription struct {
	License string `json:"License"`
	DOI     string `json:"DatasetDOI"`
}

func readDescription(path string) (rawDescription, error) {
	var desc rawDescription
	data, err := os.ReadFile(path)
	if err != nil {
		return desc, err
	}
	err = json.Unmarshal(data, &desc)
	return desc, err
}

// gitVersion reports the origin URL and HEAD commit of the repository that
// contains dir, if any.
func gitVersion(dir string) (string, string, bool) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", "", false
	}
	head, err := repo.Head()
	if err != nil {
		return "", "", false
	}
	url := ""
	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		url = remote.Config().URLs[0]
	}
	if url == "" {
		if abs, err := filepath.Abs(dir); err == nil {
			url = "file://" + abs
		}
	}
	return url, head.Hash().String(), true
}

var bidsIgnore = []string{
	"*.html",
	"logs/",
	"figures/",
	"*_xfm.*",
	"*.surf.gii",
	"*_dwiref.nii.gz",
	"*_b0series.nii.gz",
	"*_confounds.tsv",
	"*_desc-ImageQC_dwi.csv",
	"*.b",
	"*.b_table.txt",
	"*_dseg.tsv",
}

// WriteBidsignore writes <derivDir>/.bidsignore listing files the BIDS
// validator should skip.
func WriteBidsignore(derivDir string) error {
	if err := os.MkdirAll(derivDir, 0o755); err != nil {
		return fmt.Errorf("create derivatives directory: %w", err)
	}
	return os.WriteFile(filepath.Join(derivDir, ".bidsignore"), []byte(strings.Join(bidsIgnore, "\n")+"\n"), 0o644)
}
