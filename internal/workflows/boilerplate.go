package workflows

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/pennlinc/qsiprep/internal/config"
	"github.com/pennlinc/qsiprep/internal/domain/workflow"
)

// NodeDescriber supplies the methods text contributed by a node's interface.
type NodeDescriber interface {
	Describe(node *workflow.Node) string
}

var boilerplateTemplate = template.Must(template.New("citation").Parse(`# Methods

Results included in this manuscript come from {{.Stage}} performed
using *{{.Package}}* {{.Version}}, which is based on *MRtrix3*.
{{if .Paragraphs}}
## {{.Heading}}
{{range .Paragraphs}}
{{.}}
{{end}}{{end}}
### Copyright Waiver

The above boilerplate text was automatically generated by {{.Package}}
with the express intention that users should copy and paste this
text into their manuscripts *unchanged*.
`))

type boilerplateView struct {
	Package    string
	Version    string
	Stage      string
	Heading    string
	Paragraphs []string
}

// RenderBoilerplate produces the citation markdown for wf. Each distinct
// description appears once, in node order.
func RenderBoilerplate(cfg *config.Config, wf *workflow.Workflow, describer NodeDescriber) (string, error) {
	view := boilerplateView{
		Package: cfg.Mode(),
		Version: cfg.Environment.Version,
		Stage:   "preprocessing",
		Heading: "Diffusion data preprocessing",
	}
	if cfg.Workflow.ReconOnly {
		view.Stage = "reconstruction"
		view.Heading = "Diffusion reconstruction"
	}
	if view.Version == "" {
		view.Version = "(development version)"
	}

	seen := make(map[string]struct{})
	for _, node := range wf.Nodes() {
		text := describer.Describe(node)
		if text == "" {
			continue
		}
		if _, dup := seen[text]; dup {
			continue
		}
		seen[text] = struct{}{}
		view.Paragraphs = append(view.Paragraphs, text)
	}

	var buf bytes.Buffer
	if err := boilerplateTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render boilerplate: %w", err)
	}
	return buf.String(), nil
}

// WriteBoilerplate renders the boilerplate and stores it at the citation path.
func WriteBoilerplate(cfg *config.Config, wf *workflow.Workflow, describer NodeDescriber) (string, error) {
	text, err := RenderBoilerplate(cfg, wf, describer)
	if err != nil {
		return "", err
	}
	path := cfg.CitationPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create citation directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write citation: %w", err)
	}
	return path, nil
}
