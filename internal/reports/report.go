package reports

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pennlinc/qsiprep/internal/infrastructure/engine"
	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/ports"
)

// Generator renders one HTML report per participant.
type Generator struct {
	Spec        *Spec
	PackageName string
	Logger      ports.Logger
}

// NewGenerator creates a report generator. A nil logger disables logging.
func NewGenerator(spec *Spec, packageName string, logger ports.Logger) *Generator {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Generator{Spec: spec, PackageName: packageName, Logger: logger}
}

type figure struct {
	Title   string
	Caption string
	Path    string
	Inline  template.HTML
}

type sectionView struct {
	Name    string
	Figures []figure
}

type crashView struct {
	File    string
	Node    string
	Summary string
	Details []string
}

type reportView struct {
	Package     string
	Subject     string
	RunUUID     string
	Sections    []sectionView
	Boilerplate string
	Errors      []crashView
}

// GenerateReports writes <outputDir>/sub-<label>.html for every label and
// returns how many participants failed. A participant's failure is logged
// and counted; it never stops the remaining participants.
func (g *Generator) GenerateReports(ctx context.Context, labels []string, outputDir, runUUID string) int {
	failed := 0
	for _, label := range labels {
		if err := g.generateOne(label, outputDir, runUUID); err != nil {
			failed++
			g.Logger.Error(ctx, "report generation failed", "participant_label", label, "error", err)
			continue
		}
		g.Logger.Info(ctx, "report generated", "participant_label", label, "path", filepath.Join(outputDir, "sub-"+label+".html"))
	}
	return failed
}

func (g *Generator) generateOne(label, outputDir, runUUID string) error {
	if g.Spec == nil {
		return fmt.Errorf("no report spec")
	}
	subjectDir := filepath.Join(outputDir, "sub-"+label)
	info, err := os.Stat(subjectDir)
	if err != nil {
		return fmt.Errorf("participant output missing: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("participant output %s is not a directory", subjectDir)
	}

	view := reportView{Package: g.PackageName, Subject: label, RunUUID: runUUID}

	figures, err := collectFigures(subjectDir)
	if err != nil {
		return err
	}
	for _, section := range g.Spec.Sections {
		sv := sectionView{Name: section.Name}
		for _, r := range section.Reportlets {
			for _, path := range matchReportlet(figures, r) {
				fig := figure{Title: r.Title, Caption: r.Caption, Path: relTo(outputDir, path)}
				if strings.HasSuffix(path, ".html") {
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read reportlet: %w", err)
					}
					fig.Inline = template.HTML(data)
				}
				sv.Figures = append(sv.Figures, fig)
			}
		}
		if len(sv.Figures) > 0 {
			view.Sections = append(view.Sections, sv)
		}
	}

	if data, err := os.ReadFile(filepath.Join(outputDir, "logs", "CITATION.md")); err == nil {
		view.Boilerplate = string(data)
	}

	crashes, err := engine.FindCrashFiles(filepath.Join(subjectDir, "log", runUUID))
	if err != nil {
		return err
	}
	for _, path := range crashes {
		cv := crashView{File: relTo(outputDir, path)}
		record, err := engine.ReadCrashFile(path)
		if err != nil {
			cv.Summary = err.Error()
		} else {
			cv.Node = record.Node
			cv.Summary = record.Summary()
			cv.Details = record.Traceback
		}
		view.Errors = append(view.Errors, cv)
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, view); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return os.WriteFile(filepath.Join(outputDir, "sub-"+label+".html"), buf.Bytes(), 0o644)
}

var figureExtensions = map[string]bool{".svg": true, ".png": true, ".html": true}

func collectFigures(subjectDir string) ([]string, error) {
	var out []string
	for _, pattern := range []string{
		filepath.Join(subjectDir, "figures", "*"),
		filepath.Join(subjectDir, "ses-*", "figures", "*"),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if figureExtensions[filepath.Ext(m)] {
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func matchReportlet(files []string, r Reportlet) []string {
	var out []string
	for _, f := range files {
		base := filepath.Base(f)
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		if strings.Contains(stem, "_desc-"+r.Desc+"_") && strings.HasSuffix(stem, "_"+r.Suffix) {
			out = append(out, f)
		}
	}
	return out
}

func relTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Package}}: sub-{{.Subject}}</title>
</head>
<body>
<h1>{{.Package}} report for sub-{{.Subject}}</h1>
{{range .Sections}}
<div class="section" id="{{.Name}}">
<h2>{{.Name}}</h2>
{{range .Figures}}
<div class="reportlet">
{{if .Title}}<h3>{{.Title}}</h3>{{end}}
{{if .Inline}}{{.Inline}}{{else}}<img src="{{.Path}}" alt="{{.Path}}">{{end}}
{{if .Caption}}<p class="caption">{{.Caption}}</p>{{end}}
</div>
{{end}}
</div>
{{end}}
<div class="section" id="boilerplate">
<h2>Methods</h2>
{{if .Boilerplate}}<pre>{{.Boilerplate}}</pre>{{else}}<p>No boilerplate text was generated.</p>{{end}}
</div>
<div class="section" id="errors">
<h2>Errors</h2>
{{if .Errors}}<ul>
{{range .Errors}}<li><details><summary>{{.Summary}}</summary><p>File: {{.File}}</p>{{range .Details}}<pre>{{.}}</pre>{{end}}</details></li>
{{end}}</ul>{{else}}<p>No errors to report!</p>{{end}}
</div>
<p class="footer">Run {{.RunUUID}}</p>
</body>
</html>
`))
