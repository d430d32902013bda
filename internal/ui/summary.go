// Package ui renders the end-of-run summary printed by the CLI.
package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
)

// Palette colors, shared with the status badges.
const (
	colorPrimary = lipgloss.Color("#3B82F6")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#EAB308")
	colorError   = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#64748B")
)

// SummaryStyle defines the visual appearance of a Summary.
type SummaryStyle struct {
	BorderStyle lipgloss.Style
	TitleStyle  lipgloss.Style
	LabelStyle  lipgloss.Style
	ValueStyle  lipgloss.Style
	Width       int
}

// DefaultSummaryStyle returns a rounded card in the qsiprep palette.
func DefaultSummaryStyle() SummaryStyle {
	return SummaryStyle{
		BorderStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1),
		TitleStyle: lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		LabelStyle: lipgloss.NewStyle().Foreground(colorMuted),
		ValueStyle: lipgloss.NewStyle(),
		Width:      72,
	}
}

// PlainSummaryStyle drops colors and borders, for logs and pipes.
func PlainSummaryStyle() SummaryStyle {
	return SummaryStyle{
		BorderStyle: lipgloss.NewStyle(),
		TitleStyle:  lipgloss.NewStyle(),
		LabelStyle:  lipgloss.NewStyle(),
		ValueStyle:  lipgloss.NewStyle(),
	}
}

// SummaryData is what the CLI knows once a run has ended.
type SummaryData struct {
	RunUUID       string
	OutputDir     string
	Participants  []string
	Results       []workflow.NodeResult
	FailedReports int
	ExitCode      int
	CitationPath  string
}

// Summary renders SummaryData as a card.
type Summary struct {
	data  SummaryData
	style SummaryStyle
}

// NewSummary creates a summary with the default style.
func NewSummary(data SummaryData) *Summary {
	return &Summary{data: data, style: DefaultSummaryStyle()}
}

// WithStyle sets a custom style for the summary.
func (s *Summary) WithStyle(style SummaryStyle) *Summary {
	s.style = style
	return s
}

// View renders the summary.
func (s *Summary) View() string {
	counts := countResults(s.data.Results)

	lines := []string{
		s.style.TitleStyle.Render("QSIPrep run summary") + "  " + StatusBadge(s.data.ExitCode, s.style),
		"",
		s.row("run", s.data.RunUUID),
		s.row("output", s.data.OutputDir),
		s.row("participants", strings.Join(s.data.Participants, ", ")),
	}
	if len(s.data.Results) > 0 {
		lines = append(lines, s.row("nodes", fmt.Sprintf("%d succeeded, %d failed, %d skipped",
			counts[workflow.StatusSuccess], counts[workflow.StatusFailure], counts[workflow.StatusSkipped])))
	}
	if s.data.FailedReports > 0 {
		lines = append(lines, s.row("reports", fmt.Sprintf("%d failed", s.data.FailedReports)))
	}
	if s.data.CitationPath != "" {
		lines = append(lines, s.row("citation", s.data.CitationPath))
	}

	if crashes := crashFiles(s.data.Results); len(crashes) > 0 {
		lines = append(lines, "", s.style.LabelStyle.Render("crash files:"))
		for _, path := range crashes {
			lines = append(lines, s.style.ValueStyle.Render("• "+path))
		}
	}

	border := s.style.BorderStyle
	if s.style.Width > 0 {
		border = border.Width(s.style.Width)
	}
	return border.Render(strings.Join(lines, "\n"))
}

func (s *Summary) row(label, value string) string {
	if value == "" {
		value = "-"
	}
	return s.style.LabelStyle.Render(fmt.Sprintf("%-14s", label+":")) + s.style.ValueStyle.Render(value)
}

// StatusBadge renders the exit code as a colored badge. Plain styles
// render it as bracketed text.
func StatusBadge(exitCode int, style SummaryStyle) string {
	text, color := "OK", colorSuccess
	switch {
	case exitCode == 1:
		text, color = "FAILED", colorError
	case exitCode > 1:
		text, color = fmt.Sprintf("EXIT %d", exitCode), colorWarning
	}
	if style.Width == 0 {
		return "[" + text + "]"
	}
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(color).
		Padding(0, 1).
		Render(text)
}

func countResults(results []workflow.NodeResult) map[workflow.ResultStatus]int {
	counts := make(map[workflow.ResultStatus]int, 3)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}

func crashFiles(results []workflow.NodeResult) []string {
	var out []string
	for _, r := range results {
		if r.CrashFile != "" {
			out = append(out, r.CrashFile)
		}
	}
	sort.Strings(out)
	return out
}
