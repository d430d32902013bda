package reports

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	qerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

//go:embed reports-spec.yml
var defaultSpec []byte

// Spec lists the report sections and the figures each one shows.
type Spec struct {
	Package  string    `yaml:"package"`
	Sections []Section `yaml:"sections"`
}

// Section groups reportlets under a heading.
type Section struct {
	Name       string      `yaml:"name"`
	Reportlets []Reportlet `yaml:"reportlets"`
}

// Reportlet selects figures by their desc entity and suffix.
type Reportlet struct {
	Desc    string `yaml:"desc"`
	Suffix  string `yaml:"suffix"`
	Title   string `yaml:"title,omitempty"`
	Caption string `yaml:"caption,omitempty"`
}

// DefaultSpec returns the built-in report specification.
func DefaultSpec() (*Spec, error) {
	return ParseSpec("reports-spec.yml", defaultSpec)
}

// LoadSpec reads a report specification from disk.
func LoadSpec(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.NewParseError(path, 0, err)
	}
	return ParseSpec(path, data)
}

// ParseSpec decodes a report specification.
func ParseSpec(name string, data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, qerrors.NewParseError(name, 0, err)
	}
	if len(spec.Sections) == 0 {
		return nil, qerrors.NewValidationError("sections", "report spec defines no sections", nil)
	}
	for i, section := range spec.Sections {
		for j, r := range section.Reportlets {
			if r.Desc == "" || r.Suffix == "" {
				return nil, qerrors.NewValidationError(fmt.Sprintf("sections[%d].reportlets[%d]", i, j), "desc and suffix are required", nil)
			}
		}
	}
	return &spec, nil
}
