package subprocess

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	qerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

// Retval is the single result a child process hands back to its parent.
// A nil ReturnCode means success. Workflow is the path of the serialized
// graph, not the graph itself.
type Retval struct {
	ReturnCode *int   `yaml:"return_code,omitempty"`
	Workflow   string `yaml:"workflow,omitempty"`

	// ProcessExit is the child's own exit status, filled in by the parent.
	// It stays zero when the child exited cleanly or ran in process.
	ProcessExit int `yaml:"-"`
}

// Code returns the return code, treating an absent one as 0.
func (r Retval) Code() int {
	if r.ReturnCode == nil {
		return 0
	}
	return *r.ReturnCode
}

// WithCode returns a copy of r with the return code set.
func (r Retval) WithCode(code int) Retval {
	r.ReturnCode = &code
	return r
}

// WriteRetval stores the retval atomically so the parent never reads a
// partial file.
func WriteRetval(path string, rv Retval) error {
	data, err := yaml.Marshal(rv)
	if err != nil {
		return fmt.Errorf("encode retval: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write retval: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write retval: %w", err)
	}
	return nil
}

// ReadRetval loads a retval written by WriteRetval. A missing file yields an
// empty Retval: the child never completed normally.
func ReadRetval(path string) (Retval, error) {
	var rv Retval
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return rv, nil
	}
	if err != nil {
		return rv, qerrors.NewParseError(path, 0, err)
	}
	if err := yaml.Unmarshal(data, &rv); err != nil {
		return rv, qerrors.NewParseError(path, 0, err)
	}
	return rv, nil
}

// RetvalPath returns where the child for entrypoint writes its retval.
func RetvalPath(configPath, entrypoint string) string {
	return filepath.Join(filepath.Dir(configPath), entrypoint+".retval.yml")
}
