package graphstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/ports"
	pkgerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

// FileName is the name of the serialized graph inside the run directory.
const FileName = "workflow.yml"

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// YAMLStore implements the GraphStore port by reading and writing GraphSpec
// documents on disk.
type YAMLStore struct {
	logger ports.Logger
}

func NewYAMLStore(logger ports.Logger) *YAMLStore {
	return &YAMLStore{logger: logger}
}

// Save writes the workflow's description atomically.
func (s *YAMLStore) Save(ctx context.Context, wf *workflow.Workflow, path string) error {
	if err := contextCheck(ctx); err != nil {
		return err
	}
	if wf == nil {
		return domainError(workflow.ErrCodeInternal, "cannot save nil workflow", nil, map[string]interface{}{"path": path})
	}

	data, err := yaml.Marshal(wf.Spec())
	if err != nil {
		return domainError(workflow.ErrCodeInternal, "graph encoding failed", err, map[string]interface{}{"path": path})
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return domainError(workflow.ErrCodeInternal, "graph directory unavailable", err, map[string]interface{}{"path": path})
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".workflow-*.yml")
	if err != nil {
		return domainError(workflow.ErrCodeInternal, "graph write failed", err, map[string]interface{}{"path": path})
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return domainError(workflow.ErrCodeInternal, "graph write failed", err, map[string]interface{}{"path": path})
	}
	if err := tmp.Close(); err != nil {
		return domainError(workflow.ErrCodeInternal, "graph write failed", err, map[string]interface{}{"path": path})
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return domainError(workflow.ErrCodeInternal, "graph write failed", err, map[string]interface{}{"path": path})
	}

	s.logDebug(ctx, "workflow graph saved", map[string]interface{}{"path": path, "nodes": len(wf.Nodes())})
	return nil
}

// Load reconstructs a workflow from its serialized description.
func (s *YAMLStore) Load(ctx context.Context, path string) (*workflow.Workflow, error) {
	if err := contextCheck(ctx); err != nil {
		return nil, err
	}

	s.logDebug(ctx, "loading workflow graph", map[string]interface{}{"path": path})

	spec, err := parseSpec(path)
	if err != nil {
		s.logError(ctx, "failed to parse workflow graph", err, map[string]interface{}{"path": path})
		return nil, convertError(err, path)
	}

	wf, err := workflow.FromSpec(spec)
	if err != nil {
		s.logError(ctx, "workflow graph is inconsistent", err, map[string]interface{}{"path": path})
		return nil, err
	}
	if err := wf.Validate(); err != nil {
		s.logError(ctx, "workflow graph failed validation", err, map[string]interface{}{"path": path})
		return nil, err
	}

	s.logInfo(ctx, "workflow graph loaded", map[string]interface{}{"path": path, "workflow": wf.Name, "nodes": len(wf.Nodes())})
	return wf, nil
}

func parseSpec(path string) (workflow.GraphSpec, error) {
	var spec workflow.GraphSpec
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, pkgerrors.NewParseError(path, 0, err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, pkgerrors.NewParseError(path, extractLine(err), err)
	}
	if spec.Name == "" {
		return spec, pkgerrors.NewValidationError("name", "workflow graph has no name", nil)
	}
	return spec, nil
}

func extractLine(err error) int {
	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}
	var line int
	if _, scanErr := fmt.Sscanf(matches[1], "%d", &line); scanErr != nil {
		return 0
	}
	return line
}

func convertError(err error, path string) error {
	var parseErr *pkgerrors.ParseError
	if errors.As(err, &parseErr) {
		if errors.Is(parseErr.Err, os.ErrNotExist) {
			return domainError(workflow.ErrCodeNotFound, "workflow graph not found", parseErr.Err, map[string]interface{}{"path": path})
		}
		return domainError(workflow.ErrCodeValidation, "invalid workflow graph syntax", err, map[string]interface{}{"path": parseErr.Path, "line": parseErr.Line})
	}
	var valErr *pkgerrors.ValidationError
	if errors.As(err, &valErr) {
		return domainError(workflow.ErrCodeValidation, valErr.Message, valErr.Err, map[string]interface{}{"path": path, "field": valErr.Field})
	}
	return domainError(workflow.ErrCodeInternal, "workflow graph load failed", err, map[string]interface{}{"path": path})
}

func contextCheck(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return domainError(workflow.ErrCodeCancelled, "operation cancelled", err, nil)
	}
	return nil
}

func domainError(code workflow.ErrorCode, message string, cause error, ctx map[string]interface{}) *workflow.DomainError {
	return &workflow.DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: ctx,
	}
}

func (s *YAMLStore) logDebug(ctx context.Context, msg string, fields map[string]interface{}) {
	if s.logger == nil {
		return
	}
	s.logger.Debug(ctx, msg, flattenFields(fields)...)
}

func (s *YAMLStore) logInfo(ctx context.Context, msg string, fields map[string]interface{}) {
	if s.logger == nil {
		return
	}
	s.logger.Info(ctx, msg, flattenFields(fields)...)
}

func (s *YAMLStore) logError(ctx context.Context, msg string, err error, fields map[string]interface{}) {
	if s.logger == nil {
		return
	}
	payload := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["error"] = err
	s.logger.Error(ctx, msg, flattenFields(payload)...)
}

func flattenFields(fields map[string]interface{}) []interface{} {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]interface{}, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return args
}

var _ ports.GraphStore = (*YAMLStore)(nil)
