package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
	"github.com/pennlinc/qsiprep/internal/infrastructure/events"
	"github.com/pennlinc/qsiprep/internal/infrastructure/logging"
	"github.com/pennlinc/qsiprep/internal/ports"
	pkgerrors "github.com/pennlinc/qsiprep/pkg/errors"
)

// Executor runs workflow graphs using registered interfaces.
type Executor struct {
	registry ports.InterfaceRegistry
	dag      ports.DAGBuilder
	logger   ports.Logger
	events   ports.EventPublisher
	runner   ports.CommandRunner
	local    LocalRunner
}

// ExecutorOption configures an executor instance.
type ExecutorOption func(*Executor)

// WithExecutorLogger injects a logger into the executor.
func WithExecutorLogger(logger ports.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithExecutorEvents injects an event publisher.
func WithExecutorEvents(events ports.EventPublisher) ExecutorOption {
	return func(e *Executor) {
		e.events = events
	}
}

// WithExecutorRunner overrides the plugin-selected command runner.
func WithExecutorRunner(runner ports.CommandRunner) ExecutorOption {
	return func(e *Executor) {
		e.runner = runner
	}
}

// WithExecutorOutput mirrors command output to the given writers.
func WithExecutorOutput(local LocalRunner) ExecutorOption {
	return func(e *Executor) {
		e.local = local
	}
}

// NewExecutor constructs a WorkflowExecutor implementation.
func NewExecutor(registry ports.InterfaceRegistry, opts ...ExecutorOption) *Executor {
	exec := &Executor{
		registry: registry,
		dag:      NewDAGBuilder(),
		logger:   logging.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(exec)
	}
	return exec
}

type runState struct {
	mu      sync.Mutex
	outputs map[string]map[string]interface{}
	blocked map[string]string
}

func (s *runState) upstreamFailure(wf *workflow.Workflow, nodeID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, up := range wf.Upstream(nodeID) {
		if _, ok := s.blocked[up]; ok {
			return up
		}
	}
	return ""
}

// Run executes every node of wf level by level. Nodes whose upstream failed
// are skipped; independent branches keep running. When any node failed the
// returned error is workflow.ErrWorkflowFailed.
func (e *Executor) Run(ctx context.Context, wf *workflow.Workflow, plugin workflow.PluginSettings) ([]workflow.NodeResult, error) {
	if wf == nil {
		return nil, &workflow.DomainError{Code: workflow.ErrCodeInternal, Message: "workflow is nil"}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if plugin.Plugin != "" && !workflow.IsSupportedPlugin(plugin.Plugin) {
		return nil, pkgerrors.NewValidationError("plugin", fmt.Sprintf("unsupported execution plugin %q", plugin.Plugin), nil)
	}

	plan, err := e.dag.Build(ctx, wf)
	if err != nil {
		return nil, err
	}

	runner := e.runner
	if runner == nil {
		runner = NewCommandRunner(plugin, e.local)
	}
	parallelism := plugin.Parallelism()

	e.logger.Info(ctx, "workflow execution starting",
		"workflow", wf.Name,
		"plugin", plugin.Plugin,
		"nodes", plan.TotalNodes,
		"levels", len(plan.Levels),
		"parallelism", parallelism,
	)
	publishEvent(ctx, e.events, e.logger, ports.EventWorkflowStarted, map[string]interface{}{
		"workflow": wf.Name,
		"plugin":   plugin.Plugin,
		"nodes":    plan.TotalNodes,
	})

	state := &runState{
		outputs: make(map[string]map[string]interface{}),
		blocked: make(map[string]string),
	}
	results := make([]workflow.NodeResult, 0, plan.TotalNodes)

	for _, level := range plan.Levels {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results, &workflow.DomainError{Code: workflow.ErrCodeCancelled, Message: "execution cancelled", Cause: ctxErr}
		}

		levelResults := make([]workflow.NodeResult, len(level.NodeIDs))
		sem := make(chan struct{}, parallelism)
		var wg sync.WaitGroup

		for idx, nodeID := range level.NodeIDs {
			node, ok := wf.Node(nodeID)
			if !ok {
				return results, &workflow.DomainError{Code: workflow.ErrCodeNotFound, Message: "node not found", Context: map[string]interface{}{"node_id": nodeID}}
			}

			if up := state.upstreamFailure(wf, nodeID); up != "" {
				levelResults[idx] = workflow.NodeResult{NodeID: nodeID, Status: workflow.StatusSkipped}
				state.mu.Lock()
				state.blocked[nodeID] = up
				state.mu.Unlock()
				e.logger.Warn(ctx, "skipping node with failed upstream", "node_id", nodeID, "upstream_id", up)
				publishEvent(ctx, e.events, e.logger, ports.EventNodeSkipped, map[string]interface{}{
					"workflow":    wf.Name,
					"node_id":     nodeID,
					"upstream_id": up,
				})
				continue
			}

			wg.Add(1)
			go func(index int, n *workflow.Node) {
				defer wg.Done()
				select {
				case sem <- struct{}{}:
					defer func() { <-sem }()
				case <-ctx.Done():
					levelResults[index] = workflow.NodeResult{
						NodeID: n.ID(),
						Status: workflow.StatusFailure,
						Error:  &workflow.DomainError{Code: workflow.ErrCodeCancelled, Message: "execution cancelled", Cause: ctx.Err()},
					}
					return
				}
				levelResults[index] = e.runNode(ctx, wf, n, state, runner)
			}(idx, node)
		}

		wg.Wait()

		state.mu.Lock()
		for _, r := range levelResults {
			switch r.Status {
			case workflow.StatusSuccess:
				state.outputs[r.NodeID] = r.Outputs
			case workflow.StatusFailure:
				state.blocked[r.NodeID] = r.NodeID
			}
		}
		state.mu.Unlock()
		results = append(results, levelResults...)
	}

	summary := workflow.Summarize(results)
	if summary.Failed > 0 {
		var failed []string
		for _, r := range results {
			if r.IsFailure() {
				failed = append(failed, r.NodeID)
			}
		}
		e.logger.Error(ctx, "could not run nodes", "workflow", wf.Name, "failed", strings.Join(failed, ", "), "skipped", summary.Skipped)
		publishEvent(ctx, e.events, e.logger, ports.EventWorkflowFailed, map[string]interface{}{
			"workflow":  wf.Name,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
			"succeeded": summary.Succeeded,
		})
		return results, workflow.ErrWorkflowFailed
	}

	e.logger.Info(ctx, "workflow execution finished", "workflow", wf.Name, "nodes", summary.Total)
	publishEvent(ctx, e.events, e.logger, ports.EventWorkflowCompleted, map[string]interface{}{
		"workflow":  wf.Name,
		"succeeded": summary.Succeeded,
	})
	return results, nil
}

func (e *Executor) runNode(ctx context.Context, wf *workflow.Workflow, node *workflow.Node, state *runState, runner ports.CommandRunner) workflow.NodeResult {
	logger := e.logger.With("node_id", node.ID(), "interface", node.Interface)
	start := time.Now()
	workDir := nodeWorkDir(wf, node)

	publishEvent(ctx, e.events, logger, ports.EventNodeStarted, map[string]interface{}{
		"workflow":  wf.Name,
		"node_id":   node.ID(),
		"interface": node.Interface,
		"timestamp": start.UTC(),
	})

	inputs, err := resolveInputs(wf, node, state)
	var outputs map[string]interface{}
	if err == nil {
		outputs, err = e.invoke(ctx, node, inputs, workDir, runner)
	}
	duration := int(time.Since(start).Milliseconds())

	if err != nil {
		derr := workflow.ToDomainError(pkgerrors.NewExecutionError(node.ID(), err))
		result := workflow.NodeResult{
			NodeID:   node.ID(),
			Status:   workflow.StatusFailure,
			Duration: duration,
			Error:    derr,
		}
		crashDir := node.CrashDir
		if crashDir == "" {
			crashDir = workDir
		}
		crashPath, writeErr := WriteCrashFile(crashDir, newCrashRecord(node.ID(), node.Interface, workDir, inputs, err))
		if writeErr != nil {
			logger.Error(ctx, "could not write crash file", "error", writeErr)
		} else {
			result.CrashFile = crashPath
		}
		logger.Error(ctx, "node failed", "error", err, "crash_file", result.CrashFile, "duration_ms", duration)
		publishEvent(ctx, e.events, logger, ports.EventNodeFailed, map[string]interface{}{
			"workflow":   wf.Name,
			"node_id":    node.ID(),
			"interface":  node.Interface,
			"crash_file": result.CrashFile,
			"error":      err.Error(),
		})
		return result
	}

	logger.Info(ctx, "node finished", "duration_ms", duration)
	publishEvent(ctx, e.events, logger, ports.EventNodeCompleted, map[string]interface{}{
		"workflow":  wf.Name,
		"node_id":   node.ID(),
		"interface": node.Interface,
		"duration":  duration,
	})
	return workflow.NodeResult{NodeID: node.ID(), Status: workflow.StatusSuccess, Duration: duration, Outputs: outputs}
}

func (e *Executor) invoke(ctx context.Context, node *workflow.Node, inputs map[string]interface{}, workDir string, runner ports.CommandRunner) (outputs map[string]interface{}, err error) {
	iface, err := e.registry.Get(node.Interface)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create node work dir: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("interface %s panicked: %v\n%s", node.Interface, r, debug.Stack())
		}
	}()
	return iface.Run(ctx, ports.InterfaceCall{
		Node:    node,
		Inputs:  inputs,
		WorkDir: workDir,
		Runner:  runner,
	})
}

func resolveInputs(wf *workflow.Workflow, node *workflow.Node, state *runState) (map[string]interface{}, error) {
	inputs := make(map[string]interface{}, len(node.Inputs))
	for k, v := range node.Inputs {
		inputs[k] = v
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	for _, l := range wf.IncomingLinks(node.ID()) {
		upstream := state.outputs[l.Source.ID()]
		value, ok := upstream[l.SourcePort]
		if !ok {
			return inputs, fmt.Errorf("upstream node %s produced no output %q for input %q", l.Source.ID(), l.SourcePort, l.DestPort)
		}
		inputs[l.DestPort] = value
	}
	return inputs, nil
}

func nodeWorkDir(wf *workflow.Workflow, node *workflow.Node) string {
	base := wf.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	parts := append([]string{base, wf.Name}, strings.Split(node.ID(), ".")...)
	return filepath.Join(parts...)
}

func publishEvent(ctx context.Context, publisher ports.EventPublisher, logger ports.Logger, eventType string, payload map[string]interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, events.New(eventType, payload)); err != nil && logger != nil {
		logger.Warn(ctx, "failed to publish executor event", "event_type", eventType, "error", err)
	}
}

var _ ports.WorkflowExecutor = (*Executor)(nil)
