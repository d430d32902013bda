package ports

import (
	"context"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
)

// WorkflowExecutor runs a processing graph with the configured execution
// plugin. Implementations must:
//   - Run nodes level-by-level, siblings concurrently up to the plugin's
//     parallelism.
//   - Skip the dependents of a failed node while letting independent branches
//     finish.
//   - Write a crash file for every failed node.
//   - Return workflow.ErrWorkflowFailed when any node failed.
type WorkflowExecutor interface {
	Run(ctx context.Context, wf *workflow.Workflow, plugin workflow.PluginSettings) ([]workflow.NodeResult, error)
}

// DAGBuilder constructs a level-based execution plan from a workflow's nodes
// and links. It is responsible for cycle detection and dangling link checks.
type DAGBuilder interface {
	Build(ctx context.Context, wf *workflow.Workflow) (*workflow.ExecutionPlan, error)
}

// GraphStore persists processing graphs so they can cross the boundary
// between the builder process and the executor.
type GraphStore interface {
	Save(ctx context.Context, wf *workflow.Workflow, path string) error
	Load(ctx context.Context, path string) (*workflow.Workflow, error)
}

// Interface is the unit of work behind a workflow node. Run receives the
// node's resolved inputs (static inputs merged with upstream outputs) and a
// private working directory, and returns the node's outputs keyed by port.
type Interface interface {
	Name() string
	Run(ctx context.Context, call InterfaceCall) (map[string]interface{}, error)
}

// InterfaceCall bundles everything an interface needs to run one node.
type InterfaceCall struct {
	Node    *workflow.Node
	Inputs  map[string]interface{}
	WorkDir string
	Runner  CommandRunner
}

// Describer is implemented by interfaces that contribute methods text to the
// citation boilerplate.
type Describer interface {
	Describe(node *workflow.Node) string
}

// InterfaceRegistry resolves interfaces by name. Registries must be safe for
// concurrent use because sibling nodes resolve interfaces in parallel.
type InterfaceRegistry interface {
	Register(iface Interface) error
	Get(name string) (Interface, error)
	List() []Interface
}

// CommandRunner executes external commands on behalf of interfaces. Execution
// plugins supply different runners (local process, cluster submission).
type CommandRunner interface {
	RunCommand(ctx context.Context, workDir string, args []string) (CommandOutput, error)
}

// CommandOutput captures stdout/stderr emitted by a command.
type CommandOutput struct {
	Stdout string
	Stderr string
}
