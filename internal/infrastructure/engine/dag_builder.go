package engine

import (
	"context"
	"sort"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
)

// DAGBuilder implements the ports.DAGBuilder interface by constructing
// execution plans from workflow links using a topological sort.
type DAGBuilder struct{}

// NewDAGBuilder creates a DAGBuilder instance.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{}
}

// Build constructs a level-based execution plan for the provided workflow.
func (b *DAGBuilder) Build(ctx context.Context, wf *workflow.Workflow) (*workflow.ExecutionPlan, error) {
	if wf == nil {
		return nil, &workflow.DomainError{Code: workflow.ErrCodeInternal, Message: "workflow is nil"}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int)
	adjacency := make(map[string][]string)
	for _, n := range wf.Nodes() {
		indegree[n.ID()] = 0
	}

	seenEdge := make(map[[2]string]struct{})
	for _, l := range wf.Links() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &workflow.DomainError{Code: workflow.ErrCodeCancelled, Message: "build cancelled", Cause: ctxErr}
		}
		edge := [2]string{l.Source.ID(), l.Dest.ID()}
		if _, dup := seenEdge[edge]; dup {
			continue
		}
		seenEdge[edge] = struct{}{}
		indegree[edge[1]]++
		adjacency[edge[0]] = append(adjacency[edge[0]], edge[1])
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	levels := make([]workflow.ExecutionLevel, 0)

	for len(queue) > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &workflow.DomainError{Code: workflow.ErrCodeCancelled, Message: "build cancelled", Cause: ctxErr}
		}
		current := append([]string(nil), queue...)
		sort.Strings(current)
		levels = append(levels, workflow.ExecutionLevel{Level: len(levels), NodeIDs: current})

		next := make([]string, 0)
		for _, id := range current {
			processed++
			for _, dep := range adjacency[id] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(indegree) {
		return nil, &workflow.DomainError{Code: workflow.ErrCodeCycle, Message: "circular dependency detected", Context: map[string]interface{}{"workflow": wf.Name}}
	}

	return &workflow.ExecutionPlan{Levels: levels, TotalNodes: len(indegree)}, nil
}
