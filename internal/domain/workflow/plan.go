package workflow

import "fmt"

// ExecutionLevel groups nodes that can run in parallel.
type ExecutionLevel struct {
	Level   int
	NodeIDs []string
}

// ExecutionPlan represents the ordered execution strategy for a workflow.
type ExecutionPlan struct {
	Levels     []ExecutionLevel
	TotalNodes int
}

// Validate ensures the plan is coherent with the workflow definition.
func (p ExecutionPlan) Validate(wf *Workflow) error {
	if len(p.Levels) == 0 {
		return newValidationError("execution plan must contain at least one level", nil)
	}

	levelIndex := make(map[string]int)
	for _, level := range p.Levels {
		if len(level.NodeIDs) == 0 {
			return newValidationError("execution level must contain nodes", map[string]interface{}{"level": level.Level})
		}
		for _, id := range level.NodeIDs {
			if _, ok := levelIndex[id]; ok {
				return newDependencyError("node appears in multiple execution levels", map[string]interface{}{"node_id": id})
			}
			levelIndex[id] = level.Level
		}
	}

	for _, n := range wf.Nodes() {
		if _, ok := levelIndex[n.ID()]; !ok {
			return newDependencyError("plan missing node", map[string]interface{}{"node_id": n.ID()})
		}
	}

	for _, l := range wf.Links() {
		if levelIndex[l.Source.ID()] >= levelIndex[l.Dest.ID()] {
			return newDependencyError("upstream node scheduled at or after dependent", map[string]interface{}{
				"node_id":     l.Dest.ID(),
				"upstream_id": l.Source.ID(),
			})
		}
	}

	return nil
}

// LevelForNode returns the level index for the provided node.
func (p ExecutionPlan) LevelForNode(nodeID string) (int, error) {
	for _, level := range p.Levels {
		for _, id := range level.NodeIDs {
			if id == nodeID {
				return level.Level, nil
			}
		}
	}
	return 0, fmt.Errorf("node %s not present in execution plan", nodeID)
}
