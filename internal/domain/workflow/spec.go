package workflow

import (
	"sort"
	"strings"
)

// GraphSpec is the serializable form of a Workflow. It is what crosses the
// process boundary between the builder and the executor: the parent never
// receives in-memory nodes, only this description.
type GraphSpec struct {
	Name    string     `yaml:"name"`
	BaseDir string     `yaml:"base_dir,omitempty"`
	Nodes   []NodeSpec `yaml:"nodes"`
	Links   []LinkSpec `yaml:"links,omitempty"`
}

// NodeSpec describes a node by its scoped identifier.
type NodeSpec struct {
	ID        string                 `yaml:"id"`
	Interface string                 `yaml:"interface"`
	Inputs    map[string]interface{} `yaml:"inputs,omitempty"`
	CrashDir  string                 `yaml:"crash_dir,omitempty"`
}

// LinkSpec describes a link by node identifiers.
type LinkSpec struct {
	Source     string `yaml:"source"`
	SourcePort string `yaml:"source_port"`
	Dest       string `yaml:"dest"`
	DestPort   string `yaml:"dest_port"`
}

// Spec converts the workflow into its serializable description.
func (w *Workflow) Spec() GraphSpec {
	spec := GraphSpec{Name: w.Name, BaseDir: w.BaseDir}
	for _, n := range w.nodes {
		spec.Nodes = append(spec.Nodes, NodeSpec{
			ID:        n.ID(),
			Interface: n.Interface,
			Inputs:    n.Inputs,
			CrashDir:  n.CrashDir,
		})
	}
	for _, l := range w.links {
		spec.Links = append(spec.Links, LinkSpec{
			Source:     l.Source.ID(),
			SourcePort: l.SourcePort,
			Dest:       l.Dest.ID(),
			DestPort:   l.DestPort,
		})
	}
	return spec
}

// FromSpec reconstructs a workflow from its description.
func FromSpec(spec GraphSpec) (*Workflow, error) {
	wf := &Workflow{Name: spec.Name, BaseDir: spec.BaseDir}
	byID := make(map[string]*Node, len(spec.Nodes))
	for _, ns := range spec.Nodes {
		if ns.ID == "" {
			return nil, newMissingFieldError("id")
		}
		if _, dup := byID[ns.ID]; dup {
			return nil, newDuplicateError(ns.ID)
		}
		scope, name := splitID(ns.ID)
		n := NewNode(ns.Interface, name, ns.Inputs)
		n.scope = scope
		n.CrashDir = ns.CrashDir
		byID[ns.ID] = n
		wf.nodes = append(wf.nodes, n)
	}
	for _, ls := range spec.Links {
		src, ok := byID[ls.Source]
		if !ok {
			return nil, newDependencyError("link source not found", map[string]interface{}{"source": ls.Source})
		}
		dst, ok := byID[ls.Dest]
		if !ok {
			return nil, newDependencyError("link destination not found", map[string]interface{}{"dest": ls.Dest})
		}
		wf.links = append(wf.links, Link{Source: src, SourcePort: ls.SourcePort, Dest: dst, DestPort: ls.DestPort})
	}
	return wf, nil
}

// Interfaces returns the sorted set of interface names used by the workflow.
func (w *Workflow) Interfaces() []string {
	seen := make(map[string]struct{})
	for _, n := range w.nodes {
		seen[n.Interface] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func splitID(id string) (string, string) {
	idx := strings.LastIndex(id, ".")
	if idx < 0 {
		return "", id
	}
	return id[:idx], id[idx+1:]
}
