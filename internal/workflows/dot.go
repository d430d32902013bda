package workflows

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pennlinc/qsiprep/internal/domain/workflow"
)

// GraphFileName is the Graphviz rendering written when write_graph is set.
const GraphFileName = "graph.dot"

// WriteDot writes wf as a Graphviz digraph, one cluster per enclosing
// workflow scope.
func WriteDot(wf *workflow.Workflow, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create graph directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create graph: %w", err)
	}
	w := bufio.NewWriter(f)

	fmt.Fprintf(w, "digraph %q {\n", wf.Name)
	fmt.Fprintln(w, "  rankdir=TB;")

	byScope := make(map[string][]*workflow.Node)
	for _, n := range wf.Nodes() {
		byScope[n.Scope()] = append(byScope[n.Scope()], n)
	}
	scopes := make([]string, 0, len(byScope))
	for s := range byScope {
		scopes = append(scopes, s)
	}
	sort.Strings(scopes)

	for i, scope := range scopes {
		indent := "  "
		if scope != "" {
			fmt.Fprintf(w, "  subgraph cluster_%d {\n    label=%q;\n", i, scope)
			indent = "    "
		}
		for _, n := range byScope[scope] {
			fmt.Fprintf(w, "%s%q [label=%q];\n", indent, n.ID(), n.Name+"\n("+n.Interface+")")
		}
		if scope != "" {
			fmt.Fprintln(w, "  }")
		}
	}

	seen := make(map[[2]string]struct{})
	for _, l := range wf.Links() {
		key := [2]string{l.Source.ID(), l.Dest.ID()}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fmt.Fprintf(w, "  %q -> %q;\n", key[0], key[1])
	}
	fmt.Fprintln(w, "}")

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write graph: %w", err)
	}
	return f.Close()
}
