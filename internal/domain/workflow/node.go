package workflow

import (
	"regexp"
	"sort"
	"strings"
)

var nodeNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Node is a named processing unit backed by a registered interface. Static
// inputs are set at construction time; the remaining inputs arrive through
// links from upstream nodes.
type Node struct {
	Name      string
	Interface string
	Inputs    map[string]interface{}
	// CrashDir receives crash files when the node fails. Nodes inherit it
	// from the workflow they are added to unless set explicitly.
	CrashDir string

	scope string
}

// NewNode constructs a node for the given interface.
func NewNode(iface, name string, inputs map[string]interface{}) *Node {
	in := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	return &Node{Name: name, Interface: iface, Inputs: in}
}

// ID returns the node's fully scoped identifier, e.g. "sub_01_wf.mrtrix_recon.estimate_fod".
func (n *Node) ID() string {
	if n.scope == "" {
		return n.Name
	}
	return n.scope + "." + n.Name
}

// Scope returns the dotted path of workflows enclosing the node.
func (n *Node) Scope() string {
	return n.scope
}

// Validate ensures the node satisfies naming rules.
func (n *Node) Validate() error {
	if n.Name == "" {
		return newMissingFieldError("name")
	}
	if !nodeNamePattern.MatchString(n.Name) {
		return newValidationError("node name must match ^[A-Za-z0-9_-]+$", map[string]interface{}{"node": n.Name})
	}
	if n.Interface == "" {
		return newMissingFieldError("interface").WithContext(map[string]interface{}{"node": n.Name})
	}
	return nil
}

// PortPair maps an output port of the source node to an input port of the
// destination node.
type PortPair struct {
	Source string
	Dest   string
}

// Connection declares the ports linking two nodes.
type Connection struct {
	From  *Node
	To    *Node
	Ports []PortPair
}

// Link is a single resolved edge between two node ports.
type Link struct {
	Source     *Node
	SourcePort string
	Dest       *Node
	DestPort   string
}

// Workflow is a directed acyclic graph of nodes. Sub-workflows are merged
// into their parent with AddWorkflow, which scopes their node identifiers.
type Workflow struct {
	Name     string
	BaseDir  string
	CrashDir string

	nodes []*Node
	links []Link
}

// New creates an empty workflow.
func New(name string) *Workflow {
	return &Workflow{Name: name}
}

// Add registers nodes with the workflow. Nodes already present are ignored.
func (w *Workflow) Add(nodes ...*Node) {
	for _, n := range nodes {
		if n == nil || w.has(n) {
			continue
		}
		if n.CrashDir == "" {
			n.CrashDir = w.CrashDir
		}
		w.nodes = append(w.nodes, n)
	}
}

// Connect wires node ports together, adding any unseen nodes.
func (w *Workflow) Connect(conns ...Connection) error {
	for _, c := range conns {
		if c.From == nil || c.To == nil {
			return newValidationError("connection endpoints must be non-nil", map[string]interface{}{"workflow": w.Name})
		}
		w.Add(c.From, c.To)
		for _, p := range c.Ports {
			if p.Source == "" || p.Dest == "" {
				return newMissingFieldError("port").WithContext(map[string]interface{}{
					"source": c.From.ID(),
					"dest":   c.To.ID(),
				})
			}
			for _, existing := range w.links {
				if existing.Dest == c.To && existing.DestPort == p.Dest {
					return newDependencyError("input port already connected", map[string]interface{}{
						"node": c.To.ID(),
						"port": p.Dest,
					})
				}
			}
			w.links = append(w.links, Link{Source: c.From, SourcePort: p.Source, Dest: c.To, DestPort: p.Dest})
		}
	}
	return nil
}

// AddWorkflow merges a child workflow into w. The child's nodes are scoped by
// the child's name and inherit w's crash directory when they have none.
func (w *Workflow) AddWorkflow(child *Workflow) {
	if child == nil {
		return
	}
	for _, n := range child.nodes {
		if n.scope == "" {
			n.scope = child.Name
		} else {
			n.scope = child.Name + "." + n.scope
		}
	}
	w.Add(child.nodes...)
	w.links = append(w.links, child.links...)
}

// Nodes returns the workflow's nodes in insertion order.
func (w *Workflow) Nodes() []*Node {
	return append([]*Node(nil), w.nodes...)
}

// Links returns the workflow's links in insertion order.
func (w *Workflow) Links() []Link {
	return append([]Link(nil), w.links...)
}

// Node looks up a node by its scoped identifier.
func (w *Workflow) Node(id string) (*Node, bool) {
	for _, n := range w.nodes {
		if n.ID() == id {
			return n, true
		}
	}
	return nil, false
}

// Upstream returns the sorted identifiers of nodes feeding into the node.
func (w *Workflow) Upstream(id string) []string {
	seen := make(map[string]struct{})
	for _, l := range w.links {
		if l.Dest.ID() == id {
			seen[l.Source.ID()] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out
}

// IncomingLinks returns the links terminating at the node.
func (w *Workflow) IncomingLinks(id string) []Link {
	var out []Link
	for _, l := range w.links {
		if l.Dest.ID() == id {
			out = append(out, l)
		}
	}
	return out
}

// Validate checks node naming, identifier uniqueness, and link endpoints.
func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return newMissingFieldError("workflow name")
	}
	if len(w.nodes) == 0 {
		return newValidationError("workflow must contain at least one node", map[string]interface{}{"workflow": w.Name})
	}

	seen := make(map[string]struct{}, len(w.nodes))
	for _, n := range w.nodes {
		if err := n.Validate(); err != nil {
			return err
		}
		if _, ok := seen[n.ID()]; ok {
			return newDuplicateError(n.ID())
		}
		seen[n.ID()] = struct{}{}
	}

	for _, l := range w.links {
		if !w.has(l.Source) || !w.has(l.Dest) {
			return newDependencyError("link references node outside workflow", map[string]interface{}{
				"source": l.Source.ID(),
				"dest":   l.Dest.ID(),
			})
		}
		if l.Source == l.Dest {
			return newDependencyError("node cannot link to itself", map[string]interface{}{"node": l.Source.ID()})
		}
	}
	return nil
}

func (w *Workflow) has(n *Node) bool {
	for _, existing := range w.nodes {
		if existing == n {
			return true
		}
	}
	return false
}
