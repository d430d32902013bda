package workflow

import (
	"reflect"
	"testing"
)

func TestSpecRoundTrip(t *testing.T) {
	child := New("mrtrix_recon")
	in := NewNode("identity", "inputnode", map[string]interface{}{"dwi_file": "/data/dwi.nii.gz"})
	resp := NewNode("mrtrix.response_sd", "estimate_response", map[string]interface{}{"algorithm": "dhollander"})
	if err := child.Connect(Connection{From: in, To: resp, Ports: []PortPair{{"mask_file", "in_mask"}}}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	top := New("qsirecon_wf")
	top.CrashDir = "/crash"
	top.AddWorkflow(child)

	spec := top.Spec()
	rebuilt, err := FromSpec(spec)
	if err != nil {
		t.Fatalf("from spec: %v", err)
	}

	if !reflect.DeepEqual(spec, rebuilt.Spec()) {
		t.Fatalf("spec mismatch:\n%#v\n%#v", spec, rebuilt.Spec())
	}
	node, ok := rebuilt.Node("mrtrix_recon.estimate_response")
	if !ok {
		t.Fatal("expected scoped node after rebuild")
	}
	if node.Scope() != "mrtrix_recon" || node.Name != "estimate_response" {
		t.Fatalf("unexpected scope/name: %q %q", node.Scope(), node.Name)
	}
	if got := rebuilt.Interfaces(); !reflect.DeepEqual(got, []string{"identity", "mrtrix.response_sd"}) {
		t.Fatalf("unexpected interfaces: %v", got)
	}
}

func TestFromSpecRejectsDanglingLink(t *testing.T) {
	spec := GraphSpec{
		Name:  "wf",
		Nodes: []NodeSpec{{ID: "a", Interface: "identity"}},
		Links: []LinkSpec{{Source: "a", SourcePort: "x", Dest: "missing", DestPort: "y"}},
	}
	if _, err := FromSpec(spec); err == nil {
		t.Fatal("expected dangling link error")
	}
}
