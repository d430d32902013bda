package workflow

import (
	"errors"
	"testing"
)

func TestWorkflowConnectAddsNodesAndLinks(t *testing.T) {
	wf := New("mrtrix_recon")
	in := NewNode("identity", "inputnode", nil)
	mif := NewNode("mrtrix.ingress", "create_mif", nil)

	err := wf.Connect(Connection{From: in, To: mif, Ports: []PortPair{
		{"dwi_file", "dwi_file"},
		{"bval_file", "bval_file"},
	}})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if len(wf.Nodes()) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(wf.Nodes()))
	}
	if len(wf.Links()) != 2 {
		t.Fatalf("expected 2 links, got %d", len(wf.Links()))
	}
	if up := wf.Upstream("create_mif"); len(up) != 1 || up[0] != "inputnode" {
		t.Fatalf("unexpected upstream: %v", up)
	}
	if err := wf.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestWorkflowConnectRejectsDoubleInput(t *testing.T) {
	wf := New("wf")
	a := NewNode("identity", "a", nil)
	b := NewNode("identity", "b", nil)
	c := NewNode("identity", "c", nil)

	if err := wf.Connect(Connection{From: a, To: c, Ports: []PortPair{{"out", "in_file"}}}); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	err := wf.Connect(Connection{From: b, To: c, Ports: []PortPair{{"out", "in_file"}}})
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Code != ErrCodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestAddWorkflowScopesNodes(t *testing.T) {
	child := New("mrtrix_recon")
	fod := NewNode("mrtrix.estimate_fod", "estimate_fod", nil)
	child.Add(fod)

	subject := New("sub_01_wf")
	subject.CrashDir = "/out/sub-01/log/run"
	subject.AddWorkflow(child)

	top := New("qsirecon_wf")
	top.AddWorkflow(subject)

	if fod.ID() != "sub_01_wf.mrtrix_recon.estimate_fod" {
		t.Fatalf("unexpected id %q", fod.ID())
	}
	if fod.CrashDir != "/out/sub-01/log/run" {
		t.Fatalf("expected crash dir to be inherited, got %q", fod.CrashDir)
	}
	if _, ok := top.Node("sub_01_wf.mrtrix_recon.estimate_fod"); !ok {
		t.Fatal("expected scoped lookup to succeed")
	}
}

func TestWorkflowValidateDuplicateIDs(t *testing.T) {
	wf := New("wf")
	wf.Add(NewNode("identity", "same", nil), NewNode("identity", "same", nil))

	err := wf.Validate()
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Code != ErrCodeDuplicate {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestWorkflowValidateRejectsDottedNames(t *testing.T) {
	wf := New("wf")
	wf.Add(NewNode("identity", "bad.name", nil))

	err := wf.Validate()
	var derr *DomainError
	if !errors.As(err, &derr) || derr.Code != ErrCodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestWorkflowValidateEmpty(t *testing.T) {
	if err := New("wf").Validate(); err == nil {
		t.Fatal("expected empty workflow to be invalid")
	}
}
