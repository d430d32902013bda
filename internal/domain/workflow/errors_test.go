package workflow

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_Error(t *testing.T) {
	err := &DomainError{Code: ErrCodeValidation, Message: "invalid"}
	want := "VALIDATION_ERROR: invalid"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}

	wrapped := &DomainError{Code: ErrCodeExecution, Message: "failure", Cause: err}
	wantWrapped := "EXECUTION_ERROR: failure: VALIDATION_ERROR: invalid"
	if wrapped.Error() != wantWrapped {
		t.Fatalf("expected %q, got %q", wantWrapped, wrapped.Error())
	}
}

func TestDomainError_IsAndUnwrap(t *testing.T) {
	inner := &DomainError{Code: ErrCodeCancelled, Message: "cancelled"}
	outer := &DomainError{Code: ErrCodeExecution, Message: "exec", Cause: inner}

	if !errors.Is(outer, inner) {
		t.Fatal("expected errors.Is to match wrapped domain error")
	}
	if errors.Is(inner, outer) {
		t.Fatal("expected errors.Is to be directional")
	}
	if errors.Is(outer, fmt.Errorf("other")) {
		t.Fatal("expected non-domain errors to return false")
	}
}

func TestDomainError_WithContext(t *testing.T) {
	err := &DomainError{Code: ErrCodeDependency, Message: "missing", Context: map[string]interface{}{"node_id": "estimate_fod"}}
	updated := err.WithContext(map[string]interface{}{"upstream": "estimate_response"})

	if updated.Context["node_id"] != "estimate_fod" || updated.Context["upstream"] != "estimate_response" {
		t.Fatalf("context merge failed: %+v", updated.Context)
	}
	if updated == err {
		t.Fatal("WithContext should return a new instance")
	}
}

func TestDomainError_ErrorNilReceiver(t *testing.T) {
	var err *DomainError
	if got := err.Error(); got != "<nil>" {
		t.Fatalf("expected <nil>, got %q", got)
	}
}

func TestToDomainError(t *testing.T) {
	if ToDomainError(nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	plain := errors.New("boom")
	derr := ToDomainError(plain)
	if derr.Code != ErrCodeExecution || !errors.Is(derr, plain) {
		t.Fatalf("unexpected conversion: %+v", derr)
	}

	existing := &DomainError{Code: ErrCodeCancelled, Message: "stop"}
	if ToDomainError(fmt.Errorf("wrapped: %w", existing)) != existing {
		t.Fatal("expected wrapped domain error to be preserved")
	}
}
