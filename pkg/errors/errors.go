// Package errors holds the typed errors that qsiprep layers hand to each
// other. Every type keeps its cause, so errors.Is and errors.As see through it.
package errors

import (
	"strconv"
	"strings"
)

// ParseError is returned when a persisted file cannot be decoded: the run
// config, a workflow graph, a retval, a crash file or a spec. Line is 1-based
// and zero when the decoder gave no position.
type ParseError struct {
	Path string
	Line int
	Err  error
}

// NewParseError wraps err with the file it came from.
func NewParseError(path string, line int, err error) error {
	return &ParseError{Path: path, Line: line, Err: err}
}

func (e *ParseError) Error() string {
	where := e.Path
	if e.Line > 0 {
		where += ":" + strconv.Itoa(e.Line)
	}
	return join("cannot parse "+where, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError names the config or graph field that failed a check.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError builds a ValidationError. err may be nil.
func NewValidationError(field, message string, err error) error {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	subject := "invalid value"
	if e.Field != "" {
		subject = "invalid " + e.Field
	}
	return join(subject+": "+e.Message, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ExecutionError ties a runtime failure to the node that raised it.
type ExecutionError struct {
	NodeID string
	Err    error
}

// NewExecutionError wraps err for nodeID.
func NewExecutionError(nodeID string, err error) error {
	return &ExecutionError{NodeID: nodeID, Err: err}
}

func (e *ExecutionError) Error() string {
	if e.NodeID == "" {
		return join("node failed", e.Err)
	}
	return join("node "+e.NodeID+" failed", e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// InterfaceError reports a problem registering, looking up or running an
// interface. Interface is empty when the name itself was the problem.
type InterfaceError struct {
	Interface string
	Err       error
}

// NewInterfaceError wraps err for the named interface.
func NewInterfaceError(iface string, err error) error {
	return &InterfaceError{Interface: iface, Err: err}
}

func (e *InterfaceError) Error() string {
	if e.Interface == "" {
		return join("interface registry", e.Err)
	}
	return join("interface "+e.Interface, e.Err)
}

func (e *InterfaceError) Unwrap() error { return e.Err }

func join(prefix string, cause error) string {
	if cause == nil {
		return prefix
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(": ")
	b.WriteString(cause.Error())
	return b.String()
}
