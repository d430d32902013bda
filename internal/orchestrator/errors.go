package orchestrator

import "fmt"

// ExSoftware is the exit status used when the builder produced no graph
// (sysexits EX_SOFTWARE).
const ExSoftware = 70

// ExitError carries the process exit status of a run. Err is the failure
// that caused it, if any, and is never replaced.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit status %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitFor returns nil for a zero code.
func exitFor(code int, err error) error {
	if code == 0 {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

func boolCode(failed bool) int {
	if failed {
		return 1
	}
	return 0
}
