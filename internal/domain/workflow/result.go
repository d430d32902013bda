package workflow

// ResultStatus represents the status of an executed node.
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusFailure ResultStatus = "failure"
	StatusSkipped ResultStatus = "skipped"
)

// NodeResult captures the outcome of a node execution.
type NodeResult struct {
	NodeID    string
	Status    ResultStatus
	Duration  int
	Outputs   map[string]interface{}
	Error     *DomainError
	CrashFile string
}

// IsSuccess returns true when the node completed successfully.
func (r NodeResult) IsSuccess() bool {
	return r.Status == StatusSuccess
}

// IsFailure returns true when the node failed.
func (r NodeResult) IsFailure() bool {
	return r.Status == StatusFailure
}

// Summary aggregates node results.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Summarize counts node results by status.
func Summarize(results []NodeResult) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			s.Succeeded++
		case StatusFailure:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
