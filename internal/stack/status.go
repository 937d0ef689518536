package stack

import "fmt"

// Result classifies a provider-reported stack status.
type Result int

const (
	InProgress Result = iota
	Success
	Failure
)

// Every known CloudFormation stack status, mapped explicitly. Unknown
// strings are classification errors, never silently in-progress.
var stackStatuses = map[string]Result{
	"CREATE_IN_PROGRESS": InProgress,
	"CREATE_FAILED":      Failure,
	"CREATE_COMPLETE":    Success,

	"ROLLBACK_IN_PROGRESS": Failure,
	"ROLLBACK_FAILED":      Failure,
	"ROLLBACK_COMPLETE":    Failure,

	"DELETE_IN_PROGRESS": InProgress,
	"DELETE_FAILED":      Failure,
	"DELETE_COMPLETE":    Success,

	"UPDATE_IN_PROGRESS":                  InProgress,
	"UPDATE_COMPLETE_CLEANUP_IN_PROGRESS": InProgress,
	"UPDATE_COMPLETE":                     Success,
	"UPDATE_FAILED":                       Failure,

	"UPDATE_ROLLBACK_IN_PROGRESS":                  Failure,
	"UPDATE_ROLLBACK_FAILED":                       Failure,
	"UPDATE_ROLLBACK_COMPLETE_CLEANUP_IN_PROGRESS": Failure,
	"UPDATE_ROLLBACK_COMPLETE":                     Failure,

	"REVIEW_IN_PROGRESS": InProgress,

	"IMPORT_IN_PROGRESS":          InProgress,
	"IMPORT_COMPLETE":             Success,
	"IMPORT_ROLLBACK_IN_PROGRESS": Failure,
	"IMPORT_ROLLBACK_FAILED":      Failure,
	"IMPORT_ROLLBACK_COMPLETE":    Failure,
}

// Classify maps a raw stack status string to a Result.
func Classify(status string) (Result, error) {
	r, ok := stackStatuses[status]
	if !ok {
		return InProgress, fmt.Errorf("unknown stack status %q", status)
	}
	return r, nil
}

// TerminalError carries the raw provider status of a failed stack.
type TerminalError struct {
	Name   string
	Status string
	Reason string
}

func (e *TerminalError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("stack %s reached %s: %s", e.Name, e.Status, e.Reason)
	}
	return fmt.Sprintf("stack %s reached %s", e.Name, e.Status)
}
