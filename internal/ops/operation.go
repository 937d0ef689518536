package ops

import "time"

// Status is the lifecycle state of an operation.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Failure is the structured error record of a failed operation. Status
// carries the raw provider status when the failure came from a stack
// reaching a terminal state.
type Failure struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// event is the closing line delivered to push streams: the raw provider
// status when one exists, otherwise the message.
func (f *Failure) event() string {
	if f.Status != "" {
		return f.Status
	}
	return f.Message
}

// Outputs holds an operation's result values. Values are strings or lists of
// strings.
type Outputs map[string]any

// operation is mutated only by the single goroutine driving it; readers go
// through the registry's synchronized accessors.
type operation struct {
	status    Status
	progress  int
	logs      []string
	outputs   Outputs
	failure   *Failure
	createdAt time.Time
	subs      []*subscriber
}

// View is a consistent snapshot returned by Read.
type View struct {
	Status   Status
	Progress int
	Lines    []string
	Cursor   int
	Outputs  Outputs
	Failure  *Failure
}
