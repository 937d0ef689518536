package ops

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a finished or abandoned operation stays readable.
const DefaultTTL = 30 * time.Minute

// ErrNotFound reports that an operation id is unknown or was evicted.
var ErrNotFound = errors.New("operation not found")

// Registry is a concurrency-safe store of operations keyed by id. The lock
// guards only map and field access; it is never held across provider calls.
type Registry struct {
	// TTL and Now may be overridden before first use; tests inject a fake
	// clock through Now.
	TTL time.Duration
	Now func() time.Time

	mu     sync.Mutex
	ops    map[string]*operation
	closed bool
}

// NewRegistry constructs an empty registry with the default TTL.
func NewRegistry() *Registry {
	return &Registry{
		TTL: DefaultTTL,
		Now: time.Now,
		ops: make(map[string]*operation),
	}
}

// Create allocates a new running operation and returns its id.
func (r *Registry) Create() string {
	id := uuid.NewString()
	op := &operation{
		status:    StatusRunning,
		createdAt: r.Now(),
	}
	r.mu.Lock()
	r.ops[id] = op
	r.mu.Unlock()
	return id
}

// Read returns the log lines appended after position since, together with
// the operation's current status and progress. The returned cursor is
// since plus the number of returned lines, so polling with since equal to
// the previous cursor never duplicates or skips a line.
func (r *Registry) Read(id string, since int) (*View, error) {
	r.sweepExpired()

	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if since < 0 {
		since = 0
	}
	if since > len(op.logs) {
		since = len(op.logs)
	}
	lines := make([]string, len(op.logs)-since)
	copy(lines, op.logs[since:])

	v := &View{
		Status:   op.status,
		Progress: op.progress,
		Lines:    lines,
		Cursor:   since + len(lines),
		Failure:  op.failure,
	}
	if op.status == StatusSucceeded && len(op.outputs) > 0 {
		v.Outputs = op.outputs
	}
	return v, nil
}

// AppendLog publishes one log line. Only the operation's owning goroutine
// may call it.
func (r *Registry) AppendLog(id, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return
	}
	op.logs = append(op.logs, line)
	for _, sub := range op.subs {
		sub.send(line)
	}
}

// SetProgress raises the operation's progress percentage. Progress never
// decreases.
func (r *Registry) SetProgress(id string, pct int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return
	}
	if pct > 100 {
		pct = 100
	}
	if pct > op.progress {
		op.progress = pct
	}
}

// Finish moves the operation to its terminal state: SUCCEEDED with outputs,
// or FAILED with the failure record. Active streams receive the failure
// message as their final event and are then closed.
func (r *Registry) Finish(id string, outputs Outputs, failure *Failure) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok || op.status.Terminal() {
		return
	}
	if failure != nil {
		op.status = StatusFailed
		op.failure = failure
		for _, sub := range op.subs {
			sub.send(failure.event())
		}
	} else {
		op.status = StatusSucceeded
		op.outputs = outputs
		op.progress = 100
	}
	for _, sub := range op.subs {
		sub.close()
	}
	op.subs = nil
}

// sweepExpired drops operations older than the TTL. Eviction is
// opportunistic: it runs before every Read, not on a timer.
func (r *Registry) sweepExpired() {
	now := r.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, op := range r.ops {
		if now.Sub(op.createdAt) > r.TTL {
			for _, sub := range op.subs {
				sub.close()
			}
			delete(r.ops, id)
		}
	}
}

// Shutdown closes all active streams and rejects new subscriptions. Stored
// operations stay readable until evicted.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	for _, op := range r.ops {
		for _, sub := range op.subs {
			sub.close()
		}
		op.subs = nil
	}
}
