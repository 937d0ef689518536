package ops

import "fmt"

// streamBuffer bounds how far a stream consumer may lag behind the writer
// before it is disconnected.
const streamBuffer = 1024

type subscriber struct {
	ch     chan string
	closed bool
}

// send is called with the registry lock held. It never blocks: a consumer
// that falls a full buffer behind is disconnected instead of stalling the
// writer.
func (s *subscriber) send(line string) {
	if s.closed {
		return
	}
	select {
	case s.ch <- line:
	default:
		s.close()
	}
}

func (s *subscriber) close() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Subscribe attaches a push stream to the operation. Every log line already
// appended is replayed first, so the stream observes the same order as
// cursor reads starting from zero. The channel closes when the operation
// reaches a terminal status; for a failed operation the last delivered event
// is the failure message itself. Cancel detaches the subscriber early.
func (r *Registry) Subscribe(id string) (lines <-chan string, cancel func(), err error) {
	r.sweepExpired()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, fmt.Errorf("registry shut down")
	}
	op, ok := r.ops[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	sub := &subscriber{ch: make(chan string, streamBuffer+len(op.logs))}
	for _, line := range op.logs {
		sub.ch <- line
	}
	if op.status.Terminal() {
		if op.failure != nil {
			sub.send(op.failure.event())
		}
		sub.close()
		return sub.ch, func() {}, nil
	}
	op.subs = append(op.subs, sub)

	cancel = func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for i, s := range op.subs {
			if s == sub {
				op.subs = append(op.subs[:i], op.subs[i+1:]...)
				break
			}
		}
		sub.close()
	}
	return sub.ch, cancel, nil
}
