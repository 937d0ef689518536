package stack

import "sync"

// Locks serializes reconciliation per stack name so a concurrent deploy and
// teardown of the same base name never drive one stack at the same time.
type Locks struct {
	mu    sync.Mutex
	names map[string]*sync.Mutex
}

// NewLocks returns an empty lock set.
func NewLocks() *Locks {
	return &Locks{names: make(map[string]*sync.Mutex)}
}

// Acquire blocks until the named lock is held and returns its release
// function.
func (l *Locks) Acquire(name string) func() {
	l.mu.Lock()
	m, ok := l.names[name]
	if !ok {
		m = &sync.Mutex{}
		l.names[name] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
