package engine

import (
	"sync"

	"github.com/taskflow/taskflow/internal/ir"
)

// mailbox is a thread-safe FIFO queue of jobs for one execution key.
//
// The queue is unbounded so cascading fulfillments can enqueue without
// blocking. Effect goroutines enqueue while the drain loop dequeues;
// a buffered signal channel coalesces wakeups so the drain loop can
// wait context-aware instead of spinning.
type mailbox struct {
	mu     sync.Mutex
	jobs   []Job
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{
		jobs:   make([]Job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a job to the tail. Ordering is strict FIFO; no
// reordering ever happens. Safe from any goroutine.
func (m *mailbox) Enqueue(j Job) {
	m.mu.Lock()
	m.jobs = append(m.jobs, j)
	m.mu.Unlock()

	// Non-blocking: a buffer of 1 coalesces multiple signals.
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// TryDequeue pops the head job without blocking.
func (m *mailbox) TryDequeue() (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.jobs) == 0 {
		return Job{}, false
	}

	j := m.jobs[0]

	// Nil the slot so the backing array does not retain patch slices.
	m.jobs[0] = Job{}
	if len(m.jobs) == 1 {
		m.jobs = m.jobs[:0]
	} else {
		m.jobs = m.jobs[1:]
	}
	return j, true
}

// Wait returns the signal channel for context-aware waiting.
func (m *mailbox) Wait() <-chan struct{} {
	return m.signal
}

// Len returns the number of queued jobs.
func (m *mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Reset discards all queued jobs. Called after a terminal result so a
// later dispatch on the same key starts from a clean queue; any
// late-arriving fulfillments for the finished intent are discarded at
// processing time by intent-id match.
func (m *mailbox) Reset() {
	m.mu.Lock()
	m.jobs = m.jobs[:0]
	m.mu.Unlock()
}

// ExecutionContext owns one snapshot and one mailbox for one execution
// key. It is the unit of isolation: no data flows between two keys
// except through the external world.
type ExecutionContext struct {
	key ExecutionKey

	mu       sync.Mutex
	snapshot ir.Snapshot
	seeded   bool

	mailbox *mailbox

	// running is a capacity-1 ownership token. Whoever holds it is the
	// single writer for this context's snapshot. This is the per-key
	// serialization: dispatches for one key queue up here.
	running chan struct{}
}

// ExecutionKey is the opaque identifier scoping one mailbox/snapshot
// pair.
type ExecutionKey string

func newExecutionContext(key ExecutionKey, genesis ir.Snapshot) *ExecutionContext {
	return &ExecutionContext{
		key:      key,
		snapshot: genesis,
		seeded:   false,
		mailbox:  newMailbox(),
		running:  make(chan struct{}, 1),
	}
}

// Key returns the context's execution key.
func (ec *ExecutionContext) Key() ExecutionKey {
	return ec.key
}

// Seed installs an initial snapshot. Allowed once, before any job has
// been processed for this key.
func (ec *ExecutionContext) Seed(s ir.Snapshot) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.seeded {
		return &HostError{
			Code:    ErrCodeAlreadySeeded,
			Message: "execution context already seeded",
			Key:     string(ec.key),
		}
	}
	ec.snapshot = s
	ec.seeded = true
	return nil
}

// CurrentSnapshot returns the latest committed snapshot. Safe from any
// goroutine; snapshots are immutable values.
func (ec *ExecutionContext) CurrentSnapshot() ir.Snapshot {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.snapshot
}

// commit replaces the snapshot wholesale. Only the drain loop, holding
// the running token, calls this.
func (ec *ExecutionContext) commit(s ir.Snapshot) {
	ec.mu.Lock()
	ec.snapshot = s
	ec.seeded = true
	ec.mu.Unlock()
}
