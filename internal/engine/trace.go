package engine

import (
	"sync"

	"github.com/taskflow/taskflow/internal/ir"
)

// Trace event types.
const (
	TraceCompute = "compute"
	TraceEffect  = "effect"
)

// TraceEvent is one append-only record of an evaluator invocation or an
// effect execution. Together with the recorded effect outcomes, the
// ordered event list is sufficient to replay a run deterministically.
type TraceEvent struct {
	Type      string    `json:"type"`
	IntentID  string    `json:"intent_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp int64     `json:"timestamp"` // unix milliseconds, from the frozen context
	Payload   ir.Object `json:"payload,omitempty"`
}

// TraceSink receives trace events. Sinks may fail; the recorder
// swallows sink errors so observation never breaks the observed
// execution.
type TraceSink interface {
	Append(ev TraceEvent) error
}

// Recorder appends trace events per intent with a monotonically
// increasing sequence number. Recording never throws and never blocks
// the drain loop: a broken sink degrades to dropping events.
type Recorder struct {
	mu   sync.Mutex
	seqs map[string]int64
	sink TraceSink
}

// NewRecorder creates a recorder writing to sink. A nil sink records
// nothing.
func NewRecorder(sink TraceSink) *Recorder {
	return &Recorder{
		seqs: make(map[string]int64),
		sink: sink,
	}
}

// Record appends one event, assigning the intent's next sequence
// number. Sink errors and panics are swallowed.
func (r *Recorder) Record(eventType, intentID string, timestamp int64, payload ir.Object) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.seqs[intentID]++
	seq := r.seqs[intentID]
	sink := r.sink
	r.mu.Unlock()

	if sink == nil {
		return
	}

	defer func() {
		// A panicking sink must not take the drain loop down with it.
		_ = recover()
	}()
	_ = sink.Append(TraceEvent{
		Type:      eventType,
		IntentID:  intentID,
		Sequence:  seq,
		Timestamp: timestamp,
		Payload:   payload,
	})
}

// Forget drops the sequence counter for an intent. Called when an
// intent reaches a terminal result to keep the map bounded.
func (r *Recorder) Forget(intentID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.seqs, intentID)
	r.mu.Unlock()
}

// MemorySink collects trace events in memory. Used by tests, the
// harness and the CLI's text output.
type MemorySink struct {
	mu     sync.Mutex
	events []TraceEvent
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Append implements TraceSink.
func (s *MemorySink) Append(ev TraceEvent) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events in append order.
func (s *MemorySink) Events() []TraceEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TraceEvent, len(s.events))
	copy(out, s.events)
	return out
}

// MultiSink fans an event out to several sinks. Each sink sees every
// event; one sink's error does not stop the others.
type MultiSink []TraceSink

// Append implements TraceSink.
func (m MultiSink) Append(ev TraceEvent) error {
	for _, s := range m {
		_ = s.Append(ev)
	}
	return nil
}
