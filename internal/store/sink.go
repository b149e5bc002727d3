package store

import (
	"context"

	"github.com/taskflow/taskflow/internal/engine"
)

// Sink adapts the store to the engine's TraceSink contract. Append
// errors propagate to the recorder, which drops the event rather than
// failing the execution it observes.
type Sink struct {
	store *Store
}

// NewSink wraps a store as a trace sink.
func NewSink(s *Store) *Sink {
	return &Sink{store: s}
}

// Append implements engine.TraceSink.
func (s *Sink) Append(ev engine.TraceEvent) error {
	return s.store.WriteTraceEvent(context.Background(), ev)
}
