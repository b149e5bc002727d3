package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/ir"
)

// WriteTraceEvent appends one trace event to the journal.
// Idempotent: a duplicate (intent_id, sequence) is silently ignored,
// so replaying a run against an existing database leaves the journal
// unchanged.
func (s *Store) WriteTraceEvent(ctx context.Context, ev engine.TraceEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("write trace event: marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trace_events (intent_id, sequence, type, timestamp, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(intent_id, sequence) DO NOTHING
	`, ev.IntentID, ev.Sequence, ev.Type, ev.Timestamp, string(payload))
	if err != nil {
		return fmt.Errorf("write trace event: %w", err)
	}
	return nil
}

// WriteSnapshot upserts the latest committed snapshot for an execution
// key. Only the newest version is kept: the full history is already in
// the trace journal.
func (s *Store) WriteSnapshot(ctx context.Context, key engine.ExecutionKey, snap ir.Snapshot) error {
	hash, err := snap.Hash()
	if err != nil {
		return fmt.Errorf("write snapshot: hash: %w", err)
	}
	body, err := json.Marshal(snap.Body())
	if err != nil {
		return fmt.Errorf("write snapshot: marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (execution_key, version, hash, body, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(execution_key) DO UPDATE SET
			version = excluded.version,
			hash = excluded.hash,
			body = excluded.body,
			updated_at = excluded.updated_at
	`, string(key), snap.Meta.Version, hash, string(body), snap.Meta.Timestamp)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
