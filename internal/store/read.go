package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/taskflow/taskflow/internal/engine"
	"github.com/taskflow/taskflow/internal/ir"
)

// ReadTrace returns all trace events for an intent in logical order.
// Returns an empty slice (not nil) when the intent is unknown.
func (s *Store) ReadTrace(ctx context.Context, intentID string) ([]engine.TraceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT intent_id, sequence, type, timestamp, payload
		FROM trace_events
		WHERE intent_id = ?
		ORDER BY sequence ASC
	`, intentID)
	if err != nil {
		return nil, fmt.Errorf("query trace: %w", err)
	}
	defer rows.Close()

	events := []engine.TraceEvent{}
	for rows.Next() {
		var ev engine.TraceEvent
		var payload string
		if err := rows.Scan(&ev.IntentID, &ev.Sequence, &ev.Type, &ev.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode payload for %s/%d: %w", ev.IntentID, ev.Sequence, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trace: %w", err)
	}
	return events, nil
}

// ListIntents returns the distinct intent ids present in the journal,
// ordered by id for deterministic output.
func (s *Store) ListIntents(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT intent_id FROM trace_events
		ORDER BY intent_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query intents: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan intent id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intents: %w", err)
	}
	return ids, nil
}

// ReadSnapshot returns the latest committed snapshot body for an
// execution key. The bool reports whether a snapshot exists.
func (s *Store) ReadSnapshot(ctx context.Context, key engine.ExecutionKey) (ir.Object, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM snapshots WHERE execution_key = ?
	`, string(key)).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query snapshot: %w", err)
	}

	var obj ir.Object
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return nil, false, fmt.Errorf("decode snapshot for %s: %w", key, err)
	}
	return obj, true, nil
}
