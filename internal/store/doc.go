// Package store provides SQLite-backed durable storage for host
// execution traces and snapshots.
//
// The store is an append-only journal:
//   - Trace Events: one row per evaluator invocation or effect
//     execution, keyed (intent_id, sequence)
//   - Snapshots: the latest committed snapshot per execution key
//
// Writes are idempotent via ON CONFLICT DO NOTHING on the natural key,
// so replaying a run against an existing database is safe: duplicate
// events are silently ignored and the journal ends identical.
//
// Ordering is logical: all trace reads ORDER BY sequence ASC. Wall
// timestamps are stored for display but never used for ordering - they
// come from the frozen per-intent context and may repeat.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
