// Package harness provides a conformance testing framework for the
// host execution engine.
//
// A scenario is a YAML document naming a flow definition, a set of
// scripted effect handlers, a list of intents to dispatch, and
// assertions over the final snapshot and the recorded trace. The
// harness runs the real engine - real mailbox, real drain loop, real
// effect executor - with deterministic helpers (fixed clock, fixed
// intent ids, scripted handlers) so results are reproducible and
// golden trace files compare byte-for-byte.
//
// Assertion types:
//   - status: terminal status of the last dispatch
//   - final_state: subset match on a snapshot path
//   - trace_count: number of trace events of one kind
//   - trace_order: relative order of trace events (gaps allowed)
package harness
