// Package engine implements the taskflow host execution engine.
//
// The engine turns "pure computation paused on an external effect" into
// "pure computation resumed with the effect's result". It owns one
// mailbox and one snapshot per execution key, drains the mailbox job by
// job, and calls out to the pure evaluator and to registered effect
// handlers.
//
// ARCHITECTURE:
//
// Single-Writer Drain Loop (per execution key):
// All snapshot mutations for a key happen in the goroutine draining
// that key's mailbox. Keys are independent: many may drain in
// parallel, but no two jobs for one key are ever processed
// concurrently. This ensures:
//   - Strict FIFO job order within a key
//   - A single writer for each snapshot (replaced wholesale, never
//     mutated in place)
//   - Reproducible traces on replay
//
// Job Processing Flow:
//  1. Dispatch enqueues StartIntent and drains to quiescence
//  2. StartIntent clears stale requirements, then invokes the evaluator
//  3. A pending result starts each requirement's effect asynchronously
//  4. Effect completions enqueue FulfillEffect (never resume inline)
//  5. FulfillEffect applies result + requirement-clearing patches
//     atomically and enqueues ContinueCompute
//  6. ContinueCompute re-invokes the evaluator with the SAME intent and
//     the SAME frozen host context until a terminal status
//
// Job handlers never suspend while holding the mailbox: anything that
// waits does so outside the handler and comes back as a new job. An
// async boundary is always also a job boundary.
//
// CRITICAL PATTERNS:
//
// Frozen Host Context:
// now and randomSeed are derived once per intent (seed is a pure
// function of the intent id) and handed unchanged to every evaluator
// and patch-application call for that intent. Two runs of the same
// intent against the same snapshot with the same effect outcomes are
// byte-identical, timestamps included.
//
// Fail Closed:
// Evaluator invocations per intent are capped (default 100). A flow
// whose effects never satisfy their guards terminates with
// LOOP_MAX_ITERATIONS instead of looping forever.
//
// Effect Failures Are Data:
// A handler error or panic never crashes the drain loop. It becomes a
// failure patch set on system.last_error, the requirement is cleared,
// and the evaluator gets one more look so the flow can branch to a
// recovery path.
package engine
