// Package ir defines the host engine's value and state model.
//
// The model is deliberately constrained for determinism:
//   - Values are a sealed union (null, string, int64, bool, array,
//     object). No floats: float formatting differs across platforms and
//     breaks byte-identical replay.
//   - Identity is content-addressed: RFC 8785 canonical JSON hashed
//     with SHA-256 under a domain prefix.
//   - Snapshots are immutable. Every transition goes through
//     ApplyPatches, which returns a new snapshot and stamps its meta
//     from the frozen per-intent host context.
//
// The requirement/status invariant is owned here: a snapshot carries
// pending requirements iff its status is "pending". ApplyPatches
// normalizes the status after every patch set so no caller can commit
// a snapshot that violates it.
package ir
