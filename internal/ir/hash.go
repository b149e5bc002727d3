package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSnapshot = "taskflow/snapshot/v1"
	DomainFlow     = "taskflow/flow/v1"
	DomainSeed     = "taskflow/seed/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// SnapshotHash computes the content-addressed hash of a snapshot body.
// Identical snapshots always hash identically: the body is serialized
// with RFC 8785 canonical JSON before hashing.
func SnapshotHash(body Object) (string, error) {
	canonical, err := MarshalCanonical(body)
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: %w", err)
	}
	return hex.EncodeToString(hashWithDomain(DomainSnapshot, canonical)), nil
}

// FlowHash computes the schema hash recorded in snapshot meta.
// Same flow definition always produces the same hash.
func FlowHash(def Object) (string, error) {
	canonical, err := MarshalCanonical(def)
	if err != nil {
		return "", fmt.Errorf("FlowHash: %w", err)
	}
	return hex.EncodeToString(hashWithDomain(DomainFlow, canonical)), nil
}

// SeedFromIntent derives the deterministic random seed for an intent.
// The seed is a pure function of the intent id: same id, same seed,
// across processes and runs.
func SeedFromIntent(intentID string) int64 {
	digest := hashWithDomain(DomainSeed, []byte(intentID))
	// Shift the top bit away rather than negating: -MinInt64 overflows
	// back to a negative value.
	return int64(binary.BigEndian.Uint64(digest[:8]) >> 1)
}
