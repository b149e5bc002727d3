package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskflow/taskflow/internal/ir"
)

// Clock supplies the "now" half of the frozen host context.
// Production uses WallClock; tests and replays inject a fixed value.
type Clock interface {
	Now() time.Time
}

// WallClock reads the system clock.
type WallClock struct{}

// Now returns the current wall-clock time truncated to millisecond
// precision, matching the resolution snapshot meta stores.
func (WallClock) Now() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

// FixedClock always returns the same instant. The zero value returns
// the zero time.
type FixedClock struct {
	Time time.Time
}

// Now returns the fixed instant.
func (c FixedClock) Now() time.Time {
	return c.Time
}

// buildHostContext derives the frozen deterministic view for one
// intent. Sampled exactly once, at StartIntent: every evaluator and
// patch-application call for the intent receives this same value for
// the whole run. The seed is a pure function of the intent id, so
// independent processes derive the same seed for the same intent.
func buildHostContext(intentID string, clock Clock) ir.HostContext {
	return ir.HostContext{
		IntentID:   intentID,
		Now:        clock.Now(),
		RandomSeed: ir.SeedFromIntent(intentID),
	}
}

// IntentIDGenerator mints ids for intents dispatched without one.
// Implemented by UUIDv7Generator (production) and FixedGenerator
// (tests).
type IntentIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 intent ids.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined intent ids for deterministic
// tests and golden trace comparison.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
// Generate panics once the ids are exhausted; that is a fail-fast
// against test misconfiguration.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all intent ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
