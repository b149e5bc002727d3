package testutil

import (
	"time"

	"github.com/taskflow/taskflow/internal/engine"
)

// FixedInstant is the canonical test time: 2024-01-02T03:04:05Z.
// Using one shared instant keeps golden traces stable across tests.
var FixedInstant = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// Clock returns a frozen clock at FixedInstant.
func Clock() engine.FixedClock {
	return engine.FixedClock{Time: FixedInstant}
}

// ClockAt returns a frozen clock at the given instant.
func ClockAt(t time.Time) engine.FixedClock {
	return engine.FixedClock{Time: t}
}
